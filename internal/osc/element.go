// Package osc reads osmChange documents as a stream of actions.
package osc

import (
	"time"

	"github.com/paulmach/osm"
)

// ActionType is the action wrapper an element appeared under.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionModify ActionType = "modify"
	ActionDelete ActionType = "delete"
)

// Element is exactly one of a node, way or relation. The zero Element is
// empty.
type Element struct {
	Node     *osm.Node     `xml:"node"`
	Way      *osm.Way      `xml:"way"`
	Relation *osm.Relation `xml:"relation"`
}

// Empty reports whether no variant is set.
func (e Element) Empty() bool {
	return e.Node == nil && e.Way == nil && e.Relation == nil
}

// Type returns the variant of the element.
func (e Element) Type() osm.Type {
	switch {
	case e.Node != nil:
		return osm.TypeNode
	case e.Way != nil:
		return osm.TypeWay
	case e.Relation != nil:
		return osm.TypeRelation
	}
	return ""
}

// ID returns the element's OSM id.
func (e Element) ID() int64 {
	switch {
	case e.Node != nil:
		return int64(e.Node.ID)
	case e.Way != nil:
		return int64(e.Way.ID)
	case e.Relation != nil:
		return int64(e.Relation.ID)
	}
	return 0
}

// Version returns the element's version.
func (e Element) Version() int {
	switch {
	case e.Node != nil:
		return e.Node.Version
	case e.Way != nil:
		return e.Way.Version
	case e.Relation != nil:
		return e.Relation.Version
	}
	return 0
}

// Timestamp returns the element's change timestamp.
func (e Element) Timestamp() time.Time {
	switch {
	case e.Node != nil:
		return e.Node.Timestamp
	case e.Way != nil:
		return e.Way.Timestamp
	case e.Relation != nil:
		return e.Relation.Timestamp
	}
	return time.Time{}
}

// Changeset returns the changeset id of the element's change.
func (e Element) Changeset() int64 {
	switch {
	case e.Node != nil:
		return int64(e.Node.ChangesetID)
	case e.Way != nil:
		return int64(e.Way.ChangesetID)
	case e.Relation != nil:
		return int64(e.Relation.ChangesetID)
	}
	return 0
}

// UserID returns the uid of the user who made the change.
func (e Element) UserID() int64 {
	switch {
	case e.Node != nil:
		return int64(e.Node.UserID)
	case e.Way != nil:
		return int64(e.Way.UserID)
	case e.Relation != nil:
		return int64(e.Relation.UserID)
	}
	return 0
}

// User returns the display name of the user who made the change.
func (e Element) User() string {
	switch {
	case e.Node != nil:
		return e.Node.User
	case e.Way != nil:
		return e.Way.User
	case e.Relation != nil:
		return e.Relation.User
	}
	return ""
}

// Tags returns the element's tag list.
func (e Element) Tags() osm.Tags {
	switch {
	case e.Node != nil:
		return e.Node.Tags
	case e.Way != nil:
		return e.Way.Tags
	case e.Relation != nil:
		return e.Relation.Tags
	}
	return nil
}

// TagMap returns the element's tags as a map.
func (e Element) TagMap() map[string]string {
	tags := e.Tags()
	if tags == nil {
		return map[string]string{}
	}
	return tags.Map()
}

// NodeIDs returns a way's node refs in order, or a relation's node-member
// refs in order. Nodes have none.
func (e Element) NodeIDs() []int64 {
	switch {
	case e.Way != nil:
		ids := make([]int64, len(e.Way.Nodes))
		for i, nd := range e.Way.Nodes {
			ids[i] = int64(nd.ID)
		}
		return ids
	case e.Relation != nil:
		var ids []int64
		for _, m := range e.Relation.Members {
			if m.Type == osm.TypeNode {
				ids = append(ids, m.Ref)
			}
		}
		return ids
	}
	return nil
}

// HasLocation reports whether a node element carries coordinates. Delete
// records come without them; (0, 0) is treated as absent.
func (e Element) HasLocation() bool {
	return e.Node != nil && (e.Node.Lat != 0 || e.Node.Lon != 0)
}
