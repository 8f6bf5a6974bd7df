package transitions

import (
	"math"
	"sort"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/osm"

	"github.com/banshee-data/osmwatch/internal/adiff"
	"github.com/banshee-data/osmwatch/internal/osc"
	"github.com/banshee-data/osmwatch/internal/region"
	"github.com/banshee-data/osmwatch/internal/tagmatch"
)

// Extractor turns an adiff document into transition rows.
type Extractor struct {
	Matcher *tagmatch.Matcher
	Regions *region.Locator
}

// Extract emits one row per (object, kind) transition, ordered by
// (osm_id, kind, ts, version) so downstream consumers can replay
// per-object timelines.
func (e *Extractor) Extract(doc *adiff.Document) []Row {
	var rows []Row
	for _, act := range doc.Actions {
		rows = append(rows, e.processAction(act, doc)...)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := &rows[i], &rows[j]
		if a.OsmID != b.OsmID {
			return a.OsmID < b.OsmID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.TS != b.TS {
			return a.TS < b.TS
		}
		return a.Version < b.Version
	})
	return rows
}

func (e *Extractor) processAction(act *adiff.Action, doc *adiff.Document) []Row {
	obj := act.Payload()
	// Relations are not processed.
	if obj.Empty() || obj.Relation != nil {
		return nil
	}
	old := act.OldElement()

	base, ok := initRow(obj, old)
	if !ok {
		return nil
	}
	if !e.Regions.Empty() {
		base.Region = e.Regions.Find(base.Lon, base.Lat)
		if base.Region == "" {
			return nil
		}
	}

	objAction := string(act.Type)
	if obj.Way != nil {
		switch act.Type {
		case osc.ActionCreate:
			// A created way sharing endpoints and most nodes with a
			// modified way's old body is the product of a split.
			if anc := findAncestor(doc, obj.Way, true); anc != nil {
				objAction = "split"
				base.PrevID = osmID(anc.OldElement())
				old = anc.OldElement()
			}
		case osc.ActionDelete:
			// A deleted way absorbed into a modified way's new body is a
			// join; tags are compared against the survivor's new state.
			if anc := findAncestor(doc, old.Way, false); anc != nil {
				objAction = "join"
				base.PrevID = osmID(anc.Payload())
				obj = anc.Payload()
			}
		}
	}
	base.ObjAction = objAction

	var rows []Row
	for _, ka := range e.compareKinds(obj, old) {
		row := base
		row.Kind = ka.kind
		row.Action = ka.action
		rows = append(rows, row)
	}
	return rows
}

type kindAction struct {
	kind   string
	action string
}

// compareKinds performs the three-way kind comparison between an object
// and its prior state, with weak context evaluation over both versions.
func (e *Extractor) compareKinds(obj, old osc.Element) []kindAction {
	typ := string(obj.Type())
	tobj := obj.TagMap()
	told := map[string]string{}
	if !old.Empty() {
		told = old.TagMap()
	}
	newKinds := e.Matcher.KindsOfWithContext(typ, tobj, told, false)
	oldKinds := e.Matcher.KindsOfWithContext(typ, told, tobj, false)
	modified := e.Matcher.ModifiedKinds(typ, told, tobj, false)

	var result []kindAction
	for kind := range newKinds {
		if !oldKinds[kind] {
			result = append(result, kindAction{kind, "create"})
		}
	}
	for kind := range oldKinds {
		if !newKinds[kind] {
			result = append(result, kindAction{kind, "delete"})
		}
	}
	for kind := range modified {
		result = append(result, kindAction{kind, "modify"})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].kind < result[j].kind })
	return result
}

// initRow fills the object-level fields shared by every row of the
// action. For deletes the payload is a header stub, so coordinates and
// geometry fall back to the old body. Ways without complete annotated
// geometry and relations are not representable and yield ok=false.
func initRow(obj, old osc.Element) (Row, bool) {
	row := Row{
		TS:        obj.Timestamp().UTC().Format("2006-01-02 15:04:05") + "+00",
		Changeset: obj.Changeset(),
		UID:       obj.UserID(),
		Username:  obj.User(),
		OsmID:     osmID(obj),
		Version:   obj.Version(),
	}

	if obj.Node != nil {
		switch {
		case obj.HasLocation():
			row.Lat, row.Lon = obj.Node.Lat, obj.Node.Lon
		case old.Node != nil && old.HasLocation():
			row.Lat, row.Lon = old.Node.Lat, old.Node.Lon
		default:
			return Row{}, false
		}
		return row, true
	}
	if obj.Way == nil {
		return Row{}, false
	}

	bounds := obj.Way.Bounds
	if bounds == nil && old.Way != nil {
		bounds = old.Way.Bounds
	}
	if bounds == nil {
		return Row{}, false
	}
	row.Lat = (bounds.MinLat + bounds.MaxLat) / 2
	row.Lon = (bounds.MinLon + bounds.MaxLon) / 2

	nodes := obj.Way.Nodes
	if len(nodes) == 0 && old.Way != nil {
		nodes = old.Way.Nodes
	}
	length, ok := wayLength(nodes)
	if !ok {
		return Row{}, false
	}
	row.Length = &length
	return row, true
}

// wayLength is the rounded metre length of the polyline through the way's
// annotated nodes. Every node must carry coordinates and there must be at
// least two of them.
func wayLength(nodes osm.WayNodes) (int, bool) {
	if len(nodes) < 2 {
		return 0, false
	}
	var total float64
	for i := range nodes {
		if nodes[i].Lat == 0 && nodes[i].Lon == 0 {
			return 0, false
		}
		if i == 0 {
			continue
		}
		total += geo.DistanceHaversine(
			orb.Point{nodes[i-1].Lon, nodes[i-1].Lat},
			orb.Point{nodes[i].Lon, nodes[i].Lat},
		)
	}
	return int(math.Round(total)), true
}

// isWayInside reports whether way's nodes sit inside another's: both
// endpoints present and strictly more than half of all nodes shared.
func isWayInside(way, another *osm.Way) bool {
	if len(way.Nodes) == 0 || len(another.Nodes) == 0 {
		return false
	}
	in := make(map[osm.NodeID]bool, len(another.Nodes))
	for _, nd := range another.Nodes {
		in[nd.ID] = true
	}
	if !in[way.Nodes[0].ID] || !in[way.Nodes[len(way.Nodes)-1].ID] {
		return false
	}
	matches := 0
	for _, nd := range way.Nodes {
		if in[nd.ID] {
			matches++
		}
	}
	return matches*2 > len(way.Nodes)
}

// findAncestor searches the diff's modify actions for the way this
// created (or deleted) way was split from (or joined into). A created way
// is matched against old bodies, a deleted way against new bodies. With
// several candidates the highest version wins.
func findAncestor(doc *adiff.Document, way *osm.Way, isCreated bool) *adiff.Action {
	if way == nil {
		return nil
	}
	var candidate *adiff.Action
	bestVersion := -1
	for _, act := range doc.Actions {
		if act.Type != osc.ActionModify {
			continue
		}
		body := act.Payload()
		if isCreated {
			body = act.OldElement()
		}
		if body.Way == nil || body.Way.ID == way.ID {
			continue
		}
		if !isWayInside(way, body.Way) {
			continue
		}
		if body.Way.Version > bestVersion {
			bestVersion = body.Way.Version
			candidate = act
		}
	}
	return candidate
}

func osmID(el osc.Element) string {
	if el.Empty() {
		return ""
	}
	return string(el.Type()) + "/" + strconv.FormatInt(el.ID(), 10)
}
