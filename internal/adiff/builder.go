package adiff

import (
	"fmt"
	"io"
	"log"

	"github.com/paulmach/osm"

	"github.com/banshee-data/osmwatch/internal/osc"
	"github.com/banshee-data/osmwatch/internal/osmapi"
	"github.com/banshee-data/osmwatch/internal/region"
	"github.com/banshee-data/osmwatch/internal/store"
	"github.com/banshee-data/osmwatch/internal/tagmatch"
)

// Builder converts an osmChange stream into an augmented diff, rebuilding
// old object states from the store (or the OSM API), resolving way-node
// coordinates and applying the tag and region filters.
type Builder struct {
	Store   *store.Store
	Matcher *tagmatch.Matcher
	Regions *region.Locator
	API     *osmapi.Client

	// Debug enables per-object drop logging.
	Debug bool
}

func (b *Builder) debugf(format string, args ...any) {
	if b.Debug {
		log.Printf(format, args...)
	}
}

// admitted reports whether the tag filter admits the tag map. An empty
// matcher admits everything.
func (b *Builder) admitted(typ osm.Type, tags map[string]string) bool {
	if b.Matcher.Empty() {
		return true
	}
	return len(b.Matcher.KindsOf(string(typ), tags)) > 0
}

// ProcessOSC reads the osmChange at path and writes the augmented diff to
// w. The file is scanned up to three times: once to collect node
// coordinates that appear textually, once (only under a region filter) to
// batch-resolve way nodes absent from the change, and once for the main
// pass. The diff is serialised only after every action has been processed.
func (b *Builder) ProcessOSC(path string, w io.Writer) error {
	log.Printf("reading osmChange file %s", path)
	log.Printf("scanning for node locations")
	locations, err := b.scanNodeLocations(path)
	if err != nil {
		return err
	}
	if !b.Regions.Empty() {
		log.Printf("resolving missing node locations")
		if err := b.prefetchWayNodes(path, locations); err != nil {
			return err
		}
	}

	log.Printf("iterating over actions")
	doc := NewDocument()
	err = osc.ScanFile(path, func(action osc.ActionType, el osc.Element) error {
		return b.processElement(doc, action, el, locations)
	})
	if err != nil {
		return err
	}

	log.Printf("done, writing the augmented diff")
	return doc.Write(w)
}

// scanNodeLocations collects every node coordinate that appears textually
// in the change. These describe the NEW state of each node.
func (b *Builder) scanNodeLocations(path string) (map[int64][2]float64, error) {
	locations := make(map[int64][2]float64)
	err := osc.ScanFile(path, func(_ osc.ActionType, el osc.Element) error {
		if el.HasLocation() {
			locations[el.ID()] = [2]float64{el.Node.Lat, el.Node.Lon}
		}
		return nil
	})
	return locations, err
}

// prefetchWayNodes finds ways that pass the tag filter but have no
// representative node in the location cache or the store, and resolves one
// node per way through the API in a single batch. This keeps the main pass
// free of per-action HTTP.
func (b *Builder) prefetchWayNodes(path string, locations map[int64][2]float64) error {
	queued := make(map[int64]bool)
	var order []int64
	err := osc.ScanFile(path, func(_ osc.ActionType, el osc.Element) error {
		if el.Way == nil || !b.admitted(el.Type(), el.TagMap()) {
			return nil
		}
		pt, err := b.representativePoint(el, locations, false)
		if err != nil {
			return err
		}
		if pt != nil {
			return nil
		}
		ids := el.NodeIDs()
		if len(ids) == 0 {
			return nil
		}
		for _, id := range ids {
			if queued[id] {
				return nil
			}
		}
		queued[ids[0]] = true
		order = append(order, ids[0])
		return nil
	})
	if err != nil {
		return err
	}
	if len(order) == 0 {
		return nil
	}
	if b.API == nil {
		return fmt.Errorf("%d way nodes need the OSM API but no client is configured", len(order))
	}
	resolved, err := b.API.NodeLocations(order)
	if err != nil {
		return err
	}
	for id, c := range resolved {
		locations[id] = c
	}
	return nil
}

func (b *Builder) processElement(doc *Document, action osc.ActionType, el osc.Element, locations map[int64][2]float64) error {
	desc := fmt.Sprintf("%s %s %d v%d", action, el.Type(), el.ID(), el.Version())
	tags := el.TagMap()
	admitted := b.admitted(el.Type(), tags)

	if !b.Regions.Empty() {
		pt, err := b.representativePoint(el, locations, admitted)
		if err != nil {
			return fmt.Errorf("%s: %w", desc, err)
		}
		if pt == nil || b.Regions.Find(pt[1], pt[0]) == "" {
			b.debugf("%s: outside of regions", desc)
			return nil
		}
	}

	switch action {
	case osc.ActionCreate:
		return b.processCreate(doc, el, tags, admitted, desc, locations)
	case osc.ActionModify, osc.ActionDelete:
		return b.processChange(doc, action, el, tags, admitted, desc, locations)
	}
	return fmt.Errorf("%s: unknown osmChange action", desc)
}

func (b *Builder) processCreate(doc *Document, el osc.Element, tags map[string]string, admitted bool, desc string, locations map[int64][2]float64) error {
	if el.Way != nil && len(el.Way.Nodes) < 2 {
		b.debugf("%s: way has fewer than two nodes", desc)
		return nil
	}
	if el.Relation != nil && len(el.Relation.Members) == 0 {
		b.debugf("%s: relation has no members", desc)
		return nil
	}
	if !admitted {
		b.debugf("%s: no relevant tags", desc)
		return nil
	}

	if err := b.addLocations(el, locations, true); err != nil {
		return fmt.Errorf("%s: %w", desc, err)
	}
	doc.Actions = append(doc.Actions, &Action{Type: osc.ActionCreate, Element: el})
	if err := b.storeLocations(el); err != nil {
		return fmt.Errorf("%s: %w", desc, err)
	}
	if err := b.Store.Save(&store.Object{
		Type:    el.Type(),
		ID:      el.ID(),
		Version: el.Version(),
		Tags:    tags,
		Nodes:   el.NodeIDs(),
	}); err != nil {
		return fmt.Errorf("%s: %w", desc, err)
	}
	b.debugf("%s: written to augmented diff", desc)
	return nil
}

func (b *Builder) processChange(doc *Document, action osc.ActionType, el osc.Element, tags map[string]string, admitted bool, desc string, locations map[int64][2]float64) error {
	old, err := b.Store.Read(el.Type(), el.ID())
	if err != nil {
		return fmt.Errorf("%s: %w", desc, err)
	}
	if old == nil && !admitted {
		// No history means no relevant tags in any old version either.
		b.debugf("%s: no history and no relevant tags", desc)
		return nil
	}
	if action == osc.ActionDelete && old == nil {
		b.debugf("%s: no history, meaning no relevant tags", desc)
		return nil
	}

	if action == osc.ActionModify {
		if el.Way != nil && len(el.Way.Nodes) < 2 {
			b.debugf("%s: way has fewer than two nodes", desc)
			return nil
		}
		if el.Relation != nil && len(el.Relation.Members) == 0 {
			b.debugf("%s: relation has no members", desc)
			return nil
		}
	} else {
		if el.Way != nil && len(old.Nodes) < 2 {
			b.debugf("%s: stored way has fewer than two nodes", desc)
			return nil
		}
		if el.Relation != nil && len(old.Nodes) == 0 {
			b.debugf("%s: stored relation has no members", desc)
			return nil
		}
	}

	act := &Action{Type: action}

	if action == osc.ActionDelete {
		oldEl := storedToElement(old)
		// Old bodies take coordinates from the store, never from the
		// location cache: cache entries describe the new state of nodes
		// that moved in this very change.
		if err := b.addLocations(oldEl, nil, true); err != nil {
			return fmt.Errorf("%s: %w", desc, err)
		}
		if err := b.addLocations(el, locations, false); err != nil {
			return fmt.Errorf("%s: %w", desc, err)
		}
		act.Old = &Body{Element: oldEl}
		act.New = &Body{Element: el}
		doc.Actions = append(doc.Actions, act)
		// Record the deletion as zero tags so later changes still have an
		// anchor.
		if err := b.Store.Save(&store.Object{
			Type:    el.Type(),
			ID:      el.ID(),
			Version: el.Version(),
			Tags:    map[string]string{},
		}); err != nil {
			return fmt.Errorf("%s: %w", desc, err)
		}
		b.debugf("%s: written to augmented diff", desc)
		return nil
	}

	// modify
	if err := b.addLocations(el, locations, true); err != nil {
		return fmt.Errorf("%s: %w", desc, err)
	}

	var oldEl osc.Element
	if old != nil {
		oldEl = storedToElement(old)
		if err := b.addLocations(oldEl, nil, true); err != nil {
			return fmt.Errorf("%s: %w", desc, err)
		}
	} else {
		if b.API == nil {
			return fmt.Errorf("%s: previous version not stored and no OSM API client configured", desc)
		}
		oldEl, err = b.API.ObjectVersion(el.Type(), el.ID(), el.Version()-1)
		if err != nil {
			return fmt.Errorf("%s: %w", desc, err)
		}
		if oldEl.Empty() {
			return fmt.Errorf("%s: could not download version %d", desc, el.Version()-1)
		}
		if err := b.addLocations(oldEl, locations, true); err != nil {
			return fmt.Errorf("%s: %w", desc, err)
		}
	}
	// New coordinates reach the store only after the old body has read
	// its own from there.
	if err := b.storeLocations(el); err != nil {
		return fmt.Errorf("%s: %w", desc, err)
	}

	act.Old = &Body{Element: oldEl}
	act.New = &Body{Element: el}
	doc.Actions = append(doc.Actions, act)

	if err := b.Store.Save(&store.Object{
		Type:    el.Type(),
		ID:      el.ID(),
		Version: el.Version(),
		Tags:    tags,
		Nodes:   el.NodeIDs(),
	}); err != nil {
		return fmt.Errorf("%s: %w", desc, err)
	}
	b.debugf("%s: written to augmented diff", desc)
	return nil
}

// representativePoint returns (lat, lon) used to place an object for
// region filtering: a node's own coordinate, or the coordinate of the
// first member node found in the location cache, then the store, then —
// only when download is allowed — the OSM API.
func (b *Builder) representativePoint(el osc.Element, locations map[int64][2]float64, download bool) (*[2]float64, error) {
	var ids []int64
	if el.Node != nil {
		if el.HasLocation() {
			return &[2]float64{el.Node.Lat, el.Node.Lon}, nil
		}
		ids = []int64{el.ID()}
	} else {
		ids = el.NodeIDs()
		if len(ids) == 0 {
			// Deleted way or relation; take the member list from the store.
			old, err := b.Store.Read(el.Type(), el.ID())
			if err != nil {
				return nil, err
			}
			if old != nil {
				ids = old.Nodes
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	for _, id := range ids {
		if c, ok := locations[id]; ok {
			return &c, nil
		}
	}
	stored, err := b.Store.Locations(ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if c, ok := stored[id]; ok {
			return &c, nil
		}
	}
	if download && b.API != nil {
		resolved, err := b.API.NodeLocations(ids[:1])
		if err != nil {
			return nil, err
		}
		if c, ok := resolved[ids[0]]; ok {
			return &c, nil
		}
	}
	return nil, nil
}

// locationsFromEverywhere resolves node ids through the cache, the store
// and finally the API. Ids that remain unresolved are an error: emitted
// geometry must be complete.
func (b *Builder) locationsFromEverywhere(ids []int64, locations map[int64][2]float64) (map[int64][2]float64, error) {
	result := make(map[int64][2]float64, len(ids))
	var missing []int64
	for _, id := range ids {
		if c, ok := locations[id]; ok {
			result[id] = c
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		stored, err := b.Store.Locations(missing)
		if err != nil {
			return nil, err
		}
		remaining := missing[:0]
		for _, id := range missing {
			if c, ok := stored[id]; ok {
				result[id] = c
			} else {
				remaining = append(remaining, id)
			}
		}
		missing = remaining
	}
	if len(missing) > 0 {
		if b.API == nil {
			return nil, fmt.Errorf("node %d: location not found and no OSM API client configured", missing[0])
		}
		resolved, err := b.API.NodeLocations(missing)
		if err != nil {
			return nil, err
		}
		for id, c := range resolved {
			result[id] = c
		}
	}
	return result, nil
}

// addLocations enriches an element with coordinates: way nodes and
// relation node-members get inline lat/lon plus a bounds child; a node
// without coordinates (an old body rebuilt from the store) gets its last
// observed position. With strict set, a way node that cannot be resolved
// is an error.
func (b *Builder) addLocations(el osc.Element, locations map[int64][2]float64, strict bool) error {
	switch {
	case el.Node != nil:
		if el.HasLocation() {
			return nil
		}
		id := el.ID()
		if c, ok := locations[id]; ok {
			el.Node.Lat, el.Node.Lon = c[0], c[1]
			return nil
		}
		stored, err := b.Store.Locations([]int64{id})
		if err != nil {
			return err
		}
		if c, ok := stored[id]; ok {
			el.Node.Lat, el.Node.Lon = c[0], c[1]
		} else {
			b.debugf("no stored location for node %d", id)
		}
		return nil

	case el.Way != nil:
		if len(el.Way.Nodes) == 0 {
			return nil
		}
		loc, err := b.locationsFromEverywhere(el.NodeIDs(), locations)
		if err != nil {
			return err
		}
		var bounds boundsBuilder
		for i := range el.Way.Nodes {
			nd := &el.Way.Nodes[i]
			if nd.Lat == 0 && nd.Lon == 0 {
				c, ok := loc[int64(nd.ID)]
				if !ok {
					if strict {
						return fmt.Errorf("node %d: location not found", nd.ID)
					}
					continue
				}
				nd.Lat, nd.Lon = c[0], c[1]
			}
			bounds.extend(nd.Lat, nd.Lon)
		}
		el.Way.Bounds = bounds.bounds()
		return nil

	case el.Relation != nil:
		ids := el.NodeIDs()
		var loc map[int64][2]float64
		if len(ids) > 0 {
			var err error
			loc, err = b.locationsFromEverywhere(ids, locations)
			if err != nil {
				return err
			}
		}
		var bounds boundsBuilder
		for i := range el.Relation.Members {
			m := &el.Relation.Members[i]
			if m.Type != osm.TypeNode {
				continue
			}
			if m.Lat == 0 && m.Lon == 0 {
				c, ok := loc[m.Ref]
				if !ok {
					continue
				}
				m.Lat, m.Lon = c[0], c[1]
			}
			bounds.extend(m.Lat, m.Lon)
		}
		if bounds.seen {
			el.Relation.Bounds = bounds.bounds()
		} else {
			b.debugf("no bounds to add to relation %d", el.ID())
		}
		return nil
	}
	return nil
}

// storeLocations persists every coordinate the element carries.
func (b *Builder) storeLocations(el osc.Element) error {
	var locs []store.NodeLocation
	switch {
	case el.Node != nil:
		if el.HasLocation() {
			locs = append(locs, store.NodeLocation{ID: el.ID(), Lat: el.Node.Lat, Lon: el.Node.Lon})
		}
	case el.Way != nil:
		for _, nd := range el.Way.Nodes {
			if nd.Lat != 0 || nd.Lon != 0 {
				locs = append(locs, store.NodeLocation{ID: int64(nd.ID), Lat: nd.Lat, Lon: nd.Lon})
			}
		}
	}
	return b.Store.UpdateLocations(locs)
}

// storedToElement rebuilds an element from its stored projection. Way
// nodes come back without coordinates; addLocations fills them from the
// store.
func storedToElement(o *store.Object) osc.Element {
	switch o.Type {
	case osm.TypeNode:
		return osc.Element{Node: &osm.Node{
			ID:      osm.NodeID(o.ID),
			Version: o.Version,
			Tags:    tagsFromMap(o.Tags),
		}}
	case osm.TypeWay:
		w := &osm.Way{
			ID:      osm.WayID(o.ID),
			Version: o.Version,
			Tags:    tagsFromMap(o.Tags),
		}
		for _, ref := range o.Nodes {
			w.Nodes = append(w.Nodes, osm.WayNode{ID: osm.NodeID(ref)})
		}
		return osc.Element{Way: w}
	case osm.TypeRelation:
		r := &osm.Relation{
			ID:      osm.RelationID(o.ID),
			Version: o.Version,
			Tags:    tagsFromMap(o.Tags),
		}
		for _, ref := range o.Nodes {
			r.Members = append(r.Members, osm.Member{Type: osm.TypeNode, Ref: ref})
		}
		return osc.Element{Relation: r}
	}
	return osc.Element{}
}
