package adiff

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"

	"github.com/banshee-data/osmwatch/internal/region"
	"github.com/banshee-data/osmwatch/internal/store"
	"github.com/banshee-data/osmwatch/internal/tagmatch"
)

// InitStore seeds the store from a PBF extract: every node and way admitted
// by the tag filter (and, for nodes, the region filter) is persisted
// together with the node locations its geometry needs; relations are not
// stored. Node coordinates are cached
// in memory for the duration of the scan; PBF ordering puts nodes before
// the ways that reference them. Sized for regional extracts, not a full
// planet.
func InitStore(ctx context.Context, pbfPath string, st *store.Store, matcher *tagmatch.Matcher, regions *region.Locator) error {
	f, err := os.Open(pbfPath)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := osmpbf.New(ctx, f, runtime.GOMAXPROCS(0))
	defer scanner.Close()

	nodeLocs := make(map[int64][2]float64)
	var objects, locations int

	for scanner.Scan() {
		switch o := scanner.Object().(type) {
		case *osm.Node:
			nodeLocs[int64(o.ID)] = [2]float64{o.Lat, o.Lon}
			tags := o.Tags.Map()
			if !matcher.Empty() && len(matcher.KindsOf("node", tags)) == 0 {
				continue
			}
			if !regions.Empty() && regions.Find(o.Lon, o.Lat) == "" {
				continue
			}
			if err := st.Save(&store.Object{
				Type:    osm.TypeNode,
				ID:      int64(o.ID),
				Version: o.Version,
				Tags:    tags,
			}); err != nil {
				return fmt.Errorf("init node %d: %w", o.ID, err)
			}
			if err := st.UpdateLocations([]store.NodeLocation{
				{ID: int64(o.ID), Lat: o.Lat, Lon: o.Lon},
			}); err != nil {
				return fmt.Errorf("init node %d: %w", o.ID, err)
			}
			objects++
			locations++

		case *osm.Way:
			if len(o.Nodes) < 2 {
				continue
			}
			tags := o.Tags.Map()
			if !matcher.Empty() && len(matcher.KindsOf("way", tags)) == 0 {
				continue
			}
			refs := make([]int64, len(o.Nodes))
			var locs []store.NodeLocation
			for i, nd := range o.Nodes {
				refs[i] = int64(nd.ID)
				if c, ok := nodeLocs[int64(nd.ID)]; ok {
					locs = append(locs, store.NodeLocation{ID: int64(nd.ID), Lat: c[0], Lon: c[1]})
				}
			}
			if err := st.Save(&store.Object{
				Type:    osm.TypeWay,
				ID:      int64(o.ID),
				Version: o.Version,
				Tags:    tags,
				Nodes:   refs,
			}); err != nil {
				return fmt.Errorf("init way %d: %w", o.ID, err)
			}
			if err := st.UpdateLocations(locs); err != nil {
				return fmt.Errorf("init way %d: %w", o.ID, err)
			}
			objects++
			locations += len(locs)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", pbfPath, err)
	}
	log.Printf("stored %d objects and %d node locations", objects, locations)
	return nil
}
