// Package region matches points to named region polygons.
package region

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/planar"
	"github.com/tidwall/rtree"
)

// Locator answers point-in-region queries over a set of named polygons.
// Polygons are kept in insertion order; when several contain a point, the
// earliest-loaded one wins.
type Locator struct {
	names []string
	geoms []orb.Geometry
	tree  rtree.RTreeG[int]
}

// Load reads a CSV of (name, wkb_hex) rows and builds the spatial index.
// Additional columns are ignored. A malformed WKB geometry fails the load.
func Load(r io.Reader) (*Locator, error) {
	l := &Locator{}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("region file: %w", err)
		}
		if len(row) < 2 {
			return nil, fmt.Errorf("region file: row %q needs name and wkb columns", row)
		}
		data, err := hex.DecodeString(row[1])
		if err != nil {
			return nil, fmt.Errorf("region %q: bad hex: %w", row[0], err)
		}
		geom, err := wkb.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("region %q: bad wkb: %w", row[0], err)
		}
		switch geom.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return nil, fmt.Errorf("region %q: geometry is %s, want polygon", row[0], geom.GeoJSONType())
		}
		idx := len(l.names)
		l.names = append(l.names, row[0])
		l.geoms = append(l.geoms, geom)
		b := geom.Bound()
		l.tree.Insert([2]float64{b.Min[0], b.Min[1]}, [2]float64{b.Max[0], b.Max[1]}, idx)
	}
	return l, nil
}

// Empty reports whether no regions are loaded. An empty (or nil) locator
// matches nothing.
func (l *Locator) Empty() bool {
	return l == nil || len(l.names) == 0
}

// Find returns the name of the first loaded region containing the point,
// or the empty string.
func (l *Locator) Find(lon, lat float64) string {
	if l.Empty() {
		return ""
	}
	pt := orb.Point{lon, lat}
	best := -1
	l.tree.Search([2]float64{lon, lat}, [2]float64{lon, lat},
		func(_, _ [2]float64, idx int) bool {
			if best != -1 && idx > best {
				return true
			}
			if contains(l.geoms[idx], pt) {
				best = idx
			}
			return true
		})
	if best == -1 {
		return ""
	}
	return l.names[best]
}

func contains(geom orb.Geometry, pt orb.Point) bool {
	switch g := geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, pt)
	}
	return false
}
