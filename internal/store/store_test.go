package store

import (
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/osm"

	"github.com/banshee-data/osmwatch/internal/tagmatch"
)

func setupTestStore(t *testing.T, matcher *tagmatch.Matcher) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, matcher, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndRead(t *testing.T) {
	s := setupTestStore(t, nil)

	obj := &Object{
		Type:    osm.TypeWay,
		ID:      12345,
		Version: 3,
		Tags:    map[string]string{"highway": "residential", "maxspeed": "50"},
		Nodes:   []int64{1, 2, 3},
	}
	if err := s.Save(obj); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Read(osm.TypeWay, 12345)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected stored object")
	}
	if got.Version != 3 {
		t.Errorf("version = %d, want 3", got.Version)
	}
	if got.Tags["maxspeed"] != "50" {
		t.Errorf("tags = %v", got.Tags)
	}
	if len(got.Nodes) != 3 || got.Nodes[0] != 1 || got.Nodes[2] != 3 {
		t.Errorf("nodes = %v, want [1 2 3]", got.Nodes)
	}
}

func TestReadMissing(t *testing.T) {
	s := setupTestStore(t, nil)
	got, err := s.Read(osm.TypeNode, 999)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing object, got %+v", got)
	}
}

func TestSaveUpsert(t *testing.T) {
	s := setupTestStore(t, nil)

	first := &Object{Type: osm.TypeNode, ID: 7, Version: 1, Tags: map[string]string{"highway": "bus_stop"}}
	if err := s.Save(first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second := &Object{Type: osm.TypeNode, ID: 7, Version: 2, Tags: map[string]string{}}
	if err := s.Save(second); err != nil {
		t.Fatalf("Save (upsert) failed: %v", err)
	}

	got, err := s.Read(osm.TypeNode, 7)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
	if len(got.Tags) != 0 {
		t.Errorf("tombstone tags = %v, want empty", got.Tags)
	}
}

func TestSaveFiltersTags(t *testing.T) {
	matcher, err := tagmatch.Load(strings.NewReader("node stop highway=bus_stop"))
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}
	s := setupTestStore(t, matcher)

	obj := &Object{
		Type:    osm.TypeNode,
		ID:      1,
		Version: 1,
		Tags:    map[string]string{"highway": "bus_stop", "name": "Main St", "shelter": "yes"},
	}
	if err := s.Save(obj); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Read(osm.TypeNode, 1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	for key := range got.Tags {
		if !matcher.RelevantKeys()[key] {
			t.Errorf("persisted irrelevant key %q", key)
		}
	}
	if got.Tags["highway"] != "bus_stop" {
		t.Errorf("tags = %v, want highway kept", got.Tags)
	}
}

func TestVariantsDoNotCollide(t *testing.T) {
	s := setupTestStore(t, nil)
	if err := s.Save(&Object{Type: osm.TypeNode, ID: 5, Version: 1, Tags: map[string]string{"a": "n"}}); err != nil {
		t.Fatalf("Save node: %v", err)
	}
	if err := s.Save(&Object{Type: osm.TypeWay, ID: 5, Version: 2, Tags: map[string]string{"a": "w"}, Nodes: []int64{1, 2}}); err != nil {
		t.Fatalf("Save way: %v", err)
	}
	n, err := s.Read(osm.TypeNode, 5)
	if err != nil || n == nil {
		t.Fatalf("Read node: %v, %v", n, err)
	}
	w, err := s.Read(osm.TypeWay, 5)
	if err != nil || w == nil {
		t.Fatalf("Read way: %v, %v", w, err)
	}
	if n.Tags["a"] != "n" || w.Tags["a"] != "w" {
		t.Errorf("variants collided: node=%v way=%v", n.Tags, w.Tags)
	}
}

func TestLocationsRoundTrip(t *testing.T) {
	s := setupTestStore(t, nil)

	coords := []NodeLocation{
		{ID: 1, Lat: 60.0000001, Lon: 30.1234567},
		{ID: 2, Lat: -89.9999999, Lon: -179.9999999},
		{ID: 3, Lat: 0, Lon: 0},
	}
	if err := s.UpdateLocations(coords); err != nil {
		t.Fatalf("UpdateLocations failed: %v", err)
	}

	got, err := s.Locations([]int64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Locations failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d locations, want 3", len(got))
	}
	for _, c := range coords {
		stored := got[c.ID]
		if math.Abs(stored[0]-c.Lat) > 1e-7 || math.Abs(stored[1]-c.Lon) > 1e-7 {
			t.Errorf("node %d round trip: got %v, want (%v, %v)", c.ID, stored, c.Lat, c.Lon)
		}
	}
}

func TestUpdateLocationsLastWins(t *testing.T) {
	s := setupTestStore(t, nil)

	err := s.UpdateLocations([]NodeLocation{
		{ID: 9, Lat: 1, Lon: 1},
		{ID: 9, Lat: 2, Lon: 2},
	})
	if err != nil {
		t.Fatalf("UpdateLocations failed: %v", err)
	}
	got, err := s.Locations([]int64{9})
	if err != nil {
		t.Fatalf("Locations failed: %v", err)
	}
	if got[9][0] != 2 || got[9][1] != 2 {
		t.Errorf("got %v, want the later entry (2, 2)", got[9])
	}

	// A later call supersedes too.
	if err := s.UpdateLocations([]NodeLocation{{ID: 9, Lat: 3, Lon: 3}}); err != nil {
		t.Fatalf("UpdateLocations failed: %v", err)
	}
	got, _ = s.Locations([]int64{9})
	if got[9][0] != 3 {
		t.Errorf("got %v, want (3, 3)", got[9])
	}
}

func TestLocationsManyIDs(t *testing.T) {
	s := setupTestStore(t, nil)
	var locs []NodeLocation
	var ids []int64
	for i := int64(1); i <= 2*locationChunk+7; i++ {
		locs = append(locs, NodeLocation{ID: i, Lat: 1, Lon: 1})
		ids = append(ids, i)
	}
	if err := s.UpdateLocations(locs); err != nil {
		t.Fatalf("UpdateLocations failed: %v", err)
	}
	got, err := s.Locations(ids)
	if err != nil {
		t.Fatalf("Locations failed: %v", err)
	}
	if len(got) != len(ids) {
		t.Errorf("got %d locations, want %d", len(got), len(ids))
	}
}

func TestCustomTableNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.db")
	s, err := Open(path, nil, &Options{ObjectsTable: "objs", LocationsTable: "locs"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if err := s.Save(&Object{Type: osm.TypeNode, ID: 1, Version: 1, Tags: map[string]string{}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.UpdateLocations([]NodeLocation{{ID: 1, Lat: 1, Lon: 2}}); err != nil {
		t.Fatalf("UpdateLocations failed: %v", err)
	}
	got, err := s.Read(osm.TypeNode, 1)
	if err != nil || got == nil {
		t.Fatalf("Read failed: %v, %v", got, err)
	}
}
