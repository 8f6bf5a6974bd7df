package tagmatch

import (
	"strings"
	"testing"
)

func load(t *testing.T, rules string) *Matcher {
	t.Helper()
	m, err := Load(strings.NewReader(rules))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return m
}

func TestLoadBasicRules(t *testing.T) {
	m := load(t, `
# watched tags
node stop highway=bus_stop
way maxspeed maxspeed
node crossing:island
`)
	if m.Empty() {
		t.Fatal("expected non-empty matcher")
	}
	for _, key := range []string{"highway", "maxspeed", "crossing:island"} {
		if !m.RelevantKeys()[key] {
			t.Errorf("expected %q in relevant keys", key)
		}
	}
}

func TestLoadRejectsBadLines(t *testing.T) {
	for _, line := range []string{
		"node",
		"flat stop highway",
		"node stop+ highway",
		"node stop+a=1 highway+b=2",
	} {
		if _, err := Load(strings.NewReader(line)); err == nil {
			t.Errorf("expected error for line %q", line)
		}
	}
}

func TestLoadAcceptsMatchingContexts(t *testing.T) {
	m := load(t, "way maxspeed+highway maxspeed+highway")
	kinds := m.KindsOf("way", map[string]string{"maxspeed": "50", "highway": "residential"})
	if !kinds["maxspeed"] {
		t.Errorf("expected maxspeed kind, got %v", kinds)
	}
}

func TestKindsOf(t *testing.T) {
	m := load(t, `
node stop highway=bus_stop
node crossing highway=crossing
way maxspeed maxspeed
any name name
`)
	tests := []struct {
		variant string
		tags    map[string]string
		want    []string
	}{
		{"node", map[string]string{"highway": "bus_stop"}, []string{"stop"}},
		{"node", map[string]string{"highway": "crossing"}, []string{"crossing"}},
		{"node", map[string]string{"highway": "primary"}, nil},
		{"way", map[string]string{"maxspeed": "60"}, []string{"maxspeed"}},
		{"node", map[string]string{"maxspeed": "60"}, nil},
		{"relation", map[string]string{"name": "Ring"}, []string{"name"}},
	}
	for _, tc := range tests {
		got := m.KindsOf(tc.variant, tc.tags)
		if len(got) != len(tc.want) {
			t.Errorf("KindsOf(%s, %v) = %v, want %v", tc.variant, tc.tags, got, tc.want)
			continue
		}
		for _, k := range tc.want {
			if !got[k] {
				t.Errorf("KindsOf(%s, %v) missing %q", tc.variant, tc.tags, k)
			}
		}
	}
}

func TestKindsOfPurity(t *testing.T) {
	m := load(t, "node stop highway=bus_stop")
	tags := map[string]string{"highway": "bus_stop"}
	first := m.KindsOf("node", tags)
	second := m.KindsOf("node", tags)
	if len(first) != len(second) || !first["stop"] || !second["stop"] {
		t.Errorf("KindsOf is not pure: %v vs %v", first, second)
	}
}

func TestContextWeakAndStrong(t *testing.T) {
	m := load(t, "way lanes lanes+highway")
	withHighway := map[string]string{"lanes": "2", "highway": "residential"}
	withoutHighway := map[string]string{"lanes": "2"}

	// Weak: the context may hold in either map.
	if !m.KindsOfWithContext("way", withoutHighway, withHighway, false)["lanes"] {
		t.Error("weak context should accept the aux map")
	}
	// Strong: the context must hold in both.
	if m.KindsOfWithContext("way", withoutHighway, withHighway, true)["lanes"] {
		t.Error("strong context should require both maps")
	}
	if !m.KindsOfWithContext("way", withHighway, withHighway, true)["lanes"] {
		t.Error("strong context should pass when both maps match")
	}
}

func TestModifiedKindsValueChange(t *testing.T) {
	m := load(t, "way maxspeed maxspeed")
	old := map[string]string{"maxspeed": "50"}
	neu := map[string]string{"maxspeed": "60"}
	if !m.ModifiedKinds("way", old, neu, false)["maxspeed"] {
		t.Error("expected maxspeed modification")
	}
	// Key removed, not modified.
	if m.ModifiedKinds("way", old, map[string]string{}, false)["maxspeed"] {
		t.Error("removal is not a modification")
	}
}

func TestModifiedKindsOptionChange(t *testing.T) {
	m := load(t, `
node crossing crossing=marked
node crossing crossing=unmarked
`)
	old := map[string]string{"crossing": "marked"}
	neu := map[string]string{"crossing": "unmarked"}
	if !m.ModifiedKinds("node", old, neu, false)["crossing"] {
		t.Error("expected crossing option modification")
	}
	if m.ModifiedKinds("node", old, old, false)["crossing"] {
		t.Error("same option is not a modification")
	}
	// One side matching no option is create/delete territory, not modify.
	if m.ModifiedKinds("node", old, map[string]string{"crossing": "zebra"}, false)["crossing"] {
		t.Error("no new option matched, not a modification")
	}
}

func TestModifiedKindsIdentity(t *testing.T) {
	m := load(t, `
node stop highway=bus_stop
way maxspeed maxspeed
way lanes lanes+highway
`)
	maps := []map[string]string{
		{},
		{"maxspeed": "50"},
		{"highway": "bus_stop", "lanes": "2"},
	}
	for _, tags := range maps {
		for _, variant := range []string{"node", "way"} {
			for _, strong := range []bool{false, true} {
				if got := m.ModifiedKinds(variant, tags, tags, strong); len(got) != 0 {
					t.Errorf("ModifiedKinds(%s, t, t, %v) = %v, want empty", variant, strong, got)
				}
			}
		}
	}
}

func TestFilterRelevant(t *testing.T) {
	m := load(t, "node stop highway=bus_stop")
	got := m.FilterRelevant(map[string]string{
		"highway": "bus_stop",
		"name":    "Main St",
	})
	if len(got) != 1 || got["highway"] != "bus_stop" {
		t.Errorf("FilterRelevant = %v, want only highway", got)
	}

	var empty *Matcher
	tags := map[string]string{"name": "x"}
	if got := empty.FilterRelevant(tags); len(got) != 1 {
		t.Errorf("empty matcher should pass tags through, got %v", got)
	}
}
