package osc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/osm"
)

const sampleOSC = `<?xml version="1.0" encoding="UTF-8"?>
<osmChange version="0.6" generator="test">
  <create>
    <node id="1" version="1" timestamp="2021-01-01T00:00:00Z" changeset="10" uid="5" user="alice" lat="60.0" lon="30.0">
      <tag k="highway" v="bus_stop"/>
    </node>
  </create>
  <modify>
    <way id="100" version="2" timestamp="2021-01-01T00:01:00Z" changeset="11" uid="6" user="bob">
      <nd ref="1"/>
      <nd ref="2"/>
      <tag k="maxspeed" v="60"/>
    </way>
  </modify>
  <delete>
    <node id="7" version="3" timestamp="2021-01-01T00:02:00Z" changeset="12" uid="5" user="alice"/>
    <relation id="200" version="1" timestamp="2021-01-01T00:03:00Z" changeset="12" uid="5" user="alice">
      <member type="node" ref="1" role="stop"/>
      <member type="way" ref="100" role=""/>
    </relation>
  </delete>
</osmChange>`

type scanned struct {
	action ActionType
	el     Element
}

func scanString(t *testing.T, doc string) []scanned {
	t.Helper()
	var got []scanned
	err := Scan(strings.NewReader(doc), func(action ActionType, el Element) error {
		got = append(got, scanned{action, el})
		return nil
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return got
}

func TestScanDocumentOrder(t *testing.T) {
	got := scanString(t, sampleOSC)
	if len(got) != 4 {
		t.Fatalf("got %d elements, want 4", len(got))
	}

	if got[0].action != ActionCreate || got[0].el.Type() != osm.TypeNode || got[0].el.ID() != 1 {
		t.Errorf("first element = %v %s/%d", got[0].action, got[0].el.Type(), got[0].el.ID())
	}
	if got[0].el.TagMap()["highway"] != "bus_stop" {
		t.Errorf("tags = %v", got[0].el.TagMap())
	}
	if !got[0].el.HasLocation() || got[0].el.Node.Lat != 60.0 {
		t.Errorf("node location = %v, %v", got[0].el.Node.Lat, got[0].el.Node.Lon)
	}

	if got[1].action != ActionModify || got[1].el.Type() != osm.TypeWay {
		t.Errorf("second element = %v %s", got[1].action, got[1].el.Type())
	}
	ids := got[1].el.NodeIDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("way node ids = %v, want [1 2]", ids)
	}
	if got[1].el.Changeset() != 11 || got[1].el.UserID() != 6 || got[1].el.User() != "bob" {
		t.Errorf("way metadata = %d %d %q", got[1].el.Changeset(), got[1].el.UserID(), got[1].el.User())
	}

	if got[2].action != ActionDelete || got[2].el.HasLocation() {
		t.Errorf("delete stub should carry no location")
	}

	if got[3].el.Type() != osm.TypeRelation {
		t.Fatalf("fourth element = %s", got[3].el.Type())
	}
	relIDs := got[3].el.NodeIDs()
	if len(relIDs) != 1 || relIDs[0] != 1 {
		t.Errorf("relation node members = %v, want [1]", relIDs)
	}
}

func TestScanAbortsOnCallbackError(t *testing.T) {
	calls := 0
	err := Scan(strings.NewReader(sampleOSC), func(ActionType, Element) error {
		calls++
		return os.ErrClosed
	})
	if err == nil {
		t.Fatal("expected callback error to propagate")
	}
	if calls != 1 {
		t.Errorf("scan continued after error: %d calls", calls)
	}
}

func TestScanMalformedXML(t *testing.T) {
	err := Scan(strings.NewReader("<osmChange><create><node id="), func(ActionType, Element) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestOpenPlainAndGzip(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "change.osc")
	if err := os.WriteFile(plain, []byte(sampleOSC), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	gzipped := filepath.Join(dir, "change.osc.gz")
	f, err := os.Create(gzipped)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(sampleOSC)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	gz.Close()
	f.Close()

	for _, path := range []string{plain, gzipped} {
		count := 0
		err := ScanFile(path, func(ActionType, Element) error {
			count++
			return nil
		})
		if err != nil {
			t.Fatalf("ScanFile(%s) failed: %v", path, err)
		}
		if count != 4 {
			t.Errorf("ScanFile(%s) saw %d elements, want 4", path, count)
		}
	}
}
