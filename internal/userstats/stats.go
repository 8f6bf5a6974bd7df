package userstats

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

// InputRow is one transition row as read back from the extractor's CSV.
type InputRow struct {
	TS        string
	Action    string
	ObjAction string
	Kind      string
	UID       string
	Username  string
	OsmID     string
	Version   string
	PrevID    string
	Region    string
	Length    float64
	HasLength bool
}

// ReadRows parses the extractor's CSV output (header required).
func ReadRows(r io.Reader) ([]InputRow, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, required := range []string{"ts", "action", "obj_action", "kind", "uid", "username", "osm_id", "version"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("rows: missing column %q", required)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var rows []InputRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("rows: %w", err)
		}
		row := InputRow{
			TS:        field(rec, "ts"),
			Action:    field(rec, "action"),
			ObjAction: field(rec, "obj_action"),
			Kind:      field(rec, "kind"),
			UID:       field(rec, "uid"),
			Username:  field(rec, "username"),
			OsmID:     field(rec, "osm_id"),
			Version:   field(rec, "version"),
			PrevID:    field(rec, "prev_id"),
			Region:    field(rec, "region"),
		}
		if l := field(rec, "length"); l != "" {
			if f, err := strconv.ParseFloat(l, 64); err == nil {
				row.Length = f
				row.HasLength = true
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// contribKey identifies one score bucket.
type contribKey struct {
	UID    string
	Region string
	Kind   string
}

// contrib is (count, weighted score) accumulated for a bucket.
type contrib struct {
	Count float64
	Score float64
}

// Result holds the aggregated contributions plus the column split between
// node kinds and way kinds (ways are the kinds that carry lengths).
type Result struct {
	Buckets   map[contribKey]contrib
	NodeKinds map[string]bool
	WayKinds  map[string]bool
	Usernames map[string]string
	MinTS     string
	MaxTS     string
}

// Aggregate replays the per-(object, kind, region) timelines and sums
// weighted contributions per user. Rows are processed in
// (osm_id, kind, ts, version) order; for joined ways the deleted way's
// history continues under the survivor's id.
func Aggregate(rows []InputRow, weights *Weights) *Result {
	res := &Result{
		Buckets:   make(map[contribKey]contrib),
		NodeKinds: make(map[string]bool),
		WayKinds:  make(map[string]bool),
		Usernames: make(map[string]string),
	}
	if len(rows) == 0 {
		return res
	}

	sorted := make([]InputRow, len(rows))
	copy(sorted, rows)
	for i := range sorted {
		if sorted[i].ObjAction == "join" {
			sorted[i].OsmID, sorted[i].PrevID = sorted[i].PrevID, sorted[i].OsmID
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		a, b := &sorted[i], &sorted[j]
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

	// Per-timeline state: created and modified value per uid, plus who
	// performed the last create (negated after a delete).
	current := make(map[string][2]float64)
	lastAdded := ""
	lastAddedDeleted := false

	var curID, curKind, curRegion string
	started := false

	flush := func() {
		for uid, c := range current {
			value := c[0]
			isModify := c[0] == 0
			if isModify {
				value = c[1]
			}
			mult := weights.Get(curID, curKind, isModify)
			k := contribKey{UID: uid, Region: curRegion, Kind: curKind}
			b := res.Buckets[k]
			b.Count += value
			b.Score += value * mult
			res.Buckets[k] = b
		}
		current = make(map[string][2]float64)
		lastAdded = ""
		lastAddedDeleted = false
	}

	for _, row := range sorted {
		if !started || row.OsmID != curID || row.Kind != curKind || row.Region != curRegion {
			if started {
				flush()
			}
			curID, curKind, curRegion = row.OsmID, row.Kind, row.Region
			started = true
		}

		res.Usernames[row.UID] = row.Username
		if row.HasLength {
			res.WayKinds[row.Kind] = true
		} else {
			res.NodeKinds[row.Kind] = true
		}
		if res.MinTS == "" || row.TS < res.MinTS {
			res.MinTS = row.TS
		}
		if row.TS > res.MaxTS {
			res.MaxTS = row.TS
		}

		value := row.Length
		if value == 0 {
			value = 1
		}
		c, seen := current[row.UID]
		if !seen {
			current[row.UID] = c
		}
		switch row.Action {
		case "create":
			if lastAdded != "" && lastAddedDeleted {
				// Restoring after deletion counts as a modification.
				c[1] = value
			} else {
				c[0] = value
			}
			current[row.UID] = c
			lastAdded = row.UID
			lastAddedDeleted = false
		case "delete":
			if lastAdded != "" && !lastAddedDeleted {
				// Undo the last creation, if there was one.
				lc := current[lastAdded]
				lc[0] -= value
				if lc[0] < 0 {
					lc[0] = 0
				}
				lc[1] = 0
				current[lastAdded] = lc
			}
			lastAdded = row.UID
			lastAddedDeleted = true
		case "modify":
			// Intermediate modifications are allowed between a create and
			// its undoing delete.
			c[1] = value
			current[row.UID] = c
		}
	}
	flush()
	return res
}

// UserTable is one user's aggregated counts per kind plus the total score.
type UserTable struct {
	UID       string
	Username  string
	UserGroup string
	Kinds     map[string]float64
	Score     float64
}

// ByUser folds the result across regions into one row per user, rounding
// every number the way the report expects.
func (r *Result) ByUser() []UserTable {
	byUID := make(map[string]*UserTable)
	for k, v := range r.Buckets {
		t, ok := byUID[k.UID]
		if !ok {
			t = &UserTable{UID: k.UID, Username: r.Usernames[k.UID], Kinds: make(map[string]float64)}
			byUID[k.UID] = t
		}
		t.Kinds[k.Kind] += v.Count
		t.Score += v.Score
	}
	users := make([]UserTable, 0, len(byUID))
	for _, t := range byUID {
		for kind, v := range t.Kinds {
			t.Kinds[kind] = round(v)
		}
		t.Score = round(t.Score)
		users = append(users, *t)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Score != users[j].Score {
			return users[i].Score > users[j].Score
		}
		return users[i].Username < users[j].Username
	})
	return users
}

// ScoreSummary returns the mean and standard deviation of per-user scores.
func ScoreSummary(users []UserTable) (mean, stddev float64) {
	if len(users) == 0 {
		return 0, 0
	}
	scores := make([]float64, len(users))
	for i, u := range users {
		scores[i] = u.Score
	}
	return stat.Mean(scores, nil), stat.StdDev(scores, nil)
}

// Columns returns the output column order: user, node kinds, way kinds,
// optionally usergroup, then score.
func (r *Result) Columns(withGroups bool) []string {
	cols := []string{"user"}
	cols = append(cols, sortedKeys(r.NodeKinds)...)
	cols = append(cols, sortedKeys(r.WayKinds)...)
	if withGroups {
		cols = append(cols, "usergroup")
	}
	return append(cols, "score")
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round(v float64) float64 {
	if v < 0 {
		return float64(int64(v - 0.5))
	}
	return float64(int64(v + 0.5))
}

// WriteCSV writes the per-user table with labelled columns.
func WriteCSV(w io.Writer, r *Result, weights *Weights, users []UserTable) error {
	withGroups := len(weights.UserGroups) > 0
	cols := r.Columns(withGroups)
	cw := csv.NewWriter(w)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = weights.Label(c)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, u := range users {
		rec := make([]string, 0, len(cols))
		for _, c := range cols {
			switch c {
			case "user":
				rec = append(rec, u.Username)
			case "usergroup":
				rec = append(rec, u.UserGroup)
			case "score":
				rec = append(rec, strconv.FormatFloat(u.Score, 'f', -1, 64))
			default:
				rec = append(rec, strconv.FormatFloat(u.Kinds[c], 'f', -1, 64))
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
