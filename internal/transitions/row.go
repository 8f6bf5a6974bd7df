// Package transitions interprets an augmented diff as tabular tag-kind
// transitions: one row per (object, kind) change, with way splits and
// joins recognised by cross-referencing actions in the same diff.
package transitions

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// column pairs a CSV column name with its SQL type for the COPY wrapper.
type column struct {
	name    string
	sqlType string
}

var columns = []column{
	// UTC timestamp for the change
	{"ts", "timestamp with time zone not null"},
	// For a tag: create, delete, modify (for a value)
	{"action", "text not null"},
	// One of create, delete, modify,
	// split (created from splitting), join (deleted for joining)
	{"obj_action", "text not null"},
	// Tag kind, e.g. crossing, maxspeed
	{"kind", "text not null"},
	// System data from an object
	{"changeset", "integer not null"},
	{"uid", "integer not null"},
	{"username", "text not null"},
	{"osm_id", "text not null"},
	{"version", "integer not null"},
	// For splitting and joining, osm_id of an ancestor way
	{"prev_id", "text"},
	// When filtering by regions, a region name
	{"region", "text"},
	// Location of a node or a bounds midpoint
	{"lat", "double precision not null"},
	{"lon", "double precision not null"},
	// For ways, length in meters
	{"length", "integer"},
}

// Columns returns the CSV column names in output order.
func Columns() []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.name
	}
	return names
}

// Row is one (object, kind) transition.
type Row struct {
	TS        string
	Action    string
	ObjAction string
	Kind      string
	Changeset int64
	UID       int64
	Username  string
	OsmID     string
	Version   int
	PrevID    string
	Region    string
	Lat       float64
	Lon       float64
	Length    *int
}

// Record renders the row as CSV fields in column order.
func (r *Row) Record() []string {
	length := ""
	if r.Length != nil {
		length = strconv.Itoa(*r.Length)
	}
	return []string{
		r.TS,
		r.Action,
		r.ObjAction,
		r.Kind,
		strconv.FormatInt(r.Changeset, 10),
		strconv.FormatInt(r.UID, 10),
		r.Username,
		r.OsmID,
		strconv.Itoa(r.Version),
		r.PrevID,
		r.Region,
		strconv.FormatFloat(r.Lat, 'f', -1, 64),
		strconv.FormatFloat(r.Lon, 'f', -1, 64),
		length,
	}
}

// WriteCSV writes a header line and all rows. Nothing is written when
// there are no rows.
func WriteCSV(w io.Writer, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns()); err != nil {
		return err
	}
	for i := range rows {
		if err := cw.Write(rows[i].Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSQL wraps the rows in a psql COPY script importing into table,
// deduplicating on (osm_id, version, kind). Nothing is written when there
// are no rows.
func WriteSQL(w io.Writer, rows []Row, table string) error {
	if len(rows) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("SET client_min_messages = 'ERROR';\n")
	fmt.Fprintf(&b, "create table if not exists %s (\n", table)
	for i, c := range columns {
		comma := ","
		if i == len(columns)-1 {
			comma = ""
		}
		fmt.Fprintf(&b, "    %s %s%s\n", c.name, c.sqlType, comma)
	}
	b.WriteString(");\n")
	fmt.Fprintf(&b, "drop table if exists tmp_%s;\n", table)
	fmt.Fprintf(&b, "create table tmp_%s (like %s including defaults);\n", table, table)
	fmt.Fprintf(&b, "copy tmp_%s (%s) from stdin (format csv);\n", table, strings.Join(Columns(), ","))
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	for i := range rows {
		if err := cw.Write(rows[i].Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	var f strings.Builder
	f.WriteString("\\.\n\n")
	fmt.Fprintf(&f, "insert into %s select * from tmp_%s on conflict do nothing;\n", table, table)
	fmt.Fprintf(&f, "drop table tmp_%s;\n", table)
	fmt.Fprintf(&f, "create unique index if not exists idx_%s on %s (osm_id, version, kind);\n", table, table)
	_, err := io.WriteString(w, f.String())
	return err
}
