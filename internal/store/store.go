// Package store persists watched OSM objects and node locations across
// runs. It is the authoritative source of "old" state when an incoming
// change references an object whose prior version is not in the current
// osmChange.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/osm"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/osmwatch/internal/tagmatch"
)

// CoordMultiplier converts decimal degrees to the fixed-point integers
// kept in the locations table. A signed 32-bit value covers ±180°.
const CoordMultiplier = 10000000

// Default table names; overridable through Options.
const (
	DefaultObjectsTable   = "osc_watched_objects"
	DefaultLocationsTable = "osc_node_locations"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Object is the stored projection of an OSM object: its identity, version,
// tags filtered to the matcher's relevant keys, and (for ways) ordered node
// references. An empty tag map is a tombstone recording a deletion.
type Object struct {
	Type    osm.Type
	ID      int64
	Version int
	Tags    map[string]string
	Nodes   []int64
}

// Key is the storage key, the variant initial followed by the id: "w12345".
func (o *Object) Key() string {
	return objectKey(o.Type, o.ID)
}

func objectKey(typ osm.Type, id int64) string {
	return string(typ[0]) + strconv.FormatInt(id, 10)
}

func (o *Object) nodesText() sql.NullString {
	if len(o.Nodes) == 0 {
		return sql.NullString{}
	}
	parts := make([]string, len(o.Nodes))
	for i, n := range o.Nodes {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return sql.NullString{String: strings.Join(parts, ","), Valid: true}
}

func parseNodesText(s sql.NullString) ([]int64, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	parts := strings.Split(s.String, ",")
	nodes := make([]int64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad node ref %q: %w", p, err)
		}
		nodes[i] = n
	}
	return nodes, nil
}

// NodeLocation is one observed node coordinate in decimal degrees.
type NodeLocation struct {
	ID  int64
	Lat float64
	Lon float64
}

// Options configures table names. Zero values select the defaults.
type Options struct {
	ObjectsTable   string
	LocationsTable string
}

// Store wraps the SQLite database holding the two tables.
type Store struct {
	db        *sql.DB
	matcher   *tagmatch.Matcher
	objects   string
	locations string
}

// Open opens (creating if needed) the store at path. Tags written through
// Save are filtered to the matcher's relevant keys; a nil or empty matcher
// stores tags unfiltered.
func Open(path string, matcher *tagmatch.Matcher, opts *Options) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:        db,
		matcher:   matcher,
		objects:   DefaultObjectsTable,
		locations: DefaultLocationsTable,
	}
	if opts != nil {
		if opts.ObjectsTable != "" {
			s.objects = opts.ObjectsTable
		}
		if opts.LocationsTable != "" {
			s.locations = opts.LocationsTable
		}
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply PRAGMAs: %w", err)
	}

	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sub-filesystem for embedded migrations: %w", err)
	}
	if err := s.migrateUp(subFS); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.ensureTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// applyPragmas applies essential SQLite PRAGMAs for performance and
// concurrency.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// ensureTables creates non-default tables. The migrations manage the
// default names; custom names get the same DDL applied directly.
func (s *Store) ensureTables() error {
	if s.objects != DefaultObjectsTable {
		q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			osm_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			tags TEXT NOT NULL,
			nodes TEXT)`, s.objects)
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.objects, err)
		}
	}
	if s.locations != DefaultLocationsTable {
		q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			node_id BIGINT PRIMARY KEY,
			lat INTEGER NOT NULL,
			lon INTEGER NOT NULL)`, s.locations)
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.locations, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Read returns the stored object for (typ, id), or nil if none is known.
func (s *Store) Read(typ osm.Type, id int64) (*Object, error) {
	q := fmt.Sprintf("SELECT version, tags, nodes FROM %s WHERE osm_id = ?", s.objects)
	var version int
	var tagsJSON string
	var nodes sql.NullString
	err := s.db.QueryRow(q, objectKey(typ, id)).Scan(&version, &tagsJSON, &nodes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s%d: %w", typ, id, err)
	}
	obj := &Object{Type: typ, ID: id, Version: version}
	if err := json.Unmarshal([]byte(tagsJSON), &obj.Tags); err != nil {
		return nil, fmt.Errorf("read %s%d: bad tags: %w", typ, id, err)
	}
	if obj.Nodes, err = parseNodesText(nodes); err != nil {
		return nil, fmt.Errorf("read %s%d: %w", typ, id, err)
	}
	return obj, nil
}

// Save upserts an object. Tags are filtered through the matcher's relevant
// key set; an empty map is stored as-is to anchor deletion events.
func (s *Store) Save(obj *Object) error {
	tags := obj.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	if s.matcher != nil {
		tags = s.matcher.FilterRelevant(tags)
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("save %s: %w", obj.Key(), err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (osm_id, version, tags, nodes) VALUES (?, ?, ?, ?)
		ON CONFLICT (osm_id) DO UPDATE SET
		version = excluded.version, tags = excluded.tags, nodes = excluded.nodes`, s.objects)
	if _, err := s.db.Exec(q, obj.Key(), obj.Version, string(tagsJSON), obj.nodesText()); err != nil {
		return fmt.Errorf("save %s: %w", obj.Key(), err)
	}
	return nil
}

// locationChunk keeps IN-clauses and bulk upserts under SQLite's bound
// parameter ceiling.
const locationChunk = 300

// Locations returns known coordinates for the given node ids, in decimal
// degrees. Unknown ids are absent from the result.
func (s *Store) Locations(ids []int64) (map[int64][2]float64, error) {
	result := make(map[int64][2]float64)
	for start := 0; start < len(ids); start += locationChunk {
		end := start + locationChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		q := fmt.Sprintf("SELECT node_id, lat, lon FROM %s WHERE node_id IN (%s)",
			s.locations, placeholders)
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := s.db.Query(q, args...)
		if err != nil {
			return nil, fmt.Errorf("locations: %w", err)
		}
		for rows.Next() {
			var id, lat, lon int64
			if err := rows.Scan(&id, &lat, &lon); err != nil {
				rows.Close()
				return nil, fmt.Errorf("locations: %w", err)
			}
			result[id] = [2]float64{
				float64(lat) / CoordMultiplier,
				float64(lon) / CoordMultiplier,
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("locations: %w", err)
		}
		rows.Close()
	}
	return result, nil
}

// UpdateLocations upserts node coordinates in bulk. Later entries for the
// same node id supersede earlier ones in the same call.
func (s *Store) UpdateLocations(locs []NodeLocation) error {
	if len(locs) == 0 {
		return nil
	}
	dedup := make(map[int64][2]int64, len(locs))
	order := make([]int64, 0, len(locs))
	for _, l := range locs {
		if _, seen := dedup[l.ID]; !seen {
			order = append(order, l.ID)
		}
		dedup[l.ID] = [2]int64{
			int64(math.Round(l.Lat * CoordMultiplier)),
			int64(math.Round(l.Lon * CoordMultiplier)),
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("update locations: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (node_id, lat, lon) VALUES (?, ?, ?)
		ON CONFLICT (node_id) DO UPDATE SET lat = excluded.lat, lon = excluded.lon`, s.locations)
	stmt, err := tx.Prepare(q)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("update locations: %w", err)
	}
	for _, id := range order {
		c := dedup[id]
		if _, err := stmt.Exec(id, c[0], c[1]); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("update location %d: %w", id, err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update locations: %w", err)
	}
	return nil
}
