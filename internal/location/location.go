// Package location is the read-only side store the curator consults
// to attach coordinates to products: airports, navaids, designated
// reporting points, weather stations and special-use airspace shapes.
// The builder command fills it from FAA and NWS exports.
package location

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stationwx/fisb978/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS airports (
	ident       TEXT PRIMARY KEY,
	lon         REAL NOT NULL,
	lat         REAL NOT NULL,
	declination REAL
);

CREATE TABLE IF NOT EXISTS navaids (
	ident       TEXT PRIMARY KEY,
	lon         REAL NOT NULL,
	lat         REAL NOT NULL,
	declination REAL
);

CREATE TABLE IF NOT EXISTS designated_points (
	ident       TEXT PRIMARY KEY,
	lon         REAL NOT NULL,
	lat         REAL NOT NULL,
	declination REAL
);

CREATE TABLE IF NOT EXISTS wx (
	ident TEXT PRIMARY KEY,
	lon   REAL NOT NULL,
	lat   REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS sua (
	name    TEXT PRIMARY KEY,
	geojson TEXT NOT NULL
);
`

// Store wraps the SQLite side database. Reads dominate; the only
// writer is the builder command.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	wxCache map[string]*types.FeatureCollection
}

// Open opens or creates the side database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open location db: %w", err)
	}
	return &Store{db: db, wxCache: make(map[string]*types.FeatureCollection)}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the side-store tables.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create location schema: %w", err)
	}
	return nil
}

// PutAirport loads one airport. A nil declination records that no
// magnetic model value was available for the point.
func (s *Store) PutAirport(ident string, lon, lat float64, declination *float64) error {
	return s.putFix("airports", ident, lon, lat, declination)
}

// PutNavaid loads one navaid.
func (s *Store) PutNavaid(ident string, lon, lat float64, declination *float64) error {
	return s.putFix("navaids", ident, lon, lat, declination)
}

// PutDesignatedPoint loads one designated reporting point.
func (s *Store) PutDesignatedPoint(ident string, lon, lat float64, declination *float64) error {
	return s.putFix("designated_points", ident, lon, lat, declination)
}

func (s *Store) putFix(table, ident string, lon, lat float64, declination *float64) error {
	query := `INSERT OR REPLACE INTO ` + table + ` (ident, lon, lat, declination) VALUES (?, ?, ?, ?)`
	if _, err := s.db.Exec(query, ident, lon, lat, declination); err != nil {
		return fmt.Errorf("failed to put %s row: %w", table, err)
	}
	return nil
}

// PutWx loads one weather reporting station.
func (s *Store) PutWx(ident string, lon, lat float64) error {
	query := `INSERT OR REPLACE INTO wx (ident, lon, lat) VALUES (?, ?, ?)`
	if _, err := s.db.Exec(query, ident, lon, lat); err != nil {
		return fmt.Errorf("failed to put wx row: %w", err)
	}
	return nil
}

// PutSUA loads one special-use airspace outline. The name should
// already be normalized with NormalizeSUAName.
func (s *Store) PutSUA(name string, geojson []byte) error {
	query := `INSERT OR REPLACE INTO sua (name, geojson) VALUES (?, ?)`
	if _, err := s.db.Exec(query, name, string(geojson)); err != nil {
		return fmt.Errorf("failed to put sua row: %w", err)
	}
	return nil
}

// fix is a named point with the magnetic declination at its location,
// west negative. An invalid declination means the builder had no
// magnetic model value for the point.
type fix struct {
	lon         float64
	lat         float64
	declination sql.NullFloat64
}

// lookupFix queries one fix table. The table name is one of the three
// fixed names, never caller input.
func (s *Store) lookupFix(table, ident string) (*fix, error) {
	row := s.db.QueryRow(`SELECT lon, lat, declination FROM `+table+` WHERE ident = ?`, ident)

	var f fix
	if err := row.Scan(&f.lon, &f.lat, &f.declination); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	return &f, nil
}

// findFix resolves an ident the way PIREP authors use them: five
// characters name a designated reporting point, three a navaid and
// then an airport, four an ICAO airport.
func (s *Store) findFix(ident string) (*fix, error) {
	ident = strings.TrimSpace(ident)
	switch len(ident) {
	case 5:
		return s.lookupFix("designated_points", ident)
	case 3:
		f, err := s.lookupFix("navaids", ident)
		if err != nil || f != nil {
			return f, err
		}
		return s.lookupFix("airports", ident)
	case 4:
		return s.lookupFix("airports", ident)
	default:
		return nil, nil
	}
}

// WxPoint returns a Point feature for a weather reporting station, or
// nil when the station is unknown. Hits are cached; the station list
// is static for the life of the process.
func (s *Store) WxPoint(ident string) (*types.FeatureCollection, error) {
	s.mu.Lock()
	cached, ok := s.wxCache[ident]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	row := s.db.QueryRow(`SELECT lon, lat FROM wx WHERE ident = ?`, ident)
	var lon, lat float64
	if err := row.Scan(&lon, &lat); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query wx station: %w", err)
	}

	fc := types.NewFeatureCollection()
	fc.Features = append(fc.Features, types.Feature{
		Type:       "Feature",
		Geometry:   types.GeoJSONGeom{Type: "Point", Coordinates: []float64{lon, lat}},
		Properties: map[string]any{"name": ident, "id": ident},
	})

	s.mu.Lock()
	s.wxCache[ident] = fc
	s.mu.Unlock()
	return fc, nil
}

// SUAShape returns the stored outline for a special-use airspace.
// Candidates are tried in order after normalization, so callers can
// offer every identifier a report carries.
func (s *Store) SUAShape(candidates ...string) (*types.FeatureCollection, error) {
	for _, c := range candidates {
		key := NormalizeSUAName(c)
		if key == "" {
			continue
		}

		row := s.db.QueryRow(`SELECT geojson FROM sua WHERE name = ?`, key)
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("failed to query sua: %w", err)
		}

		var fc types.FeatureCollection
		if err := json.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("failed to decode sua shape %s: %w", key, err)
		}
		return &fc, nil
	}
	return nil, nil
}

// NormalizeSUAName uppercases and strips the dashes and spaces that
// vary between the FAA shape names and the uplinked identifiers.
func NormalizeSUAName(name string) string {
	name = strings.ToUpper(name)
	name = strings.ReplaceAll(name, "-", "")
	return strings.ReplaceAll(name, " ", "")
}
