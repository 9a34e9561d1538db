package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// Record is one stored product document. The typed columns mirror the
// payload fields the curator queries on; payload holds the full
// document as served to viewers.
type Record struct {
	ID             string
	Type           string
	UniqueName     string
	Subtype        string
	Station        string
	HasText        bool
	HasGeo         bool
	InsertTime     time.Time
	ExpirationTime time.Time
	Payload        []byte
}

// Parts flags which halves of a report the store holds. CRL
// completeness needs both halves for /TG reports.
type Parts struct {
	HasText bool
	HasGeo  bool
}

// Store is the curator's Postgres client. The curator is the only
// writer; readers go straight to the tables.
type Store struct {
	db *sql.DB
}

// New creates a new store client
func New(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Ping verifies the database connection
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes rec, replacing any previous version with the same id
func (s *Store) Upsert(rec *Record) error {
	query := `
		INSERT INTO messages (
			id, type, unique_name, subtype, station,
			has_text, has_geo, insert_time, expiration_time, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			unique_name = EXCLUDED.unique_name,
			subtype = EXCLUDED.subtype,
			station = EXCLUDED.station,
			has_text = EXCLUDED.has_text,
			has_geo = EXCLUDED.has_geo,
			insert_time = EXCLUDED.insert_time,
			expiration_time = EXCLUDED.expiration_time,
			payload = EXCLUDED.payload
	`
	_, err := s.db.Exec(query,
		rec.ID, rec.Type, rec.UniqueName, rec.Subtype, rec.Station,
		rec.HasText, rec.HasGeo, rec.InsertTime, rec.ExpirationTime, rec.Payload,
	)
	return err
}

// Get retrieves one record by id. A missing record returns nil, nil.
func (s *Store) Get(id string) (*Record, error) {
	query := `
		SELECT id, type, unique_name, subtype, station,
			has_text, has_geo, insert_time, expiration_time, payload
		FROM messages
		WHERE id = $1
	`
	var rec Record
	err := s.db.QueryRow(query, id).Scan(
		&rec.ID, &rec.Type, &rec.UniqueName, &rec.Subtype, &rec.Station,
		&rec.HasText, &rec.HasGeo, &rec.InsertTime, &rec.ExpirationTime, &rec.Payload,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByType retrieves all records of the given types, ordered by id
func (s *Store) FindByType(types ...string) ([]*Record, error) {
	query := `
		SELECT id, type, unique_name, subtype, station,
			has_text, has_geo, insert_time, expiration_time, payload
		FROM messages
		WHERE type = ANY($1)
		ORDER BY id
	`
	rows, err := s.db.Query(query, pq.Array(types))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.Type, &rec.UniqueName, &rec.Subtype, &rec.Station,
			&rec.HasText, &rec.HasGeo, &rec.InsertTime, &rec.ExpirationTime, &rec.Payload,
		); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// Delete removes one record by id
func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE id = $1`, id)
	return err
}

// DeleteExpired removes every record past its expiration time and
// reports how many went.
func (s *Store) DeleteExpired(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE expiration_time <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReportParts maps unique_name to held parts for the given types,
// optionally filtered by subtype. CRL annotation checks the listed
// reports against this map.
func (s *Store) ReportParts(types []string, subtype string) (map[string]Parts, error) {
	query := `
		SELECT unique_name, has_text, has_geo
		FROM messages
		WHERE type = ANY($1) AND ($2 = '' OR subtype = $2)
	`
	rows, err := s.db.Query(query, pq.Array(types), subtype)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parts := make(map[string]Parts)
	for rows.Next() {
		var name string
		var p Parts
		if err := rows.Scan(&name, &p.HasText, &p.HasGeo); err != nil {
			return nil, err
		}
		parts[name] = p
	}
	return parts, rows.Err()
}

// Changed reports whether id's content differs from the digest last
// recorded for it, recording the new digest when it does. An identical
// digest means the write can be skipped, which keeps the store
// idempotent across spool replays.
func (s *Store) Changed(id, digest string, at time.Time, cancel string) (bool, error) {
	var prev string
	err := s.db.QueryRow(`SELECT digest FROM changes WHERE id = $1`, id).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	if err == nil && prev == digest {
		return false, nil
	}

	query := `
		INSERT INTO changes (id, digest, changed_at, cancel)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			digest = EXCLUDED.digest,
			changed_at = EXCLUDED.changed_at,
			cancel = EXCLUDED.cancel
	`
	if _, err := s.db.Exec(query, id, digest, at, cancel); err != nil {
		return false, err
	}
	return true, nil
}

// PutLegend stores one image palette legend
func (s *Store) PutLegend(name string, entries []byte) error {
	query := `
		INSERT INTO legends (name, entries)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET
			entries = EXCLUDED.entries
	`
	_, err := s.db.Exec(query, name, entries)
	return err
}

// Legends retrieves all image palette legends by name
func (s *Store) Legends() (map[string]json.RawMessage, error) {
	rows, err := s.db.Query(`SELECT name, entries FROM legends ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	legends := make(map[string]json.RawMessage)
	for rows.Next() {
		var name string
		var entries []byte
		if err := rows.Scan(&name, &entries); err != nil {
			return nil, err
		}
		legends[name] = json.RawMessage(entries)
	}
	return legends, rows.Err()
}
