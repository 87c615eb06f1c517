package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"tidbyt.dev/transit/model"
)

type PSQLStorage struct {
	db *sql.DB
}

// Buffers stops and COPYs them in on Close.
type PSQLRegistryWriter struct {
	hash    string
	db      *sql.DB
	stopBuf []model.Stop
}

type PSQLRegistryReader struct {
	hash string
	db   *sql.DB
}

// Creates a new Postgres Storage using the provided connection string.
//
// If clearDB is true, the database will be cleared on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`
DROP TABLE IF EXISTS registry;
DROP TABLE IF EXISTS stops;
`)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS registry (
    hash TEXT NOT NULL,
    url TEXT NOT NULL,
    retrieved_at TIMESTAMPTZ NOT NULL,
    num_stops INTEGER NOT NULL,
    num_matched INTEGER NOT NULL,
    PRIMARY KEY (hash, url)
);

CREATE TABLE IF NOT EXISTS stops (
    hash TEXT NOT NULL,
    id INTEGER NOT NULL,
    name TEXT NOT NULL,
    alt_name TEXT NOT NULL,
    lat DOUBLE PRECISION,
    lon DOUBLE PRECISION,
    match TEXT NOT NULL,
    PRIMARY KEY (hash, id)
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &PSQLStorage{
		db: db,
	}, nil
}

func (s *PSQLStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

func (s *PSQLStorage) ListRegistries(filter ListRegistriesFilter) ([]*RegistryMetadata, error) {
	query := `
SELECT
    hash,
    url,
    retrieved_at,
    num_stops,
    num_matched
FROM registry`

	conditions := []string{}
	params := []interface{}{}
	if filter.URL != "" {
		params = append(params, filter.URL)
		conditions = append(conditions, fmt.Sprintf("url = $%d", len(params)))
	}
	if filter.Hash != "" {
		params = append(params, filter.Hash)
		conditions = append(conditions, fmt.Sprintf("hash = $%d", len(params)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY retrieved_at DESC"

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("listing registries: %w", err)
	}
	defer rows.Close()

	registries := []*RegistryMetadata{}
	for rows.Next() {
		var r RegistryMetadata
		err := rows.Scan(
			&r.Hash,
			&r.URL,
			&r.RetrievedAt,
			&r.NumStops,
			&r.NumMatched,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning registry: %w", err)
		}
		registries = append(registries, &r)
	}

	return registries, rows.Err()
}

func (s *PSQLStorage) WriteRegistryMetadata(metadata *RegistryMetadata) error {
	_, err := s.db.Exec(`
INSERT INTO registry (hash, url, retrieved_at, num_stops, num_matched)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (hash, url) DO UPDATE SET
    retrieved_at = EXCLUDED.retrieved_at,
    num_stops = EXCLUDED.num_stops,
    num_matched = EXCLUDED.num_matched
`,
		metadata.Hash,
		metadata.URL,
		metadata.RetrievedAt,
		metadata.NumStops,
		metadata.NumMatched,
	)
	if err != nil {
		return fmt.Errorf("writing registry metadata: %w", err)
	}
	return nil
}

func (s *PSQLStorage) GetReader(hash string) (RegistryReader, error) {
	var exists bool
	err := s.db.QueryRow(`
SELECT EXISTS (SELECT 1 FROM registry WHERE hash = $1)
    OR EXISTS (SELECT 1 FROM stops WHERE hash = $1)`, hash).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("looking up registry: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("registry %s does not exist", hash)
	}

	return &PSQLRegistryReader{
		hash: hash,
		db:   s.db,
	}, nil
}

func (s *PSQLStorage) GetWriter(hash string) (RegistryWriter, error) {
	// In case registry already exists, delete all records
	_, err := s.db.Exec(`DELETE FROM stops WHERE hash = $1`, hash)
	if err != nil {
		return nil, fmt.Errorf("deleting stops: %w", err)
	}

	return &PSQLRegistryWriter{
		hash: hash,
		db:   s.db,
	}, nil
}

func (w *PSQLRegistryWriter) WriteStop(stop *model.Stop) error {
	w.stopBuf = append(w.stopBuf, *stop)
	return nil
}

func (w *PSQLRegistryWriter) Close() error {
	if len(w.stopBuf) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn(
		"stops", "hash", "id", "name", "alt_name", "lat", "lon", "match",
	))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, stop := range w.stopBuf {
		var lat, lon sql.NullFloat64
		if stop.Coord != nil {
			lat = sql.NullFloat64{Float64: stop.Coord.Lat, Valid: true}
			lon = sql.NullFloat64{Float64: stop.Coord.Lon, Valid: true}
		}
		_, err = stmt.Exec(
			w.hash, stop.ID, stop.Name, stop.AltName, lat, lon, string(stop.Match),
		)
		if err != nil {
			return fmt.Errorf("COPY stop: %w", err)
		}
	}

	_, err = stmt.Exec()
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	w.stopBuf = nil

	return nil
}

func (r *PSQLRegistryReader) Stops() ([]*model.Stop, error) {
	rows, err := r.db.Query(`
SELECT id, name, alt_name, lat, lon, match
FROM stops
WHERE hash = $1
ORDER BY id`, r.hash)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	return scanStops(rows)
}

func (r *PSQLRegistryReader) Stop(id int) (*model.Stop, error) {
	rows, err := r.db.Query(`
SELECT id, name, alt_name, lat, lon, match
FROM stops
WHERE hash = $1 AND id = $2`, r.hash, id)
	if err != nil {
		return nil, fmt.Errorf("querying stop: %w", err)
	}
	defer rows.Close()

	stops, err := scanStops(rows)
	if err != nil {
		return nil, err
	}
	if len(stops) == 0 {
		return nil, nil
	}
	return stops[0], nil
}

func (r *PSQLRegistryReader) NearbyStops(lat float64, lon float64, limit int) ([]model.Stop, error) {
	rows, err := r.db.Query(`
SELECT id, name, alt_name, lat, lon, match
FROM stops
WHERE hash = $1 AND lat IS NOT NULL AND lon IS NOT NULL`, r.hash)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	stops, err := scanStops(rows)
	if err != nil {
		return nil, err
	}
	return nearest(stops, lat, lon, limit), nil
}
