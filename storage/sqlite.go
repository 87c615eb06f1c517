package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"tidbyt.dev/transit/model"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

// Stores all registries in a single database, keyed by hash.
type SQLiteStorage struct {
	SQLiteConfig

	db *sql.DB
}

type SQLiteRegistryWriter struct {
	hash string
	tx   *sql.Tx
	stmt *sql.Stmt
}

type SQLiteRegistryReader struct {
	hash string
	db   *sql.DB
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		sourceName = directory + "/registry.db"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each connection to :memory: gets a database of its own
	if !onDisk {
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS registry (
    hash TEXT NOT NULL,
    url TEXT NOT NULL,
    retrieved_at TIMESTAMP NOT NULL,
    num_stops INTEGER NOT NULL,
    num_matched INTEGER NOT NULL,
PRIMARY KEY (hash, url)
);

CREATE TABLE IF NOT EXISTS stops (
    hash TEXT NOT NULL,
    id INTEGER NOT NULL,
    name TEXT NOT NULL,
    alt_name TEXT NOT NULL,
    lat REAL,
    lon REAL,
    match TEXT NOT NULL,
PRIMARY KEY (hash, id)
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{
			OnDisk:    onDisk,
			Directory: directory,
		},
		db: db,
	}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) ListRegistries(filter ListRegistriesFilter) ([]*RegistryMetadata, error) {
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
		conditions = append(conditions, "url = ?")
		params = append(params, filter.URL)
	}
	if filter.Hash != "" {
		conditions = append(conditions, "hash = ?")
		params = append(params, filter.Hash)
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

func (s *SQLiteStorage) WriteRegistryMetadata(metadata *RegistryMetadata) error {
	_, err := s.db.Exec(`
INSERT INTO registry (hash, url, retrieved_at, num_stops, num_matched)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (hash, url) DO UPDATE SET
    retrieved_at = excluded.retrieved_at,
    num_stops = excluded.num_stops,
    num_matched = excluded.num_matched
`,
		metadata.Hash,
		metadata.URL,
		metadata.RetrievedAt.UTC(),
		metadata.NumStops,
		metadata.NumMatched,
	)
	if err != nil {
		return fmt.Errorf("writing registry metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetReader(hash string) (RegistryReader, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM registry WHERE hash = ?`, hash).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("looking up registry: %w", err)
	}

	// Stops may have been written without metadata
	if n == 0 {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM stops WHERE hash = ?`, hash).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("looking up stops: %w", err)
		}
	}
	if n == 0 {
		return nil, fmt.Errorf("registry %s does not exist", hash)
	}

	return &SQLiteRegistryReader{hash: hash, db: s.db}, nil
}

func (s *SQLiteStorage) GetWriter(hash string) (RegistryWriter, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}

	_, err = tx.Exec(`DELETE FROM stops WHERE hash = ?`, hash)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("deleting stops: %w", err)
	}

	stmt, err := tx.Prepare(`
INSERT INTO stops (hash, id, name, alt_name, lat, lon, match)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("preparing insert: %w", err)
	}

	return &SQLiteRegistryWriter{hash: hash, tx: tx, stmt: stmt}, nil
}

func (w *SQLiteRegistryWriter) WriteStop(stop *model.Stop) error {
	var lat, lon sql.NullFloat64
	if stop.Coord != nil {
		lat = sql.NullFloat64{Float64: stop.Coord.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: stop.Coord.Lon, Valid: true}
	}

	_, err := w.stmt.Exec(
		w.hash,
		stop.ID,
		stop.Name,
		stop.AltName,
		lat,
		lon,
		string(stop.Match),
	)
	if err != nil {
		return fmt.Errorf("inserting stop %d: %w", stop.ID, err)
	}
	return nil
}

func (w *SQLiteRegistryWriter) Close() error {
	err := w.stmt.Close()
	if err != nil {
		w.tx.Rollback()
		return fmt.Errorf("closing statement: %w", err)
	}
	err = w.tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (r *SQLiteRegistryReader) Stops() ([]*model.Stop, error) {
	rows, err := r.db.Query(`
SELECT id, name, alt_name, lat, lon, match
FROM stops
WHERE hash = ?
ORDER BY id`, r.hash)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	return scanStops(rows)
}

func (r *SQLiteRegistryReader) Stop(id int) (*model.Stop, error) {
	rows, err := r.db.Query(`
SELECT id, name, alt_name, lat, lon, match
FROM stops
WHERE hash = ? AND id = ?`, r.hash, id)
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

func (r *SQLiteRegistryReader) NearbyStops(lat float64, lon float64, limit int) ([]model.Stop, error) {
	rows, err := r.db.Query(`
SELECT id, name, alt_name, lat, lon, match
FROM stops
WHERE hash = ? AND lat IS NOT NULL AND lon IS NOT NULL`, r.hash)
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

// Shared with the postgres backend, which selects the same columns.
func scanStops(rows *sql.Rows) ([]*model.Stop, error) {
	stops := []*model.Stop{}
	for rows.Next() {
		var s model.Stop
		var lat, lon sql.NullFloat64
		var match string
		err := rows.Scan(&s.ID, &s.Name, &s.AltName, &lat, &lon, &match)
		if err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		s.Match = model.MatchQuality(match)
		if lat.Valid && lon.Valid {
			s.Coord = &model.Coord{Lat: lat.Float64, Lon: lon.Float64}
		}
		stops = append(stops, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stops: %w", err)
	}
	return stops, nil
}
