// Package store persists CaptureResults behind an opaque save_capture
// interface (image paths are saved inside the capture row; there is no
// separate save_images step); the Scheduler treats it exactly that way through
// the scheduler.Store interface. This package is the one concrete backend —
// SQLite, with a schema-create-if-not-exists step followed by a prepared
// insert per write, rather than any ORM.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/milesburton/night-watch/internal/statebus"
)

const createCapturesTableTmpl = `CREATE TABLE IF NOT EXISTS captures (
	"id"              INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	"satellite"       TEXT NOT NULL,
	"recording_path"  TEXT,
	"image_paths"     TEXT,
	"start_time"      INTEGER,
	"end_time"        INTEGER,
	"peak_signal_db"  REAL,
	"success"         INTEGER NOT NULL,
	"error"           TEXT
);`

const insertCaptureTmpl = `INSERT INTO captures(
	satellite, recording_path, image_paths, start_time, end_time, peak_signal_db, success, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`

const selectRecentTmpl = `SELECT
	satellite, recording_path, image_paths, start_time, end_time, peak_signal_db, success, error
FROM captures ORDER BY id DESC LIMIT ?;`

// Store is a SQLite-backed capture log. It is safe for concurrent use; the
// standard library's *sql.DB pools its own connections.
type Store struct {
	db *sql.DB
}

// Open connects to (creating if absent) the SQLite database at dsn and
// ensures the captures table exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", dsn, err)
	}
	if err := createTableIfNotExists(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func createTableIfNotExists(db *sql.DB) error {
	stmt, err := db.Prepare(createCapturesTableTmpl)
	if err != nil {
		return err
	}
	defer stmt.Close()
	_, err = stmt.Exec()
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCapture implements scheduler.Store's save_capture. The image paths
// produced by a decode are stored
// alongside the capture row as a JSON array rather than a separate table —
// a CaptureResult's images are always written together, never appended to
// after the fact.
func (s *Store) SaveCapture(result statebus.CaptureResult) error {
	imagesJSON, err := json.Marshal(result.ImagePaths)
	if err != nil {
		return fmt.Errorf("store: marshal image paths: %w", err)
	}

	stmt, err := s.db.Prepare(insertCaptureTmpl)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(
		result.Satellite, result.RecordingPath, string(imagesJSON),
		result.StartTime.UnixMilli(), result.EndTime.UnixMilli(),
		result.PeakSignalDB, boolToInt(result.Success), result.Error,
	)
	if err != nil {
		return fmt.Errorf("store: insert capture: %w", err)
	}
	return nil
}

// Recent returns up to limit of the most recently saved captures, newest
// first, for the read side of the REST surface.
func (s *Store) Recent(limit int) ([]statebus.CaptureResult, error) {
	rows, err := s.db.Query(selectRecentTmpl, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query recent: %w", err)
	}
	defer rows.Close()

	var results []statebus.CaptureResult
	for rows.Next() {
		var (
			r             statebus.CaptureResult
			imagesJSON    string
			startMS, endMS int64
			success       int
			errStr        sql.NullString
		)
		if err := rows.Scan(&r.Satellite, &r.RecordingPath, &imagesJSON, &startMS, &endMS, &r.PeakSignalDB, &success, &errStr); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(imagesJSON), &r.ImagePaths); err != nil {
			return nil, fmt.Errorf("store: unmarshal image paths: %w", err)
		}
		r.StartTime = time.UnixMilli(startMS).UTC()
		r.EndTime = time.UnixMilli(endMS).UTC()
		r.Success = success != 0
		r.Error = errStr.String
		results = append(results, r)
	}
	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
