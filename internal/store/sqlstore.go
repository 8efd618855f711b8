package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/label"
	"github.com/GeraldRistow/opcua-browser/internal/sample"
)

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

const schemaVersion = 1

var schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	endpoint         TEXT NOT NULL,
	root_node        TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'running',
	candidates       INTEGER NOT NULL DEFAULT 0,
	dynamic          INTEGER NOT NULL DEFAULT 0,
	mappings         INTEGER NOT NULL DEFAULT 0,
	early_terminated INTEGER NOT NULL DEFAULT 0,
	error            TEXT,
	started_at       TEXT NOT NULL,
	finished_at      TEXT
);

CREATE TABLE IF NOT EXISTS series (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	position    INTEGER NOT NULL,
	node_id     TEXT NOT NULL,
	browse_name TEXT NOT NULL,
	kind        INTEGER NOT NULL,
	start       TEXT NOT NULL,
	interval_ns INTEGER NOT NULL,
	vals        TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS mappings (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	position    INTEGER NOT NULL,
	node_id     TEXT NOT NULL,
	browse_name TEXT NOT NULL,
	kind        INTEGER NOT NULL,
	path        TEXT NOT NULL,
	fragment    TEXT NOT NULL,
	unit        TEXT NOT NULL,
	series      TEXT NOT NULL,
	source      TEXT NOT NULL,
	confidence  REAL NOT NULL,
	PRIMARY KEY (run_id, position)
);
`

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

var _ Store = (*SqlStore)(nil)

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory (e.g. .opcua-browser) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; the pipeline and the MCP sessions share the handle
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableCount == 0 {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}

	var v int
	if err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != schemaVersion {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Close closes the database connection.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

func (s *SqlStore) CreateRun(run *Run) (string, error) {
	if run == nil {
		return "", errors.New("run is nil")
	}
	id := run.ID
	if id == "" {
		id = uuid.NewString()
	}
	status := run.Status
	if status == "" {
		status = StatusRunning
	}
	started := run.StartedAt
	if started == "" {
		started = nowUTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO runs(id, endpoint, root_node, status, started_at) VALUES(?, ?, ?, ?, ?)`,
		id, run.Endpoint, run.RootNode, status, started,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

func (s *SqlStore) FinishRun(id string, f Finish) error {
	early := 0
	if f.EarlyTerminated {
		early = 1
	}
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, candidates = ?, dynamic = ?, mappings = ?,
		        early_terminated = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		f.Status, f.Candidates, f.Dynamic, f.Mappings, early, sql.NullString{String: f.Error, Valid: f.Error != ""}, nowUTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

const runColumns = `id, endpoint, root_node, status, candidates, dynamic, mappings,
	early_terminated, error, started_at, finished_at`

type scanner interface{ Scan(dest ...any) error }

func scanRun(row scanner) (*Run, error) {
	var r Run
	var early int
	var errMsg, finished sql.NullString
	if err := row.Scan(&r.ID, &r.Endpoint, &r.RootNode, &r.Status, &r.Candidates, &r.Dynamic,
		&r.Mappings, &early, &errMsg, &r.StartedAt, &finished); err != nil {
		return nil, err
	}
	r.EarlyTerminated = early == 1
	r.Error = nullStr(errMsg)
	r.FinishedAt = nullStr(finished)
	return &r, nil
}

func (s *SqlStore) GetRun(id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns all runs, newest first.
func (s *SqlStore) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query("SELECT " + runColumns + " FROM runs ORDER BY rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SqlStore) exists(id string) error {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM runs WHERE id = ?", id).Scan(&n); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveSeries replaces the series of a run.
func (s *SqlStore) SaveSeries(runID string, series []sample.Series) error {
	if err := s.exists(runID); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin series tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM series WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("clear series: %w", err)
	}
	for i, ser := range series {
		vals, err := json.Marshal(sample.EncodeValues(ser.Values))
		if err != nil {
			return fmt.Errorf("encode values of %s: %w", ser.Node.ID, err)
		}
		_, err = tx.Exec(
			`INSERT INTO series(run_id, position, node_id, browse_name, kind, start, interval_ns, vals)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i, ser.Node.ID, ser.Node.BrowseName, int(ser.Node.Kind),
			ser.Start.UTC().Format(time.RFC3339Nano), int64(ser.Interval), string(vals),
		)
		if err != nil {
			return fmt.Errorf("insert series %s: %w", ser.Node.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit series tx: %w", err)
	}
	return nil
}

func (s *SqlStore) ListSeries(runID string) ([]sample.Series, error) {
	if err := s.exists(runID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		`SELECT node_id, browse_name, kind, start, interval_ns, vals
		 FROM series WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()
	var out []sample.Series
	for rows.Next() {
		var ser sample.Series
		var kind int
		var start, vals string
		var interval int64
		if err := rows.Scan(&ser.Node.ID, &ser.Node.BrowseName, &kind, &start, &interval, &vals); err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		ser.Node.Kind = addrspace.IDKind(kind)
		ser.Interval = time.Duration(interval)
		if ser.Start, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return nil, fmt.Errorf("series %s start: %w", ser.Node.ID, err)
		}
		var raw []string
		if err := json.Unmarshal([]byte(vals), &raw); err != nil {
			return nil, fmt.Errorf("series %s values: %w", ser.Node.ID, err)
		}
		if ser.Values, err = sample.DecodeValues(raw); err != nil {
			return nil, fmt.Errorf("series %s values: %w", ser.Node.ID, err)
		}
		out = append(out, ser)
	}
	return out, rows.Err()
}

// SaveMappings replaces the mappings of a run.
func (s *SqlStore) SaveMappings(runID string, mappings []label.Mapping) error {
	if err := s.exists(runID); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin mappings tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM mappings WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("clear mappings: %w", err)
	}
	for i, m := range mappings {
		path, err := json.Marshal(m.Path)
		if err != nil {
			return fmt.Errorf("encode path of %s: %w", m.Node.ID, err)
		}
		_, err = tx.Exec(
			`INSERT INTO mappings(run_id, position, node_id, browse_name, kind, path,
			                      fragment, unit, series, source, confidence)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i, m.Node.ID, m.Node.BrowseName, int(m.Node.Kind), string(path),
			m.Fragment, m.Unit, m.Series, string(m.Source), m.Confidence,
		)
		if err != nil {
			return fmt.Errorf("insert mapping %s: %w", m.Node.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mappings tx: %w", err)
	}
	return nil
}

func (s *SqlStore) ListMappings(runID string) ([]label.Mapping, error) {
	if err := s.exists(runID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		`SELECT node_id, browse_name, kind, path, fragment, unit, series, source, confidence
		 FROM mappings WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()
	var out []label.Mapping
	for rows.Next() {
		var m label.Mapping
		var kind int
		var path, source string
		if err := rows.Scan(&m.Node.ID, &m.Node.BrowseName, &kind, &path,
			&m.Fragment, &m.Unit, &m.Series, &source, &m.Confidence); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		m.Node.Kind = addrspace.IDKind(kind)
		m.Source = label.Source(source)
		if err := json.Unmarshal([]byte(path), &m.Path); err != nil {
			return nil, fmt.Errorf("mapping %s path: %w", m.Node.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
