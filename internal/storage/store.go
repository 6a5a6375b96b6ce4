// Package storage persists completed test cycles in an embedded
// single-file SQLite database. All writes and queries are serialized
// through one mutex; journaling is WAL with normal synchronous
// durability, so an individual record may be lost on power cut but the
// file stays consistent.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrStorage classifies record insert and query failures.
var ErrStorage = errors.New("storage: operation failed")

const schema = `
CREATE TABLE IF NOT EXISTS test_records (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id        TEXT,
    cavity_id       INTEGER NOT NULL,
    timestamp       TEXT    NOT NULL,
    pressure_data   TEXT    NOT NULL,
    angle_data      TEXT,
    ai_data         TEXT,
    position_data   TEXT,
    features        TEXT,
    label           INTEGER,
    probability     REAL,
    confidence      REAL,
    model_version   TEXT,
    duration_s      REAL,
    point_count     INTEGER,
    created_at      TEXT DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON test_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_records_cavity ON test_records(cavity_id);
CREATE INDEX IF NOT EXISTS idx_records_label ON test_records(label);
`

// Record is the insert payload for one completed cycle.
type Record struct {
	BatchID      string
	CavityID     int
	Pressures    []float64
	Angles       []float64
	Analogs      []int16
	Positions    []int16
	Features     interface{}
	Label        int
	Probability  float64
	Confidence   float64
	ModelVersion string
	DurationS    float64
}

// Summary is a query row without the raw series.
type Summary struct {
	ID           int64    `json:"id"`
	BatchID      string   `json:"batch_id"`
	CavityID     int      `json:"cavity_id"`
	Timestamp    string   `json:"timestamp"`
	Label        *int     `json:"label"`
	Probability  *float64 `json:"probability"`
	Confidence   *float64 `json:"confidence"`
	ModelVersion string   `json:"model_version"`
	DurationS    float64  `json:"duration_s"`
	PointCount   int      `json:"point_count"`
	CreatedAt    string   `json:"created_at"`
}

// Detail is a full row including the raw JSON series.
type Detail struct {
	Summary
	PressureData string `json:"pressure_data"`
	AngleData    string `json:"angle_data"`
	AnalogData   string `json:"ai_data"`
	PositionData string `json:"position_data"`
	Features     string `json:"features"`
}

// Filter narrows record queries. Nil fields are ignored.
type Filter struct {
	StartTime string
	EndTime   string
	CavityID  *int
	Label     *int
}

// Store is the mutex-serialized SQLite handle.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	logger *log.Logger
}

// Open creates or opens the database at path, applies the journaling
// pragmas and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, path, err)
	}
	// One connection: SQLite serializes anyway and this keeps WAL
	// checkpointing predictable on the edge device.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrStorage, pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrStorage, err)
	}

	s := &Store{
		db:     db,
		path:   path,
		logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}
	s.logger.Printf("database initialised: %s", path)
	return s, nil
}

// Close releases the handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// LogRecord inserts a full record and returns the new id. Ids are
// strictly increasing.
func (s *Store) LogRecord(r Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	featJSON, err := json.Marshal(r.Features)
	if err != nil {
		return 0, fmt.Errorf("%w: encode features: %v", ErrStorage, err)
	}

	res, err := s.db.Exec(
		`INSERT INTO test_records
		 (batch_id, cavity_id, timestamp, pressure_data, angle_data,
		  ai_data, position_data, features, label, probability,
		  confidence, model_version, duration_s, point_count)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.BatchID,
		r.CavityID,
		time.Now().Format("2006-01-02T15:04:05"),
		mustJSON(r.Pressures),
		nullableJSON(r.Angles),
		nullableJSON(r.Analogs),
		nullableJSON(r.Positions),
		string(featJSON),
		r.Label,
		r.Probability,
		r.Confidence,
		r.ModelVersion,
		math.Round(r.DurationS*1000)/1000,
		len(r.Pressures),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert: %v", ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert id: %v", ErrStorage, err)
	}
	return id, nil
}

// QueryRecords returns summary rows matching the filter, newest first.
func (s *Store) QueryRecords(f Filter, limit, offset int) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	where := "1=1"
	var args []interface{}
	if f.StartTime != "" {
		where += " AND timestamp >= ?"
		args = append(args, f.StartTime)
	}
	if f.EndTime != "" {
		where += " AND timestamp <= ?"
		args = append(args, f.EndTime)
	}
	if f.CavityID != nil {
		where += " AND cavity_id = ?"
		args = append(args, *f.CavityID)
	}
	if f.Label != nil {
		where += " AND label = ?"
		args = append(args, *f.Label)
	}
	args = append(args, limit, offset)

	rows, err := s.db.Query(
		`SELECT id, batch_id, cavity_id, timestamp, label, probability,
		        confidence, model_version, duration_s, point_count, created_at
		 FROM test_records WHERE `+where+`
		 ORDER BY id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var r Summary
		var batch, version, created sql.NullString
		if err := rows.Scan(&r.ID, &batch, &r.CavityID, &r.Timestamp, &r.Label,
			&r.Probability, &r.Confidence, &version, &r.DurationS, &r.PointCount, &created); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrStorage, err)
		}
		r.BatchID = batch.String
		r.ModelVersion = version.String
		r.CreatedAt = created.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrStorage, err)
	}
	return out, nil
}

// QueryRecordDetail returns the full row for one id, or nil when the
// id does not exist.
func (s *Store) QueryRecordDetail(id int64) (*Detail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT id, batch_id, cavity_id, timestamp, pressure_data, angle_data,
		        ai_data, position_data, features, label, probability,
		        confidence, model_version, duration_s, point_count, created_at
		 FROM test_records WHERE id = ?`, id)

	var d Detail
	var batch, angle, analog, position, feats, version, created sql.NullString
	err := row.Scan(&d.ID, &batch, &d.CavityID, &d.Timestamp, &d.PressureData,
		&angle, &analog, &position, &feats, &d.Label, &d.Probability,
		&d.Confidence, &version, &d.DurationS, &d.PointCount, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", ErrStorage, err)
	}
	d.BatchID = batch.String
	d.AngleData = angle.String
	d.AnalogData = analog.String
	d.PositionData = position.String
	d.Features = feats.String
	d.ModelVersion = version.String
	d.CreatedAt = created.String
	return &d, nil
}

// CountRecords returns the row count, 0 on error.
func (s *Store) CountRecords() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM test_records`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// DBSizeMB returns the on-disk size in megabytes, 0 on error.
func (s *Store) DBSizeMB() float64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (1024 * 1024)
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// nullableJSON encodes a series, mapping an empty one to SQL NULL.
func nullableJSON[T any](v []T) interface{} {
	if len(v) == 0 {
		return nil
	}
	return mustJSON(v)
}
