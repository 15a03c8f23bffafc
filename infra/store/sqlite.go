// Package store persists local state in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/dercontrol/core/model"
)

// SQLiteStore keeps the DefaultControl record in a single-row table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS default_control (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        updated_at INTEGER,
        vals TEXT
    );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Load returns the stored record. The boolean is false when nothing was
// stored yet.
func (s *SQLiteStore) Load(ctx context.Context) (model.DefaultControl, bool, error) {
	var (
		ts   int64
		data string
	)
	err := s.db.QueryRowContext(ctx, `SELECT updated_at, vals FROM default_control WHERE id = 1`).Scan(&ts, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultControl{}, false, nil
	}
	if err != nil {
		return model.DefaultControl{}, false, err
	}
	named := map[string]float64{}
	if err := json.Unmarshal([]byte(data), &named); err != nil {
		return model.DefaultControl{}, false, fmt.Errorf("decode default control: %w", err)
	}
	vals := make(model.ControlValues, len(named))
	for name, v := range named {
		f, err := model.ParseControlField(name)
		if err != nil {
			return model.DefaultControl{}, false, err
		}
		vals[f] = v
	}
	return model.DefaultControl{Values: vals, UpdatedAt: time.Unix(0, ts).UTC()}, true, nil
}

// Save replaces the stored record.
func (s *SQLiteStore) Save(ctx context.Context, dc model.DefaultControl) error {
	named := make(map[string]float64, len(dc.Values))
	for f, v := range dc.Values {
		named[f.String()] = v
	}
	b, err := json.Marshal(named)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO default_control (id, updated_at, vals)
        VALUES (1, ?, ?)
        ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at, vals = excluded.vals`,
		dc.UpdatedAt.UnixNano(), string(b))
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
