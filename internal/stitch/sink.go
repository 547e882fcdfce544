package stitch

import (
	"database/sql"
	"fmt"

	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

const sinkSchema = `
CREATE TABLE IF NOT EXISTS ts (
    k_id INTEGER,
    time INTEGER,
    state TEXT,
    value REAL,
    UNIQUE (k_id, time, state)
);
`

// Sink is the standalone analytics database the stitched series land
// in. time is seconds since epoch.
type Sink struct {
	db *sql.DB
}

// OpenSink opens (and if necessary creates) the analytics database.
func OpenSink(path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open analytics database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sinkSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create analytics schema: %w", err)
	}

	return &Sink{db: db}, nil
}

// Close closes the analytics database.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Write replaces the series for (keyword, state) point by point, keyed
// on (k_id, time, state).
func (s *Sink) Write(keywordID int64, state string, series *Series) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin analytics transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO ts (k_id, time, state, value)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare analytics insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, l := range series.Labels {
		if _, err := stmt.Exec(keywordID, l.Unix(), state, series.Values[i]); err != nil {
			return fmt.Errorf("failed to insert point %d for keyword %d: %w", i, keywordID, err)
		}
	}

	return tx.Commit()
}

// Read returns the stored series for (keyword, state), time ascending.
func (s *Sink) Read(keywordID int64, state string) ([]int64, []float64, error) {
	rows, err := s.db.Query(`
		SELECT time, value FROM ts
		 WHERE k_id = ? AND state = ?
		 ORDER BY time
	`, keywordID, state)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query analytics series: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		times  []int64
		values []float64
	)
	for rows.Next() {
		var t int64
		var v float64
		if err := rows.Scan(&t, &v); err != nil {
			return nil, nil, fmt.Errorf("failed to scan analytics point: %w", err)
		}
		times = append(times, t)
		values = append(values, v)
	}
	return times, values, rows.Err()
}
