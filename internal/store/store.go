// Package store provides persistence for requests, structured trend
// records and the raw-payload staging table on SQLite. All state
// transitions of a request go through this package.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nsg-ethz/SIFT/internal/trends"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// TimeLayout is the canonical timestamp encoding in the database. All
// timestamps are written in UTC with this layout so that SQL comparisons
// in the claim query are plain string comparisons.
const TimeLayout = "2006-01-02 15:04:05"

// Store wraps the relational database. It is safe for use from a single
// dispatcher goroutine; multiple dispatcher processes may share the
// underlying database file.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary initializes) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection prevents lock conflicts between the control
	// loop and ingestion.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// parseTime reads a stored timestamp. The driver hands DATETIME columns
// back as time.Time, which database/sql renders as RFC 3339 when the
// scan destination is a string; both encodings are accepted.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// InternFetcher returns the id of the fetcher with the given display
// name and host, inserting it on first use.
func (s *Store) InternFetcher(name, host string) (int64, error) {
	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO fetchers (f_name, f_host) VALUES (?, ?)",
		name, host,
	); err != nil {
		return 0, fmt.Errorf("failed to intern fetcher %s@%s: %w", name, host, err)
	}

	var id int64
	err := s.db.QueryRow(
		"SELECT f_id FROM fetchers WHERE f_name = ? AND f_host = ?",
		name, host,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to look up fetcher %s@%s: %w", name, host, err)
	}
	return id, nil
}

// internLocation inserts the location if unseen and returns its id.
// Runs inside the caller's transaction.
func internLocation(tx *sql.Tx, iso, name string) (int64, error) {
	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO locations (l_iso, l_name) VALUES (?, ?)",
		iso, name,
	); err != nil {
		return 0, fmt.Errorf("failed to intern location %s: %w", iso, err)
	}

	var id int64
	if err := tx.QueryRow("SELECT l_id FROM locations WHERE l_iso = ?", iso).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up location %s: %w", iso, err)
	}
	return id, nil
}

// internKeyword inserts a plain-query keyword if unseen and returns its
// id. Runs inside the caller's transaction.
func internKeyword(tx *sql.Tx, query string, now time.Time) (int64, error) {
	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO keywords (k_q, k_added) VALUES (?, ?)",
		query, fmtTime(now),
	); err != nil {
		return 0, fmt.Errorf("failed to intern keyword %q: %w", query, err)
	}

	var id int64
	if err := tx.QueryRow("SELECT k_id FROM keywords WHERE k_q = ?", query).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up keyword %q: %w", query, err)
	}
	return id, nil
}

// internTopicKeyword inserts a topic-backed keyword (mid plus display
// title plus topic name) if unseen and returns its id.
func internTopicKeyword(tx *sql.Tx, mid, title, topic string, now time.Time) (int64, error) {
	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO keyword_topics (kt_name) VALUES (?)",
		topic,
	); err != nil {
		return 0, fmt.Errorf("failed to intern topic %q: %w", topic, err)
	}

	var ktID int64
	if err := tx.QueryRow("SELECT kt_id FROM keyword_topics WHERE kt_name = ?", topic).Scan(&ktID); err != nil {
		return 0, fmt.Errorf("failed to look up topic %q: %w", topic, err)
	}

	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO keywords (k_q, k_title, kt_id, k_added) VALUES (?, ?, ?, ?)",
		mid, title, ktID, fmtTime(now),
	); err != nil {
		return 0, fmt.Errorf("failed to intern topic keyword %q: %w", mid, err)
	}

	var id int64
	if err := tx.QueryRow("SELECT k_id FROM keywords WHERE k_q = ?", mid).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up topic keyword %q: %w", mid, err)
	}
	return id, nil
}

// AddRequestParams describes a request row to enqueue. The keyword is
// interned by query string; Geo may be empty for worldwide.
type AddRequestParams struct {
	Who       string
	API       string
	Priority  int
	Geo       string
	GeoName   string
	Start     time.Time
	End       time.Time
	NotBefore time.Time
	NotAfter  time.Time
	Note      string
	Keyword   string
}

// AddRequest inserts an open request row plus its keyword association.
// The window-enumerating queueing CLI lives outside this repository;
// this is the write path it and the tests share.
func (s *Store) AddRequest(p AddRequestParams) (int64, error) {
	if !p.Start.Before(p.End) {
		return 0, fmt.Errorf("request window %s..%s is empty", p.Start, p.End)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	kID, err := internKeyword(tx, p.Keyword, time.Now())
	if err != nil {
		return 0, err
	}

	var geo any
	if p.Geo != "" {
		name := p.GeoName
		if name == "" {
			name = p.Geo
		}
		lID, err := internLocation(tx, p.Geo, name)
		if err != nil {
			return 0, err
		}
		geo = lID
	}

	api := p.API
	if api == "" {
		api = "web"
	}

	var rID int64
	err = tx.QueryRow(`
		INSERT INTO requests (r_who, r_when, r_use, r_prio, r_geo,
		                      r_tf_start, r_tf_end, r_status,
		                      r_notbefore, r_notafter, r_note)
		VALUES (?, ?, ?, ?, ?, ?, ?,
		        (SELECT rs_id FROM request_status WHERE rs_name = 'open'),
		        ?, ?, ?)
		RETURNING r_id
	`, p.Who, fmtTime(time.Now()), api, p.Priority, geo,
		fmtTime(p.Start), fmtTime(p.End),
		fmtTime(p.NotBefore), fmtTime(p.NotAfter), nullIfEmpty(p.Note),
	).Scan(&rID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert request: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO keywords_in_request (r_id, k_id) VALUES (?, ?)",
		rID, kID,
	); err != nil {
		return 0, fmt.Errorf("failed to associate keyword: %w", err)
	}

	return rID, tx.Commit()
}

// RequestStatus reports the lifecycle state of a request.
func (s *Store) RequestStatus(rID int64) (trends.RequestStatus, error) {
	var name string
	err := s.db.QueryRow(`
		SELECT rs_name FROM requests
		JOIN request_status ON r_status = rs_id
		WHERE r_id = ?
	`, rID).Scan(&name)
	if err != nil {
		return "", fmt.Errorf("failed to get status of request %d: %w", rID, err)
	}
	return trends.RequestStatus(name), nil
}

// RequestWindow returns the time window of a request, and the ISO code
// of its location (empty for worldwide).
func (s *Store) RequestWindow(rID int64) (start, end time.Time, geo string, err error) {
	var rawStart, rawEnd string
	err = s.db.QueryRow(`
		SELECT r.r_tf_start, r.r_tf_end, COALESCE(l.l_iso, '')
		  FROM requests r
		  LEFT JOIN locations l ON r.r_geo = l.l_id
		 WHERE r.r_id = ?
	`, rID).Scan(&rawStart, &rawEnd, &geo)
	if err != nil {
		return time.Time{}, time.Time{}, "", fmt.Errorf("failed to get window of request %d: %w", rID, err)
	}
	if start, err = parseTime(rawStart); err != nil {
		return time.Time{}, time.Time{}, "", fmt.Errorf("request %d has bad r_tf_start: %w", rID, err)
	}
	if end, err = parseTime(rawEnd); err != nil {
		return time.Time{}, time.Time{}, "", fmt.Errorf("request %d has bad r_tf_end: %w", rID, err)
	}
	return start, end, geo, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
