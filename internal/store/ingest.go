package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsg-ethz/SIFT/internal/trends"
)

// StageRaw durably persists a fetched payload before any parsing is
// attempted. Committed on its own so that a later parsing bug can never
// lose fetched data.
func (s *Store) StageRaw(raw string, fetcherID, requestID, keywordID int64, fetchedAt time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRow(`
		INSERT INTO raw_fetcher_output (rfo_raw, f_id, r_id, k_id, rfo_ts)
		VALUES (?, ?, ?, ?, ?)
		RETURNING rfo_id
	`, raw, fetcherID, requestID, keywordID, fmtTime(fetchedAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to stage raw output for request %d: %w", requestID, err)
	}
	return id, nil
}

// StagedOutputs lists all staged payloads, oldest first. A non-empty
// result at dispatcher startup means the previous run died between
// staging and ingestion.
func (s *Store) StagedOutputs() ([]trends.StagedOutput, error) {
	rows, err := s.db.Query(`
		SELECT rfo_id, rfo_raw, f_id, r_id, k_id, rfo_ts
		  FROM raw_fetcher_output
		 ORDER BY rfo_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query staged outputs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []trends.StagedOutput
	for rows.Next() {
		var (
			so trends.StagedOutput
			ts string
		)
		if err := rows.Scan(&so.ID, &so.Raw, &so.FetcherID, &so.RequestID, &so.KeywordID, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan staged output: %w", err)
		}
		if so.FetchedAt, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("staged output %d has bad rfo_ts: %w", so.ID, err)
		}
		out = append(out, so)
	}
	return out, rows.Err()
}

// StagedCount returns the number of rows in the staging table.
func (s *Store) StagedCount() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM raw_fetcher_output").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count staged outputs: %w", err)
	}
	return n, nil
}

// GeoRecord is one per-location value scoped to country/states/region/dma.
type GeoRecord struct {
	Scope string
	ISO   string
	Name  string
	Value int64
}

// QueryRecord is a recommended plain-query keyword.
type QueryRecord struct {
	Query string
	Top   bool
	Value int64
}

// TopicRecord is a recommended topic-backed keyword.
type TopicRecord struct {
	MID   string
	Title string
	Topic string
	Top   bool
	Value int64
}

// IngestRecord is everything the ingestion pipeline writes for one
// request in a single transaction.
type IngestRecord struct {
	StagingID int64
	RequestID int64
	KeywordID int64
	FetcherID int64
	FetchedAt time.Time

	Samples       []int64
	ResolutionTag string
	Geo           []GeoRecord
	Queries       []QueryRecord
	Topics        []TopicRecord
}

// Ingest writes the structured records for one request, transitions the
// request running -> done and drops the staging row, all in one
// transaction. Uniqueness violations propagate: they indicate a logic
// fault, not bad input.
func (s *Store) Ingest(rec IngestRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	vector, err := json.Marshal(rec.Samples)
	if err != nil {
		return fmt.Errorf("failed to marshal sample vector: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO trends_time (r_id, k_id, t_v) VALUES (?, ?, ?)",
		rec.RequestID, rec.KeywordID, string(vector),
	); err != nil {
		return fmt.Errorf("failed to insert time series for request %d: %w", rec.RequestID, err)
	}

	for _, g := range rec.Geo {
		lID, err := internLocation(tx, g.ISO, g.Name)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO trends_geo (r_id, l_id, k_id, gs_id, g_v)
			VALUES (?, ?, ?, (SELECT gs_id FROM trends_geo_scopes WHERE gs_name = ?), ?)
		`, rec.RequestID, lID, rec.KeywordID, g.Scope, g.Value); err != nil {
			return fmt.Errorf("failed to insert geo value %s/%s for request %d: %w",
				g.Scope, g.ISO, rec.RequestID, err)
		}
	}

	for _, q := range rec.Queries {
		kwID, err := internKeyword(tx, q.Query, rec.FetchedAt)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO keywords_related (r_id, k_id, kr_kw, kr_istop, kr_value)
			VALUES (?, ?, ?, ?, ?)
		`, rec.RequestID, rec.KeywordID, kwID, q.Top, q.Value); err != nil {
			return fmt.Errorf("failed to insert related query %q: %w", q.Query, err)
		}
	}

	for _, tp := range rec.Topics {
		kwID, err := internTopicKeyword(tx, tp.MID, tp.Title, tp.Topic, rec.FetchedAt)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO keywords_related (r_id, k_id, kr_kw, kr_istop, kr_value)
			VALUES (?, ?, ?, ?, ?)
		`, rec.RequestID, rec.KeywordID, kwID, tp.Top, tp.Value); err != nil {
			return fmt.Errorf("failed to insert related topic %q: %w", tp.MID, err)
		}
	}

	// running -> done. Exactly one row must change; anything else means
	// the request was not ours to finish.
	res, err := tx.Exec(`
		UPDATE requests
		   SET r_status = (SELECT rs_id FROM request_status WHERE rs_name = 'done'),
		       r_ts = ?, r_fetcher = ?
		 WHERE r_id = ?
		   AND r_status = (SELECT rs_id FROM request_status WHERE rs_name = 'running')
	`, fmtTime(rec.FetchedAt), rec.FetcherID, rec.RequestID)
	if err != nil {
		return fmt.Errorf("failed to finish request %d: %w", rec.RequestID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check finish of request %d: %w", rec.RequestID, err)
	}
	if n != 1 {
		return fmt.Errorf("finishing request %d updated %d rows, want 1", rec.RequestID, n)
	}

	if rec.ResolutionTag != "" {
		if err := tagRequest(tx, rec.RequestID, rec.ResolutionTag); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(
		"DELETE FROM raw_fetcher_output WHERE rfo_id = ?", rec.StagingID,
	); err != nil {
		return fmt.Errorf("failed to drop staging row %d: %w", rec.StagingID, err)
	}

	return tx.Commit()
}

// GeoValues returns the stored per-location values of a request, scope
// names resolved.
func (s *Store) GeoValues(rID int64) ([]GeoRecord, error) {
	rows, err := s.db.Query(`
		SELECT gs.gs_name, l.l_iso, l.l_name, g.g_v
		  FROM trends_geo g
		  JOIN trends_geo_scopes gs ON gs.gs_id = g.gs_id
		  JOIN locations l ON l.l_id = g.l_id
		 WHERE g.r_id = ?
		 ORDER BY gs.gs_id, l.l_iso
	`, rID)
	if err != nil {
		return nil, fmt.Errorf("failed to query geo values of request %d: %w", rID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []GeoRecord
	for rows.Next() {
		var g GeoRecord
		if err := rows.Scan(&g.Scope, &g.ISO, &g.Name, &g.Value); err != nil {
			return nil, fmt.Errorf("failed to scan geo value: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// RelatedCount returns how many recommended-keyword rows a request
// produced.
func (s *Store) RelatedCount(rID int64) (int, error) {
	var n int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM keywords_related WHERE r_id = ?", rID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count related keywords of request %d: %w", rID, err)
	}
	return n, nil
}

// tagRequest attaches a free-form tag to a request, interning the tag
// name on first use.
func tagRequest(tx *sql.Tx, rID int64, tag string) error {
	if _, err := tx.Exec("INSERT OR IGNORE INTO tags (tg_name) VALUES (?)", tag); err != nil {
		return fmt.Errorf("failed to intern tag %q: %w", tag, err)
	}
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO request_tags (r_id, tg_id)
		VALUES (?, (SELECT tg_id FROM tags WHERE tg_name = ?))
	`, rID, tag); err != nil {
		return fmt.Errorf("failed to tag request %d with %q: %w", rID, tag, err)
	}
	return nil
}
