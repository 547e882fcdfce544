package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nsg-ethz/SIFT/internal/trends"
)

// ErrClaimLost reports that another dispatcher claimed the selected
// request between the advisory SELECT and the conditional UPDATE. The
// caller restarts its iteration.
var ErrClaimLost = errors.New("request claimed by another dispatcher")

// materializeLag is how far behind now a window must end before the
// upstream service has materialized it.
const materializeLag = 10 * time.Minute

// ClaimNext atomically claims the highest-priority eligible request and
// transitions it open -> running. Returns (nil, nil) when no request is
// eligible, and ErrClaimLost when a concurrent dispatcher won the race.
//
// Eligible means: status open, strictly after not-before and strictly
// before not-after, window already materialized upstream, and not present in the
// staging table. Ties break by priority desc, then closest not-after.
func (s *Store) ClaimNext(now time.Time) (*trends.Request, error) {
	req, err := s.selectClaimable(now)
	if err != nil || req == nil {
		return nil, err
	}
	if err := s.claim(req.ID); err != nil {
		return nil, err
	}
	req.Status = trends.StatusRunning
	return req, nil
}

// selectClaimable is the advisory read. A lost race surfaces at claim.
func (s *Store) selectClaimable(now time.Time) (*trends.Request, error) {
	var (
		req                      trends.Request
		start, end, nb, na, note string
	)
	err := s.db.QueryRow(`
		SELECT r.r_id, r.r_who, r.r_prio, COALESCE(l.l_iso, ''),
		       r.r_tf_start, r.r_tf_end, r.r_notbefore, r.r_notafter,
		       COALESCE(r.r_note, ''), k.k_id, k.k_q
		  FROM requests r
		  JOIN request_status rs ON r.r_status = rs.rs_id
		  JOIN keywords_in_request kir ON kir.r_id = r.r_id
		  JOIN keywords k ON k.k_id = kir.k_id
		  LEFT JOIN locations l ON r.r_geo = l.l_id
		 WHERE rs.rs_name = 'open'
		   AND r.r_notbefore < ?
		   AND r.r_notafter > ?
		   AND r.r_tf_end < ?
		   AND r.r_id NOT IN (SELECT r_id FROM raw_fetcher_output)
		 ORDER BY r.r_prio DESC, r.r_notafter ASC
		 LIMIT 1
	`, fmtTime(now), fmtTime(now), fmtTime(now.Add(-materializeLag))).Scan(
		&req.ID, &req.Who, &req.Priority, &req.Geo,
		&start, &end, &nb, &na, &note, &req.KeywordID, &req.Keyword,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable request: %w", err)
	}

	if req.Start, err = parseTime(start); err != nil {
		return nil, fmt.Errorf("request %d has bad r_tf_start: %w", req.ID, err)
	}
	if req.End, err = parseTime(end); err != nil {
		return nil, fmt.Errorf("request %d has bad r_tf_end: %w", req.ID, err)
	}
	if req.NotBefore, err = parseTime(nb); err != nil {
		return nil, fmt.Errorf("request %d has bad r_notbefore: %w", req.ID, err)
	}
	if req.NotAfter, err = parseTime(na); err != nil {
		return nil, fmt.Errorf("request %d has bad r_notafter: %w", req.ID, err)
	}
	req.Note = note

	return &req, nil
}

// claim is the atomic open -> running transition: a single conditional
// UPDATE the database serializes. Losing it is not an error condition,
// just a lost race with another dispatcher.
func (s *Store) claim(rID int64) error {
	var claimed int64
	err := s.db.QueryRow(`
		UPDATE requests
		   SET r_status = (SELECT rs_id FROM request_status WHERE rs_name = 'running')
		 WHERE r_id = ?
		   AND r_status = (SELECT rs_id FROM request_status WHERE rs_name = 'open')
		RETURNING r_id
	`, rID).Scan(&claimed)
	if err == sql.ErrNoRows {
		return ErrClaimLost
	}
	if err != nil {
		return fmt.Errorf("failed to claim request %d: %w", rID, err)
	}
	return nil
}

// Release transitions a running request back to open, compensating a
// failed or interrupted fetch.
func (s *Store) Release(rID int64) error {
	_, err := s.db.Exec(`
		UPDATE requests
		   SET r_status = (SELECT rs_id FROM request_status WHERE rs_name = 'open')
		 WHERE r_id = ?
		   AND r_status = (SELECT rs_id FROM request_status WHERE rs_name = 'running')
	`, rID)
	if err != nil {
		return fmt.Errorf("failed to release request %d: %w", rID, err)
	}
	return nil
}
