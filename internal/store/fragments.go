package store

import (
	"encoding/json"
	"fmt"

	"github.com/nsg-ethz/SIFT/internal/trends"
)

// Fragments enumerates the completed, resolution-tagged fragments for a
// (keyword, location) pair, ordered by window start. An empty geo means
// worldwide (requests with no location).
func (s *Store) Fragments(keywordID int64, geo, resolutionTag string) ([]trends.Fragment, error) {
	query := `
		SELECT t.r_id, r.r_tf_start, r.r_tf_end, t.t_v
		  FROM trends_time t
		  JOIN requests r ON r.r_id = t.r_id
		  JOIN request_status rs ON r.r_status = rs.rs_id
		  JOIN request_tags rt ON rt.r_id = r.r_id
		  JOIN tags tg ON tg.tg_id = rt.tg_id
		  LEFT JOIN locations l ON r.r_geo = l.l_id
		 WHERE t.k_id = ?
		   AND tg.tg_name = ?
		   AND rs.rs_name = 'done'
	`
	args := []any{keywordID, resolutionTag}
	if geo == "" {
		query += " AND r.r_geo IS NULL"
	} else {
		query += " AND l.l_iso = ?"
		args = append(args, geo)
	}
	query += " ORDER BY r.r_tf_start, r.r_id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments for keyword %d: %w", keywordID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []trends.Fragment
	for rows.Next() {
		var (
			f          trends.Fragment
			start, end string
			vector     string
		)
		if err := rows.Scan(&f.RequestID, &start, &end, &vector); err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		if f.Start, err = parseTime(start); err != nil {
			return nil, fmt.Errorf("fragment of request %d has bad r_tf_start: %w", f.RequestID, err)
		}
		if f.End, err = parseTime(end); err != nil {
			return nil, fmt.Errorf("fragment of request %d has bad r_tf_end: %w", f.RequestID, err)
		}
		if err := json.Unmarshal([]byte(vector), &f.Values); err != nil {
			return nil, fmt.Errorf("fragment of request %d has bad t_v: %w", f.RequestID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FragmentLocations lists the distinct locations (ISO codes, with ""
// for worldwide) that have completed fragments for a keyword.
func (s *Store) FragmentLocations(keywordID int64) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT COALESCE(l.l_iso, '')
		  FROM trends_time t
		  JOIN requests r ON r.r_id = t.r_id
		  JOIN request_status rs ON r.r_status = rs.rs_id
		  LEFT JOIN locations l ON r.r_geo = l.l_id
		 WHERE t.k_id = ? AND rs.rs_name = 'done'
		 ORDER BY 1
	`, keywordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragment locations for keyword %d: %w", keywordID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var iso string
		if err := rows.Scan(&iso); err != nil {
			return nil, fmt.Errorf("failed to scan fragment location: %w", err)
		}
		out = append(out, iso)
	}
	return out, rows.Err()
}
