package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Status summarizes the contents of the database.
type Status struct {
	Backend        Backend `json:"backend"`
	Accounts       int64   `json:"accounts"`
	Repositories   int64   `json:"repositories"`
	CachedFiles    int64   `json:"cached_files"`
	SnapshotRows   int64   `json:"snapshot_rows"`
	LatestSnapshot string  `json:"latest_snapshot,omitempty"`
}

// Status counts the rows of each table.
func (s *Store) Status(ctx context.Context) (Status, error) {
	st := Status{Backend: s.backend}
	counts := []struct {
		table string
		dst   *int64
	}{
		{"accounts", &st.Accounts},
		{"repositories", &st.Repositories},
		{"file_cache", &st.CachedFiles},
		{"stat_snapshots", &st.SnapshotRows},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dst); err != nil {
			return Status{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	var latest sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(snapshot_date) FROM stat_snapshots`).Scan(&latest); err != nil {
		return Status{}, fmt.Errorf("latest snapshot: %w", err)
	}
	st.LatestSnapshot = strings.TrimSpace(latest.String)
	return st, nil
}
