package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dsablic/linestat/internal/model"
)

// DateLayout is the format of snapshot dates.
const DateLayout = "2006-01-02"

// SaveStatistics replaces the snapshot of (accountID, date) with one row
// per language of totals. Readers see either the old or the new rows.
func (s *Store) SaveStatistics(ctx context.Context, accountID int64, date string, totals model.Totals) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			s.rebind(`DELETE FROM stat_snapshots WHERE account_id = ? AND snapshot_date = ?`),
			accountID, date); err != nil {
			return fmt.Errorf("delete snapshot %d/%s: %w", accountID, date, err)
		}

		stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO stat_snapshots
			(account_id, snapshot_date, language, files, total_lines, code_lines, comment_lines, empty_lines)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("prepare snapshot insert: %w", err)
		}
		defer stmt.Close()

		for _, ls := range totals.Sorted() {
			if _, err := stmt.ExecContext(ctx, accountID, date, ls.Name,
				ls.Files, ls.Total, ls.Code, ls.Comment, ls.Empty); err != nil {
				return fmt.Errorf("insert snapshot row %s: %w", ls.Name, err)
			}
		}
		return nil
	})
}

// Snapshot returns the rows of one (account, date) ordered by language.
func (s *Store) Snapshot(ctx context.Context, accountID int64, date string) ([]model.StatSnapshot, error) {
	return s.snapshots(ctx,
		`WHERE account_id = ? AND snapshot_date = ? ORDER BY language`, accountID, date)
}

// ExportSnapshots returns every row dated on or after since, for one
// account or all when accountID is 0.
func (s *Store) ExportSnapshots(ctx context.Context, accountID int64, since string) ([]model.StatSnapshot, error) {
	where := `WHERE snapshot_date >= ?`
	args := []any{since}
	if accountID != 0 {
		where += ` AND account_id = ?`
		args = append(args, accountID)
	}
	return s.snapshots(ctx, where+` ORDER BY snapshot_date, account_id, language`, args...)
}

func (s *Store) snapshots(ctx context.Context, clause string, args ...any) ([]model.StatSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT account_id, snapshot_date, language,
		files, total_lines, code_lines, comment_lines, empty_lines FROM stat_snapshots `+clause), args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.StatSnapshot
	for rows.Next() {
		var r model.StatSnapshot
		if err := rows.Scan(&r.AccountID, &r.Date, &r.Language,
			&r.Files, &r.Total, &r.Code, &r.Comment, &r.Empty); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		r.Date = strings.TrimSpace(r.Date)
		out = append(out, r)
	}
	return out, rows.Err()
}

// StatsQuery selects snapshots for reporting.
type StatsQuery struct {
	AccountID int64  // 0 = all accounts
	Language  string // upper-cased language name, empty = all
	Since     string // first date included
}

// QueryStatistics sums, per language, the latest snapshot of each account
// dated on or after q.Since.
func (s *Store) QueryStatistics(ctx context.Context, q StatsQuery) (model.Totals, error) {
	inner := `SELECT account_id, MAX(snapshot_date) AS latest FROM stat_snapshots WHERE snapshot_date >= ?`
	args := []any{q.Since}
	if q.AccountID != 0 {
		inner += ` AND account_id = ?`
		args = append(args, q.AccountID)
	}
	inner += ` GROUP BY account_id`

	query := `SELECT s.language, SUM(s.files), SUM(s.total_lines), SUM(s.code_lines),
		SUM(s.comment_lines), SUM(s.empty_lines)
		FROM stat_snapshots s JOIN (` + inner + `) l
		ON s.account_id = l.account_id AND s.snapshot_date = l.latest`
	if q.Language != "" {
		query += ` WHERE s.language = ?`
		args = append(args, strings.ToUpper(q.Language))
	}
	query += ` GROUP BY s.language`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query statistics: %w", err)
	}
	defer rows.Close()

	totals := model.Totals{}
	for rows.Next() {
		var ls model.LanguageStats
		if err := rows.Scan(&ls.Name, &ls.Files, &ls.Total, &ls.Code, &ls.Comment, &ls.Empty); err != nil {
			return nil, fmt.Errorf("scan statistics: %w", err)
		}
		totals[ls.Name] = ls
	}
	return totals, rows.Err()
}

// History returns the per-day sum of all languages dated on or after
// since, oldest first.
func (s *Store) History(ctx context.Context, accountID int64, since string) ([]model.DailyTotal, error) {
	query := `SELECT snapshot_date, SUM(files), SUM(total_lines), SUM(code_lines),
		SUM(comment_lines), SUM(empty_lines) FROM stat_snapshots WHERE snapshot_date >= ?`
	args := []any{since}
	if accountID != 0 {
		query += ` AND account_id = ?`
		args = append(args, accountID)
	}
	query += ` GROUP BY snapshot_date ORDER BY snapshot_date`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []model.DailyTotal
	for rows.Next() {
		var d model.DailyTotal
		if err := rows.Scan(&d.Date, &d.Files, &d.Total, &d.Code, &d.Comment, &d.Empty); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		d.Date = strings.TrimSpace(d.Date)
		out = append(out, d)
	}
	return out, rows.Err()
}
