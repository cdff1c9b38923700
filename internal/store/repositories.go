package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dsablic/linestat/internal/model"
)

const repositoryColumns = `id, account_id, repo_id, name, is_private, change_fingerprint, last_scanned_at`

func scanRepository(row interface{ Scan(...any) error }) (model.RepositoryRecord, error) {
	var (
		r       model.RepositoryRecord
		private int
		scanned int64
	)
	if err := row.Scan(&r.ID, &r.AccountID, &r.RepoID, &r.Name, &private, &r.ChangeFingerprint, &scanned); err != nil {
		return model.RepositoryRecord{}, err
	}
	r.Private = private != 0
	r.LastScannedAt = unixTime(scanned)
	return r, nil
}

func (s *Store) upsertRepositoryQuery() string {
	switch s.backend {
	case MySQL:
		return `INSERT INTO repositories (account_id, repo_id, name, is_private) VALUES (?, ?, ?, ?) AS new
			ON DUPLICATE KEY UPDATE name = new.name, is_private = new.is_private`
	default:
		return `INSERT INTO repositories (account_id, repo_id, name, is_private) VALUES (?, ?, ?, ?)
			ON CONFLICT (account_id, repo_id) DO UPDATE SET name = excluded.name, is_private = excluded.is_private`
	}
}

// ResolveRepository returns the record for repo under accountID, creating
// it on first sight. Name and visibility follow the provider.
func (s *Store) ResolveRepository(ctx context.Context, accountID int64, repo model.Repo) (model.RepositoryRecord, error) {
	name := repo.FullName
	if name == "" {
		name = repo.Name
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(s.upsertRepositoryQuery()),
		accountID, repo.ID, name, boolInt(repo.Private)); err != nil {
		return model.RepositoryRecord{}, fmt.Errorf("upsert repository %s: %w", name, err)
	}

	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+repositoryColumns+` FROM repositories WHERE account_id = ? AND repo_id = ?`),
		accountID, repo.ID)
	rec, err := scanRepository(row)
	if err != nil {
		return model.RepositoryRecord{}, fmt.Errorf("load repository %s: %w", name, err)
	}
	return rec, nil
}

// GetRepository returns the record with id.
func (s *Store) GetRepository(ctx context.Context, id int64) (model.RepositoryRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`), id)
	rec, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RepositoryRecord{}, fmt.Errorf("repository %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.RepositoryRecord{}, fmt.Errorf("get repository %d: %w", id, err)
	}
	return rec, nil
}

// ListRepositories returns the repositories of an account, or of every
// account when accountID is 0.
func (s *Store) ListRepositories(ctx context.Context, accountID int64) ([]model.RepositoryRecord, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories`
	var args []any
	if accountID != 0 {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY account_id, name`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var out []model.RepositoryRecord
	for rows.Next() {
		rec, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkScanned records the fingerprint of a completed walk.
func (s *Store) MarkScanned(ctx context.Context, id int64, fingerprint string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE repositories SET change_fingerprint = ?, last_scanned_at = ? WHERE id = ?`),
		fingerprint, unixSec(at), id)
	if err != nil {
		return fmt.Errorf("mark repository %d scanned: %w", id, err)
	}
	return requireRow(res, "repository", id)
}

// TouchRepository updates last_scanned_at only.
func (s *Store) TouchRepository(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE repositories SET last_scanned_at = ? WHERE id = ?`), unixSec(at), id)
	if err != nil {
		return fmt.Errorf("touch repository %d: %w", id, err)
	}
	return requireRow(res, "repository", id)
}
