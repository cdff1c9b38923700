package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dsablic/linestat/internal/model"
)

const fileColumns = `repository_id, path, content_fingerprint, language, is_binary,
	total_lines, code_lines, comment_lines, empty_lines, seen_at, last_modified_at`

func scanFile(row interface{ Scan(...any) error }) (model.FileCacheEntry, error) {
	var (
		e        model.FileCacheEntry
		binary   int
		modified int64
	)
	err := row.Scan(&e.RepositoryID, &e.Path, &e.ContentFingerprint, &e.Language, &binary,
		&e.Counts.Total, &e.Counts.Code, &e.Counts.Comment, &e.Counts.Empty, &e.SeenAt, &modified)
	if err != nil {
		return model.FileCacheEntry{}, err
	}
	e.Binary = binary != 0
	e.LastModifiedAt = unixTime(modified)
	return e, nil
}

// LookupFile returns the cached entry for path in a repository.
func (s *Store) LookupFile(ctx context.Context, repositoryID int64, path string) (model.FileCacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+fileColumns+` FROM file_cache WHERE repository_id = ? AND path = ?`),
		repositoryID, path)
	e, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FileCacheEntry{}, ErrNotFound
	}
	if err != nil {
		return model.FileCacheEntry{}, fmt.Errorf("lookup %s: %w", path, err)
	}
	return e, nil
}

func (s *Store) upsertFileQuery() string {
	const insert = `INSERT INTO file_cache (repository_id, path, content_fingerprint, language, is_binary,
		total_lines, code_lines, comment_lines, empty_lines, seen_at, last_modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	switch s.backend {
	case MySQL:
		return insert + ` AS new ON DUPLICATE KEY UPDATE
			content_fingerprint = new.content_fingerprint, language = new.language, is_binary = new.is_binary,
			total_lines = new.total_lines, code_lines = new.code_lines, comment_lines = new.comment_lines,
			empty_lines = new.empty_lines, seen_at = new.seen_at, last_modified_at = new.last_modified_at`
	default:
		return insert + ` ON CONFLICT (repository_id, path) DO UPDATE SET
			content_fingerprint = excluded.content_fingerprint, language = excluded.language, is_binary = excluded.is_binary,
			total_lines = excluded.total_lines, code_lines = excluded.code_lines, comment_lines = excluded.comment_lines,
			empty_lines = excluded.empty_lines, seen_at = excluded.seen_at, last_modified_at = excluded.last_modified_at`
	}
}

// UpsertFile stores or replaces the entry for (repository, path).
func (s *Store) UpsertFile(ctx context.Context, e model.FileCacheEntry) error {
	_, err := s.db.ExecContext(ctx, s.rebind(s.upsertFileQuery()),
		e.RepositoryID, e.Path, e.ContentFingerprint, e.Language, boolInt(e.Binary),
		e.Counts.Total, e.Counts.Code, e.Counts.Comment, e.Counts.Empty, e.SeenAt, unixSec(e.LastModifiedAt))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", e.Path, err)
	}
	return nil
}

// MarkSeen records that a walk at seenAt listed path with unchanged content.
func (s *Store) MarkSeen(ctx context.Context, repositoryID int64, path, seenAt string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE file_cache SET seen_at = ? WHERE repository_id = ? AND path = ?`),
		seenAt, repositoryID, path)
	if err != nil {
		return fmt.Errorf("mark %s seen: %w", path, err)
	}
	return nil
}

// SeenFiles returns the entries listed by the walk at seenAt, ordered by path.
func (s *Store) SeenFiles(ctx context.Context, repositoryID int64, seenAt string) ([]model.FileCacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+fileColumns+` FROM file_cache WHERE repository_id = ? AND seen_at = ? ORDER BY path`),
		repositoryID, seenAt)
	if err != nil {
		return nil, fmt.Errorf("list cached files: %w", err)
	}
	defer rows.Close()

	var out []model.FileCacheEntry
	for rows.Next() {
		e, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cached file: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearFileCache drops every cached file and resets repository
// fingerprints so the next scan walks every repository.
func (s *Store) ClearFileCache(ctx context.Context) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM file_cache`)
		if err != nil {
			return fmt.Errorf("clear file cache: %w", err)
		}
		removed, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, `UPDATE repositories SET change_fingerprint = ''`); err != nil {
			return fmt.Errorf("reset fingerprints: %w", err)
		}
		return nil
	})
	return removed, err
}
