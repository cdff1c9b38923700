package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dsablic/linestat/internal/model"
)

const accountColumns = `id, platform, username, access_token, base_url, is_active, created_at`

// AddAccount stores a new account and returns its id.
func (s *Store) AddAccount(ctx context.Context, a model.Account) (int64, error) {
	if !a.Platform.Valid() {
		return 0, fmt.Errorf("unsupported platform %q", a.Platform)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	id, err := s.insert(ctx, s.db,
		`INSERT INTO accounts (platform, username, access_token, base_url, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(a.Platform), a.Username, a.AccessToken, a.BaseURL, boolInt(a.Active), unixSec(a.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}
	return id, nil
}

func scanAccount(row interface{ Scan(...any) error }) (model.Account, error) {
	var (
		a        model.Account
		platform string
		active   int
		created  int64
	)
	if err := row.Scan(&a.ID, &platform, &a.Username, &a.AccessToken, &a.BaseURL, &active, &created); err != nil {
		return model.Account{}, err
	}
	a.Platform = model.Platform(platform)
	a.Active = active != 0
	a.CreatedAt = unixTime(created)
	return a, nil
}

// GetAccount returns the account with id.
func (s *Store) GetAccount(ctx context.Context, id int64) (model.Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`), id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account %d: %w", id, err)
	}
	return a, nil
}

// ListAccounts returns accounts ordered by id.
func (s *Store) ListAccounts(ctx context.Context, activeOnly bool) ([]model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetAccountActive enables or disables an account for scheduled scans.
func (s *Store) SetAccountActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE accounts SET is_active = ? WHERE id = ?`), boolInt(active), id)
	if err != nil {
		return fmt.Errorf("update account %d: %w", id, err)
	}
	return requireRow(res, "account", id)
}

// RemoveAccount deletes an account with its repositories, cached files
// and snapshots.
func (s *Store) RemoveAccount(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM file_cache WHERE repository_id IN (SELECT id FROM repositories WHERE account_id = ?)`,
			`DELETE FROM repositories WHERE account_id = ?`,
			`DELETE FROM stat_snapshots WHERE account_id = ?`,
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, s.rebind(q), id); err != nil {
				return fmt.Errorf("remove account %d: %w", id, err)
			}
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM accounts WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("remove account %d: %w", id, err)
		}
		return requireRow(res, "account", id)
	})
}

func requireRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}
