package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ReserveUsername assigns username to address, releasing any username the
// address held before. It fails with ErrConflict when another address
// holds the name.
func (s *Store) ReserveUsername(ctx context.Context, username, address string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var holder string
	err = tx.QueryRowContext(ctx, `SELECT address FROM usernames WHERE username = ?;`, username).Scan(&holder)
	switch {
	case err == nil && holder != address:
		return ErrConflict
	case err == nil:
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("lookup username: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM usernames WHERE address = ?;`, address); err != nil {
		return fmt.Errorf("release username: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO usernames (username, address, created_at) VALUES (?, ?, ?);`,
		username, address, now.UnixMilli()); err != nil {
		return fmt.Errorf("reserve username: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET username = ? WHERE address = ?;`, username, address); err != nil {
		return fmt.Errorf("set username: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit username: %w", err)
	}
	return nil
}

func (s *Store) LookupUsername(ctx context.Context, username string) (string, error) {
	var address string
	err := s.db.QueryRowContext(ctx, `SELECT address FROM usernames WHERE username = ?;`, username).Scan(&address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("lookup username: %w", err)
	}
	return address, nil
}
