package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) UpsertUser(ctx context.Context, address string, now time.Time) error {
	query := `INSERT INTO users (address, created_at, last_login)
        VALUES (?, ?, ?)
        ON CONFLICT(address) DO UPDATE SET last_login = excluded.last_login;`
	_, err := s.db.ExecContext(ctx, query, address, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, address string) (User, error) {
	var user User
	var createdAt, lastLogin int64
	row := s.db.QueryRowContext(ctx, `SELECT address, username, display_name, created_at, last_login
        FROM users WHERE address = ?;`, address)
	if err := row.Scan(&user.Address, &user.Username, &user.DisplayName, &createdAt, &lastLogin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = time.UnixMilli(createdAt)
	user.LastLogin = time.UnixMilli(lastLogin)
	return user, nil
}

// GetProfile loads the user together with read and hidden thread state.
func (s *Store) GetProfile(ctx context.Context, address string) (Profile, error) {
	user, err := s.GetUser(ctx, address)
	if err != nil {
		return Profile{}, err
	}
	profile := Profile{
		User:           user,
		ReadTimestamps: map[string]time.Time{},
		Hidden:         map[string]map[string]struct{}{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT thread_id, read_at FROM read_state WHERE address = ?;`, address)
	if err != nil {
		return Profile{}, fmt.Errorf("get read state: %w", err)
	}
	for rows.Next() {
		var threadID string
		var readAt int64
		if err := rows.Scan(&threadID, &readAt); err != nil {
			rows.Close()
			return Profile{}, fmt.Errorf("get read state: %w", err)
		}
		profile.ReadTimestamps[threadID] = time.UnixMilli(readAt)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Profile{}, fmt.Errorf("get read state: %w", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT box, thread_id FROM hidden_threads WHERE address = ?;`, address)
	if err != nil {
		return Profile{}, fmt.Errorf("get hidden threads: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var box, threadID string
		if err := rows.Scan(&box, &threadID); err != nil {
			return Profile{}, fmt.Errorf("get hidden threads: %w", err)
		}
		if _, ok := profile.Hidden[box]; !ok {
			profile.Hidden[box] = map[string]struct{}{}
		}
		profile.Hidden[box][threadID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return Profile{}, fmt.Errorf("get hidden threads: %w", err)
	}
	return profile, nil
}

func (s *Store) SetDisplayName(ctx context.Context, address, name string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET display_name = ? WHERE address = ?;`, name, address)
	if err != nil {
		return fmt.Errorf("set display name: %w", err)
	}
	return requireRow(result, "set display name")
}

func (s *Store) MarkThreadRead(ctx context.Context, address, threadID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO read_state (address, thread_id, read_at)
        VALUES (?, ?, ?)
        ON CONFLICT(address, thread_id) DO UPDATE SET read_at = MAX(read_at, excluded.read_at);`,
		address, threadID, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("mark thread read: %w", err)
	}
	return nil
}

func (s *Store) HideThreads(ctx context.Context, address, box string, threadIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, id := range threadIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO hidden_threads (address, box, thread_id)
            VALUES (?, ?, ?);`, address, box, id); err != nil {
			return fmt.Errorf("hide thread: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit hidden threads: %w", err)
	}
	return nil
}

func (s *Store) UnhideThread(ctx context.Context, address, box, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM hidden_threads WHERE address = ? AND box = ? AND thread_id = ?;`,
		address, box, threadID)
	if err != nil {
		return fmt.Errorf("unhide thread: %w", err)
	}
	return nil
}

func requireRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
