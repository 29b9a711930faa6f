package store

import (
	"context"
	"fmt"
	"time"
)

// PushNotification writes a pending notification for address. A second
// push with the same id is ignored.
func (s *Store) PushNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO notifications (address, id, payload, created_at)
        VALUES (?, ?, ?, ?);`, n.Address, n.ID, n.Payload, n.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

// DrainNotifications returns and deletes every pending notification for
// address, oldest first.
func (s *Store) DrainNotifications(ctx context.Context, address string) ([]Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, payload, created_at FROM notifications
        WHERE address = ? ORDER BY created_at, id;`, address)
	if err != nil {
		return nil, fmt.Errorf("drain notifications: %w", err)
	}
	var pending []Notification
	for rows.Next() {
		n := Notification{Address: address}
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.Payload, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("drain notifications: %w", err)
		}
		n.CreatedAt = time.UnixMilli(createdAt)
		pending = append(pending, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("drain notifications: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE address = ?;`, address); err != nil {
		return nil, fmt.Errorf("drain notifications: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit notifications: %w", err)
	}
	return pending, nil
}

func (s *Store) AckNotification(ctx context.Context, address, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE address = ? AND id = ?;`, address, id); err != nil {
		return fmt.Errorf("ack notification: %w", err)
	}
	return nil
}
