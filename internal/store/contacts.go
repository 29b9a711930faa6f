package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) AddContact(ctx context.Context, contact Contact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM contacts WHERE owner = ? AND address = ?;`,
		contact.Owner, contact.Address).Scan(&existing)
	if err == nil {
		return ErrConflict
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup contact: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO contacts (id, owner, name, address, created_at)
        VALUES (?, ?, ?, ?, ?);`,
		contact.ID, contact.Owner, contact.Name, contact.Address, contact.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit contact: %w", err)
	}
	return nil
}

func (s *Store) ListContacts(ctx context.Context, owner string) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner, name, address, created_at
        FROM contacts WHERE owner = ? ORDER BY name COLLATE NOCASE, id;`, owner)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var contact Contact
		var createdAt int64
		if err := rows.Scan(&contact.ID, &contact.Owner, &contact.Name, &contact.Address, &createdAt); err != nil {
			return nil, fmt.Errorf("list contacts: %w", err)
		}
		contact.CreatedAt = time.UnixMilli(createdAt)
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}

func (s *Store) RenameContact(ctx context.Context, owner, id, name string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE contacts SET name = ? WHERE id = ? AND owner = ?;`, name, id, owner)
	if err != nil {
		return fmt.Errorf("rename contact: %w", err)
	}
	return requireRow(result, "rename contact")
}

func (s *Store) DeleteContact(ctx context.Context, owner, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ? AND owner = ?;`, id, owner)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return requireRow(result, "delete contact")
}
