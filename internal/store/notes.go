package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) CreateNote(ctx context.Context, note Note) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO notes (id, owner, title, content, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?);`,
		note.ID, note.Owner, note.Title, note.Content, note.CreatedAt.UnixMilli(), note.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// ListNotes returns the owner's notes, most recently updated first.
func (s *Store) ListNotes(ctx context.Context, owner string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner, title, content, created_at, updated_at
        FROM notes WHERE owner = ? ORDER BY updated_at DESC, id DESC;`, owner)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("list notes: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}

func (s *Store) GetNote(ctx context.Context, owner, id string) (Note, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, owner, title, content, created_at, updated_at
        FROM notes WHERE id = ? AND owner = ?;`, id, owner)
	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Note{}, ErrNotFound
		}
		return Note{}, fmt.Errorf("get note: %w", err)
	}
	return note, nil
}

func (s *Store) UpdateNote(ctx context.Context, note Note) error {
	result, err := s.db.ExecContext(ctx, `UPDATE notes SET title = ?, content = ?, updated_at = ?
        WHERE id = ? AND owner = ?;`,
		note.Title, note.Content, note.UpdatedAt.UnixMilli(), note.ID, note.Owner)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return requireRow(result, "update note")
}

func (s *Store) DeleteNote(ctx context.Context, owner, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND owner = ?;`, id, owner)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return requireRow(result, "delete note")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (Note, error) {
	var note Note
	var createdAt, updatedAt int64
	if err := row.Scan(&note.ID, &note.Owner, &note.Title, &note.Content, &createdAt, &updatedAt); err != nil {
		return Note{}, err
	}
	note.CreatedAt = time.UnixMilli(createdAt)
	note.UpdatedAt = time.UnixMilli(updatedAt)
	return note, nil
}
