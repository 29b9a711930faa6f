package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertDriveFile adds file unless the owner's stored bytes would then
// exceed quota. A quota of zero or less disables the check.
func (s *Store) InsertDriveFile(ctx context.Context, file DriveFile, quota int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if quota > 0 {
		var used sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT SUM(size) FROM drive_files WHERE owner = ?;`, file.Owner).Scan(&used); err != nil {
			return fmt.Errorf("storage used: %w", err)
		}
		if used.Int64+file.Size > quota {
			return ErrQuota
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO drive_files
        (id, owner, file_name, record_id, size, mime_type, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?);`,
		file.ID, file.Owner, file.FileName, file.RecordID, file.Size, file.MimeType, file.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert drive file: %w", err)
	}
	for _, address := range file.SharedWith {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO drive_shares (file_id, address) VALUES (?, ?);`,
			file.ID, address); err != nil {
			return fmt.Errorf("insert drive share: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit drive file: %w", err)
	}
	return nil
}

func (s *Store) GetDriveFile(ctx context.Context, id string) (DriveFile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, owner, file_name, record_id, size, mime_type, created_at
        FROM drive_files WHERE id = ?;`, id)
	file, err := scanDriveFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DriveFile{}, ErrNotFound
		}
		return DriveFile{}, fmt.Errorf("get drive file: %w", err)
	}
	shares, err := s.driveShares(ctx, []string{id})
	if err != nil {
		return DriveFile{}, err
	}
	file.SharedWith = shares[id]
	return file, nil
}

// ListOwnedFiles pages through the owner's uploads, newest first, and
// reports the total number of uploads.
func (s *Store) ListOwnedFiles(ctx context.Context, owner string, offset, limit int32) ([]DriveFile, int32, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM drive_files WHERE owner = ?;`, owner).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count drive files: %w", err)
	}
	if total > int64(^uint32(0)>>1) {
		total = int64(^uint32(0) >> 1)
	}

	files, err := s.queryDriveFiles(ctx, `SELECT id, owner, file_name, record_id, size, mime_type, created_at
        FROM drive_files WHERE owner = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?;`, owner, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return files, int32(total), nil
}

// ListSharedFiles returns files other users shared with address.
func (s *Store) ListSharedFiles(ctx context.Context, address string) ([]DriveFile, error) {
	return s.queryDriveFiles(ctx, `SELECT f.id, f.owner, f.file_name, f.record_id, f.size, f.mime_type, f.created_at
        FROM drive_files f
        JOIN drive_shares sh ON sh.file_id = f.id
        WHERE sh.address = ? AND f.owner != ?
        ORDER BY f.created_at DESC, f.id DESC;`, address, address)
}

func (s *Store) ShareDriveFile(ctx context.Context, id, address string) error {
	if _, err := s.GetDriveFile(ctx, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO drive_shares (file_id, address) VALUES (?, ?);`,
		id, address); err != nil {
		return fmt.Errorf("share drive file: %w", err)
	}
	return nil
}

func (s *Store) RenameDriveFile(ctx context.Context, id, name string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE drive_files SET file_name = ? WHERE id = ?;`, name, id)
	if err != nil {
		return fmt.Errorf("rename drive file: %w", err)
	}
	return requireRow(result, "rename drive file")
}

// DeleteDriveFile removes the index entry. The underlying record stays.
func (s *Store) DeleteDriveFile(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM drive_files WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete drive file: %w", err)
	}
	return requireRow(result, "delete drive file")
}

func (s *Store) StorageUsed(ctx context.Context, owner string) (int64, error) {
	var used sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(size) FROM drive_files WHERE owner = ?;`, owner).Scan(&used); err != nil {
		return 0, fmt.Errorf("storage used: %w", err)
	}
	return used.Int64, nil
}

func (s *Store) queryDriveFiles(ctx context.Context, query string, args ...any) ([]DriveFile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drive files: %w", err)
	}
	defer rows.Close()

	var files []DriveFile
	var ids []string
	for rows.Next() {
		file, err := scanDriveFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan drive file: %w", err)
		}
		files = append(files, file)
		ids = append(ids, file.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list drive files: %w", err)
	}
	if len(ids) == 0 {
		return files, nil
	}

	shares, err := s.driveShares(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range files {
		files[i].SharedWith = shares[files[i].ID]
	}
	return files, nil
}

func (s *Store) driveShares(ctx context.Context, ids []string) (map[string][]string, error) {
	query := fmt.Sprintf(`SELECT file_id, address FROM drive_shares WHERE file_id IN (%s) ORDER BY address;`,
		placeholders(len(ids)))
	rows, err := s.db.QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("list drive shares: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var id, address string
		if err := rows.Scan(&id, &address); err != nil {
			return nil, fmt.Errorf("list drive shares: %w", err)
		}
		result[id] = append(result[id], address)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list drive shares: %w", err)
	}
	return result, nil
}

func scanDriveFile(row rowScanner) (DriveFile, error) {
	var file DriveFile
	var createdAt int64
	if err := row.Scan(&file.ID, &file.Owner, &file.FileName, &file.RecordID, &file.Size, &file.MimeType, &createdAt); err != nil {
		return DriveFile{}, err
	}
	file.CreatedAt = time.UnixMilli(createdAt)
	return file, nil
}
