package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bridgbox/bridgbox/internal/record"
)

// PutRecord appends a record. Uploading identical content twice returns
// the existing ID without writing.
func (s *Store) PutRecord(ctx context.Context, owner string, tags record.Tags, data []byte, now time.Time) (string, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	id := record.ID(owner, tags, data)
	stored, compressed := record.Pack(data)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO records
        (id, owner, data, size, compressed, created_at)
        VALUES (?, ?, ?, ?, ?, ?);`,
		id, owner, stored, int64(len(data)), compressed, now.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	if inserted == 0 {
		return id, nil
	}

	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO record_tags (record_id, name, value)
            VALUES (?, ?, ?);`, id, tag.Name, tag.Value); err != nil {
			return "", fmt.Errorf("insert record tag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit record: %w", err)
	}
	return id, nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (record.Record, error) {
	var rec record.Record
	var stored []byte
	var compressed bool
	var createdAt int64
	row := s.db.QueryRowContext(ctx, `SELECT id, owner, data, size, compressed, created_at
        FROM records WHERE id = ?;`, id)
	if err := row.Scan(&rec.ID, &rec.Owner, &stored, &rec.Size, &compressed, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.Record{}, ErrNotFound
		}
		return record.Record{}, fmt.Errorf("get record: %w", err)
	}
	data, err := record.Unpack(stored, compressed, rec.Size)
	if err != nil {
		return record.Record{}, fmt.Errorf("get record %s: %w", id, err)
	}
	rec.Data = data
	rec.CreatedAt = time.UnixMilli(createdAt)

	tags, err := s.recordTags(ctx, []string{id})
	if err != nil {
		return record.Record{}, err
	}
	rec.Tags = tags[id]
	return rec, nil
}

// SearchRecords returns record metadata and tags, without data.
func (s *Store) SearchRecords(ctx context.Context, q record.Query) ([]record.Record, error) {
	var where []string
	var args []any

	if len(q.Owners) > 0 {
		owners := make([]string, 0, len(q.Owners))
		for _, owner := range q.Owners {
			owners = append(owners, strings.ToLower(strings.TrimSpace(owner)))
		}
		where = append(where, "r.owner IN ("+placeholders(len(owners))+")")
		args = append(args, stringArgs(owners)...)
	}

	names := make([]string, 0, len(q.Tags))
	for name := range q.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := q.Tags[name]
		if len(values) == 0 {
			continue
		}
		where = append(where, "EXISTS (SELECT 1 FROM record_tags t WHERE t.record_id = r.id AND t.name = ? AND t.value IN ("+placeholders(len(values))+"))")
		args = append(args, name)
		args = append(args, stringArgs(values)...)
	}

	query := "SELECT r.id, r.owner, r.size, r.created_at FROM records r"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if q.Order == record.Oldest {
		query += " ORDER BY r.created_at ASC, r.seq ASC"
	} else {
		query += " ORDER BY r.created_at DESC, r.seq DESC"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	var records []record.Record
	var ids []string
	for rows.Next() {
		var rec record.Record
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.Size, &createdAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, rec)
		ids = append(ids, rec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	if len(ids) == 0 {
		return records, nil
	}

	tags, err := s.recordTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Tags = tags[records[i].ID]
	}
	return records, nil
}

func (s *Store) recordTags(ctx context.Context, ids []string) (map[string]record.Tags, error) {
	query := fmt.Sprintf(`SELECT record_id, name, value FROM record_tags
        WHERE record_id IN (%s) ORDER BY id;`, placeholders(len(ids)))
	rows, err := s.db.QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("list record tags: %w", err)
	}
	defer rows.Close()

	result := make(map[string]record.Tags, len(ids))
	for rows.Next() {
		var id string
		var tag record.Tag
		if err := rows.Scan(&id, &tag.Name, &tag.Value); err != nil {
			return nil, fmt.Errorf("list record tags: %w", err)
		}
		result[id] = append(result[id], tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list record tags: %w", err)
	}
	return result, nil
}
