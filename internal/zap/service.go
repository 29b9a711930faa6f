package zap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bridgbox/bridgbox/internal/record"
)

var ErrNotFound = errors.New("item not found")

// Records is the append-only log items live in.
type Records interface {
	PutRecord(ctx context.Context, owner string, tags record.Tags, data []byte, now time.Time) (string, error)
	GetRecord(ctx context.Context, id string) (record.Record, error)
	SearchRecords(ctx context.Context, q record.Query) ([]record.Record, error)
}

type Service struct {
	records Records
	schemas *Schemas
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(records Records, schemas *Schemas, logger *slog.Logger) *Service {
	return &Service{records: records, schemas: schemas, logger: logger, now: time.Now}
}

// CreateZap validates raw and appends it as a new active automation.
func (s *Service) CreateZap(ctx context.Context, owner string, raw []byte) (Zap, error) {
	if err := s.schemas.ValidateAutomation(raw); err != nil {
		return Zap{}, err
	}
	z, err := DecodeZap(raw)
	if err != nil {
		return Zap{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	now := s.now()
	z.Type = KindAutomation
	z.Version = zapVersion
	z.IsActive = true
	z.CreatedAt = now.UTC()
	z.Owner = ""
	z.ID = ""
	z.Trigger.Filter.FileNameContains = strings.TrimSpace(z.Trigger.Filter.FileNameContains)
	z.Trigger.Filter.FromAddress = strings.TrimSpace(z.Trigger.Filter.FromAddress)

	id, err := s.put(ctx, owner, record.AppZaps, z, now)
	if err != nil {
		return Zap{}, err
	}
	z.ID, z.Owner = id, strings.ToLower(owner)
	return z, nil
}

// CreateEscrow validates the agreement and appends it with owner as the
// client.
func (s *Service) CreateEscrow(ctx context.Context, owner string, raw []byte) (Escrow, error) {
	if err := s.schemas.ValidateEscrow(raw); err != nil {
		return Escrow{}, err
	}
	var in EscrowInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return Escrow{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	now := s.now()
	e, err := NewEscrow(owner, in, now)
	if err != nil {
		return Escrow{}, err
	}
	id, err := s.put(ctx, owner, record.AppEscrows, e, now)
	if err != nil {
		return Escrow{}, err
	}
	e.ID = id
	return e, nil
}

// List returns every automation and escrow owner wrote, with status
// folded in.
func (s *Service) List(ctx context.Context, owner string) ([]Item, error) {
	metas, err := s.records.SearchRecords(ctx, record.Query{
		Owners: []string{owner},
		Tags:   map[string][]string{record.TagAppName: {record.AppZaps, record.AppEscrows}},
		Order:  record.Oldest,
	})
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	if len(metas) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(metas))
	for _, meta := range metas {
		ids = append(ids, meta.ID)
	}
	offs, err := s.records.SearchRecords(ctx, record.Query{
		Tags: map[string][]string{
			record.TagAppName:     {record.AppDeactivation},
			record.TagDeactivates: ids,
		},
		Order: record.Oldest,
	})
	if err != nil {
		return nil, fmt.Errorf("list deactivations: %w", err)
	}

	entries := make([]record.Record, 0, len(metas)+len(offs))
	for _, meta := range metas {
		rec, err := s.records.GetRecord(ctx, meta.ID)
		if err != nil {
			s.logger.Warn("skip unreadable item", "id", meta.ID, "error", err)
			continue
		}
		entries = append(entries, rec)
	}
	entries = append(entries, offs...)
	return Resolve(entries), nil
}

// ActiveZaps returns owner's automations that are still on.
func (s *Service) ActiveZaps(ctx context.Context, owner string) ([]Zap, error) {
	items, err := s.List(ctx, owner)
	if err != nil {
		return nil, err
	}
	return ActiveZaps(items), nil
}

// Deactivate turns an item off by appending a deactivation record. Owners
// can turn off their own items; escrows can also be released by the
// arbiter.
func (s *Service) Deactivate(ctx context.Context, by, id string) (Status, error) {
	by = strings.ToLower(strings.TrimSpace(by))
	rec, err := s.records.GetRecord(ctx, id)
	if err != nil {
		return Status{}, ErrNotFound
	}
	app, _ := rec.Tags.Get(record.TagAppName)
	switch app {
	case record.AppZaps:
		if rec.Owner != by {
			return Status{}, ErrNotFound
		}
	case record.AppEscrows:
		e, err := DecodeEscrow(rec.Data)
		if err != nil {
			return Status{}, ErrNotFound
		}
		if !e.CanRelease(by) {
			if e.Involves(by) {
				return Status{}, ErrNotParty
			}
			return Status{}, ErrNotFound
		}
	default:
		return Status{}, ErrNotFound
	}

	now := s.now()
	payload, err := json.Marshal(map[string]string{
		"deactivatedAt": now.UTC().Format(time.RFC3339Nano),
		"targetTx":      id,
	})
	if err != nil {
		return Status{}, fmt.Errorf("encode deactivation: %w", err)
	}
	tags := record.Tags{
		{Name: record.TagContentType, Value: "application/json"},
		{Name: record.TagAppName, Value: record.AppDeactivation},
		{Name: record.TagDeactivates, Value: id},
	}
	if _, err := s.records.PutRecord(ctx, by, tags, payload, now); err != nil {
		return Status{}, fmt.Errorf("deactivate %s: %w", id, err)
	}
	return Deactivated(id, now), nil
}

func (s *Service) put(ctx context.Context, owner, app string, payload any, now time.Time) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", app, err)
	}
	tags := record.Tags{
		{Name: record.TagContentType, Value: "application/json"},
		{Name: record.TagAppName, Value: app},
	}
	id, err := s.records.PutRecord(ctx, owner, tags, data, now)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", app, err)
	}
	return id, nil
}
