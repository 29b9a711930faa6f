// Package drive stores user files as records and keeps the per-file
// access list.
package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bridgbox/bridgbox/internal/record"
	"github.com/bridgbox/bridgbox/internal/store"
	"github.com/bridgbox/bridgbox/internal/zap"
)

// DefaultQuota is the storage each user gets, 5 GiB.
const DefaultQuota int64 = 5 << 30

const maxFileNameLength = 255

var (
	ErrNotFound      = errors.New("file not found")
	ErrForbidden     = errors.New("only the owner can change this file")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrEmptyFile     = errors.New("file is empty")
	ErrInvalidName   = errors.New("file name is required")
)

type Store interface {
	PutRecord(ctx context.Context, owner string, tags record.Tags, data []byte, now time.Time) (string, error)
	GetRecord(ctx context.Context, id string) (record.Record, error)
	InsertDriveFile(ctx context.Context, file store.DriveFile, quota int64) error
	GetDriveFile(ctx context.Context, id string) (store.DriveFile, error)
	ListOwnedFiles(ctx context.Context, owner string, offset, limit int32) ([]store.DriveFile, int32, error)
	ListSharedFiles(ctx context.Context, address string) ([]store.DriveFile, error)
	ShareDriveFile(ctx context.Context, id, address string) error
	RenameDriveFile(ctx context.Context, id, name string) error
	DeleteDriveFile(ctx context.Context, id string) error
	StorageUsed(ctx context.Context, owner string) (int64, error)
}

// Automations supplies the owner's active zaps and runs them.
type Automations interface {
	ActiveZaps(ctx context.Context, owner string) ([]zap.Zap, error)
}

type Runner interface {
	Run(ctx context.Context, zaps []zap.Zap, event zap.Event) []zap.Outcome
}

type Service struct {
	store    Store
	resolver zap.Resolver
	quota    int64
	zaps     Automations
	runner   Runner
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(st Store, resolver zap.Resolver, quota int64, logger *slog.Logger) *Service {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &Service{store: st, resolver: resolver, quota: quota, logger: logger, now: time.Now}
}

// UseAutomations enables FILE_UPLOAD zaps. The runner shares files back
// through this service, so it is attached after construction.
func (s *Service) UseAutomations(zaps Automations, runner Runner) {
	s.zaps = zaps
	s.runner = runner
}

type Usage struct {
	Used  int64 `json:"used"`
	Quota int64 `json:"quota"`
}

func (s *Service) Usage(ctx context.Context, owner string) (Usage, error) {
	used, err := s.store.StorageUsed(ctx, normalize(owner))
	if err != nil {
		return Usage{}, err
	}
	return Usage{Used: used, Quota: s.quota}, nil
}

// Upload stores data for owner and then runs the owner's matching
// FILE_UPLOAD zaps.
func (s *Service) Upload(ctx context.Context, owner, fileName, mimeType string, data []byte) (store.DriveFile, []zap.Outcome, error) {
	owner = normalize(owner)
	fileName = strings.TrimSpace(fileName)
	if fileName == "" || len(fileName) > maxFileNameLength {
		return store.DriveFile{}, nil, ErrInvalidName
	}
	if len(data) == 0 {
		return store.DriveFile{}, nil, ErrEmptyFile
	}
	usage, err := s.Usage(ctx, owner)
	if err != nil {
		return store.DriveFile{}, nil, err
	}
	if usage.Used+int64(len(data)) > s.quota {
		return store.DriveFile{}, nil, ErrQuotaExceeded
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	now := s.now()
	recordID, err := s.store.PutRecord(ctx, owner, record.Tags{
		{Name: record.TagContentType, Value: mimeType},
		{Name: record.TagAppName, Value: record.AppDrive},
	}, data, now)
	if err != nil {
		return store.DriveFile{}, nil, fmt.Errorf("upload file: %w", err)
	}
	file := store.DriveFile{
		ID:        uuid.NewString(),
		Owner:     owner,
		FileName:  fileName,
		RecordID:  recordID,
		Size:      int64(len(data)),
		MimeType:  mimeType,
		CreatedAt: now,
	}
	if err := s.store.InsertDriveFile(ctx, file, s.quota); err != nil {
		if errors.Is(err, store.ErrQuota) {
			return store.DriveFile{}, nil, ErrQuotaExceeded
		}
		return store.DriveFile{}, nil, err
	}
	s.logger.Info("file uploaded", "id", file.ID, "owner", owner, "size", file.Size)

	outcomes := s.runUploadZaps(ctx, file)
	if len(outcomes) > 0 {
		if refreshed, err := s.store.GetDriveFile(ctx, file.ID); err == nil {
			file = refreshed
		}
	}
	return file, outcomes, nil
}

func (s *Service) runUploadZaps(ctx context.Context, file store.DriveFile) []zap.Outcome {
	if s.zaps == nil || s.runner == nil {
		return nil
	}
	rules, err := s.zaps.ActiveZaps(ctx, file.Owner)
	if err != nil {
		s.logger.Error("load zaps", "owner", file.Owner, "error", err)
		return nil
	}
	matched := zap.MatchFileUpload(rules, file.FileName)
	if len(matched) == 0 {
		return nil
	}
	return s.runner.Run(ctx, matched, zap.Event{
		Owner:    file.Owner,
		Trigger:  zap.TriggerFileUpload,
		FileID:   file.ID,
		FileName: file.FileName,
	})
}

func (s *Service) List(ctx context.Context, owner string, offset, limit int32) ([]store.DriveFile, int32, error) {
	return s.store.ListOwnedFiles(ctx, normalize(owner), offset, limit)
}

func (s *Service) Shared(ctx context.Context, address string) ([]store.DriveFile, error) {
	return s.store.ListSharedFiles(ctx, normalize(address))
}

// Share resolves with (address, username or alias) and grants it access.
func (s *Service) Share(ctx context.Context, owner, fileID, with string) (string, error) {
	address, err := s.resolver.ResolveAlias(ctx, with)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", with, err)
	}
	if err := s.ShareFile(ctx, owner, fileID, address); err != nil {
		return "", err
	}
	return address, nil
}

// ShareFile adds an already resolved address to the file's access list.
func (s *Service) ShareFile(ctx context.Context, owner, fileID, address string) error {
	if _, err := s.owned(ctx, owner, fileID); err != nil {
		return err
	}
	if err := s.store.ShareDriveFile(ctx, fileID, normalize(address)); err != nil {
		return mapNotFound(err)
	}
	return nil
}

func (s *Service) Rename(ctx context.Context, owner, fileID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxFileNameLength {
		return ErrInvalidName
	}
	if _, err := s.owned(ctx, owner, fileID); err != nil {
		return err
	}
	return mapNotFound(s.store.RenameDriveFile(ctx, fileID, name))
}

func (s *Service) Delete(ctx context.Context, owner, fileID string) error {
	if _, err := s.owned(ctx, owner, fileID); err != nil {
		return err
	}
	return mapNotFound(s.store.DeleteDriveFile(ctx, fileID))
}

// Open returns a file's metadata and content for its owner or anyone it
// is shared with.
func (s *Service) Open(ctx context.Context, viewer, fileID string) (store.DriveFile, []byte, error) {
	viewer = normalize(viewer)
	file, err := s.store.GetDriveFile(ctx, fileID)
	if err != nil {
		return store.DriveFile{}, nil, mapNotFound(err)
	}
	if file.Owner != viewer && !slices.Contains(file.SharedWith, viewer) {
		return store.DriveFile{}, nil, ErrNotFound
	}
	rec, err := s.store.GetRecord(ctx, file.RecordID)
	if err != nil {
		return store.DriveFile{}, nil, fmt.Errorf("open file %s: %w", fileID, err)
	}
	return file, rec.Data, nil
}

func (s *Service) owned(ctx context.Context, owner, fileID string) (store.DriveFile, error) {
	file, err := s.store.GetDriveFile(ctx, fileID)
	if err != nil {
		return store.DriveFile{}, mapNotFound(err)
	}
	owner = normalize(owner)
	if file.Owner != owner {
		if slices.Contains(file.SharedWith, owner) {
			return store.DriveFile{}, ErrForbidden
		}
		return store.DriveFile{}, ErrNotFound
	}
	return file, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
