package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bridgbox/bridgbox/internal/store"
)

var (
	ErrNotFound    = errors.New("contact not found")
	ErrDuplicate   = errors.New("contact already exists")
	ErrInvalidName = errors.New("contact name is required")
	ErrSelf        = errors.New("cannot add yourself as a contact")
)

type Store interface {
	AddContact(ctx context.Context, contact store.Contact) error
	ListContacts(ctx context.Context, owner string) ([]store.Contact, error)
	RenameContact(ctx context.Context, owner, id, name string) error
	DeleteContact(ctx context.Context, owner, id string) error
}

type Directory interface {
	Resolve(ctx context.Context, input string) (string, error)
}

type Service struct {
	store     Store
	directory Directory
	now       func() time.Time
}

func NewService(st Store, directory Directory) *Service {
	return &Service{store: st, directory: directory, now: time.Now}
}

// Add resolves target through the directory and saves it under name.
func (s *Service) Add(ctx context.Context, owner, name, target string) (store.Contact, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Contact{}, ErrInvalidName
	}
	address, err := s.directory.Resolve(ctx, target)
	if err != nil {
		return store.Contact{}, fmt.Errorf("resolve contact: %w", err)
	}
	owner = strings.ToLower(owner)
	if address == owner {
		return store.Contact{}, ErrSelf
	}
	contact := store.Contact{
		ID:        uuid.NewString(),
		Owner:     owner,
		Name:      name,
		Address:   address,
		CreatedAt: s.now(),
	}
	if err := s.store.AddContact(ctx, contact); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Contact{}, ErrDuplicate
		}
		return store.Contact{}, err
	}
	return contact, nil
}

func (s *Service) List(ctx context.Context, owner string) ([]store.Contact, error) {
	return s.store.ListContacts(ctx, strings.ToLower(owner))
}

func (s *Service) Rename(ctx context.Context, owner, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	return notFound(s.store.RenameContact(ctx, strings.ToLower(owner), id, name))
}

func (s *Service) Delete(ctx context.Context, owner, id string) error {
	return notFound(s.store.DeleteContact(ctx, strings.ToLower(owner), id))
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
