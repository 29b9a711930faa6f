// Package session holds the signed-in user's view of their profile as an
// immutable value. Every update returns a new Session and leaves the
// receiver untouched.
package session

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/bridgbox/bridgbox/internal/mailbox"
	"github.com/bridgbox/bridgbox/internal/store"
)

// Store loads profiles and applies session changes.
type Store interface {
	GetProfile(ctx context.Context, address string) (store.Profile, error)
	MarkThreadRead(ctx context.Context, address, threadID string, at time.Time) error
	HideThreads(ctx context.Context, address, box string, threadIDs []string) error
	UnhideThread(ctx context.Context, address, box, threadID string) error
}

type Session struct {
	address     string
	username    string
	displayName string
	read        map[string]time.Time
	hidden      map[mailbox.Box]map[string]struct{}
}

func New(address string) Session {
	return Session{address: address}
}

// FromProfile builds a session from stored profile state.
func FromProfile(profile store.Profile) Session {
	s := Session{
		address:     profile.Address,
		username:    profile.Username,
		displayName: profile.DisplayName,
		read:        maps.Clone(profile.ReadTimestamps),
		hidden:      map[mailbox.Box]map[string]struct{}{},
	}
	for box, ids := range profile.Hidden {
		s.hidden[mailbox.Box(box)] = maps.Clone(ids)
	}
	return s
}

// Load returns the stored session for address. An address with no
// profile yet gets an empty session.
func Load(ctx context.Context, st Store, address string) (Session, error) {
	profile, err := st.GetProfile(ctx, address)
	if errors.Is(err, store.ErrNotFound) {
		return New(address), nil
	}
	if err != nil {
		return Session{}, err
	}
	return FromProfile(profile), nil
}

// Save writes the read and hidden state that differs between prev and
// next. Both must belong to the same address.
func Save(ctx context.Context, st Store, prev, next Session) error {
	if prev.address != next.address {
		return errors.New("save session: address mismatch")
	}
	for _, id := range slices.Sorted(maps.Keys(next.read)) {
		at := next.read[id]
		if was, ok := prev.read[id]; ok && !at.After(was) {
			continue
		}
		if err := st.MarkThreadRead(ctx, next.address, id, at); err != nil {
			return err
		}
	}
	for _, box := range slices.Sorted(maps.Keys(next.hidden)) {
		var added []string
		for _, id := range slices.Sorted(maps.Keys(next.hidden[box])) {
			if _, ok := prev.hidden[box][id]; !ok {
				added = append(added, id)
			}
		}
		if len(added) == 0 {
			continue
		}
		if err := st.HideThreads(ctx, next.address, string(box), added); err != nil {
			return err
		}
	}
	for _, box := range slices.Sorted(maps.Keys(prev.hidden)) {
		for _, id := range slices.Sorted(maps.Keys(prev.hidden[box])) {
			if _, ok := next.hidden[box][id]; ok {
				continue
			}
			if err := st.UnhideThread(ctx, next.address, string(box), id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s Session) Address() string     { return s.address }
func (s Session) Username() string    { return s.username }
func (s Session) DisplayName() string { return s.displayName }

// ReadState returns a copy of the per-thread read instants.
func (s Session) ReadState() mailbox.ReadState {
	return mailbox.ReadState(maps.Clone(s.read))
}

// Hidden returns a copy of the threads hidden from box.
func (s Session) Hidden(box mailbox.Box) map[string]struct{} {
	return maps.Clone(s.hidden[box])
}

func (s Session) IsHidden(box mailbox.Box, threadID string) bool {
	_, ok := s.hidden[box][threadID]
	return ok
}

func (s Session) WithUsername(username string) Session {
	next := s.clone()
	next.username = username
	return next
}

func (s Session) WithDisplayName(name string) Session {
	next := s.clone()
	next.displayName = name
	return next
}

// MarkRead records that threadID was opened at at. Read instants never
// move backwards.
func (s Session) MarkRead(threadID string, at time.Time) Session {
	next := s.clone()
	if prev, ok := next.read[threadID]; ok && prev.After(at) {
		return next
	}
	next.read[threadID] = at
	return next
}

func (s Session) Hide(box mailbox.Box, threadIDs ...string) Session {
	next := s.clone()
	if next.hidden[box] == nil {
		next.hidden[box] = map[string]struct{}{}
	}
	for _, id := range threadIDs {
		next.hidden[box][id] = struct{}{}
	}
	return next
}

func (s Session) Unhide(box mailbox.Box, threadID string) Session {
	next := s.clone()
	delete(next.hidden[box], threadID)
	return next
}

// Threads assembles messages from this session's point of view.
func (s Session) Threads(messages []mailbox.Message) []mailbox.Thread {
	return mailbox.Assemble(messages, s.address, s.read)
}

func (s Session) clone() Session {
	next := s
	next.read = maps.Clone(s.read)
	if next.read == nil {
		next.read = map[string]time.Time{}
	}
	next.hidden = make(map[mailbox.Box]map[string]struct{}, len(s.hidden))
	for box, ids := range s.hidden {
		next.hidden[box] = maps.Clone(ids)
	}
	return next
}
