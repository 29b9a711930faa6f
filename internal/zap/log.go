package zap

import (
	"fmt"
	"sort"
	"time"

	"github.com/bridgbox/bridgbox/internal/record"
)

type State int

const (
	StateActive State = iota
	StateDeactivated
)

func (s State) String() string {
	if s == StateDeactivated {
		return "deactivated"
	}
	return "active"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "active":
		*s = StateActive
	case "deactivated":
		*s = StateDeactivated
	default:
		return fmt.Errorf("unknown state %q", text)
	}
	return nil
}

// Status is either Active or Deactivated. For a deactivated item
// OriginalID names the item and At is when it was turned off.
type Status struct {
	State      State     `json:"state"`
	OriginalID string    `json:"originalId,omitempty"`
	At         time.Time `json:"at,omitempty"`
}

func Active() Status { return Status{State: StateActive} }

func Deactivated(originalID string, at time.Time) Status {
	return Status{State: StateDeactivated, OriginalID: originalID, At: at}
}

func (s Status) IsActive() bool { return s.State == StateActive }

// Item is one automation or escrow with its folded status. Exactly one of
// Zap and Escrow is set.
type Item struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Kind      Kind      `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	Status    Status    `json:"status"`
	Zap       *Zap      `json:"zap,omitempty"`
	Escrow    *Escrow   `json:"escrow,omitempty"`
}

// Resolve folds a record log into items, newest first. Records that
// cannot be decoded are skipped. A deactivation only applies when it was
// written by the item's owner or, for escrows, by a party allowed to
// release it.
func Resolve(entries []record.Record) []Item {
	log := append([]record.Record(nil), entries...)
	sort.SliceStable(log, func(i, j int) bool {
		if !log[i].CreatedAt.Equal(log[j].CreatedAt) {
			return log[i].CreatedAt.Before(log[j].CreatedAt)
		}
		return log[i].ID < log[j].ID
	})

	type deactivation struct {
		by string
		at time.Time
	}
	offs := map[string][]deactivation{}
	var items []Item
	for _, rec := range log {
		app, _ := rec.Tags.Get(record.TagAppName)
		switch app {
		case record.AppDeactivation:
			target, ok := rec.Tags.Get(record.TagDeactivates)
			if !ok || target == "" {
				continue
			}
			offs[target] = append(offs[target], deactivation{by: rec.Owner, at: rec.CreatedAt})
		case record.AppZaps:
			z, err := DecodeZap(rec.Data)
			if err != nil {
				continue
			}
			z.ID, z.Owner = rec.ID, rec.Owner
			items = append(items, Item{ID: rec.ID, Owner: rec.Owner, Kind: KindAutomation, CreatedAt: rec.CreatedAt, Zap: &z})
		case record.AppEscrows:
			e, err := DecodeEscrow(rec.Data)
			if err != nil {
				continue
			}
			e.ID = rec.ID
			items = append(items, Item{ID: rec.ID, Owner: rec.Owner, Kind: KindEscrow, CreatedAt: rec.CreatedAt, Escrow: &e})
		}
	}

	for i := range items {
		item := &items[i]
		item.Status = Active()
		for _, off := range offs[item.ID] {
			if off.by == item.Owner || (item.Escrow != nil && item.Escrow.CanRelease(off.by)) {
				item.Status = Deactivated(item.ID, off.at)
				break
			}
		}
		if item.Status.IsActive() && !item.payloadActive() {
			item.Status = Deactivated(item.ID, item.CreatedAt)
		}
		if item.Zap != nil {
			item.Zap.IsActive = item.Status.IsActive()
		}
		if item.Escrow != nil {
			item.Escrow.IsActive = item.Status.IsActive()
			item.Escrow.IsLocked = item.Escrow.IsLocked && item.Status.IsActive()
		}
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items
}

// ActiveZaps returns the automations among items that are still on.
func ActiveZaps(items []Item) []Zap {
	var zaps []Zap
	for _, item := range items {
		if item.Zap != nil && item.Status.IsActive() {
			zaps = append(zaps, *item.Zap)
		}
	}
	return zaps
}

func (it Item) payloadActive() bool {
	switch {
	case it.Zap != nil:
		return it.Zap.IsActive
	case it.Escrow != nil:
		return it.Escrow.IsActive
	}
	return false
}
