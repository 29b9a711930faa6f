package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bridgbox/bridgbox/internal/store"
)

const KindMessage = "message"

type Mailbox interface {
	PushNotification(ctx context.Context, n store.Notification) error
	DrainNotifications(ctx context.Context, address string) ([]store.Notification, error)
	AckNotification(ctx context.Context, address, id string) error
}

// Notifier writes each event to the recipient's durable mailbox and then
// pushes it to any live subscribers.
type Notifier struct {
	mailbox Mailbox
	hub     *Hub
	logger  *slog.Logger
}

func NewNotifier(mailbox Mailbox, hub *Hub, logger *slog.Logger) *Notifier {
	return &Notifier{mailbox: mailbox, hub: hub, logger: logger}
}

func (n *Notifier) Deliver(ctx context.Context, recipients []string, kind, id string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	event := Event{Kind: kind, ID: id, Payload: data}
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	now := time.Now()
	for _, address := range recipients {
		if err := n.mailbox.PushNotification(ctx, store.Notification{
			Address:   address,
			ID:        id,
			Payload:   encoded,
			CreatedAt: now,
		}); err != nil {
			return err
		}
	}
	n.hub.Publish(recipients, event)
	return nil
}

// Drain returns and removes pending events for address.
func (n *Notifier) Drain(ctx context.Context, address string) ([]Event, error) {
	pending, err := n.mailbox.DrainNotifications(ctx, address)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(pending))
	for _, p := range pending {
		var event Event
		if err := json.Unmarshal(p.Payload, &event); err != nil {
			n.logger.Warn("drop malformed notification", "address", address, "id", p.ID, "error", err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Subscribe streams live events for address until ctx ends.
func (n *Notifier) Subscribe(ctx context.Context, address string) <-chan Event {
	return n.hub.Subscribe(ctx, address)
}

// Ack removes a delivered event from the durable mailbox.
func (n *Notifier) Ack(ctx context.Context, address, id string) error {
	return n.mailbox.AckNotification(ctx, address, id)
}
