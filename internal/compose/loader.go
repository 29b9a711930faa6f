package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bridgbox/bridgbox/internal/mailbox"
	"github.com/bridgbox/bridgbox/internal/record"
)

var ErrMessageNotFound = errors.New("message not found")

// Mailbox loads the most recent messages address sent or received. Each
// direction is capped at the configured fetch limit.
func (s *Service) Mailbox(ctx context.Context, address string) ([]mailbox.Message, error) {
	address = mailbox.NormalizeAddress(address)
	sent, err := s.records.SearchRecords(ctx, record.Query{
		Owners: []string{address},
		Tags:   map[string][]string{record.TagAppName: {record.AppEmail}},
		Limit:  s.opts.FetchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("search sent mail: %w", err)
	}
	received, err := s.records.SearchRecords(ctx, record.Query{
		Tags: map[string][]string{
			record.TagAppName:   {record.AppEmail},
			record.TagRecipient: {address},
		},
		Limit: s.opts.FetchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("search received mail: %w", err)
	}

	seen := map[string]struct{}{}
	var messages []mailbox.Message
	for _, meta := range append(sent, received...) {
		if _, ok := seen[meta.ID]; ok {
			continue
		}
		seen[meta.ID] = struct{}{}
		msg, err := s.load(ctx, meta.ID)
		if err != nil {
			s.logger.Warn("skip unreadable message", "id", meta.ID, "error", err)
			continue
		}
		messages = append(messages, redactBcc(msg, address))
	}
	return messages, nil
}

// Message returns one message if viewer sent or received it.
func (s *Service) Message(ctx context.Context, viewer, id string) (mailbox.Message, error) {
	msg, err := s.load(ctx, id)
	if err != nil {
		return mailbox.Message{}, ErrMessageNotFound
	}
	if !canView(msg, viewer) {
		return mailbox.Message{}, ErrMessageNotFound
	}
	return redactBcc(msg, viewer), nil
}

// ThreadKnown reports whether any stored message carries threadID.
func (s *Service) ThreadKnown(ctx context.Context, threadID string) (bool, error) {
	if threadID == "" {
		return false, nil
	}
	found, err := s.records.SearchRecords(ctx, record.Query{
		Tags: map[string][]string{
			record.TagAppName:  {record.AppEmail},
			record.TagThreadID: {threadID},
		},
		Limit: 1,
	})
	if err != nil {
		return false, fmt.Errorf("search thread: %w", err)
	}
	return len(found) > 0, nil
}

// ThreadOf returns the thread of a stored message by record ID. Inbound
// replies reference the record ID in their Message-ID headers.
func (s *Service) ThreadOf(ctx context.Context, messageID string) (string, bool) {
	msg, err := s.load(ctx, messageID)
	if err != nil || msg.ThreadID == "" {
		return "", false
	}
	return msg.ThreadID, true
}

// Attachment returns the stored bytes of an attachment of a message the
// viewer can see.
func (s *Service) Attachment(ctx context.Context, viewer, messageID, contentID string) (mailbox.Attachment, []byte, error) {
	msg, err := s.Message(ctx, viewer, messageID)
	if err != nil {
		return mailbox.Attachment{}, nil, err
	}
	for _, att := range msg.Attachments {
		if att.ContentID != contentID {
			continue
		}
		rec, err := s.records.GetRecord(ctx, contentID)
		if err != nil {
			return mailbox.Attachment{}, nil, fmt.Errorf("%w: %s", ErrAttachment, att.FileName)
		}
		return att, rec.Data, nil
	}
	return mailbox.Attachment{}, nil, ErrAttachment
}

func (s *Service) load(ctx context.Context, id string) (mailbox.Message, error) {
	rec, err := s.records.GetRecord(ctx, id)
	if err != nil {
		return mailbox.Message{}, err
	}
	if app, _ := rec.Tags.Get(record.TagAppName); app != record.AppEmail {
		return mailbox.Message{}, ErrMessageNotFound
	}
	var msg mailbox.Message
	if err := json.Unmarshal(rec.Data, &msg); err != nil {
		return mailbox.Message{}, fmt.Errorf("decode message %s: %w", id, err)
	}
	msg.ID = rec.ID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = mailbox.At(rec.CreatedAt)
	}
	return msg, nil
}

func canView(msg mailbox.Message, viewer string) bool {
	if msg.SentBy(viewer) {
		return true
	}
	viewer = mailbox.NormalizeAddress(viewer)
	for _, address := range msg.Recipients.All() {
		if address == viewer {
			return true
		}
	}
	return false
}
