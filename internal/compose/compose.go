// Package compose turns drafts into stored messages and delivers them to
// their recipients, and loads a user's mailbox back out of the record
// store.
package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/bridgbox/bridgbox/internal/mailbox"
	"github.com/bridgbox/bridgbox/internal/notify"
	"github.com/bridgbox/bridgbox/internal/pow"
	"github.com/bridgbox/bridgbox/internal/record"
	"github.com/bridgbox/bridgbox/internal/session"
	"github.com/bridgbox/bridgbox/internal/zap"
)

var (
	ErrNoRecipients     = errors.New("at least one recipient is required")
	ErrNoSubject        = errors.New("a subject is required")
	ErrUnknownRecipient = errors.New("recipient not found")
	ErrProofRequired    = errors.New("proof of work required")
	ErrProofInvalid     = errors.New("proof of work does not verify")
	ErrInvalidPayment   = errors.New("payment amount must be positive")
	ErrAttachment       = errors.New("attachment not available")
)

type Records interface {
	PutRecord(ctx context.Context, owner string, tags record.Tags, data []byte, now time.Time) (string, error)
	GetRecord(ctx context.Context, id string) (record.Record, error)
	SearchRecords(ctx context.Context, q record.Query) ([]record.Record, error)
}

type Directory interface {
	Resolve(ctx context.Context, input string) (string, error)
}

type Notifier interface {
	Deliver(ctx context.Context, recipients []string, kind, id string, payload any) error
}

// Profiles holds the per-user read and hidden thread state.
type Profiles = session.Store

type Automations interface {
	ActiveZaps(ctx context.Context, owner string) ([]zap.Zap, error)
}

type Runner interface {
	Run(ctx context.Context, zaps []zap.Zap, event zap.Event) []zap.Outcome
}

type Options struct {
	PowDifficulty int
	PowPrefix     string
	FetchLimit    int
}

type Service struct {
	records   Records
	directory Directory
	notifier  Notifier
	profiles  Profiles
	opts      Options
	zaps      Automations
	runner    Runner
	resolver  zap.Resolver
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(records Records, directory Directory, notifier Notifier, profiles Profiles, opts Options, logger *slog.Logger) *Service {
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 50
	}
	return &Service{
		records:   records,
		directory: directory,
		notifier:  notifier,
		profiles:  profiles,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// UseAutomations runs each recipient's EMAIL_RECEIVED zaps after a
// message is stored.
func (s *Service) UseAutomations(zaps Automations, runner Runner, resolver zap.Resolver) {
	s.zaps = zaps
	s.runner = runner
	s.resolver = resolver
}

// Upload is a new attachment carried inline with a draft.
type Upload struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Draft is a message before it is stored. ThreadID is set for replies;
// Forward lists attachments of an earlier message to carry over.
type Draft struct {
	To        []string             `json:"to"`
	Cc        []string             `json:"cc"`
	Bcc       []string             `json:"bcc"`
	Subject   string               `json:"subject"`
	Body      string               `json:"body"`
	ThreadID  string               `json:"threadId,omitempty"`
	Uploads   []Upload             `json:"uploads,omitempty"`
	Forward   []mailbox.Attachment `json:"forward,omitempty"`
	Payment   *mailbox.Payment     `json:"payment,omitempty"`
	Challenge *pow.Challenge       `json:"challenge,omitempty"`
	Nonce     uint64               `json:"nonce,omitempty"`
}

// RequiresProof reports whether drafts must carry a solved challenge.
func (s *Service) RequiresProof() bool {
	return s.opts.PowDifficulty > 0
}

// NewChallenge issues a challenge with the configured difficulty.
func (s *Service) NewChallenge() (pow.Challenge, error) {
	return pow.NewChallenge(s.opts.PowDifficulty, s.opts.PowPrefix)
}

// Send validates draft, stores it as a message from from and notifies
// every recipient.
func (s *Service) Send(ctx context.Context, from string, draft Draft) (mailbox.Message, error) {
	from = mailbox.NormalizeAddress(from)
	if len(draft.To)+len(draft.Cc)+len(draft.Bcc) == 0 {
		return mailbox.Message{}, ErrNoRecipients
	}
	subject := strings.TrimSpace(draft.Subject)
	if subject == "" {
		return mailbox.Message{}, ErrNoSubject
	}
	if err := s.checkProof(draft); err != nil {
		return mailbox.Message{}, err
	}
	if draft.Payment != nil && !positive(draft.Payment.Amount) {
		return mailbox.Message{}, ErrInvalidPayment
	}

	var recipients mailbox.Recipients
	var err error
	if recipients.To, err = s.resolveAll(ctx, draft.To); err != nil {
		return mailbox.Message{}, err
	}
	if recipients.Cc, err = s.resolveAll(ctx, draft.Cc); err != nil {
		return mailbox.Message{}, err
	}
	if recipients.Bcc, err = s.resolveAll(ctx, draft.Bcc); err != nil {
		return mailbox.Message{}, err
	}

	uploads := append([]Upload(nil), draft.Uploads...)
	for _, att := range draft.Forward {
		rec, err := s.records.GetRecord(ctx, att.ContentID)
		if err != nil {
			return mailbox.Message{}, fmt.Errorf("%w: %s", ErrAttachment, att.FileName)
		}
		mime := att.MimeType
		if mime == "" {
			mime = rec.ContentType()
		}
		uploads = append(uploads, Upload{FileName: att.FileName, MimeType: mime, Data: rec.Data})
	}

	msg := mailbox.Message{
		From:       from,
		Recipients: recipients,
		Subject:    subject,
		Body:       draft.Body,
		Payment:    draft.Payment,
		ThreadID:   strings.TrimSpace(draft.ThreadID),
	}
	return s.publish(ctx, msg, uploads, true)
}

// Deliver sends a plain message without attachments or proof of work.
// Automations send mail through it, and mail sent this way does not
// trigger the recipient's own automations.
func (s *Service) Deliver(ctx context.Context, from, to, subject, body string) (string, error) {
	msg := mailbox.Message{
		From:       mailbox.NormalizeAddress(from),
		Recipients: mailbox.Recipients{To: []string{mailbox.NormalizeAddress(to)}},
		Subject:    strings.TrimSpace(subject),
		Body:       body,
	}
	if msg.Subject == "" {
		return "", ErrNoSubject
	}
	stored, err := s.publish(ctx, msg, nil, false)
	if err != nil {
		return "", err
	}
	return stored.ID, nil
}

// Publish stores uploads and msg and notifies the recipients. Recipients
// must already be resolved addresses. A missing thread ID is filled in.
// The timestamp is never later than the time of receipt.
func (s *Service) Publish(ctx context.Context, msg mailbox.Message, uploads []Upload) (mailbox.Message, error) {
	return s.publish(ctx, msg, uploads, true)
}

func (s *Service) publish(ctx context.Context, msg mailbox.Message, uploads []Upload, automate bool) (mailbox.Message, error) {
	now := s.now()
	recipients := msg.Recipients.All()
	if len(recipients) == 0 {
		return mailbox.Message{}, ErrNoRecipients
	}

	for _, up := range uploads {
		mime := up.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		id, err := s.records.PutRecord(ctx, msg.From, record.Tags{{Name: record.TagContentType, Value: mime}}, up.Data, now)
		if err != nil {
			return mailbox.Message{}, fmt.Errorf("upload attachment %s: %w", up.FileName, err)
		}
		msg.Attachments = append(msg.Attachments, mailbox.Attachment{
			FileName:  up.FileName,
			ContentID: id,
			Size:      int64(len(up.Data)),
			MimeType:  mime,
		})
	}
	if msg.Attachments == nil {
		msg.Attachments = []mailbox.Attachment{}
	}
	received := now.UTC().Truncate(time.Millisecond)
	if msg.Timestamp.IsZero() || msg.Timestamp.After(received) {
		msg.Timestamp = mailbox.At(received)
	} else {
		msg.Timestamp = mailbox.At(msg.Timestamp.UTC().Truncate(time.Millisecond))
	}
	if msg.ThreadID == "" {
		msg.ThreadID = mailbox.NewThreadID(append([]string{msg.From}, recipients...), now)
	}
	msg.ID = ""

	data, err := json.Marshal(msg)
	if err != nil {
		return mailbox.Message{}, fmt.Errorf("encode message: %w", err)
	}
	tags := record.Tags{
		{Name: record.TagContentType, Value: "application/json"},
		{Name: record.TagAppName, Value: record.AppEmail},
		{Name: record.TagThreadID, Value: msg.ThreadID},
	}
	for _, address := range recipients {
		tags = append(tags, record.Tag{Name: record.TagRecipient, Value: address})
	}
	id, err := s.records.PutRecord(ctx, msg.From, tags, data, now)
	if err != nil {
		return mailbox.Message{}, fmt.Errorf("upload message: %w", err)
	}
	msg.ID = id

	for _, address := range recipients {
		if err := s.notifier.Deliver(ctx, []string{address}, notify.KindMessage, id, redactBcc(msg, address)); err != nil {
			s.logger.Error("notify recipient", "message", id, "recipient", address, "error", err)
		}
	}
	if err := s.unhideSent(ctx, msg.From, msg.ThreadID); err != nil {
		s.logger.Warn("unhide sent thread", "thread", msg.ThreadID, "error", err)
	}

	s.logger.Info("message stored", "id", id, "from", msg.From, "recipients", len(recipients), "thread", msg.ThreadID)
	if automate {
		s.runEmailZaps(ctx, msg, recipients)
	}
	return msg, nil
}

func (s *Service) unhideSent(ctx context.Context, sender, threadID string) error {
	sess, err := session.Load(ctx, s.profiles, sender)
	if err != nil {
		return err
	}
	if !sess.IsHidden(mailbox.BoxSent, threadID) {
		return nil
	}
	return session.Save(ctx, s.profiles, sess, sess.Unhide(mailbox.BoxSent, threadID))
}

func (s *Service) runEmailZaps(ctx context.Context, msg mailbox.Message, recipients []string) {
	if s.zaps == nil || s.runner == nil {
		return
	}
	for _, owner := range recipients {
		if owner == msg.From {
			continue
		}
		rules, err := s.zaps.ActiveZaps(ctx, owner)
		if err != nil {
			s.logger.Error("load zaps", "owner", owner, "error", err)
			continue
		}
		matched := zap.MatchEmailReceived(ctx, rules, msg.From, s.resolver)
		if len(matched) == 0 {
			continue
		}
		s.runner.Run(ctx, matched, zap.Event{
			Owner:     owner,
			Trigger:   zap.TriggerEmailReceived,
			From:      msg.From,
			MessageID: msg.ID,
		})
	}
}

func (s *Service) checkProof(draft Draft) error {
	if !s.RequiresProof() {
		return nil
	}
	if draft.Challenge == nil {
		return ErrProofRequired
	}
	prefix := s.opts.PowPrefix
	if prefix == "" {
		prefix = pow.DefaultPrefix
	}
	if !strings.HasPrefix(draft.Challenge.Text, prefix+":") || draft.Challenge.Difficulty < s.opts.PowDifficulty {
		return ErrProofInvalid
	}
	if !pow.Verify(*draft.Challenge, draft.Nonce) {
		return ErrProofInvalid
	}
	return nil
}

func (s *Service) resolveAll(ctx context.Context, inputs []string) ([]string, error) {
	resolved := make([]string, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		address, err := s.directory.Resolve(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRecipient, input)
		}
		resolved = append(resolved, address)
	}
	return resolved, nil
}

// redactBcc hides the blind copy list from everyone but the sender. A
// blind recipient still sees their own address.
func redactBcc(msg mailbox.Message, viewer string) mailbox.Message {
	if msg.SentBy(viewer) || len(msg.Recipients.Bcc) == 0 {
		return msg
	}
	viewer = mailbox.NormalizeAddress(viewer)
	var kept []string
	for _, addr := range msg.Recipients.Bcc {
		if mailbox.NormalizeAddress(addr) == viewer {
			kept = append(kept, addr)
		}
	}
	msg.Recipients.Bcc = kept
	return msg
}

func positive(amount string) bool {
	value, ok := new(big.Rat).SetString(strings.TrimSpace(amount))
	return ok && value.Sign() > 0
}
