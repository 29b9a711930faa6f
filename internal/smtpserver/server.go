package smtpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/bridgbox/bridgbox/internal/compose"
	"github.com/bridgbox/bridgbox/internal/mailbox"
)

const maxMessageBytes = 25 << 20

type AuthConfig struct {
	Enabled  bool
	Username string
	Password string
}

type Config struct {
	Addr   string
	Domain string
	Auth   AuthConfig
}

// Publisher stores inbound mail and maps reply headers back to threads.
type Publisher interface {
	Publish(ctx context.Context, msg mailbox.Message, uploads []compose.Upload) (mailbox.Message, error)
	ThreadOf(ctx context.Context, messageID string) (string, bool)
	ThreadKnown(ctx context.Context, threadID string) (bool, error)
}

type Directory interface {
	Resolve(ctx context.Context, input string) (string, error)
}

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(publisher Publisher, directory Directory, logger *slog.Logger, cfg Config) *Server {
	backend := &backend{
		publisher: publisher,
		directory: directory,
		logger:    logger,
		domain:    strings.ToLower(cfg.Domain),
		auth:      cfg.Auth,
	}
	server := smtp.NewServer(backend)
	server.Addr = cfg.Addr
	server.Domain = backend.domain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = maxMessageBytes

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp server listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	publisher Publisher
	directory Directory
	logger    *slog.Logger
	domain    string
	auth      AuthConfig
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend       *backend
	from          string
	to            []string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.auth.Enabled {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.auth.Enabled {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username == s.backend.auth.Username && password == s.backend.auth.Password {
			s.authenticated = true
			return nil
		}
		return errors.New("invalid credentials")
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.auth.Enabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = normalizeEmail(from)
	return nil
}

// Rcpt accepts only addresses on the served domain that resolve to a
// wallet.
func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.auth.Enabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	address, err := s.backend.resolveRecipient(context.Background(), to)
	if err != nil {
		s.backend.logger.Info("reject smtp recipient", "rcpt", to, "error", err)
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user here",
		}
	}
	for _, existing := range s.to {
		if existing == address {
			return nil
		}
	}
	s.to = append(s.to, address)
	return nil
}

func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	inbound, err := parseMessage(raw)
	if err != nil {
		s.backend.logger.Warn("parse smtp message", "error", err)
	}
	if inbound.From == "" {
		inbound.From = s.from
	}
	if inbound.From == "" {
		inbound.From = "unknown@" + s.backend.domain
	}

	ctx := context.Background()
	msg := mailbox.Message{
		From:       inbound.From,
		Recipients: mailbox.Recipients{To: s.to},
		Subject:    inbound.Subject,
		Body:       inbound.Body(),
		ThreadID:   s.backend.threadFor(ctx, inbound),
	}
	if !inbound.Date.IsZero() {
		msg.Timestamp = mailbox.At(inbound.Date)
	}
	stored, err := s.backend.publisher.Publish(ctx, msg, inbound.Attachments)
	if err != nil {
		s.backend.logger.Error("store smtp message", "error", err)
		return err
	}
	s.backend.logger.Info("smtp message accepted", "id", stored.ID, "from", stored.From, "recipients", len(s.to), "thread", stored.ThreadID)
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

var errForeignDomain = errors.New("recipient domain not served here")

func (b *backend) resolveRecipient(ctx context.Context, rcpt string) (string, error) {
	address := normalizeEmail(rcpt)
	at := strings.LastIndexByte(address, '@')
	if at <= 0 || address[at+1:] != b.domain {
		return "", errForeignDomain
	}
	return b.directory.Resolve(ctx, address)
}

// threadFor picks the thread of the first referenced message this
// instance stored, falling back to an explicit X-Bridgbox-Thread header.
// An empty result starts a new thread.
func (b *backend) threadFor(ctx context.Context, in Inbound) string {
	for _, ref := range in.References {
		local, domain, ok := strings.Cut(ref, "@")
		if !ok || strings.ToLower(domain) != b.domain {
			continue
		}
		if thread, found := b.publisher.ThreadOf(ctx, local); found {
			return thread
		}
	}
	if in.ThreadHint == "" {
		return ""
	}
	known, err := b.publisher.ThreadKnown(ctx, in.ThreadHint)
	if err != nil {
		b.logger.Warn("look up thread hint", "thread", in.ThreadHint, "error", err)
		return ""
	}
	if known {
		return in.ThreadHint
	}
	return ""
}

func normalizeEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	return strings.TrimSuffix(strings.TrimPrefix(email, "<"), ">")
}
