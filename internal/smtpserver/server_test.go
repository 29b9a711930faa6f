package smtpserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/bridgbox/bridgbox/internal/compose"
	"github.com/bridgbox/bridgbox/internal/directory"
	"github.com/bridgbox/bridgbox/internal/mailbox"
	"github.com/bridgbox/bridgbox/internal/notify"
	profile "github.com/bridgbox/bridgbox/internal/session"
	"github.com/bridgbox/bridgbox/internal/store"
)

const (
	domain = "bridgbox.cloud"
	bob    = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

const multipartMessage = "From: Alice <Alice@Example.org>\r\n" +
	"To: bob@bridgbox.cloud\r\n" +
	"Subject: Quarterly numbers\r\n" +
	"Date: Tue, 14 Nov 2023 22:13:20 +0000\r\n" +
	"In-Reply-To: <abc@bridgbox.cloud>\r\n" +
	"References: <root@elsewhere.net> <abc@bridgbox.cloud>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=outer\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=inner\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"See attached.\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>See attached.</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: text/csv\r\n" +
	"Content-Disposition: attachment; filename=\"q3.csv\"\r\n" +
	"\r\n" +
	"month,total\r\n" +
	"--outer--\r\n"

func TestParseMessage(t *testing.T) {
	in, err := parseMessage([]byte(multipartMessage))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if in.From != "alice@example.org" || in.Subject != "Quarterly numbers" {
		t.Fatalf("header fields = %+v", in)
	}
	if in.Text != "See attached." || in.HTML != "<p>See attached.</p>" || in.Body() != in.HTML {
		t.Fatalf("bodies = %q / %q", in.Text, in.HTML)
	}
	if len(in.Attachments) != 1 || in.Attachments[0].FileName != "q3.csv" || in.Attachments[0].MimeType != "text/csv" {
		t.Fatalf("attachments = %+v", in.Attachments)
	}
	want := []string{"abc@bridgbox.cloud", "root@elsewhere.net", "abc@bridgbox.cloud"}
	if strings.Join(in.References, ",") != strings.Join(want, ",") {
		t.Fatalf("references = %v", in.References)
	}
	if in.Date.Unix() != 1_700_000_000 {
		t.Fatalf("date = %v", in.Date)
	}
}

func TestParsePlainTextIsEscaped(t *testing.T) {
	raw := "From: mallory@example.org\r\nTo: bob@bridgbox.cloud\r\nSubject: hi\r\n\r\n" +
		"use <script>alert(1)</script> & a<b\r\nsecond line\r\n"
	in, err := parseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := "<p>use &lt;script&gt;alert(1)&lt;/script&gt; &amp; a&lt;b<br>\nsecond line</p>"
	if got := in.Body(); got != want {
		t.Fatalf("body = %q, want %q", got, want)
	}
	if got := (Inbound{Text: "\r\n"}).Body(); got != "" {
		t.Fatalf("blank body = %q", got)
	}
}

func TestExportRoundTrip(t *testing.T) {
	msg := mailbox.Message{
		ID:         "rec1",
		From:       "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Recipients: mailbox.Recipients{To: []string{bob}, Bcc: []string{"0xcccccccccccccccccccccccccccccccccccccccc"}},
		Subject:    "Invoice",
		Body:       "<p>Attached.</p>",
		Timestamp:  mailbox.At(time.UnixMilli(1_700_000_000_000)),
		ThreadID:   "thread-1",
		Attachments: []mailbox.Attachment{
			{FileName: "invoice.pdf", ContentID: "att1", MimeType: "application/pdf"},
		},
	}
	var buf bytes.Buffer
	err := Export(&buf, msg, domain, func(id string) ([]byte, error) {
		if id != "att1" {
			return nil, errors.New("unknown attachment")
		}
		return []byte("%PDF-1.4"), nil
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if strings.Contains(buf.String(), "0xcccc") {
		t.Fatal("bcc leaked into export")
	}
	if !strings.Contains(buf.String(), "<rec1@bridgbox.cloud>") {
		t.Fatalf("missing message id:\n%s", buf.String())
	}

	in, err := parseMessage(buf.Bytes())
	if err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if in.From != msg.From+"@"+domain || in.Subject != "Invoice" || in.HTML != "<p>Attached.</p>" {
		t.Fatalf("round trip = %+v", in)
	}
	if in.ThreadHint != "thread-1" {
		t.Fatalf("thread hint = %q", in.ThreadHint)
	}
	if len(in.Attachments) != 1 || string(in.Attachments[0].Data) != "%PDF-1.4" {
		t.Fatalf("attachments = %+v", in.Attachments)
	}
}

func TestExportPlainText(t *testing.T) {
	msg := mailbox.Message{From: bob, Recipients: mailbox.Recipients{To: []string{"carol@example.org"}}, Subject: "hi", Body: "plain words"}
	var buf bytes.Buffer
	if err := Export(&buf, msg, domain, nil); err != nil {
		t.Fatalf("export: %v", err)
	}
	in, err := parseMessage(buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if in.Text != "plain words" || in.HTML != "" {
		t.Fatalf("round trip = %+v", in)
	}
}

func newBackend(t *testing.T) (*backend, *compose.Service, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "smtp.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if err := st.UpsertUser(ctx, bob, time.Now()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	dir := directory.New(st, domain)
	if _, err := dir.Register(ctx, "bob", bob); err != nil {
		t.Fatalf("register: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := compose.NewService(st, dir, notify.NewNotifier(st, notify.NewHub(), logger), st, compose.Options{}, logger)
	return &backend{publisher: svc, directory: dir, logger: logger, domain: domain}, svc, st
}

func TestSessionRejectsUnknownRecipients(t *testing.T) {
	b, _, _ := newBackend(t)
	s := &session{backend: b}

	for _, rcpt := range []string{"nobody@bridgbox.cloud", "bob@elsewhere.net", "not-an-address"} {
		err := s.Rcpt(rcpt, nil)
		var smtpErr *smtp.SMTPError
		if !errors.As(err, &smtpErr) || smtpErr.Code != 550 {
			t.Fatalf("rcpt %q err = %v", rcpt, err)
		}
	}
	if err := s.Rcpt("<Bob@Bridgbox.Cloud>", nil); err != nil {
		t.Fatalf("rcpt bob: %v", err)
	}
	if err := s.Rcpt(bob+"@bridgbox.cloud", nil); err != nil {
		t.Fatalf("rcpt wallet: %v", err)
	}
	if len(s.to) != 1 || s.to[0] != bob {
		t.Fatalf("recipients = %v", s.to)
	}
}

func TestSessionRequiresAuthWhenEnabled(t *testing.T) {
	b, _, _ := newBackend(t)
	b.auth = AuthConfig{Enabled: true, Username: "relay", Password: "secret"}
	s := &session{backend: b}
	if err := s.Mail("alice@example.org", nil); !errors.Is(err, smtp.ErrAuthRequired) {
		t.Fatalf("mail err = %v", err)
	}
	if got := s.AuthMechanisms(); len(got) != 1 {
		t.Fatalf("mechanisms = %v", got)
	}
	server, err := s.Auth("PLAIN")
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	if _, _, err := server.Next([]byte("\x00relay\x00secret")); err != nil {
		t.Fatalf("plain: %v", err)
	}
	if err := s.Mail("alice@example.org", nil); err != nil {
		t.Fatalf("mail after auth: %v", err)
	}
}

func TestSessionStoresAndThreadsReplies(t *testing.T) {
	b, svc, _ := newBackend(t)
	ctx := context.Background()

	first := &session{backend: b}
	if err := first.Mail("alice@example.org", nil); err != nil {
		t.Fatal(err)
	}
	if err := first.Rcpt("bob@bridgbox.cloud", nil); err != nil {
		t.Fatal(err)
	}
	raw := "From: alice@example.org\r\nTo: bob@bridgbox.cloud\r\nSubject: hello\r\n\r\nfirst\r\n"
	if err := first.Data(strings.NewReader(raw)); err != nil {
		t.Fatalf("data: %v", err)
	}

	messages, err := svc.Mailbox(ctx, bob)
	if err != nil || len(messages) != 1 {
		t.Fatalf("mailbox = %v, %v", messages, err)
	}
	stored := messages[0]
	if stored.From != "alice@example.org" || stored.Body != "<p>first</p>" {
		t.Fatalf("stored = %+v", stored)
	}

	reply := &session{backend: b}
	if err := reply.Rcpt("bob@bridgbox.cloud", nil); err != nil {
		t.Fatal(err)
	}
	raw = "From: alice@example.org\r\nTo: bob@bridgbox.cloud\r\nSubject: Re: hello\r\n" +
		"In-Reply-To: <" + MessageID(stored.ID, domain) + ">\r\n\r\nsecond\r\n"
	if err := reply.Data(strings.NewReader(raw)); err != nil {
		t.Fatalf("reply data: %v", err)
	}

	messages, err = svc.Mailbox(ctx, bob)
	if err != nil || len(messages) != 2 {
		t.Fatalf("mailbox = %v, %v", messages, err)
	}
	threads := mailbox.Assemble(messages, bob, nil)
	if len(threads) != 1 {
		t.Fatalf("reply should join the thread: %+v", threads)
	}
}

func TestSessionFutureDateDoesNotPinUnread(t *testing.T) {
	b, svc, st := newBackend(t)
	ctx := context.Background()

	s := &session{backend: b}
	if err := s.Rcpt("bob@bridgbox.cloud", nil); err != nil {
		t.Fatal(err)
	}
	raw := "From: alice@example.org\r\nTo: bob@bridgbox.cloud\r\nSubject: from the future\r\n" +
		"Date: Fri, 01 Jan 2100 00:00:00 +0000\r\n\r\nhello\r\n"
	if err := s.Data(strings.NewReader(raw)); err != nil {
		t.Fatalf("data: %v", err)
	}

	messages, err := svc.Mailbox(ctx, bob)
	if err != nil || len(messages) != 1 {
		t.Fatalf("mailbox = %v, %v", messages, err)
	}
	openedAt := time.Now()
	if messages[0].Timestamp.After(openedAt) {
		t.Fatalf("timestamp %v is later than delivery", messages[0].Timestamp.Time)
	}

	sess, err := profile.Load(ctx, st, bob)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	next := sess.MarkRead(messages[0].Thread(), openedAt)
	if err := profile.Save(ctx, st, sess, next); err != nil {
		t.Fatalf("save session: %v", err)
	}
	reloaded, err := profile.Load(ctx, st, bob)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if threads := reloaded.Threads(messages); len(threads) != 1 || threads[0].IsUnread {
		t.Fatalf("thread should be read after opening: %+v", threads)
	}
}
