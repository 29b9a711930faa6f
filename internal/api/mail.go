package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/bridgbox/bridgbox/internal/compose"
	"github.com/bridgbox/bridgbox/internal/mailbox"
	"github.com/bridgbox/bridgbox/internal/pagination"
	"github.com/bridgbox/bridgbox/internal/session"
	"github.com/bridgbox/bridgbox/internal/smtpserver"
)

var errThreadNotFound = errors.New("thread not found")

type threadsResponse struct {
	pagination.Page[mailbox.Thread]
	Box    mailbox.Box `json:"box"`
	Unread int         `json:"unread"`
}

// loadMailbox loads the caller's session and every message they can see.
func (s *Server) loadMailbox(r *http.Request) (session.Session, []mailbox.Message, error) {
	sess, err := s.session(r)
	if err != nil {
		return session.Session{}, nil, err
	}
	messages, err := s.deps.Mail.Mailbox(r.Context(), sess.Address())
	if err != nil {
		return session.Session{}, nil, err
	}
	return sess, messages, nil
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	box, ok := mailbox.ParseBox(query.Get("box"))
	if !ok {
		http.Error(w, "invalid box", http.StatusBadRequest)
		return
	}
	sess, messages, err := s.loadMailbox(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	threads := sess.Threads(messages)
	me := sess.Address()
	filtered := mailbox.Filter(threads, me, box, sess.Hidden(box), query.Get("search"))
	params := pagination.FromQuery(query)
	if params.Sort == pagination.SortOldest {
		slices.Reverse(filtered)
	}
	s.respondJSON(w, http.StatusOK, threadsResponse{
		Page:   pagination.Slice(filtered, params),
		Box:    box,
		Unread: mailbox.UnreadCount(threads, me, sess.Hidden(mailbox.BoxInbox)),
	})
}

// handleThread returns one thread and marks it read. The read instant is
// never earlier than the thread's latest message.
func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, messages, err := s.loadMailbox(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	threads := sess.Threads(messages)
	idx := slices.IndexFunc(threads, func(t mailbox.Thread) bool { return t.ID == id })
	if idx < 0 {
		s.fail(w, r, errThreadNotFound)
		return
	}
	readAt := s.now()
	if latest := threads[idx].LatestAt(); latest.After(readAt) {
		readAt = latest
	}
	next := sess.MarkRead(id, readAt)
	if err := session.Save(r.Context(), s.deps.Store, sess, next); err != nil {
		s.fail(w, r, err)
		return
	}
	for _, thread := range next.Threads(messages) {
		if thread.ID == id {
			s.respondJSON(w, http.StatusOK, thread)
			return
		}
	}
	s.fail(w, r, errThreadNotFound)
}

func (s *Server) handleDeleteThreads(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Box       string   `json:"box"`
		ThreadIDs []string `json:"threadIds"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.fail(w, r, err)
		return
	}
	box, ok := mailbox.ParseBox(payload.Box)
	if !ok || box == mailbox.BoxAll || len(payload.ThreadIDs) == 0 {
		s.fail(w, r, fmt.Errorf("%w: box must be inbox or sent and threadIds non-empty", errBadRequest))
		return
	}
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := session.Save(r.Context(), s.deps.Store, sess, sess.Hide(box, payload.ThreadIDs...)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.deps.Mail.Message(r.Context(), addressFrom(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, msg)
}

func (s *Server) handleMessageRaw(w http.ResponseWriter, r *http.Request) {
	viewer := addressFrom(r)
	msg, err := s.deps.Mail.Message(r.Context(), viewer, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	err = smtpserver.Export(&buf, msg, s.cfg.Domain, func(contentID string) ([]byte, error) {
		_, data, err := s.deps.Mail.Attachment(r.Context(), viewer, msg.ID, contentID)
		return data, err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=message-%s.eml", msg.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	att, data, err := s.deps.Mail.Attachment(r.Context(), addressFrom(r), r.PathValue("id"), r.PathValue("cid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", att.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var draft compose.Draft
	if err := decodeJSON(r, &draft); err != nil {
		s.fail(w, r, err)
		return
	}
	draft.Subject = sanitizeHeader(draft.Subject)
	msg, err := s.deps.Mail.Send(r.Context(), addressFrom(r), draft)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, msg)
}

type challengeResponse struct {
	Required   bool   `json:"required"`
	Text       string `json:"text,omitempty"`
	Difficulty int    `json:"difficulty"`
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Mail.RequiresProof() {
		s.respondJSON(w, http.StatusOK, challengeResponse{})
		return
	}
	ch, err := s.deps.Mail.NewChallenge()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, challengeResponse{Required: true, Text: ch.Text, Difficulty: ch.Difficulty})
}

func sanitizeHeader(value string) string {
	cleaned := strings.ReplaceAll(value, "\r", "")
	cleaned = strings.ReplaceAll(cleaned, "\n", "")
	return strings.TrimSpace(cleaned)
}
