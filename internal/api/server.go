package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/bridgbox/bridgbox/internal/auth"
	"github.com/bridgbox/bridgbox/internal/compose"
	"github.com/bridgbox/bridgbox/internal/config"
	"github.com/bridgbox/bridgbox/internal/contacts"
	"github.com/bridgbox/bridgbox/internal/directory"
	"github.com/bridgbox/bridgbox/internal/drive"
	"github.com/bridgbox/bridgbox/internal/notes"
	"github.com/bridgbox/bridgbox/internal/notify"
	"github.com/bridgbox/bridgbox/internal/store"
	"github.com/bridgbox/bridgbox/internal/zap"
	webassets "github.com/bridgbox/bridgbox/web"
)

const maxUploadBytes = 25 << 20

// Deps are the services the HTTP surface sits on.
type Deps struct {
	Store     *store.Store
	Auth      *auth.Manager
	Directory *directory.Directory
	Mail      *compose.Service
	Notifier  Notifications
	Zaps      *zap.Service
	Drive     *drive.Service
	Contacts  *contacts.Service
	Notes     *notes.Service
}

// Notifications is the per-address event feed behind the realtime
// endpoints.
type Notifications interface {
	Drain(ctx context.Context, address string) ([]notify.Event, error)
	Subscribe(ctx context.Context, address string) <-chan notify.Event
	Ack(ctx context.Context, address, id string) error
}

type Server struct {
	cfg      config.Config
	deps     Deps
	logger   *slog.Logger
	mux      *http.ServeMux
	staticFS fs.FS
	staticOK bool
	now      func() time.Time
}

func NewServer(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	staticFS, err := webassets.Dist()
	staticOK := err == nil
	if err != nil {
		logger.Warn("ui assets not embedded", "error", err)
	}
	server := &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		staticFS: staticFS,
		staticOK: staticOK,
		now:      time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login/challenge", server.handleLoginChallenge)
	mux.HandleFunc("POST /api/login", server.handleLogin)
	mux.HandleFunc("POST /api/logout", server.handleLogout)
	mux.HandleFunc("GET /api/me", server.authed(server.handleMe))
	mux.HandleFunc("PUT /api/me/username", server.authed(server.handleSetUsername))
	mux.HandleFunc("PUT /api/me/display-name", server.authed(server.handleSetDisplayName))
	mux.HandleFunc("/api/check-pin", server.handleCheckPIN)

	mux.HandleFunc("GET /api/threads", server.authed(server.handleThreads))
	mux.HandleFunc("GET /api/threads/{id}", server.authed(server.handleThread))
	mux.HandleFunc("POST /api/threads/delete", server.authed(server.handleDeleteThreads))
	mux.HandleFunc("GET /api/messages/{id}", server.authed(server.handleMessage))
	mux.HandleFunc("GET /api/messages/{id}/raw", server.authed(server.handleMessageRaw))
	mux.HandleFunc("GET /api/messages/{id}/attachments/{cid}", server.authed(server.handleAttachment))
	mux.HandleFunc("POST /api/send", server.authed(server.handleSend))
	mux.HandleFunc("GET /api/pow/challenge", server.handleChallenge)

	mux.HandleFunc("GET /api/notifications", server.authed(server.handleNotifications))
	mux.HandleFunc("GET /api/stream", server.authed(server.handleStream))
	mux.HandleFunc("GET /api/ws", server.authed(server.handleWebSocket))

	mux.HandleFunc("GET /api/contacts", server.authed(server.handleContacts))
	mux.HandleFunc("POST /api/contacts", server.authed(server.handleAddContact))
	mux.HandleFunc("PUT /api/contacts/{id}", server.authed(server.handleRenameContact))
	mux.HandleFunc("DELETE /api/contacts/{id}", server.authed(server.handleDeleteContact))

	mux.HandleFunc("GET /api/notes", server.authed(server.handleNotes))
	mux.HandleFunc("POST /api/notes", server.authed(server.handleCreateNote))
	mux.HandleFunc("GET /api/notes/{id}", server.authed(server.handleNote))
	mux.HandleFunc("PUT /api/notes/{id}", server.authed(server.handleUpdateNote))
	mux.HandleFunc("DELETE /api/notes/{id}", server.authed(server.handleDeleteNote))

	mux.HandleFunc("GET /api/drive", server.authed(server.handleDriveList))
	mux.HandleFunc("GET /api/drive/shared", server.authed(server.handleDriveShared))
	mux.HandleFunc("GET /api/drive/usage", server.authed(server.handleDriveUsage))
	mux.HandleFunc("POST /api/drive", server.authed(server.handleDriveUpload))
	mux.HandleFunc("GET /api/drive/{id}", server.authed(server.handleDriveDownload))
	mux.HandleFunc("PUT /api/drive/{id}", server.authed(server.handleDriveRename))
	mux.HandleFunc("POST /api/drive/{id}/share", server.authed(server.handleDriveShare))
	mux.HandleFunc("DELETE /api/drive/{id}", server.authed(server.handleDriveDelete))

	mux.HandleFunc("GET /api/zaps", server.authed(server.handleZaps))
	mux.HandleFunc("POST /api/zaps", server.authed(server.handleCreateZap))
	mux.HandleFunc("DELETE /api/zaps/{id}", server.authed(server.handleDeactivate))
	mux.HandleFunc("POST /api/escrows", server.authed(server.handleCreateEscrow))
	mux.HandleFunc("POST /api/escrows/{id}/release", server.authed(server.handleDeactivate))

	mux.HandleFunc("GET /gateway/{id}", server.handleGateway)
	mux.HandleFunc("GET /health", server.handleHealth)
	mux.HandleFunc("GET /ready", server.handleReady)
	mux.HandleFunc("/api/", http.NotFound)
	mux.HandleFunc("/", server.serveStatic)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	if !s.staticOK {
		s.respondText(w, http.StatusNotFound, "UI not built.")
		return
	}

	cleaned := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if cleaned == "" {
		cleaned = "index.html"
	}

	if strings.HasPrefix(cleaned, "assets/") {
		if s.serveEmbeddedFile(w, r, cleaned) {
			return
		}
		http.NotFound(w, r)
		return
	}

	if s.serveEmbeddedFile(w, r, cleaned) {
		return
	}

	if s.serveEmbeddedFile(w, r, "index.html") {
		return
	}

	s.respondText(w, http.StatusNotFound, "UI not built.")
}

func (s *Server) serveEmbeddedFile(w http.ResponseWriter, r *http.Request, name string) bool {
	file, err := s.staticFS.Open(name)
	if err != nil {
		return false
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	if seeker, ok := file.(io.ReadSeeker); ok {
		http.ServeContent(w, r, info.Name(), info.ModTime(), seeker)
		return true
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return false
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), bytes.NewReader(data))
	return true
}

// handleGateway serves a stored record with its Content-Type tag.
func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Store.GetRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", rec.ContentType())
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Data)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.logger.Error("readiness check", "error", err)
		s.respondText(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes))
	if err := decoder.Decode(dst); err != nil {
		return errBadJSON
	}
	return nil
}

var (
	errBadJSON      = errors.New("invalid JSON")
	errUnauthorized = errors.New("unauthorized")
)

// fail maps service errors to a status. Unknown errors are logged and
// reported as 500 without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthorized),
		errors.Is(err, auth.ErrMissingSession),
		errors.Is(err, auth.ErrInvalidSession),
		errors.Is(err, auth.ErrSessionExpired),
		errors.Is(err, auth.ErrInvalidChallenge),
		errors.Is(err, auth.ErrChallengeExpired),
		errors.Is(err, auth.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, compose.ErrMessageNotFound),
		errors.Is(err, compose.ErrAttachment),
		errors.Is(err, drive.ErrNotFound),
		errors.Is(err, contacts.ErrNotFound),
		errors.Is(err, notes.ErrNotFound),
		errors.Is(err, zap.ErrNotFound),
		errors.Is(err, errThreadNotFound):
		return http.StatusNotFound
	case errors.Is(err, drive.ErrForbidden),
		errors.Is(err, zap.ErrNotParty):
		return http.StatusForbidden
	case errors.Is(err, directory.ErrTaken),
		errors.Is(err, contacts.ErrDuplicate),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, drive.ErrQuotaExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadJSON),
		errors.Is(err, errBadRequest),
		errors.Is(err, directory.ErrNotFound),
		errors.Is(err, directory.ErrInvalidUsername),
		errors.Is(err, directory.ErrInvalidAddress),
		errors.Is(err, compose.ErrNoRecipients),
		errors.Is(err, compose.ErrNoSubject),
		errors.Is(err, compose.ErrUnknownRecipient),
		errors.Is(err, compose.ErrProofRequired),
		errors.Is(err, compose.ErrProofInvalid),
		errors.Is(err, compose.ErrInvalidPayment),
		errors.Is(err, drive.ErrEmptyFile),
		errors.Is(err, drive.ErrInvalidName),
		errors.Is(err, contacts.ErrInvalidName),
		errors.Is(err, contacts.ErrSelf),
		errors.Is(err, notes.ErrEmpty),
		errors.Is(err, zap.ErrInvalidPayload),
		errors.Is(err, zap.ErrInvalidAddress),
		errors.Is(err, zap.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
