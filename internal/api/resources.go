package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bridgbox/bridgbox/internal/pagination"
	"github.com/bridgbox/bridgbox/internal/store"
	"github.com/bridgbox/bridgbox/internal/zap"
)

type contactResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
}

func toContact(c store.Contact) contactResponse {
	return contactResponse{ID: c.ID, Name: c.Name, Address: c.Address, CreatedAt: c.CreatedAt}
}

type fileResponse struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	Owner      string    `json:"owner"`
	ContentID  string    `json:"irysTxId"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mimeType"`
	SharedWith []string  `json:"sharedWith"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toFile(f store.DriveFile) fileResponse {
	shared := f.SharedWith
	if shared == nil {
		shared = []string{}
	}
	return fileResponse{
		ID:         f.ID,
		FileName:   f.FileName,
		Owner:      f.Owner,
		ContentID:  f.RecordID,
		Size:       f.Size,
		MimeType:   f.MimeType,
		SharedWith: shared,
		CreatedAt:  f.CreatedAt,
	}
}

func toFiles(files []store.DriveFile) []fileResponse {
	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, toFile(f))
	}
	return out
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Contacts.List(r.Context(), addressFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]contactResponse, 0, len(list))
	for _, c := range list {
		out = append(out, toContact(c))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.fail(w, r, err)
		return
	}
	contact, err := s.deps.Contacts.Add(r.Context(), addressFrom(r), payload.Name, payload.Address)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toContact(contact))
}

func (s *Server) handleRenameContact(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Contacts.Rename(r.Context(), addressFrom(r), r.PathValue("id"), payload.Name); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Contacts.Delete(r.Context(), addressFrom(r), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type notePayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Notes.List(r.Context(), addressFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var payload notePayload
	if err := decodeJSON(r, &payload); err != nil {
		s.fail(w, r, err)
		return
	}
	note, err := s.deps.Notes.Create(r.Context(), addressFrom(r), payload.Title, payload.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, note)
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.deps.Notes.Get(r.Context(), addressFrom(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, note)
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var payload notePayload
	if err := decodeJSON(r, &payload); err != nil {
		s.fail(w, r, err)
		return
	}
	note, err := s.deps.Notes.Update(r.Context(), addressFrom(r), r.PathValue("id"), payload.Title, payload.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, note)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Notes.Delete(r.Context(), addressFrom(r), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriveList(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromQuery(r.URL.Query(), pagination.WithDefaultLimit(20))
	files, total, err := s.deps.Drive.List(r.Context(), addressFrom(r), params.Offset, params.Limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, pagination.NewPage(toFiles(files), params, total))
}

func (s *Server) handleDriveShared(w http.ResponseWriter, r *http.Request) {
	files, err := s.deps.Drive.Shared(r.Context(), addressFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toFiles(files))
}

func (s *Server) handleDriveUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.deps.Drive.Usage(r.Context(), addressFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, usage)
}

type outcomeResponse struct {
	ZapID  string `json:"zapId"`
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleDriveUpload takes a multipart form with a single "file" field.
func (s *Server) handleDriveUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	stored, outcomes, err := s.deps.Drive.Upload(r.Context(), addressFrom(r), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ran := make([]outcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		resp := outcomeResponse{ZapID: o.ZapID, Action: string(o.Action), Detail: o.Detail}
		if o.Err != nil {
			resp.Error = o.Err.Error()
		}
		ran = append(ran, resp)
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{"file": toFile(stored), "zaps": ran})
}

func (s *Server) handleDriveDownload(w http.ResponseWriter, r *http.Request) {
	file, data, err := s.deps.Drive.Open(r.Context(), addressFrom(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", file.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDriveRename(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FileName string `json:"fileName"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Drive.Rename(r.Context(), addressFrom(r), r.PathValue("id"), payload.FileName); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriveShare(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		With string `json:"with"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.fail(w, r, err)
		return
	}
	address, err := s.deps.Drive.Share(r.Context(), addressFrom(r), r.PathValue("id"), payload.With)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"sharedWith": address})
}

func (s *Server) handleDriveDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Drive.Delete(r.Context(), addressFrom(r), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleZaps(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Zaps.List(r.Context(), addressFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []zap.Item{}
	}
	s.respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateZap(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	created, err := s.deps.Zaps.CreateZap(r.Context(), addressFrom(r), raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	created, err := s.deps.Zaps.CreateEscrow(r.Context(), addressFrom(r), raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, created)
}

// handleDeactivate serves both zap removal and escrow release.
func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Zaps.Deactivate(r.Context(), addressFrom(r), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}
