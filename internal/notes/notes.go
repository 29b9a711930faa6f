// Package notes keeps per-user Markdown notes and renders previews.
package notes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/bridgbox/bridgbox/internal/store"
)

const snippetLength = 150

var (
	ErrNotFound = errors.New("note not found")
	ErrEmpty    = errors.New("title and content cannot be empty")
)

var (
	markdown     goldmark.Markdown
	markdownOnce sync.Once
)

func renderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

type Store interface {
	CreateNote(ctx context.Context, note store.Note) error
	ListNotes(ctx context.Context, owner string) ([]store.Note, error)
	GetNote(ctx context.Context, owner, id string) (store.Note, error)
	UpdateNote(ctx context.Context, note store.Note) error
	DeleteNote(ctx context.Context, owner, id string) error
}

// View is a note as shown in listings.
type View struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Snippet   string    `json:"snippet"`
	HTML      string    `json:"html"`
	Timestamp time.Time `json:"timestamp"`
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(st Store) *Service {
	return &Service{store: st, now: time.Now}
}

func (s *Service) Create(ctx context.Context, owner, title, content string) (View, error) {
	title, content = strings.TrimSpace(title), strings.TrimSpace(content)
	if title == "" || content == "" {
		return View{}, ErrEmpty
	}
	now := s.now()
	note := store.Note{
		ID:        uuid.NewString(),
		Owner:     strings.ToLower(owner),
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateNote(ctx, note); err != nil {
		return View{}, err
	}
	return render(note)
}

// List returns owner's notes, most recently edited first.
func (s *Service) List(ctx context.Context, owner string) ([]View, error) {
	notes, err := s.store.ListNotes(ctx, strings.ToLower(owner))
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(notes))
	for _, note := range notes {
		view, err := render(note)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) Get(ctx context.Context, owner, id string) (View, error) {
	note, err := s.store.GetNote(ctx, strings.ToLower(owner), id)
	if err != nil {
		return View{}, notFound(err)
	}
	return render(note)
}

func (s *Service) Update(ctx context.Context, owner, id, title, content string) (View, error) {
	title, content = strings.TrimSpace(title), strings.TrimSpace(content)
	if title == "" || content == "" {
		return View{}, ErrEmpty
	}
	note, err := s.store.GetNote(ctx, strings.ToLower(owner), id)
	if err != nil {
		return View{}, notFound(err)
	}
	note.Title, note.Content, note.UpdatedAt = title, content, s.now()
	if err := s.store.UpdateNote(ctx, note); err != nil {
		return View{}, notFound(err)
	}
	return render(note)
}

func (s *Service) Delete(ctx context.Context, owner, id string) error {
	return notFound(s.store.DeleteNote(ctx, strings.ToLower(owner), id))
}

// RenderMarkdown converts note content to HTML. Raw HTML in the source is
// not passed through.
func RenderMarkdown(content string) (string, error) {
	var buf bytes.Buffer
	if err := renderer().Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// Snippet is the first 150 characters of content.
func Snippet(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= snippetLength {
		return content
	}
	return string([]rune(content)[:snippetLength])
}

func render(note store.Note) (View, error) {
	html, err := RenderMarkdown(note.Content)
	if err != nil {
		return View{}, err
	}
	return View{
		ID:        note.ID,
		Title:     note.Title,
		Content:   note.Content,
		Snippet:   Snippet(note.Content),
		HTML:      html,
		Timestamp: note.UpdatedAt,
	}, nil
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
