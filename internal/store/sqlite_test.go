package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bridgbox/bridgbox/internal/record"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func TestRecordsPutGetSearch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_000)

	emailTags := func(recipient string) record.Tags {
		return record.Tags{
			{Name: record.TagContentType, Value: "application/json"},
			{Name: record.TagAppName, Value: record.AppEmail},
			{Name: record.TagRecipient, Value: recipient},
		}
	}

	first, err := s.PutRecord(ctx, "0xAAA", emailTags("0xbbb"), []byte(`{"n":1}`), now)
	if err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	second, err := s.PutRecord(ctx, "0xaaa", emailTags("0xccc"), bytes.Repeat([]byte("x"), 4096), now.Add(time.Second))
	if err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	again, err := s.PutRecord(ctx, "0xaaa", emailTags("0xbbb"), []byte(`{"n":1}`), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("PutRecord duplicate: %v", err)
	}
	if again != first {
		t.Fatalf("duplicate upload got new id %s", again)
	}

	rec, err := s.GetRecord(ctx, second)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if len(rec.Data) != 4096 || rec.Owner != "0xaaa" {
		t.Fatalf("unexpected record: owner=%s size=%d", rec.Owner, len(rec.Data))
	}
	if rec.ContentType() != "application/json" {
		t.Fatalf("content type = %s", rec.ContentType())
	}

	if _, err := s.GetRecord(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	all, err := s.SearchRecords(ctx, record.Query{Owners: []string{"0xAAA"}})
	if err != nil {
		t.Fatalf("SearchRecords: %v", err)
	}
	if len(all) != 2 || all[0].ID != second {
		t.Fatalf("expected newest first, got %+v", all)
	}

	toB, err := s.SearchRecords(ctx, record.Query{Tags: map[string][]string{
		record.TagAppName:   {record.AppEmail},
		record.TagRecipient: {"0xbbb"},
	}})
	if err != nil {
		t.Fatalf("SearchRecords: %v", err)
	}
	if len(toB) != 1 || toB[0].ID != first {
		t.Fatalf("tag search = %+v", toB)
	}
	if v, _ := toB[0].Tags.Get(record.TagRecipient); v != "0xbbb" {
		t.Fatalf("tags not loaded: %+v", toB[0].Tags)
	}

	limited, err := s.SearchRecords(ctx, record.Query{Order: record.Oldest, Limit: 1})
	if err != nil {
		t.Fatalf("SearchRecords: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != first {
		t.Fatalf("oldest-first limit = %+v", limited)
	}
}

func TestProfileState(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.UnixMilli(5_000)

	if _, err := s.GetProfile(ctx, "0xa"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpsertUser(ctx, "0xa", now); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := s.MarkThreadRead(ctx, "0xa", "T", now); err != nil {
		t.Fatalf("MarkThreadRead: %v", err)
	}
	if err := s.MarkThreadRead(ctx, "0xa", "T", now.Add(-time.Second)); err != nil {
		t.Fatalf("MarkThreadRead: %v", err)
	}
	if err := s.HideThreads(ctx, "0xa", "inbox", []string{"T", "U"}); err != nil {
		t.Fatalf("HideThreads: %v", err)
	}
	if err := s.UnhideThread(ctx, "0xa", "inbox", "U"); err != nil {
		t.Fatalf("UnhideThread: %v", err)
	}

	profile, err := s.GetProfile(ctx, "0xa")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !profile.ReadTimestamps["T"].Equal(now) {
		t.Fatalf("read timestamp moved backwards: %v", profile.ReadTimestamps["T"])
	}
	if _, ok := profile.Hidden["inbox"]["T"]; !ok {
		t.Fatal("T should be hidden")
	}
	if _, ok := profile.Hidden["inbox"]["U"]; ok {
		t.Fatal("U should be visible again")
	}
}

func TestUsernames(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()
	s.UpsertUser(ctx, "0xa", now)
	s.UpsertUser(ctx, "0xb", now)

	if err := s.ReserveUsername(ctx, "alice", "0xa", now); err != nil {
		t.Fatalf("ReserveUsername: %v", err)
	}
	if err := s.ReserveUsername(ctx, "alice", "0xb", now); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := s.ReserveUsername(ctx, "alicia", "0xa", now); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := s.LookupUsername(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old username should be released, got %v", err)
	}
	addr, err := s.LookupUsername(ctx, "alicia")
	if err != nil || addr != "0xa" {
		t.Fatalf("LookupUsername = %q, %v", addr, err)
	}
	user, _ := s.GetUser(ctx, "0xa")
	if user.Username != "alicia" {
		t.Fatalf("user row username = %q", user.Username)
	}
}

func TestContactsAndNotes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1)

	if err := s.AddContact(ctx, Contact{ID: "c1", Owner: "0xa", Name: "Bob", Address: "0xb", CreatedAt: now}); err != nil {
		t.Fatalf("AddContact: %v", err)
	}
	if err := s.AddContact(ctx, Contact{ID: "c2", Owner: "0xa", Name: "Bobby", Address: "0xb", CreatedAt: now}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := s.RenameContact(ctx, "0xa", "c1", "Robert"); err != nil {
		t.Fatalf("RenameContact: %v", err)
	}
	contacts, _ := s.ListContacts(ctx, "0xa")
	if len(contacts) != 1 || contacts[0].Name != "Robert" {
		t.Fatalf("contacts = %+v", contacts)
	}
	if err := s.DeleteContact(ctx, "0xz", "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign delete should fail, got %v", err)
	}

	s.CreateNote(ctx, Note{ID: "n1", Owner: "0xa", Title: "one", CreatedAt: now, UpdatedAt: now})
	s.CreateNote(ctx, Note{ID: "n2", Owner: "0xa", Title: "two", CreatedAt: now, UpdatedAt: now.Add(time.Second)})
	if err := s.UpdateNote(ctx, Note{ID: "n1", Owner: "0xa", Title: "one!", UpdatedAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	notes, _ := s.ListNotes(ctx, "0xa")
	if len(notes) != 2 || notes[0].ID != "n1" || notes[0].Title != "one!" {
		t.Fatalf("notes = %+v", notes)
	}
}

func TestDriveFiles(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.UnixMilli(10)

	for i, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		err := s.InsertDriveFile(ctx, DriveFile{
			ID: name, Owner: "0xa", FileName: name, RecordID: "r" + name,
			Size: 100, MimeType: "application/pdf", CreatedAt: now.Add(time.Duration(i) * time.Second),
		}, 300)
		if err != nil {
			t.Fatalf("InsertDriveFile: %v", err)
		}
	}
	err := s.InsertDriveFile(ctx, DriveFile{ID: "d.pdf", Owner: "0xa", FileName: "d.pdf", RecordID: "rd", Size: 1, CreatedAt: now}, 300)
	if !errors.Is(err, ErrQuota) {
		t.Fatalf("expected ErrQuota, got %v", err)
	}
	page, total, err := s.ListOwnedFiles(ctx, "0xa", 0, 2)
	if err != nil {
		t.Fatalf("ListOwnedFiles: %v", err)
	}
	if total != 3 || len(page) != 2 || page[0].ID != "c.pdf" {
		t.Fatalf("page = %+v total=%d", page, total)
	}

	if err := s.ShareDriveFile(ctx, "a.pdf", "0xb"); err != nil {
		t.Fatalf("ShareDriveFile: %v", err)
	}
	if err := s.ShareDriveFile(ctx, "a.pdf", "0xb"); err != nil {
		t.Fatalf("ShareDriveFile twice: %v", err)
	}
	shared, _ := s.ListSharedFiles(ctx, "0xb")
	if len(shared) != 1 || shared[0].ID != "a.pdf" || len(shared[0].SharedWith) != 1 {
		t.Fatalf("shared = %+v", shared)
	}
	if err := s.ShareDriveFile(ctx, "missing", "0xb"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	used, _ := s.StorageUsed(ctx, "0xa")
	if used != 300 {
		t.Fatalf("StorageUsed = %d", used)
	}
	if err := s.DeleteDriveFile(ctx, "a.pdf"); err != nil {
		t.Fatalf("DeleteDriveFile: %v", err)
	}
	shared, _ = s.ListSharedFiles(ctx, "0xb")
	if len(shared) != 0 {
		t.Fatalf("shares should cascade, got %+v", shared)
	}
}

func TestNotificationsDrain(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.UnixMilli(100)

	s.PushNotification(ctx, Notification{Address: "0xb", ID: "m1", Payload: []byte("1"), CreatedAt: now})
	s.PushNotification(ctx, Notification{Address: "0xb", ID: "m1", Payload: []byte("dup"), CreatedAt: now})
	s.PushNotification(ctx, Notification{Address: "0xb", ID: "m2", Payload: []byte("2"), CreatedAt: now.Add(time.Second)})
	s.PushNotification(ctx, Notification{Address: "0xc", ID: "m3", Payload: []byte("3"), CreatedAt: now})

	pending, err := s.DrainNotifications(ctx, "0xb")
	if err != nil {
		t.Fatalf("DrainNotifications: %v", err)
	}
	if len(pending) != 2 || string(pending[0].Payload) != "1" || pending[1].ID != "m2" {
		t.Fatalf("pending = %+v", pending)
	}
	pending, _ = s.DrainNotifications(ctx, "0xb")
	if len(pending) != 0 {
		t.Fatalf("second drain should be empty, got %d", len(pending))
	}
	pending, _ = s.DrainNotifications(ctx, "0xc")
	if len(pending) != 1 {
		t.Fatalf("other mailbox affected: %d", len(pending))
	}
}
