package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bridgbox/bridgbox/internal/mailbox"
	"github.com/bridgbox/bridgbox/internal/store"
)

func TestUpdatesDoNotMutate(t *testing.T) {
	base := FromProfile(store.Profile{
		User:           store.User{Address: "0xme", Username: "me"},
		ReadTimestamps: map[string]time.Time{"A": time.UnixMilli(10)},
		Hidden:         map[string]map[string]struct{}{"inbox": {"X": {}}},
	})

	read := base.MarkRead("B", time.UnixMilli(20))
	hidden := read.Hide(mailbox.BoxSent, "Y").Unhide(mailbox.BoxInbox, "X")
	renamed := hidden.WithUsername("other")

	if _, ok := base.ReadState()["B"]; ok {
		t.Fatal("MarkRead mutated the original session")
	}
	if !base.IsHidden(mailbox.BoxInbox, "X") || base.IsHidden(mailbox.BoxSent, "Y") {
		t.Fatal("Hide/Unhide mutated the original session")
	}
	if read.IsHidden(mailbox.BoxSent, "Y") {
		t.Fatal("Hide mutated its receiver")
	}
	if hidden.IsHidden(mailbox.BoxInbox, "X") || !hidden.IsHidden(mailbox.BoxSent, "Y") {
		t.Fatal("hidden state not applied")
	}
	if base.Username() != "me" || renamed.Username() != "other" {
		t.Fatal("WithUsername did not produce an independent copy")
	}
}

func TestMarkReadNeverMovesBackwards(t *testing.T) {
	s := New("0xme").MarkRead("A", time.UnixMilli(50)).MarkRead("A", time.UnixMilli(10))
	if got := s.ReadState()["A"]; !got.Equal(time.UnixMilli(50)) {
		t.Fatalf("read instant = %v", got)
	}
}

func TestThreadsUsesReadState(t *testing.T) {
	msgs := []mailbox.Message{{ID: "1", ThreadID: "A", From: "0xthem", Timestamp: mailbox.At(time.UnixMilli(100))}}
	s := New("0xme")
	if !s.Threads(msgs)[0].IsUnread {
		t.Fatal("thread should start unread")
	}
	if s.MarkRead("A", time.UnixMilli(100)).Threads(msgs)[0].IsUnread {
		t.Fatal("thread should be read after MarkRead")
	}
}

func TestSaveWritesOnlyChanges(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	fresh, err := Load(ctx, st, "0xme")
	if err != nil || fresh.Address() != "0xme" || len(fresh.ReadState()) != 0 {
		t.Fatalf("load without profile = %+v, %v", fresh, err)
	}
	if err := st.UpsertUser(ctx, "0xme", time.UnixMilli(1)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	base, err := Load(ctx, st, "0xme")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	next := base.MarkRead("A", time.UnixMilli(50)).Hide(mailbox.BoxInbox, "X", "Y").Hide(mailbox.BoxSent, "Z")
	if err := Save(ctx, st, base, next); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(ctx, st, "0xme")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !loaded.ReadState()["A"].Equal(time.UnixMilli(50)) {
		t.Fatalf("read state = %v", loaded.ReadState())
	}
	if !loaded.IsHidden(mailbox.BoxInbox, "X") || !loaded.IsHidden(mailbox.BoxInbox, "Y") || !loaded.IsHidden(mailbox.BoxSent, "Z") {
		t.Fatalf("hidden = %v / %v", loaded.Hidden(mailbox.BoxInbox), loaded.Hidden(mailbox.BoxSent))
	}

	if err := Save(ctx, st, loaded, loaded.Unhide(mailbox.BoxInbox, "Y")); err != nil {
		t.Fatalf("save unhide: %v", err)
	}
	loaded, _ = Load(ctx, st, "0xme")
	if loaded.IsHidden(mailbox.BoxInbox, "Y") || !loaded.IsHidden(mailbox.BoxInbox, "X") {
		t.Fatalf("unhide = %v", loaded.Hidden(mailbox.BoxInbox))
	}

	if err := Save(ctx, st, loaded, New("0xother")); err == nil {
		t.Fatal("saving across addresses should fail")
	}
}
