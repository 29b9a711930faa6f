package contacts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bridgbox/bridgbox/internal/directory"
	"github.com/bridgbox/bridgbox/internal/store"
)

func TestContacts(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "contacts.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	const (
		me   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
		dana = "0xdddddddddddddddddddddddddddddddddddddddd"
	)
	for _, address := range []string{me, dana} {
		if err := st.UpsertUser(ctx, address, time.Now()); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	dir := directory.New(st, "bridgbox.cloud")
	if _, err := dir.Register(ctx, "dana", dana); err != nil {
		t.Fatalf("register: %v", err)
	}
	svc := NewService(st, dir)

	contact, err := svc.Add(ctx, me, "Dana", "dana@bridgbox.cloud")
	if err != nil || contact.Address != dana {
		t.Fatalf("add = %+v, %v", contact, err)
	}
	if _, err := svc.Add(ctx, me, "Dana again", dana); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate err = %v", err)
	}
	if _, err := svc.Add(ctx, me, "Me", me); !errors.Is(err, ErrSelf) {
		t.Fatalf("self err = %v", err)
	}
	if _, err := svc.Add(ctx, me, "Ghost", "ghost"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("unknown err = %v", err)
	}
	if _, err := svc.Add(ctx, me, " ", dana); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("blank name err = %v", err)
	}

	if err := svc.Rename(ctx, me, contact.ID, "D."); err != nil {
		t.Fatalf("rename: %v", err)
	}
	list, err := svc.List(ctx, me)
	if err != nil || len(list) != 1 || list[0].Name != "D." {
		t.Fatalf("list = %v, %v", list, err)
	}
	if err := svc.Delete(ctx, dana, contact.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign delete err = %v", err)
	}
	if err := svc.Delete(ctx, me, contact.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
