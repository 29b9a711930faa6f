package zap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type shareCall struct{ owner, fileID, address string }

type fakeFiles struct {
	calls []shareCall
	fail  bool
}

func (f *fakeFiles) ShareFile(_ context.Context, owner, fileID, address string) error {
	if f.fail {
		return errors.New("boom")
	}
	f.calls = append(f.calls, shareCall{owner, fileID, address})
	return nil
}

type fakeMailer struct{ sent []string }

func (m *fakeMailer) Deliver(_ context.Context, from, to, subject, _ string) (string, error) {
	m.sent = append(m.sent, from+"->"+to+":"+subject)
	return "msg-1", nil
}

func TestRunnerRunsEveryZap(t *testing.T) {
	files := &fakeFiles{}
	mail := &fakeMailer{}
	resolver := aliasMap{"bob": freelancer, "carol@bridgbox.cloud": arbiter}
	runner := NewRunner(files, mail, resolver, slog.New(slog.NewTextHandler(io.Discard, nil)))

	zaps := []Zap{
		{ID: "share-trigger", Action: Action{Type: ActionShareFile, Params: Params{ShareWith: "bob"}}},
		{ID: "share-fixed", Action: Action{Type: ActionShareFile, Params: Params{FileID: "f-9", ShareWith: "carol@bridgbox.cloud"}}},
		{ID: "bad", Action: Action{Type: ActionShareFile, Params: Params{ShareWith: "nobody"}}},
		{ID: "mail", Action: Action{Type: ActionSendEmail, Params: Params{To: "bob", Subject: "got it"}}},
		{ID: "unknown", Action: Action{Type: "DANCE"}},
	}
	event := Event{Owner: client, Trigger: TriggerFileUpload, FileID: "f-1", FileName: "invoice.pdf"}

	outcomes := runner.Run(context.Background(), zaps, event)
	if len(outcomes) != len(zaps) {
		t.Fatalf("outcomes = %d", len(outcomes))
	}
	failed := map[string]bool{}
	for _, o := range outcomes {
		failed[o.ZapID] = o.Err != nil
	}
	if failed["share-trigger"] || failed["share-fixed"] || failed["mail"] {
		t.Fatalf("unexpected failures: %+v", outcomes)
	}
	if !failed["bad"] || !failed["unknown"] {
		t.Fatalf("expected failures: %+v", outcomes)
	}
	if len(files.calls) != 2 || files.calls[0] != (shareCall{client, "f-1", freelancer}) || files.calls[1].fileID != "f-9" {
		t.Fatalf("share calls = %+v", files.calls)
	}
	if len(mail.sent) != 1 || mail.sent[0] != client+"->"+freelancer+":got it" {
		t.Fatalf("sent = %v", mail.sent)
	}
}

func TestRunnerShareNeedsFileOutsideUploads(t *testing.T) {
	runner := NewRunner(&fakeFiles{}, &fakeMailer{}, aliasMap{"bob": freelancer}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	zaps := []Zap{{ID: "z", Action: Action{Type: ActionShareFile, Params: Params{ShareWith: "bob"}}}}
	outcomes := runner.Run(context.Background(), zaps, Event{Owner: client, Trigger: TriggerEmailReceived, From: arbiter})
	if !errors.Is(outcomes[0].Err, ErrMisconfigured) {
		t.Fatalf("err = %v", outcomes[0].Err)
	}
}
