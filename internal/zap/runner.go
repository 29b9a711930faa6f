package zap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var ErrMisconfigured = errors.New("zap is misconfigured")

// FileSharer adds an address to a drive file's access list on behalf of
// the file's owner.
type FileSharer interface {
	ShareFile(ctx context.Context, owner, fileID, address string) error
}

// Mailer sends a plain message from one address to another.
type Mailer interface {
	Deliver(ctx context.Context, from, to, subject, body string) (string, error)
}

// Event is what happened: a file upload or a received message.
type Event struct {
	Owner     string
	Trigger   TriggerType
	FileID    string
	FileName  string
	From      string
	MessageID string
}

type Outcome struct {
	ZapID  string     `json:"zapId"`
	Action ActionType `json:"action"`
	Detail string     `json:"detail,omitempty"`
	Err    error      `json:"-"`
}

type Runner struct {
	files    FileSharer
	mail     Mailer
	resolver Resolver
	logger   *slog.Logger
}

func NewRunner(files FileSharer, mail Mailer, resolver Resolver, logger *slog.Logger) *Runner {
	return &Runner{files: files, mail: mail, resolver: resolver, logger: logger}
}

// Run executes the actions of zaps one after another. A failing action is
// logged and recorded in its outcome; the rest still run.
func (r *Runner) Run(ctx context.Context, zaps []Zap, event Event) []Outcome {
	outcomes := make([]Outcome, 0, len(zaps))
	for _, z := range zaps {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{ZapID: z.ID, Action: z.Action.Type, Err: err})
			continue
		}
		detail, err := r.execute(ctx, z, event)
		if err != nil {
			r.logger.Error("run zap", "zap", z.ID, "action", z.Action.Type, "owner", event.Owner, "error", err)
		} else {
			r.logger.Info("zap executed", "zap", z.ID, "action", z.Action.Type, "detail", detail)
		}
		outcomes = append(outcomes, Outcome{ZapID: z.ID, Action: z.Action.Type, Detail: detail, Err: err})
	}
	return outcomes
}

func (r *Runner) execute(ctx context.Context, z Zap, event Event) (string, error) {
	params := z.Action.Params
	switch z.Action.Type {
	case ActionShareFile:
		fileID := params.FileID
		if fileID == "" && event.Trigger == TriggerFileUpload {
			fileID = event.FileID
		}
		if fileID == "" || strings.TrimSpace(params.ShareWith) == "" {
			return "", ErrMisconfigured
		}
		address, err := r.resolve(ctx, params.ShareWith)
		if err != nil {
			return "", err
		}
		if err := r.files.ShareFile(ctx, event.Owner, fileID, address); err != nil {
			return "", fmt.Errorf("share file %s: %w", fileID, err)
		}
		return "shared " + fileID + " with " + address, nil
	case ActionSendEmail:
		if strings.TrimSpace(params.To) == "" || strings.TrimSpace(params.Subject) == "" {
			return "", ErrMisconfigured
		}
		to, err := r.resolve(ctx, params.To)
		if err != nil {
			return "", err
		}
		id, err := r.mail.Deliver(ctx, event.Owner, to, params.Subject, params.Body)
		if err != nil {
			return "", fmt.Errorf("send email: %w", err)
		}
		return "sent " + id + " to " + to, nil
	default:
		return "", fmt.Errorf("%w: unsupported action %q", ErrMisconfigured, z.Action.Type)
	}
}

func (r *Runner) resolve(ctx context.Context, target string) (string, error) {
	address, err := r.resolver.ResolveAlias(ctx, target)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", target, err)
	}
	return address, nil
}
