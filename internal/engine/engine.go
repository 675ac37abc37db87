package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"submit/internal/config"
	"submit/internal/domain"
	"submit/internal/events"
	"submit/internal/notify"
	"submit/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier notify.Notifier
	Log      *zap.Logger
	Now      func() time.Time
	// Sleep paces outbound notifications; tests replace it.
	Sleep func(time.Duration)
}

func New(db *sql.DB, cfg *config.Config, notifier notify.Notifier, log *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Notifier: notifier,
		Log:      log,
		Now:      time.Now,
		Sleep:    time.Sleep,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// appendEvent writes an audit row stamped with the engine clock.
func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, projectID, entityKind, entityID, actorID, payload)
}

// location is the civil calendar used for u's day boundaries.
func (e Engine) location(u domain.User) *time.Location {
	if u.Timezone != "" {
		if loc, err := time.LoadLocation(u.Timezone); err == nil {
			return loc
		}
		e.log().Warn("invalid user timezone, using default", zap.String("user_id", u.ID), zap.String("timezone", u.Timezone))
	}
	return e.config().Location()
}

// push sends text to a linked account and waits the configured delay.
func (e Engine) push(ctx context.Context, to, text string) bool {
	if e.Notifier == nil {
		e.log().Warn("no notifier configured, dropping message", zap.String("to", to))
		return false
	}
	ok := e.Notifier.Push(ctx, to, text)
	e.pause()
	return ok
}

func (e Engine) reply(ctx context.Context, replyToken, text string) bool {
	if e.Notifier == nil || replyToken == "" {
		return false
	}
	return e.Notifier.Reply(ctx, replyToken, text)
}

func (e Engine) pause() {
	d := e.config().Notify.Delay
	if d <= 0 {
		return
	}
	if e.Sleep != nil {
		e.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Errors surfaced to callers. The server maps them onto HTTP statuses.
var (
	ErrPledgeRequired = errors.New("pledge required")
	ErrForbidden      = errors.New("forbidden")
)

// ValidationError describes rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (v *ValidationError) Error() string {
	if v.Field == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ownedProject loads a project and hides it from anyone but its owner.
func (e Engine) ownedProject(ctx context.Context, userID, projectID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.UserID != userID {
		return domain.Project{}, repo.ErrNotFound
	}
	return p, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
