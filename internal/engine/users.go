package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"submit/internal/domain"
	"submit/internal/events"
	"submit/internal/repo"
)

// EnsureUser returns the user registered under email, creating it with
// every notification enabled when missing.
func (e Engine) EnsureUser(ctx context.Context, email, name string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, invalid("email", "a valid email is required")
	}
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	now := e.now()
	u = domain.User{
		ID:            uuid.NewString(),
		Email:         email,
		Name:          strings.TrimSpace(name),
		NotifyMorning: true,
		NotifyEvening: true,
		NotifyUrgent:  true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// created concurrently
			return e.Repo.GetUserByEmail(ctx, email)
		}
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

// ProfileUpdateOptions holds the fields a user may change. Nil leaves a
// field untouched.
type ProfileUpdateOptions struct {
	Name          *string
	NotifyMorning *bool
	NotifyEvening *bool
	NotifyUrgent  *bool
	Timezone      *string
}

func (e Engine) UpdateProfile(ctx context.Context, userID string, opts ProfileUpdateOptions) (domain.User, error) {
	upd := repo.UserUpdate{
		NotifyMorning: opts.NotifyMorning,
		NotifyEvening: opts.NotifyEvening,
		NotifyUrgent:  opts.NotifyUrgent,
	}
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if len([]rune(name)) > 100 {
			return domain.User{}, invalid("name", "must be at most 100 characters")
		}
		upd.Name = &name
	}
	if opts.Timezone != nil {
		tz := strings.TrimSpace(*opts.Timezone)
		if tz != "" {
			if _, err := time.LoadLocation(tz); err != nil || strings.EqualFold(tz, "local") {
				return domain.User{}, invalid("timezone", "%q is not an IANA timezone", tz)
			}
		}
		upd.Timezone = &tz
	}
	if err := e.Repo.UpdateUser(ctx, userID, upd, e.now()); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, userID)
}

// LinkLine attaches a LINE account to the user. An account already linked
// to someone else yields repo.ErrDuplicate.
func (e Engine) LinkLine(ctx context.Context, userID, lineUserID string) (domain.User, error) {
	lineUserID = strings.TrimSpace(lineUserID)
	if lineUserID == "" {
		return domain.User{}, invalid("line_user_id", "is required")
	}
	if err := e.Repo.SetLineUserID(ctx, userID, &lineUserID, e.now()); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, userID)
}

func (e Engine) UnlinkLine(ctx context.Context, userID string) (domain.User, error) {
	if err := e.Repo.SetLineUserID(ctx, userID, nil, e.now()); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, userID)
}

// PledgeOptions must carry every agreement and a pledge text.
type PledgeOptions struct {
	PledgeText      string
	AgreedToTerms   bool
	AgreedToPenalty bool
	AgreedToLine    bool
}

// Pledge completes the one-time acknowledgment gate. A user who pledged
// before and was reset gets pledged_at refreshed against the stored text.
func (e Engine) Pledge(ctx context.Context, userID string, opts PledgeOptions) (domain.Pledge, error) {
	text := strings.TrimSpace(opts.PledgeText)
	if text == "" || !opts.AgreedToTerms || !opts.AgreedToPenalty || !opts.AgreedToLine {
		return domain.Pledge{}, invalid("", "all agreements and a pledge text are required")
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.Pledge{}, err
	}
	if u.Pledged() {
		return domain.Pledge{}, invalid("", "already pledged")
	}
	existing, err := e.Repo.GetPledge(ctx, userID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.Pledge{}, err
	}
	hasPledge := err == nil

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Pledge{}, err
	}
	defer tx.Rollback()
	now := e.now()
	p := existing
	if hasPledge {
		if err := e.Repo.SetPledgedTx(ctx, tx, userID, now); err != nil {
			return domain.Pledge{}, err
		}
	} else {
		p = domain.Pledge{ID: uuid.NewString(), UserID: userID, PledgeText: text, CreatedAt: now}
		if err := e.Repo.InsertPledgeTx(ctx, tx, p); err != nil {
			return domain.Pledge{}, err
		}
	}
	if err := e.appendEvent(ctx, tx, events.PledgeTaken, "", "user", userID, userID, events.EventPayload{"pledge_id": p.ID}); err != nil {
		return domain.Pledge{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Pledge{}, err
	}
	return p, nil
}

// PledgeStatus reports whether the user pledged and the stored pledge, if any.
func (e Engine) PledgeStatus(ctx context.Context, userID string) (bool, *domain.Pledge, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	p, err := e.Repo.GetPledge(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return u.Pledged(), nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return u.Pledged(), &p, nil
}

func (e Engine) requirePledged(ctx context.Context, userID string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if !u.Pledged() {
		return domain.User{}, ErrPledgeRequired
	}
	return u, nil
}
