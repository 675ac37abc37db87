package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"submit/internal/domain"
	"submit/internal/events"
	"submit/internal/notify"
	"submit/internal/repo"
)

const (
	maxCheerLength   = 500
	defaultInviteTTL = 24 * time.Hour
)

// CreateInvite opens a supporter invite for userID. Older pending invites
// are dropped so only the newest token can be accepted.
func (e Engine) CreateInvite(ctx context.Context, userID string) (domain.Supporter, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.Supporter{}, err
	}
	now := e.now()
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	ttl := e.config().Partners.InviteTTL
	if ttl <= 0 {
		ttl = defaultInviteTTL
	}
	expires := now.Add(ttl)
	s := domain.Supporter{
		ID:          uuid.NewString(),
		UserID:      userID,
		InviteToken: &token,
		Status:      domain.SupporterPending,
		ExpiresAt:   &expires,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Supporter{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.DeletePendingInvitesTx(ctx, tx, userID); err != nil {
		return domain.Supporter{}, err
	}
	if err := e.Repo.InsertSupporterTx(ctx, tx, s); err != nil {
		return domain.Supporter{}, err
	}
	if err := e.appendEvent(ctx, tx, events.SupporterInvited, "", "supporter", s.ID, userID, events.EventPayload{
		"expires_at": repo.TS(expires),
	}); err != nil {
		return domain.Supporter{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Supporter{}, err
	}
	return s, nil
}

// AcceptInvite makes supporterUserID an active supporter of the invite's
// owner and spends the token.
func (e Engine) AcceptInvite(ctx context.Context, supporterUserID, token string) (domain.Supporter, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Supporter{}, invalid("token", "is required")
	}
	supporter, err := e.Repo.GetUser(ctx, supporterUserID)
	if err != nil {
		return domain.Supporter{}, err
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Supporter{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetSupporterByTokenTx(ctx, tx, token)
	if err != nil {
		return domain.Supporter{}, err
	}
	if s.UserID == supporterUserID {
		return domain.Supporter{}, invalid("token", "you cannot support yourself")
	}
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return domain.Supporter{}, invalid("token", "invite expired")
	}
	if err := e.Repo.ActivateSupporterTx(ctx, tx, s.ID, supporterUserID, now); err != nil {
		return domain.Supporter{}, err
	}
	if err := e.appendEvent(ctx, tx, events.SupporterJoined, "", "supporter", s.ID, supporterUserID, events.EventPayload{
		"user_id": s.UserID,
	}); err != nil {
		return domain.Supporter{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Supporter{}, err
	}

	s.SupporterUserID = &supporter.ID
	s.Status = domain.SupporterActive
	s.InviteToken = nil
	s.ExpiresAt = nil
	s.UpdatedAt = now
	s.Supporter = profileOf(supporter)
	if owner, err := e.Repo.GetUser(ctx, s.UserID); err == nil && owner.LineLinked() {
		e.push(ctx, *owner.LineUserID, notify.SupporterJoined(displayName(supporter)))
	}
	return s, nil
}

// ListSupporters returns userID's supporters and any open invite.
func (e Engine) ListSupporters(ctx context.Context, userID string) ([]domain.Supporter, error) {
	return e.Repo.ListSupporters(ctx, userID, "")
}

// ListSupporting returns the users supporterUserID actively supports.
func (e Engine) ListSupporting(ctx context.Context, supporterUserID string) ([]domain.Supporter, error) {
	return e.Repo.ListSupporting(ctx, supporterUserID)
}

func (e Engine) RemoveSupporter(ctx context.Context, userID, supporterID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s, err := e.Repo.DeleteSupporterTx(ctx, tx, userID, supporterID)
	if err != nil {
		return err
	}
	payload := events.EventPayload{"status": s.Status}
	if s.SupporterUserID != nil {
		payload["supporter_user_id"] = *s.SupporterUserID
	}
	if err := e.appendEvent(ctx, tx, events.SupporterRemoved, "", "supporter", s.ID, userID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// SendCheer stores an encouragement from supporterUserID to userID and
// pushes it to userID's LINE account. Only active supporters may cheer.
func (e Engine) SendCheer(ctx context.Context, supporterUserID, userID, message string) (domain.Cheer, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return domain.Cheer{}, invalid("message", "is required")
	}
	if utf8.RuneCountInString(message) > maxCheerLength {
		return domain.Cheer{}, invalid("message", "must be at most %d characters", maxCheerLength)
	}
	ok, err := e.Repo.IsActiveSupporter(ctx, userID, supporterUserID)
	if err != nil {
		return domain.Cheer{}, err
	}
	if !ok {
		return domain.Cheer{}, fmt.Errorf("%w: not an active supporter of this user", ErrForbidden)
	}
	sender, err := e.Repo.GetUser(ctx, supporterUserID)
	if err != nil {
		return domain.Cheer{}, err
	}
	c := domain.Cheer{
		ID:              uuid.NewString(),
		UserID:          userID,
		SupporterUserID: supporterUserID,
		Message:         message,
		CreatedAt:       e.now(),
		Supporter:       profileOf(sender),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Cheer{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCheerTx(ctx, tx, c); err != nil {
		return domain.Cheer{}, err
	}
	if err := e.appendEvent(ctx, tx, events.CheerSent, "", "cheer", c.ID, supporterUserID, events.EventPayload{
		"user_id": userID,
	}); err != nil {
		return domain.Cheer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Cheer{}, err
	}
	owner, err := e.Repo.GetUser(ctx, userID)
	if err == nil && owner.LineLinked() {
		if !e.push(ctx, *owner.LineUserID, notify.CheerReceived(displayName(sender), message)) {
			e.log().Warn("cheer not delivered", zap.String("cheer_id", c.ID), zap.String("user_id", userID))
		}
	}
	return c, nil
}

func (e Engine) ListCheers(ctx context.Context, userID string, limit int) ([]domain.Cheer, error) {
	return e.Repo.ListCheers(ctx, userID, limit)
}

// notifySupporters tells u's linked active supporters about a miss on p and
// returns how many were reached.
func (e Engine) notifySupporters(ctx context.Context, u domain.User, p domain.Project, amount int) int {
	supporters, err := e.Repo.ActiveSupporterUsers(ctx, u.ID)
	if err != nil {
		e.log().Error("load supporters", zap.String("user_id", u.ID), zap.Error(err))
		return 0
	}
	sent := 0
	msg := notify.SupporterMissed(displayName(u), p.Name, amount)
	for _, s := range supporters {
		if !s.LineLinked() {
			continue
		}
		if e.push(ctx, *s.LineUserID, msg) {
			sent++
		} else {
			e.log().Warn("supporter notification not delivered", zap.String("project_id", p.ID), zap.String("supporter_id", s.ID))
		}
	}
	return sent
}

func displayName(u domain.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func profileOf(u domain.User) *domain.UserProfile {
	return &domain.UserProfile{ID: u.ID, Name: u.Name, Email: u.Email}
}
