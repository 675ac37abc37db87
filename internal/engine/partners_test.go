package engine_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"submit/internal/domain"
	"submit/internal/engine"
	"submit/internal/notify"
	"submit/internal/repo"
)

// supportedBy links supporter to owner through a fresh invite.
func (env testEnv) supportedBy(t *testing.T, owner, supporter domain.User) domain.Supporter {
	t.Helper()
	inv, err := env.Engine.CreateInvite(env.Ctx, owner.ID)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	s, err := env.Engine.AcceptInvite(env.Ctx, supporter.ID, *inv.InviteToken)
	if err != nil {
		t.Fatalf("accept invite: %v", err)
	}
	return s
}

func TestInviteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	owner := env.pledgedUser(t, "owner@example.com", "U1")
	friend := env.pledgedUser(t, "friend@example.com", "")

	first, err := env.Engine.CreateInvite(env.Ctx, owner.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != domain.SupporterPending || first.InviteToken == nil || len(*first.InviteToken) != 32 {
		t.Fatalf("invite %+v", first)
	}
	if first.ExpiresAt == nil || !first.ExpiresAt.Equal(env.Engine.Now().Add(24*time.Hour)) {
		t.Fatalf("expires %v", first.ExpiresAt)
	}
	second, err := env.Engine.CreateInvite(env.Ctx, owner.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AcceptInvite(env.Ctx, friend.ID, *first.InviteToken); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("replaced invite accepted: %v", err)
	}
	var verr *engine.ValidationError
	if _, err := env.Engine.AcceptInvite(env.Ctx, owner.ID, *second.InviteToken); !errors.As(err, &verr) {
		t.Fatalf("self support accepted: %v", err)
	}

	s, err := env.Engine.AcceptInvite(env.Ctx, friend.ID, *second.InviteToken)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != domain.SupporterActive || s.InviteToken != nil || s.Supporter == nil || s.Supporter.Email != "friend@example.com" {
		t.Fatalf("accepted %+v", s)
	}
	if _, err := env.Engine.AcceptInvite(env.Ctx, friend.ID, *second.InviteToken); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("spent token accepted again: %v", err)
	}
	msgs := env.Rec.Messages()
	if len(msgs) != 1 || msgs[0].To != "U1" || msgs[0].Text != notify.SupporterJoined("tester") {
		t.Fatalf("owner messages %+v", msgs)
	}

	// A second invite accepted by the same friend is a duplicate link.
	third, _ := env.Engine.CreateInvite(env.Ctx, owner.ID)
	if _, err := env.Engine.AcceptInvite(env.Ctx, friend.ID, *third.InviteToken); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("duplicate link: %v", err)
	}

	list, err := env.Engine.ListSupporters(env.Ctx, owner.ID)
	if err != nil {
		t.Fatal(err)
	}
	var active int
	for _, l := range list {
		if l.Status == domain.SupporterActive {
			active++
			if l.Supporter == nil || l.Supporter.ID != friend.ID {
				t.Fatalf("supporter profile %+v", l)
			}
		}
	}
	if active != 1 {
		t.Fatalf("supporters %+v", list)
	}
	supporting, _ := env.Engine.ListSupporting(env.Ctx, friend.ID)
	if len(supporting) != 1 || supporting[0].User == nil || supporting[0].User.ID != owner.ID {
		t.Fatalf("supporting %+v", supporting)
	}
}

func TestInviteExpires(t *testing.T) {
	env := newTestEnv(t)
	owner := env.pledgedUser(t, "owner@example.com", "")
	friend := env.pledgedUser(t, "friend@example.com", "")
	inv, err := env.Engine.CreateInvite(env.Ctx, owner.ID)
	if err != nil {
		t.Fatal(err)
	}
	env.setNow(env.Engine.Now().Add(24 * time.Hour))
	var verr *engine.ValidationError
	if _, err := env.Engine.AcceptInvite(env.Ctx, friend.ID, *inv.InviteToken); !errors.As(err, &verr) || verr.Message != "invite expired" {
		t.Fatalf("expired invite: %v", err)
	}
}

func TestCheersRequireActiveSupporter(t *testing.T) {
	env := newTestEnv(t)
	owner := env.pledgedUser(t, "owner@example.com", "U1")
	friend := env.pledgedUser(t, "friend@example.com", "")
	stranger := env.pledgedUser(t, "stranger@example.com", "")
	env.supportedBy(t, owner, friend)
	env.Rec.Reset()

	if _, err := env.Engine.SendCheer(env.Ctx, stranger.ID, owner.ID, "go"); !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("stranger cheer: %v", err)
	}
	var verr *engine.ValidationError
	if _, err := env.Engine.SendCheer(env.Ctx, friend.ID, owner.ID, "  "); !errors.As(err, &verr) {
		t.Fatalf("empty cheer: %v", err)
	}
	if _, err := env.Engine.SendCheer(env.Ctx, friend.ID, owner.ID, strings.Repeat("a", 501)); !errors.As(err, &verr) {
		t.Fatalf("long cheer: %v", err)
	}
	c, err := env.Engine.SendCheer(env.Ctx, friend.ID, owner.ID, " keep going ")
	if err != nil {
		t.Fatal(err)
	}
	if c.Message != "keep going" {
		t.Fatalf("cheer %+v", c)
	}
	msgs := env.Rec.Messages()
	if len(msgs) != 1 || msgs[0].To != "U1" || msgs[0].Text != notify.CheerReceived("tester", "keep going") {
		t.Fatalf("messages %+v", msgs)
	}
	cheers, err := env.Engine.ListCheers(env.Ctx, owner.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cheers) != 1 || cheers[0].Supporter == nil || cheers[0].Supporter.Email != "friend@example.com" {
		t.Fatalf("cheers %+v", cheers)
	}
}

func TestRemoveSupporterEndsCheers(t *testing.T) {
	env := newTestEnv(t)
	owner := env.pledgedUser(t, "owner@example.com", "")
	friend := env.pledgedUser(t, "friend@example.com", "")
	s := env.supportedBy(t, owner, friend)
	if err := env.Engine.RemoveSupporter(env.Ctx, friend.ID, s.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign remove: %v", err)
	}
	if err := env.Engine.RemoveSupporter(env.Ctx, owner.ID, s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SendCheer(env.Ctx, friend.ID, owner.ID, "hi"); !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("cheer after removal: %v", err)
	}
}

func TestMissedJudgmentReachesSupporters(t *testing.T) {
	env := newTestEnv(t)
	owner := env.pledgedUser(t, "owner@example.com", "U1")
	linked := env.pledgedUser(t, "linked@example.com", "S1")
	unlinked := env.pledgedUser(t, "unlinked@example.com", "")
	env.supportedBy(t, owner, linked)
	env.supportedBy(t, owner, unlinked)
	// An open invite is not a supporter.
	if _, err := env.Engine.CreateInvite(env.Ctx, owner.ID); err != nil {
		t.Fatal(err)
	}
	p := env.dailyProject(t, owner.ID, "Blog")
	env.Rec.Reset()

	env.setNow(time.Date(2025, 1, 8, 0, 5, 0, 0, tokyo))
	out, err := env.Engine.JudgeProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.SupportersNotified != 1 {
		t.Fatalf("outcome %+v", out)
	}
	var toSupporter []notify.Message
	for _, m := range env.Rec.Messages() {
		if m.To == "S1" {
			toSupporter = append(toSupporter, m)
		}
	}
	if len(toSupporter) != 1 || toSupporter[0].Text != notify.SupporterMissed("tester", "Blog", 1000) {
		t.Fatalf("supporter messages %+v", env.Rec.Messages())
	}

	// A passed period stays between the owner and the bot.
	env.Rec.Reset()
	env.setNow(time.Date(2025, 1, 8, 12, 0, 0, 0, tokyo))
	env.submit(t, owner.ID, p.ID)
	env.Rec.Reset()
	env.setNow(time.Date(2025, 1, 9, 0, 5, 0, 0, tokyo))
	if _, err := env.Engine.JudgeProject(env.Ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	for _, m := range env.Rec.Messages() {
		if m.To == "S1" {
			t.Fatalf("supporter told about a pass: %+v", m)
		}
	}
}
