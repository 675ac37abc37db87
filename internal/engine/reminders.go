package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"submit/internal/domain"
	"submit/internal/notify"
	"submit/internal/repo"
	"submit/internal/schedule"
)

// ReminderSummary is the result of one reminder sweep. Skipped counts users
// with due projects who were not messaged.
type ReminderSummary struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// urgentWindow is how far back the urgent sweep looks for missed judgments
// nobody has been told about.
const urgentWindow = 24 * time.Hour

// dueToday groups active projects whose deadline falls on the owner's local
// today. Local days can start up to a day away from UTC, so the query window
// is widened and each project is checked in its owner's zone.
func (e Engine) dueToday(ctx context.Context) ([]domain.User, map[string][]domain.Project, error) {
	now := e.now()
	projects, err := e.Repo.ListActiveProjectsDueBetween(ctx, now.Add(-48*time.Hour), now.Add(48*time.Hour))
	if err != nil {
		return nil, nil, fmt.Errorf("list projects due today: %w", err)
	}
	users, err := e.Repo.UsersByIDs(ctx, ownerIDs(projects))
	if err != nil {
		return nil, nil, fmt.Errorf("load project owners: %w", err)
	}
	byUser := map[string][]domain.Project{}
	for _, p := range projects {
		u, ok := users[p.UserID]
		if !ok || p.NextJudgmentDate == nil {
			continue
		}
		if schedule.SameDay(*p.NextJudgmentDate, now, e.location(u)) {
			byUser[u.ID] = append(byUser[u.ID], p)
		}
	}
	ordered := make([]domain.User, 0, len(byUser))
	for id := range byUser {
		ordered = append(ordered, users[id])
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	return ordered, byUser, nil
}

// RunMorningReminder messages each opted-in, linked user once, listing the
// projects due today.
func (e Engine) RunMorningReminder(ctx context.Context) (ReminderSummary, error) {
	var sum ReminderSummary
	users, byUser, err := e.dueToday(ctx)
	if err != nil {
		return sum, err
	}
	log := e.log().With(zap.String("run", "morning"))
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if !u.NotifyMorning || !u.LineLinked() {
			sum.Skipped++
			continue
		}
		names := make([]string, 0, len(byUser[u.ID]))
		for _, p := range byUser[u.ID] {
			names = append(names, p.Name)
		}
		if e.push(ctx, *u.LineUserID, notify.MorningReminder(names)) {
			sum.Sent++
		} else {
			sum.Errors++
			log.Error("morning reminder not delivered", zap.String("user_id", u.ID))
		}
	}
	log.Info("morning reminder finished", zap.Int("sent", sum.Sent), zap.Int("skipped", sum.Skipped), zap.Int("errors", sum.Errors))
	return sum, nil
}

// RunEveningReminder is the morning sweep restricted to projects without a
// submission today, with each penalty spelled out.
func (e Engine) RunEveningReminder(ctx context.Context) (ReminderSummary, error) {
	var sum ReminderSummary
	users, byUser, err := e.dueToday(ctx)
	if err != nil {
		return sum, err
	}
	log := e.log().With(zap.String("run", "evening"))
	now := e.now()
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if !u.NotifyEvening || !u.LineLinked() {
			sum.Skipped++
			continue
		}
		projects := byUser[u.ID]
		ids := make([]string, len(projects))
		for i, p := range projects {
			ids[i] = p.ID
		}
		start, end := schedule.DayBounds(now, e.location(u))
		done, err := e.Repo.SubmittedProjectIDs(ctx, ids, start, end)
		if err != nil {
			sum.Errors++
			log.Error("load today's submissions", zap.String("user_id", u.ID), zap.Error(err))
			continue
		}
		var items []notify.Item
		for _, p := range projects {
			if !done[p.ID] {
				items = append(items, notify.Item{Name: p.Name, PenaltyAmount: p.PenaltyAmount})
			}
		}
		if len(items) == 0 {
			sum.Skipped++
			continue
		}
		if e.push(ctx, *u.LineUserID, notify.EveningReminder(items)) {
			sum.Sent++
		} else {
			sum.Errors++
			log.Error("evening reminder not delivered", zap.String("user_id", u.ID))
		}
	}
	log.Info("evening reminder finished", zap.Int("sent", sum.Sent), zap.Int("skipped", sum.Skipped), zap.Int("errors", sum.Errors))
	return sum, nil
}

// RunUrgentReminder summarizes penalties from recent missed judgments the
// owner has not been told about, for users who keep urgent alerts on.
// Delivered misses are stamped and never sent again.
func (e Engine) RunUrgentReminder(ctx context.Context) (ReminderSummary, error) {
	var sum ReminderSummary
	users, err := e.Repo.ListUrgentRecipients(ctx)
	if err != nil {
		return sum, fmt.Errorf("list urgent recipients: %w", err)
	}
	log := e.log().With(zap.String("run", "urgent"))
	since := e.now().Add(-urgentWindow)
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		missed, err := e.Repo.ListJudgments(ctx, repo.JudgmentFilter{UserID: u.ID, MissedOnly: true, Unnotified: true, Since: &since})
		if err != nil {
			sum.Errors++
			log.Error("load missed judgments", zap.String("user_id", u.ID), zap.Error(err))
			continue
		}
		if len(missed) == 0 {
			continue
		}
		items := make([]notify.Item, 0, len(missed))
		ids := make([]string, 0, len(missed))
		for _, j := range missed {
			ids = append(ids, j.ID)
			name := j.ProjectID
			if p, err := e.Repo.GetProject(ctx, j.ProjectID); err == nil {
				name = p.Name
			}
			amount := 0
			if j.PenaltyAmount != nil {
				amount = *j.PenaltyAmount
			}
			items = append(items, notify.Item{Name: name, PenaltyAmount: amount})
		}
		if e.push(ctx, *u.LineUserID, notify.UrgentReminder(items)) {
			sum.Sent++
			if _, err := e.Repo.MarkJudgmentsNotified(ctx, ids, e.now()); err != nil {
				sum.Errors++
				log.Error("mark judgments notified", zap.String("user_id", u.ID), zap.Error(err))
			}
		} else {
			sum.Errors++
			log.Error("urgent reminder not delivered", zap.String("user_id", u.ID))
		}
	}
	log.Info("urgent reminder finished", zap.Int("sent", sum.Sent), zap.Int("skipped", sum.Skipped), zap.Int("errors", sum.Errors))
	return sum, nil
}
