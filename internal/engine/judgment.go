package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"submit/internal/domain"
	"submit/internal/events"
	"submit/internal/notify"
	"submit/internal/repo"
	"submit/internal/schedule"
)

// JudgmentSummary is the result of one judgment run. Processed counts every
// due project examined, whatever its outcome.
type JudgmentSummary struct {
	Processed int `json:"processed"`
	Submitted int `json:"submitted"`
	Missed    int `json:"missed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// JudgmentOutcome describes what happened to one project.
type JudgmentOutcome struct {
	ProjectID   string    `json:"project_id"`
	JudgmentID  string    `json:"judgment_id,omitempty"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Submitted   bool      `json:"submitted"`
	// Skipped is set when the period already had a judgment log.
	Skipped bool `json:"skipped"`
	// Repaired is set when a skipped project's schedule still pointed at
	// the judged period and was moved on.
	Repaired      bool      `json:"repaired"`
	PenaltyAmount int       `json:"penalty_amount,omitempty"`
	Next          time.Time `json:"next_judgment_date"`
	Notified      bool      `json:"notified"`
	// SupportersNotified counts supporters told about a miss.
	SupportersNotified int `json:"supporters_notified,omitempty"`
}

// RunJudgment judges every active project whose period has ended. One
// project's failure is logged and counted and never stops the run.
func (e Engine) RunJudgment(ctx context.Context) (JudgmentSummary, error) {
	var sum JudgmentSummary
	now := e.now()
	due, err := e.Repo.ListDueProjects(ctx, now)
	if err != nil {
		return sum, fmt.Errorf("list due projects: %w", err)
	}
	owners, err := e.Repo.UsersByIDs(ctx, ownerIDs(due))
	if err != nil {
		return sum, fmt.Errorf("load project owners: %w", err)
	}
	log := e.log().With(zap.String("run", "judgment"))
	log.Info("judgment run started", zap.Int("due", len(due)))
	for _, p := range due {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Processed++
		u, ok := owners[p.UserID]
		if !ok {
			sum.Errors++
			log.Error("project owner missing", zap.String("project_id", p.ID), zap.String("user_id", p.UserID))
			continue
		}
		out, err := e.judge(ctx, p, u)
		switch {
		case err != nil:
			sum.Errors++
			log.Error("judgment failed", zap.String("project_id", p.ID), zap.String("user_id", p.UserID), zap.Error(err))
		case out.Skipped:
			sum.Skipped++
			log.Info("period already judged, skipped", zap.String("project_id", p.ID), zap.Time("period_end", out.PeriodEnd), zap.Bool("repaired", out.Repaired))
		case out.Submitted:
			sum.Submitted++
		default:
			sum.Missed++
		}
	}
	log.Info("judgment run finished",
		zap.Int("processed", sum.Processed), zap.Int("submitted", sum.Submitted),
		zap.Int("missed", sum.Missed), zap.Int("skipped", sum.Skipped), zap.Int("errors", sum.Errors))
	return sum, nil
}

// JudgeProject judges one project's current period if it has ended.
func (e Engine) JudgeProject(ctx context.Context, projectID string) (JudgmentOutcome, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return JudgmentOutcome{}, err
	}
	if p.Status != domain.ProjectActive {
		return JudgmentOutcome{}, invalid("status", "project is %s", p.Status)
	}
	if p.NextJudgmentDate == nil || p.NextJudgmentDate.After(e.now()) {
		return JudgmentOutcome{}, invalid("next_judgment_date", "current period has not ended")
	}
	u, err := e.Repo.GetUser(ctx, p.UserID)
	if err != nil {
		return JudgmentOutcome{}, err
	}
	return e.judge(ctx, p, u)
}

// judge evaluates the period ending at p.NextJudgmentDate. The judgment
// log, penalty, aggregates and schedule advance commit together; the
// (project, period end) key makes a repeat a skip.
func (e Engine) judge(ctx context.Context, p domain.Project, u domain.User) (JudgmentOutcome, error) {
	if p.NextJudgmentDate == nil {
		return JudgmentOutcome{}, fmt.Errorf("project %s has no next judgment date", p.ID)
	}
	loc := e.location(u)
	periodEnd := *p.NextJudgmentDate
	next, err := schedule.Next(schedule.RuleOf(p), periodEnd, loc)
	if err != nil {
		return JudgmentOutcome{}, fmt.Errorf("advance schedule: %w", err)
	}
	out := JudgmentOutcome{ProjectID: p.ID, PeriodEnd: periodEnd, Next: next}
	now := e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return out, err
	}
	defer tx.Rollback()

	cur, err := e.Repo.GetProjectTx(ctx, tx, p.ID)
	if err != nil {
		return out, err
	}
	if cur.Status != domain.ProjectActive || cur.NextJudgmentDate == nil || !cur.NextJudgmentDate.Equal(periodEnd) {
		// another run got here first
		out.Skipped = true
		return out, nil
	}
	lastEnd, err := e.Repo.LatestJudgmentDateTx(ctx, tx, p.ID)
	if err != nil {
		return out, err
	}
	out.PeriodStart = schedule.PeriodStart(lastEnd, cur.CreatedAt, loc)
	submitted, err := e.Repo.SubmissionExistsTx(ctx, tx, p.ID, out.PeriodStart, periodEnd)
	if err != nil {
		return out, err
	}
	out.Submitted = submitted

	jl := domain.JudgmentLog{
		ID:              uuid.NewString(),
		UserID:          cur.UserID,
		ProjectID:       cur.ID,
		JudgmentDate:    periodEnd,
		Submitted:       submitted,
		PenaltyExecuted: !submitted,
		CreatedAt:       now,
	}
	if !submitted {
		amount := cur.PenaltyAmount
		jl.PenaltyAmount = &amount
		out.PenaltyAmount = amount
	}
	inserted, err := e.Repo.InsertJudgmentTx(ctx, tx, jl)
	if err != nil {
		return out, fmt.Errorf("insert judgment log: %w", err)
	}
	out.JudgmentID = jl.ID
	if !inserted {
		// The period was judged but the schedule never moved; move it on
		// without charging again.
		out = JudgmentOutcome{ProjectID: p.ID, PeriodEnd: periodEnd, Next: next, Skipped: true}
		advanced, err := e.Repo.AdvanceScheduleTx(ctx, tx, cur.ID, periodEnd, next, now)
		if err != nil {
			return out, err
		}
		if advanced {
			out.Repaired = true
			if err := e.appendEvent(ctx, tx, events.JudgmentRepaired, cur.ID, "project", cur.ID, events.ActorSystem, events.EventPayload{
				"period_end":         repo.TS(periodEnd),
				"next_judgment_date": repo.TS(next),
			}); err != nil {
				return out, err
			}
		}
		return out, tx.Commit()
	}

	evtType := events.JudgmentPassed
	payload := events.EventPayload{
		"judgment_id":        jl.ID,
		"period_start":       repo.TS(out.PeriodStart),
		"period_end":         repo.TS(periodEnd),
		"next_judgment_date": repo.TS(next),
	}
	if !submitted {
		evtType = events.JudgmentMissed
		if err := e.Repo.RecordMissTx(ctx, tx, cur.ID, cur.PenaltyAmount, now); err != nil {
			return out, fmt.Errorf("record miss: %w", err)
		}
		projectID := cur.ID
		penalty := domain.PenaltyLog{
			ID:        uuid.NewString(),
			UserID:    cur.UserID,
			ProjectID: &projectID,
			Amount:    cur.PenaltyAmount,
			Reason:    fmt.Sprintf("%s - %s not submitted", cur.Name, periodEnd.In(loc).Format("2006-01-02")),
			Status:    domain.PenaltyPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.Repo.InsertPenaltyTx(ctx, tx, penalty); err != nil {
			return out, fmt.Errorf("insert penalty log: %w", err)
		}
		payload["penalty_id"] = penalty.ID
		payload["penalty_amount"] = penalty.Amount
	}
	advanced, err := e.Repo.AdvanceScheduleTx(ctx, tx, cur.ID, periodEnd, next, now)
	if err != nil {
		return out, fmt.Errorf("advance schedule: %w", err)
	}
	if !advanced {
		return out, fmt.Errorf("project %s schedule moved during judgment", cur.ID)
	}
	if err := e.appendEvent(ctx, tx, evtType, cur.ID, "judgment", jl.ID, events.ActorSystem, payload); err != nil {
		return out, err
	}
	if err := tx.Commit(); err != nil {
		return out, err
	}

	out.Notified = e.notifyJudgment(ctx, u, cur, out)
	if !submitted {
		out.SupportersNotified = e.notifySupporters(ctx, u, cur, out.PenaltyAmount)
	}
	return out, nil
}

// notifyJudgment tells the owner the outcome. Misses are only pushed to
// users who keep urgent alerts on, and a delivered miss is stamped so the
// urgent sweep does not repeat it.
func (e Engine) notifyJudgment(ctx context.Context, u domain.User, p domain.Project, out JudgmentOutcome) bool {
	if !u.LineLinked() {
		return false
	}
	var msg string
	if out.Submitted {
		msg = notify.JudgmentSuccess(p.Name)
	} else {
		if !u.NotifyUrgent {
			return false
		}
		msg = notify.JudgmentFailed(p.Name, out.PenaltyAmount)
	}
	if !e.push(ctx, *u.LineUserID, msg) {
		e.log().Warn("judgment notification not delivered", zap.String("project_id", p.ID), zap.String("user_id", u.ID))
		return false
	}
	if !out.Submitted {
		if _, err := e.Repo.MarkJudgmentsNotified(ctx, []string{out.JudgmentID}, e.now()); err != nil {
			e.log().Error("mark judgment notified", zap.String("judgment_id", out.JudgmentID), zap.Error(err))
		}
	}
	return true
}

func ownerIDs(projects []domain.Project) []string {
	seen := map[string]bool{}
	var ids []string
	for _, p := range projects {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			ids = append(ids, p.UserID)
		}
	}
	return ids
}
