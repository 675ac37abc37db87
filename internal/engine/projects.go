package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"submit/internal/domain"
	"submit/internal/events"
	"submit/internal/repo"
	"submit/internal/schedule"
)

const maxProjectName = 100

// ProjectCreateOptions are parameters for creating a project. Nil pointers
// take the defaults: weekly on Sunday with the configured penalty.
type ProjectCreateOptions struct {
	UserID        string
	Name          string
	Description   string
	Frequency     string
	JudgmentDay   *int
	CustomDays    *int
	PenaltyAmount *int
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	u, err := e.requirePledged(ctx, opts.UserID)
	if err != nil {
		return domain.Project{}, err
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Project{}, invalid("name", "is required")
	}
	if len([]rune(name)) > maxProjectName {
		return domain.Project{}, invalid("name", "must be at most %d characters", maxProjectName)
	}
	cfg := e.config()
	rule := schedule.Rule{Frequency: opts.Frequency}
	if rule.Frequency == "" {
		rule.Frequency = domain.FrequencyWeekly
	}
	if opts.JudgmentDay != nil {
		rule.JudgmentDay = *opts.JudgmentDay
	}
	if rule.Frequency == domain.FrequencyCustom && opts.CustomDays != nil {
		rule.CustomDays = *opts.CustomDays
	}
	if err := rule.Validate(); err != nil {
		return domain.Project{}, invalid("frequency", "%v", err)
	}
	penalty := cfg.Penalty.Default
	if opts.PenaltyAmount != nil {
		penalty = *opts.PenaltyAmount
	}
	if penalty < cfg.Penalty.Min {
		return domain.Project{}, invalid("penalty_amount", "must be at least %d", cfg.Penalty.Min)
	}

	now := e.now()
	next, err := schedule.Initial(rule, now, e.location(u))
	if err != nil {
		return domain.Project{}, invalid("frequency", "%v", err)
	}
	p := domain.Project{
		ID:               uuid.NewString(),
		UserID:           u.ID,
		Name:             name,
		Description:      strings.TrimSpace(opts.Description),
		Frequency:        rule.Frequency,
		JudgmentDay:      rule.JudgmentDay,
		PenaltyAmount:    penalty,
		Status:           domain.ProjectActive,
		NextJudgmentDate: &next,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if rule.Frequency == domain.FrequencyCustom {
		days := rule.CustomDays
		p.CustomDays = &days
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.appendEvent(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, u.ID, events.EventPayload{
		"frequency":          p.Frequency,
		"penalty_amount":     p.PenaltyAmount,
		"next_judgment_date": repo.TS(next),
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, userID, projectID string) (domain.Project, error) {
	return e.ownedProject(ctx, userID, projectID)
}

func (e Engine) ListProjects(ctx context.Context, userID, status string) ([]domain.Project, error) {
	if status != "" && !domain.ValidProjectStatus(status) {
		return nil, invalid("status", "unknown status %q", status)
	}
	return e.Repo.ListProjects(ctx, userID, status)
}

// ProjectUpdateOptions are the user-editable fields. Nil leaves a field
// untouched.
type ProjectUpdateOptions struct {
	UserID        string
	ID            string
	Name          *string
	Description   *string
	PenaltyAmount *int
	Status        *string
}

// UpdateProject applies user edits. The penalty can only change while the
// project is active, and resuming a project re-seeds its schedule from now
// without ever moving it backward.
func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	p, err := e.ownedProject(ctx, opts.UserID, opts.ID)
	if err != nil {
		return domain.Project{}, err
	}
	var upd repo.ProjectUpdate
	payload := events.EventPayload{}
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if name == "" {
			return domain.Project{}, invalid("name", "is required")
		}
		if len([]rune(name)) > maxProjectName {
			return domain.Project{}, invalid("name", "must be at most %d characters", maxProjectName)
		}
		upd.Name = &name
		payload["name"] = name
	}
	if opts.Description != nil {
		desc := strings.TrimSpace(*opts.Description)
		upd.Description = &desc
	}
	if opts.PenaltyAmount != nil && *opts.PenaltyAmount != p.PenaltyAmount {
		if p.Status != domain.ProjectActive {
			return domain.Project{}, invalid("penalty_amount", "can only be changed while the project is active")
		}
		if minAmount := e.config().Penalty.Min; *opts.PenaltyAmount < minAmount {
			return domain.Project{}, invalid("penalty_amount", "must be at least %d", minAmount)
		}
		upd.PenaltyAmount = opts.PenaltyAmount
		payload["penalty_amount"] = *opts.PenaltyAmount
	}
	if opts.Status != nil && *opts.Status != p.Status {
		status := *opts.Status
		if !domain.ValidProjectStatus(status) {
			return domain.Project{}, invalid("status", "unknown status %q", status)
		}
		upd.Status = &status
		payload["status"] = status
		payload["previous_status"] = p.Status
		if status == domain.ProjectActive {
			u, err := e.Repo.GetUser(ctx, p.UserID)
			if err != nil {
				return domain.Project{}, err
			}
			next, err := schedule.Initial(schedule.RuleOf(p), e.now(), e.location(u))
			if err != nil {
				return domain.Project{}, invalid("frequency", "%v", err)
			}
			if p.NextJudgmentDate != nil && p.NextJudgmentDate.After(next) {
				next = *p.NextJudgmentDate
			}
			upd.NextJudgmentDate = &next
			payload["next_judgment_date"] = repo.TS(next)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProjectTx(ctx, tx, p.ID, upd, e.now()); err != nil {
		return domain.Project{}, err
	}
	if len(payload) > 0 {
		if err := e.appendEvent(ctx, tx, events.ProjectUpdated, p.ID, "project", p.ID, opts.UserID, payload); err != nil {
			return domain.Project{}, err
		}
	}
	updated, err := e.Repo.GetProjectTx(ctx, tx, p.ID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return updated, nil
}

// DeleteProject removes the project with its submissions and judgment logs.
// Penalty logs are kept.
func (e Engine) DeleteProject(ctx context.Context, userID, projectID string) error {
	p, err := e.ownedProject(ctx, userID, projectID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProjectTx(ctx, tx, p.ID); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.ProjectDeleted, p.ID, "project", p.ID, userID, events.EventPayload{"name": p.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

// ProjectEvents returns the audit trail of an owned project.
func (e Engine) ProjectEvents(ctx context.Context, userID, projectID string, limit int) ([]domain.Event, error) {
	if _, err := e.ownedProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListEvents(ctx, projectID, limit)
}

func isNotFound(err error) bool { return errors.Is(err, repo.ErrNotFound) }
