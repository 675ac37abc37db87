package engine

import (
	"context"
	"strings"

	"submit/internal/domain"
	"submit/internal/events"
	"submit/internal/repo"
)

func (e Engine) ListJudgments(ctx context.Context, userID, projectID string, limit int) ([]domain.JudgmentLog, error) {
	if projectID != "" {
		if _, err := e.ownedProject(ctx, userID, projectID); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListJudgments(ctx, repo.JudgmentFilter{UserID: userID, ProjectID: projectID, Limit: limit})
}

func (e Engine) ListPenalties(ctx context.Context, userID, status string, limit int) ([]domain.PenaltyLog, error) {
	if status != "" && !domain.ValidPenaltyStatus(status) {
		return nil, invalid("status", "unknown status %q", status)
	}
	return e.Repo.ListPenalties(ctx, repo.PenaltyFilter{UserID: userID, Status: status, Limit: limit})
}

// UpdatePenaltyStatus records the outcome of an external capture attempt.
func (e Engine) UpdatePenaltyStatus(ctx context.Context, penaltyID, status, paymentRef, actorID string) (domain.PenaltyLog, error) {
	status = strings.TrimSpace(status)
	if !domain.ValidPenaltyStatus(status) {
		return domain.PenaltyLog{}, invalid("status", "unknown status %q", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PenaltyLog{}, err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetPenaltyTx(ctx, tx, penaltyID)
	if err != nil {
		return domain.PenaltyLog{}, err
	}
	if err := e.Repo.UpdatePenaltyStatusTx(ctx, tx, penaltyID, status, optionalString(strings.TrimSpace(paymentRef)), e.now()); err != nil {
		return domain.PenaltyLog{}, err
	}
	projectID := ""
	if p.ProjectID != nil {
		projectID = *p.ProjectID
	}
	if err := e.appendEvent(ctx, tx, events.PenaltyStatusChange, projectID, "penalty", penaltyID, actorID, events.EventPayload{
		"from": p.Status,
		"to":   status,
	}); err != nil {
		return domain.PenaltyLog{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PenaltyLog{}, err
	}
	return e.Repo.GetPenalty(ctx, penaltyID)
}
