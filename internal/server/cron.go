package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"submit/internal/domain"
	"submit/internal/engine"
)

// Cron jobs triggered by an external scheduler.
const (
	JobJudgment = "judgment"
	JobMorning  = "morning"
	JobEvening  = "evening"
	JobUrgent   = "urgent"
)

// Jobs lists every cron job name.
var Jobs = []string{JobJudgment, JobMorning, JobEvening, JobUrgent}

// RunJob executes one named job.
func RunJob(ctx context.Context, e engine.Engine, job string) (CronResponse, error) {
	resp := CronResponse{Job: job}
	var (
		rs  engine.ReminderSummary
		err error
	)
	switch job {
	case JobJudgment:
		js, err := e.RunJudgment(ctx)
		if err != nil {
			return resp, err
		}
		resp.Judgment = &js
		return resp, nil
	case JobMorning:
		rs, err = e.RunMorningReminder(ctx)
	case JobEvening:
		rs, err = e.RunEveningReminder(ctx)
	case JobUrgent:
		rs, err = e.RunUrgentReminder(ctx)
	default:
		return resp, newAPIError(http.StatusNotFound, "not_found", "unknown job "+job, map[string]any{"jobs": Jobs})
	}
	if err != nil {
		return resp, err
	}
	resp.Reminder = &rs
	return resp, nil
}

func registerCron(api huma.API, h handlers) {
	type jobInput struct {
		Job string `path:"job" enum:"judgment,morning,evening,urgent"`
	}
	run := func(ctx context.Context, input *jobInput) (*bodyOutput[CronResponse], error) {
		resp, err := RunJob(ctx, h.e, input.Job)
		if err != nil {
			h.log.Error("cron job failed", zap.String("job", input.Job), zap.Error(err))
			return nil, h.handleError(err)
		}
		return respond(resp), nil
	}
	// GET is accepted for schedulers that can only issue GETs.
	for _, method := range []string{http.MethodPost, http.MethodGet} {
		opID := "run-job"
		if method == http.MethodGet {
			opID = "run-job-get"
		}
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      method,
			Path:        "/cron/{job}",
			Summary:     "Run a scheduled job",
			Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
		}, run)
	}

	huma.Register(api, huma.Operation{
		OperationID: "cron-update-penalty",
		Method:      http.MethodPost,
		Path:        "/cron/penalties/{id}/status",
		Summary:     "Record the outcome of a penalty capture",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdatePenaltyRequest
	}) (*bodyOutput[domain.PenaltyLog], error) {
		p, err := h.e.UpdatePenaltyStatus(ctx, input.ID, input.Body.Status, input.Body.PaymentRef, "cron")
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(p), nil
	})
}
