package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"submit/internal/domain"
	"submit/internal/events"
	"submit/internal/notify"
	"submit/internal/repo"
)

// SubmissionCreateOptions are parameters for a submission. LineMessageID
// deduplicates chat deliveries; ReplyToken sends the confirmation as a chat
// reply instead of a push.
type SubmissionCreateOptions struct {
	UserID        string
	ProjectID     string
	Content       string
	LineMessageID string
	ReplyToken    string
}

type SubmissionResult struct {
	Submission domain.Submission `json:"submission"`
	// Duplicate is set when the chat message was already recorded; the
	// existing submission is returned and nothing is written.
	Duplicate bool `json:"duplicate"`
	Notified  bool `json:"notified"`
}

func (e Engine) CreateSubmission(ctx context.Context, opts SubmissionCreateOptions) (SubmissionResult, error) {
	content := strings.TrimSpace(opts.Content)
	if content == "" {
		return SubmissionResult{}, invalid("content", "is required")
	}
	if opts.ProjectID == "" {
		return SubmissionResult{}, invalid("project_id", "is required")
	}
	u, err := e.requirePledged(ctx, opts.UserID)
	if err != nil {
		return SubmissionResult{}, err
	}
	p, err := e.ownedProject(ctx, u.ID, opts.ProjectID)
	if err != nil {
		return SubmissionResult{}, err
	}
	if p.Status == domain.ProjectArchived {
		return SubmissionResult{}, invalid("project_id", "project is archived")
	}

	s, dup, err := e.insertSubmission(ctx, u, p, content, opts.LineMessageID)
	if err != nil {
		return SubmissionResult{}, err
	}
	res := SubmissionResult{Submission: s, Duplicate: dup}
	if dup {
		e.log().Info("duplicate chat message ignored", zap.String("project_id", p.ID), zap.String("line_message_id", opts.LineMessageID))
		return res, nil
	}

	msg := notify.SubmissionConfirmation(p.Name, s.SequenceNum)
	switch {
	case opts.ReplyToken != "":
		res.Notified = e.reply(ctx, opts.ReplyToken, msg)
	case u.LineLinked():
		res.Notified = e.push(ctx, *u.LineUserID, msg)
	}
	if !res.Notified && (opts.ReplyToken != "" || u.LineLinked()) {
		e.log().Warn("submission confirmation not delivered", zap.String("user_id", u.ID), zap.String("submission_id", s.ID))
	}
	return res, nil
}

// insertSubmission assigns the next sequence number and stores the
// submission in one transaction.
func (e Engine) insertSubmission(ctx context.Context, u domain.User, p domain.Project, content, messageID string) (domain.Submission, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, false, err
	}
	defer tx.Rollback()

	if messageID != "" {
		existing, err := e.Repo.GetSubmissionByLineMessageIDTx(ctx, tx, messageID)
		if err == nil {
			return existing, true, nil
		}
		if !isNotFound(err) {
			return domain.Submission{}, false, err
		}
	}
	now := e.now()
	seq, err := e.Repo.NextSequenceTx(ctx, tx, p.ID, now)
	if err != nil {
		return domain.Submission{}, false, err
	}
	s := domain.Submission{
		ID:            uuid.NewString(),
		ProjectID:     p.ID,
		UserID:        u.ID,
		SequenceNum:   seq,
		Content:       content,
		LineMessageID: optionalString(messageID),
		CreatedAt:     now,
	}
	if err := e.Repo.InsertSubmissionTx(ctx, tx, s); err != nil {
		if errors.Is(err, repo.ErrDuplicate) && messageID != "" {
			tx.Rollback()
			existing, gerr := e.Repo.GetSubmissionByLineMessageID(ctx, messageID)
			if gerr == nil {
				return existing, true, nil
			}
		}
		return domain.Submission{}, false, err
	}
	if err := e.appendEvent(ctx, tx, events.SubmissionCreated, p.ID, "submission", s.ID, u.ID, events.EventPayload{
		"sequence_num": s.SequenceNum,
		"via_line":     messageID != "",
	}); err != nil {
		return domain.Submission{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, false, err
	}
	return s, false, nil
}

// ListSubmissions returns the user's submissions, optionally for one owned
// project, newest first.
func (e Engine) ListSubmissions(ctx context.Context, userID, projectID string, limit int) ([]domain.Submission, error) {
	if projectID != "" {
		if _, err := e.ownedProject(ctx, userID, projectID); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListSubmissions(ctx, repo.SubmissionFilter{UserID: userID, ProjectID: projectID, Limit: limit})
}
