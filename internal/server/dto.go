package server

import (
	"submit/internal/domain"
	"submit/internal/engine"
)

// Request payloads

type DevLoginRequest struct {
	Email string `json:"email" format:"email"`
	Name  string `json:"name,omitempty"`
}

type UpdateMeRequest struct {
	Name          *string `json:"name,omitempty" maxLength:"100"`
	NotifyMorning *bool   `json:"notify_morning,omitempty"`
	NotifyEvening *bool   `json:"notify_evening,omitempty"`
	NotifyUrgent  *bool   `json:"notify_urgent,omitempty"`
	Timezone      *string `json:"timezone,omitempty" example:"Asia/Tokyo"`
}

type LinkLineRequest struct {
	LineUserID string `json:"line_user_id"`
}

type PledgeRequest struct {
	PledgeText      string `json:"pledge_text"`
	AgreedToTerms   bool   `json:"agreed_to_terms"`
	AgreedToPenalty bool   `json:"agreed_to_penalty"`
	AgreedToLine    bool   `json:"agreed_to_line"`
}

type CreateProjectRequest struct {
	Name          string  `json:"name" maxLength:"100"`
	Description   *string `json:"description,omitempty"`
	Frequency     string  `json:"frequency,omitempty" enum:"daily,weekly,biweekly,monthly,custom"`
	JudgmentDay   *int    `json:"judgment_day,omitempty" minimum:"0" maximum:"6"`
	CustomDays    *int    `json:"custom_days,omitempty" minimum:"1"`
	PenaltyAmount *int    `json:"penalty_amount,omitempty"`
}

type UpdateProjectRequest struct {
	Name          *string `json:"name,omitempty" maxLength:"100"`
	Description   *string `json:"description,omitempty"`
	PenaltyAmount *int    `json:"penalty_amount,omitempty"`
	Status        *string `json:"status,omitempty" enum:"active,paused,archived"`
}

type CreateSubmissionRequest struct {
	ProjectID string `json:"project_id"`
	Content   string `json:"content"`
}

type CreateMemoRequest struct {
	Content string   `json:"content"`
	Type    string   `json:"type,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

type AcceptInviteRequest struct {
	Token string `json:"token" minLength:"1"`
}

type SendCheerRequest struct {
	UserID  string `json:"user_id" minLength:"1"`
	Message string `json:"message" minLength:"1" maxLength:"500"`
}

type UpdatePenaltyRequest struct {
	Status     string `json:"status" enum:"pending,completed,failed"`
	PaymentRef string `json:"payment_ref,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token  string      `json:"token"`
	UserID string      `json:"user_id"`
	User   domain.User `json:"user"`
}

type PledgeStatusResponse struct {
	Pledged bool           `json:"pledged"`
	Pledge  *domain.Pledge `json:"pledge,omitempty"`
}

type ProjectListResponse struct {
	Items []domain.Project `json:"items"`
}

type SubmissionListResponse struct {
	Items []domain.Submission `json:"items"`
}

type JudgmentListResponse struct {
	Items []domain.JudgmentLog `json:"items"`
}

type PenaltyListResponse struct {
	Items []domain.PenaltyLog `json:"items"`
}

type MemoListResponse struct {
	Items []domain.Memo `json:"items"`
}

type SupporterListResponse struct {
	Items []domain.Supporter `json:"items"`
}

type CheerListResponse struct {
	Items []domain.Cheer `json:"items"`
}

type EventListResponse struct {
	Items []domain.Event `json:"items"`
}

// CronResponse wraps the summary of one scheduled run.
type CronResponse struct {
	Job      string                  `json:"job"`
	Judgment *engine.JudgmentSummary `json:"judgment,omitempty"`
	Reminder *engine.ReminderSummary `json:"reminder,omitempty"`
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
