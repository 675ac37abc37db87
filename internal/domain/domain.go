package domain

import "time"

// Frequency values accepted for a project's recurrence.
const (
	FrequencyDaily    = "daily"
	FrequencyWeekly   = "weekly"
	FrequencyBiweekly = "biweekly"
	FrequencyMonthly  = "monthly"
	FrequencyCustom   = "custom"
)

// Project status values. Only active projects are judged.
const (
	ProjectActive   = "active"
	ProjectPaused   = "paused"
	ProjectArchived = "archived"
)

// Penalty status values. Capture itself happens outside this service.
const (
	PenaltyPending   = "pending"
	PenaltyCompleted = "completed"
	PenaltyFailed    = "failed"
)

// Supporter status values. An invite is pending until someone accepts it.
const (
	SupporterPending = "pending"
	SupporterActive  = "active"
)

type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name,omitempty"`
	LineUserID    *string    `json:"line_user_id,omitempty"`
	NotifyMorning bool       `json:"notify_morning"`
	NotifyEvening bool       `json:"notify_evening"`
	NotifyUrgent  bool       `json:"notify_urgent"`
	Timezone      string     `json:"timezone,omitempty"`
	PledgedAt     *time.Time `json:"pledged_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Pledged reports whether the one-time acknowledgment gate was passed.
func (u User) Pledged() bool { return u.PledgedAt != nil }

// LineLinked reports whether the user has a chat account to notify.
func (u User) LineLinked() bool { return u.LineUserID != nil && *u.LineUserID != "" }

type Pledge struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	PledgeText string    `json:"pledge_text"`
	CreatedAt  time.Time `json:"created_at"`
}

type Project struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Name               string     `json:"name"`
	Description        string     `json:"description,omitempty"`
	Frequency          string     `json:"frequency" enum:"daily,weekly,biweekly,monthly,custom"`
	JudgmentDay        int        `json:"judgment_day" minimum:"0" maximum:"6"`
	CustomDays         *int       `json:"custom_days,omitempty"`
	PenaltyAmount      int        `json:"penalty_amount"`
	Status             string     `json:"status" enum:"active,paused,archived"`
	NextJudgmentDate   *time.Time `json:"next_judgment_date,omitempty"`
	SubmissionCount    int        `json:"submission_count"`
	MissedCount        int        `json:"missed_count"`
	TotalPenaltyAmount int        `json:"total_penalty_amount"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type Submission struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	UserID        string    `json:"user_id"`
	SequenceNum   int       `json:"sequence_num"`
	Content       string    `json:"content"`
	LineMessageID *string   `json:"line_message_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type JudgmentLog struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	ProjectID       string     `json:"project_id"`
	JudgmentDate    time.Time  `json:"judgment_date"`
	Submitted       bool       `json:"submitted"`
	PenaltyExecuted bool       `json:"penalty_executed"`
	PenaltyAmount   *int       `json:"penalty_amount,omitempty"`
	NotifiedAt      *time.Time `json:"notified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type PenaltyLog struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ProjectID  *string   `json:"project_id,omitempty"`
	Amount     int       `json:"amount"`
	Reason     string    `json:"reason"`
	Status     string    `json:"status" enum:"pending,completed,failed"`
	PaymentRef *string   `json:"payment_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Memo struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Supporter links a user to someone who follows their progress. A pending
// row is an open invite and has no supporter yet.
type Supporter struct {
	ID              string       `json:"id"`
	UserID          string       `json:"user_id"`
	SupporterUserID *string      `json:"supporter_user_id,omitempty"`
	InviteToken     *string      `json:"invite_token,omitempty"`
	Status          string       `json:"status" enum:"pending,active"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	Supporter       *UserProfile `json:"supporter,omitempty"`
	// User is filled when listing the people someone supports.
	User *UserProfile `json:"user,omitempty"`
}

// Cheer is an encouragement message from a supporter.
type Cheer struct {
	ID              string       `json:"id"`
	UserID          string       `json:"user_id"`
	SupporterUserID string       `json:"supporter_user_id"`
	Message         string       `json:"message"`
	CreatedAt       time.Time    `json:"created_at"`
	Supporter       *UserProfile `json:"supporter,omitempty"`
}

// UserProfile is the part of a user shown to their partners.
type UserProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

// ValidProjectStatus reports whether s is a known project status.
func ValidProjectStatus(s string) bool {
	switch s {
	case ProjectActive, ProjectPaused, ProjectArchived:
		return true
	}
	return false
}

// ValidPenaltyStatus reports whether s is a known penalty status.
func ValidPenaltyStatus(s string) bool {
	switch s {
	case PenaltyPending, PenaltyCompleted, PenaltyFailed:
		return true
	}
	return false
}
