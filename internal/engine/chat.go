package engine

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"submit/internal/domain"
	"submit/internal/notify"
)

// Chat outcomes reported by HandleChatMessage.
const (
	ChatSubmitted      = "submitted"
	ChatDuplicate      = "duplicate"
	ChatUnlinked       = "unlinked"
	ChatPledgeRequired = "pledge_required"
	ChatNoProject      = "no_project"
	ChatAskProject     = "ask_project"
	ChatIgnored        = "ignored"
)

// ChatMessage is an inbound text message from a LINE account.
type ChatMessage struct {
	LineUserID string
	MessageID  string
	Text       string
	ReplyToken string
}

type ChatResult struct {
	Action     string             `json:"action"`
	ProjectID  string             `json:"project_id,omitempty"`
	Submission *domain.Submission `json:"submission,omitempty"`
}

// HandleChatMessage turns a chat message into a submission. The target is
// the sender's only active project, or the single active project whose name
// appears in the text. Anything ambiguous gets a reply asking for the name.
func (e Engine) HandleChatMessage(ctx context.Context, msg ChatMessage) (ChatResult, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" || msg.LineUserID == "" {
		return ChatResult{Action: ChatIgnored}, nil
	}
	u, err := e.Repo.GetUserByLineID(ctx, msg.LineUserID)
	if isNotFound(err) {
		e.reply(ctx, msg.ReplyToken, notify.LinkAccountRequired())
		return ChatResult{Action: ChatUnlinked}, nil
	}
	if err != nil {
		return ChatResult{}, err
	}
	if !u.Pledged() {
		e.reply(ctx, msg.ReplyToken, notify.PledgeRequired())
		return ChatResult{Action: ChatPledgeRequired}, nil
	}
	if msg.MessageID != "" {
		if s, err := e.Repo.GetSubmissionByLineMessageID(ctx, msg.MessageID); err == nil {
			if p, err := e.Repo.GetProject(ctx, s.ProjectID); err == nil {
				e.reply(ctx, msg.ReplyToken, notify.DuplicateSubmission(p.Name, s.SequenceNum))
			}
			return ChatResult{Action: ChatDuplicate, ProjectID: s.ProjectID, Submission: &s}, nil
		} else if !isNotFound(err) {
			return ChatResult{}, err
		}
	}

	active, err := e.Repo.ListProjects(ctx, u.ID, domain.ProjectActive)
	if err != nil {
		return ChatResult{}, err
	}
	if len(active) == 0 {
		e.reply(ctx, msg.ReplyToken, notify.NoActiveProject())
		return ChatResult{Action: ChatNoProject}, nil
	}
	target, ok := matchProject(active, text)
	if !ok {
		names := make([]string, len(active))
		for i, p := range active {
			names[i] = p.Name
		}
		e.reply(ctx, msg.ReplyToken, notify.AskProjectName(names))
		return ChatResult{Action: ChatAskProject}, nil
	}

	res, err := e.CreateSubmission(ctx, SubmissionCreateOptions{
		UserID:        u.ID,
		ProjectID:     target.ID,
		Content:       text,
		LineMessageID: msg.MessageID,
		ReplyToken:    msg.ReplyToken,
	})
	if err != nil {
		return ChatResult{}, err
	}
	action := ChatSubmitted
	if res.Duplicate {
		action = ChatDuplicate
	}
	return ChatResult{Action: action, ProjectID: target.ID, Submission: &res.Submission}, nil
}

// matchProject picks the sole active project, or the one project whose name
// the text contains.
func matchProject(active []domain.Project, text string) (domain.Project, bool) {
	if len(active) == 1 {
		return active[0], true
	}
	lower := strings.ToLower(text)
	var found []domain.Project
	for _, p := range active {
		if strings.Contains(lower, strings.ToLower(p.Name)) {
			found = append(found, p)
		}
	}
	if len(found) != 1 {
		return domain.Project{}, false
	}
	return found[0], true
}

// HandleUnfollow clears the link of an account that blocked the channel.
func (e Engine) HandleUnfollow(ctx context.Context, lineUserID string) (bool, error) {
	return e.Repo.ClearLineUserID(ctx, lineUserID, e.now())
}

// WebhookSummary reports how a batch of LINE events went.
type WebhookSummary struct {
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
}

// HandleLineEvents dispatches webhook events one by one. A failing event is
// recorded and the rest still run.
func (e Engine) HandleLineEvents(ctx context.Context, evts []notify.WebhookEvent) WebhookSummary {
	sum := WebhookSummary{Errors: []string{}}
	for _, evt := range evts {
		if err := e.handleLineEvent(ctx, evt); err != nil {
			sum.Errors = append(sum.Errors, err.Error())
			e.log().Error("line event failed", zap.String("type", evt.Type), zap.String("line_user_id", evt.Source.UserID), zap.Error(err))
			continue
		}
		sum.Processed++
	}
	return sum
}

func (e Engine) handleLineEvent(ctx context.Context, evt notify.WebhookEvent) error {
	switch evt.Type {
	case "message":
		if evt.Message == nil || evt.Message.Type != "text" {
			return nil
		}
		res, err := e.HandleChatMessage(ctx, ChatMessage{
			LineUserID: evt.Source.UserID,
			MessageID:  evt.Message.ID,
			Text:       evt.Message.Text,
			ReplyToken: evt.ReplyToken,
		})
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				e.reply(ctx, evt.ReplyToken, "[SUBMIT] "+verr.Error())
				return nil
			}
			return err
		}
		e.log().Debug("chat message handled", zap.String("action", res.Action), zap.String("project_id", res.ProjectID))
		return nil
	case "unfollow":
		cleared, err := e.HandleUnfollow(ctx, evt.Source.UserID)
		if err != nil {
			return err
		}
		if cleared {
			e.log().Info("line account unlinked after unfollow", zap.String("line_user_id", evt.Source.UserID))
		}
		return nil
	case "follow":
		e.log().Info("line follow", zap.String("line_user_id", evt.Source.UserID))
		return nil
	default:
		e.log().Debug("unhandled line event", zap.String("type", evt.Type))
		return nil
	}
}
