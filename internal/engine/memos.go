package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"submit/internal/domain"
	"submit/internal/repo"
)

const defaultMemoType = "text"

func (e Engine) CreateMemo(ctx context.Context, userID, content, memoType string, tags []string) (domain.Memo, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Memo{}, invalid("content", "is required")
	}
	if memoType == "" {
		memoType = defaultMemoType
	}
	var clean []string
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	m := domain.Memo{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		Type:      memoType,
		Tags:      clean,
		CreatedAt: e.now(),
	}
	if err := e.Repo.InsertMemo(ctx, m); err != nil {
		return domain.Memo{}, err
	}
	return m, nil
}

func (e Engine) ListMemos(ctx context.Context, userID string, limit int) ([]domain.Memo, error) {
	return e.Repo.ListMemos(ctx, userID, limit)
}

func (e Engine) DeleteMemo(ctx context.Context, userID, memoID string) error {
	m, err := e.Repo.GetMemo(ctx, memoID)
	if err != nil {
		return err
	}
	if m.UserID != userID {
		return repo.ErrNotFound
	}
	return e.Repo.DeleteMemo(ctx, memoID)
}
