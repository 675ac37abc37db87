package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"submit/internal/domain"
)

func scanMemo(row scanner) (domain.Memo, error) {
	var (
		m       domain.Memo
		tags    sql.NullString
		created string
	)
	err := row.Scan(&m.ID, &m.UserID, &m.Content, &m.Type, &tags, &created)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &m.Tags); err != nil {
			return m, err
		}
	}
	m.CreatedAt, err = parseTS(created)
	return m, err
}

func (r Repo) InsertMemo(ctx context.Context, m domain.Memo) error {
	var tags any
	if len(m.Tags) > 0 {
		b, err := json.Marshal(m.Tags)
		if err != nil {
			return err
		}
		tags = string(b)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO memos(id,user_id,content,type,tags_json,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.UserID, m.Content, m.Type, tags, TS(m.CreatedAt))
	return err
}

func (r Repo) GetMemo(ctx context.Context, id string) (domain.Memo, error) {
	return scanMemo(r.DB.QueryRowContext(ctx, `SELECT id,user_id,content,type,tags_json,created_at FROM memos WHERE id=?`, id))
}

func (r Repo) ListMemos(ctx context.Context, userID string, limit int) ([]domain.Memo, error) {
	query := `SELECT id,user_id,content,type,tags_json,created_at FROM memos WHERE user_id=? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Memo
	for rows.Next() {
		m, err := scanMemo(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) DeleteMemo(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM memos WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
