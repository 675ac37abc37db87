package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"submit/internal/domain"
)

const userColumns = `id,email,COALESCE(name,''),line_user_id,notify_morning,notify_evening,notify_urgent,COALESCE(timezone,''),pledged_at,created_at,updated_at`

func scanUser(row scanner) (domain.User, error) {
	var (
		u                  domain.User
		lineID, pledgedAt  sql.NullString
		createdAt, updated string
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &lineID, &u.NotifyMorning, &u.NotifyEvening, &u.NotifyUrgent, &u.Timezone, &pledgedAt, &createdAt, &updated)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if lineID.Valid {
		u.LineUserID = &lineID.String
	}
	if u.PledgedAt, err = parseNullTS(pledgedAt); err != nil {
		return u, err
	}
	if u.CreatedAt, err = parseTS(createdAt); err != nil {
		return u, err
	}
	u.UpdatedAt, err = parseTS(updated)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,email,name,line_user_id,notify_morning,notify_evening,notify_urgent,timezone,pledged_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, nullable(u.Name), nullableStringPtr(u.LineUserID), boolInt(u.NotifyMorning), boolInt(u.NotifyEvening), boolInt(u.NotifyUrgent),
		nullable(u.Timezone), nullTS(u.PledgedAt), TS(u.CreatedAt), TS(u.UpdatedAt))
	if IsUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.Email, ErrDuplicate)
	}
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email))
}

func (r Repo) GetUserByLineID(ctx context.Context, lineUserID string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE line_user_id=?`, lineUserID))
}

// UsersByIDs loads users in one query, keyed by id.
func (r Repo) UsersByIDs(ctx context.Context, ids []string) (map[string]domain.User, error) {
	res := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res[u.ID] = u
	}
	return res, rows.Err()
}

// ListUrgentRecipients returns linked users with urgent alerts enabled.
func (r Repo) ListUrgentRecipients(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE line_user_id IS NOT NULL AND notify_urgent=1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UserUpdate carries the profile fields a user may change.
type UserUpdate struct {
	Name          *string
	NotifyMorning *bool
	NotifyEvening *bool
	NotifyUrgent  *bool
	Timezone      *string
}

func (r Repo) UpdateUser(ctx context.Context, id string, upd UserUpdate, now time.Time) error {
	var (
		fields []string
		args   []any
	)
	if upd.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, nullable(*upd.Name))
	}
	if upd.NotifyMorning != nil {
		fields = append(fields, "notify_morning=?")
		args = append(args, boolInt(*upd.NotifyMorning))
	}
	if upd.NotifyEvening != nil {
		fields = append(fields, "notify_evening=?")
		args = append(args, boolInt(*upd.NotifyEvening))
	}
	if upd.NotifyUrgent != nil {
		fields = append(fields, "notify_urgent=?")
		args = append(args, boolInt(*upd.NotifyUrgent))
	}
	if upd.Timezone != nil {
		fields = append(fields, "timezone=?")
		args = append(args, nullable(*upd.Timezone))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, TS(now), id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE users SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLineUserID links (or with nil unlinks) the chat account of a user.
func (r Repo) SetLineUserID(ctx context.Context, id string, lineUserID *string, now time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET line_user_id=?, updated_at=? WHERE id=?`, nullableStringPtr(lineUserID), TS(now), id)
	if IsUniqueViolation(err) {
		return fmt.Errorf("line account: %w", ErrDuplicate)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearLineUserID unlinks whichever user holds lineUserID. It reports
// whether a user was affected.
func (r Repo) ClearLineUserID(ctx context.Context, lineUserID string, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET line_user_id=NULL, updated_at=? WHERE line_user_id=?`, TS(now), lineUserID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetPledge(ctx context.Context, userID string) (domain.Pledge, error) {
	var (
		p       domain.Pledge
		created string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,pledge_text,created_at FROM pledges WHERE user_id=?`, userID).
		Scan(&p.ID, &p.UserID, &p.PledgeText, &created)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.CreatedAt, err = parseTS(created)
	return p, err
}

// InsertPledgeTx stores the pledge text and marks the user pledged.
func (r Repo) InsertPledgeTx(ctx context.Context, tx *sql.Tx, p domain.Pledge) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO pledges(id,user_id,pledge_text,created_at) VALUES (?,?,?,?)`,
		p.ID, p.UserID, p.PledgeText, TS(p.CreatedAt)); err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("pledge: %w", ErrDuplicate)
		}
		return err
	}
	return r.SetPledgedTx(ctx, tx, p.UserID, p.CreatedAt)
}

func (r Repo) SetPledgedTx(ctx context.Context, tx *sql.Tx, userID string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET pledged_at=?, updated_at=? WHERE id=?`, TS(at), TS(at), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
