package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"submit/internal/domain"
)

// supporterColumns selects a supporter row plus the profile of the person
// on the other side of the join.
const supporterColumns = `s.id,s.user_id,s.supporter_user_id,s.invite_token,s.status,s.expires_at,s.created_at,s.updated_at,
p.id,COALESCE(p.name,''),COALESCE(p.email,'')`

func scanSupporter(row scanner) (domain.Supporter, *domain.UserProfile, error) {
	var (
		s                           domain.Supporter
		supporterID, token, expires sql.NullString
		profileID                   sql.NullString
		profileName, profileEmail   string
		created, updated            string
	)
	err := row.Scan(&s.ID, &s.UserID, &supporterID, &token, &s.Status, &expires, &created, &updated,
		&profileID, &profileName, &profileEmail)
	if err == sql.ErrNoRows {
		return s, nil, ErrNotFound
	}
	if err != nil {
		return s, nil, err
	}
	if supporterID.Valid {
		s.SupporterUserID = &supporterID.String
	}
	if token.Valid {
		s.InviteToken = &token.String
	}
	if s.ExpiresAt, err = parseNullTS(expires); err != nil {
		return s, nil, err
	}
	if s.CreatedAt, err = parseTS(created); err != nil {
		return s, nil, err
	}
	if s.UpdatedAt, err = parseTS(updated); err != nil {
		return s, nil, err
	}
	var profile *domain.UserProfile
	if profileID.Valid {
		profile = &domain.UserProfile{ID: profileID.String, Name: profileName, Email: profileEmail}
	}
	return s, profile, nil
}

// DeletePendingInvitesTx drops userID's open invites so only the newest
// token works.
func (r Repo) DeletePendingInvitesTx(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM supporters WHERE user_id=? AND status=?`, userID, domain.SupporterPending)
	return err
}

func (r Repo) InsertSupporterTx(ctx context.Context, tx *sql.Tx, s domain.Supporter) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO supporters(id,user_id,supporter_user_id,invite_token,status,expires_at,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.UserID, nullableStringPtr(s.SupporterUserID), nullableStringPtr(s.InviteToken), s.Status, nullTS(s.ExpiresAt), TS(s.CreatedAt), TS(s.UpdatedAt))
	if IsUniqueViolation(err) {
		return fmt.Errorf("supporter: %w", ErrDuplicate)
	}
	return err
}

func (r Repo) GetSupporterByTokenTx(ctx context.Context, tx *sql.Tx, token string) (domain.Supporter, error) {
	s, _, err := scanSupporter(tx.QueryRowContext(ctx, `SELECT `+supporterColumns+` FROM supporters s
LEFT JOIN users p ON p.id = s.supporter_user_id WHERE s.invite_token=?`, token))
	return s, err
}

// ActivateSupporterTx turns a pending invite into an active link. The
// token is spent so it cannot be accepted twice.
func (r Repo) ActivateSupporterTx(ctx context.Context, tx *sql.Tx, id, supporterUserID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE supporters SET supporter_user_id=?, status=?, invite_token=NULL, expires_at=NULL, updated_at=?
WHERE id=? AND status=?`, supporterUserID, domain.SupporterActive, TS(now), id, domain.SupporterPending)
	if IsUniqueViolation(err) {
		return fmt.Errorf("supporter: %w", ErrDuplicate)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSupporters returns the people backing userID with their profiles.
// An empty status matches every row.
func (r Repo) ListSupporters(ctx context.Context, userID, status string) ([]domain.Supporter, error) {
	query := `SELECT ` + supporterColumns + ` FROM supporters s
LEFT JOIN users p ON p.id = s.supporter_user_id WHERE s.user_id=?`
	args := []any{userID}
	if status != "" {
		query += ` AND s.status=?`
		args = append(args, status)
	}
	query += ` ORDER BY s.created_at, s.id`
	return r.querySupporters(ctx, query, args, func(s *domain.Supporter, p *domain.UserProfile) { s.Supporter = p })
}

// ListSupporting returns the active links where supporterUserID is the
// supporter, with the supported user's profile.
func (r Repo) ListSupporting(ctx context.Context, supporterUserID string) ([]domain.Supporter, error) {
	query := `SELECT ` + supporterColumns + ` FROM supporters s
JOIN users p ON p.id = s.user_id WHERE s.supporter_user_id=? AND s.status=? ORDER BY s.created_at, s.id`
	return r.querySupporters(ctx, query, []any{supporterUserID, domain.SupporterActive}, func(s *domain.Supporter, p *domain.UserProfile) { s.User = p })
}

func (r Repo) querySupporters(ctx context.Context, query string, args []any, attach func(*domain.Supporter, *domain.UserProfile)) ([]domain.Supporter, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Supporter
	for rows.Next() {
		s, profile, err := scanSupporter(rows)
		if err != nil {
			return nil, err
		}
		attach(&s, profile)
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) IsActiveSupporter(ctx context.Context, userID, supporterUserID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM supporters WHERE user_id=? AND supporter_user_id=? AND status=?`,
		userID, supporterUserID, domain.SupporterActive).Scan(&n)
	return n > 0, err
}

// ActiveSupporterUsers returns the full user rows of userID's active
// supporters.
func (r Repo) ActiveSupporterUsers(ctx context.Context, userID string) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id IN (
SELECT supporter_user_id FROM supporters WHERE user_id=? AND status=?) ORDER BY id`, userID, domain.SupporterActive)
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

// DeleteSupporterTx removes one of userID's supporter rows and returns it.
func (r Repo) DeleteSupporterTx(ctx context.Context, tx *sql.Tx, userID, id string) (domain.Supporter, error) {
	s, _, err := scanSupporter(tx.QueryRowContext(ctx, `SELECT `+supporterColumns+` FROM supporters s
LEFT JOIN users p ON p.id = s.supporter_user_id WHERE s.id=? AND s.user_id=?`, id, userID))
	if err != nil {
		return s, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM supporters WHERE id=?`, id); err != nil {
		return s, err
	}
	return s, nil
}

func (r Repo) InsertCheerTx(ctx context.Context, tx *sql.Tx, c domain.Cheer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cheers(id,user_id,supporter_user_id,message,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.UserID, c.SupporterUserID, c.Message, TS(c.CreatedAt))
	return err
}

// ListCheers returns cheers sent to userID, newest first, with the sender's
// profile.
func (r Repo) ListCheers(ctx context.Context, userID string, limit int) ([]domain.Cheer, error) {
	query := `SELECT c.id,c.user_id,c.supporter_user_id,c.message,c.created_at,COALESCE(p.name,''),p.email
FROM cheers c JOIN users p ON p.id = c.supporter_user_id WHERE c.user_id=? ORDER BY c.created_at DESC, c.id`
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
	var res []domain.Cheer
	for rows.Next() {
		var (
			c       domain.Cheer
			p       domain.UserProfile
			created string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.SupporterUserID, &c.Message, &created, &p.Name, &p.Email); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		p.ID = c.SupporterUserID
		c.Supporter = &p
		res = append(res, c)
	}
	return res, rows.Err()
}
