package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"submit/internal/domain"
)

const judgmentColumns = `id,user_id,project_id,judgment_date,submitted,penalty_executed,penalty_amount,notified_at,created_at`

func scanJudgment(row scanner) (domain.JudgmentLog, error) {
	var (
		j             domain.JudgmentLog
		amount        sql.NullInt64
		notified      sql.NullString
		date, created string
	)
	err := row.Scan(&j.ID, &j.UserID, &j.ProjectID, &date, &j.Submitted, &j.PenaltyExecuted, &amount, &notified, &created)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if amount.Valid {
		a := int(amount.Int64)
		j.PenaltyAmount = &a
	}
	if j.JudgmentDate, err = parseTS(date); err != nil {
		return j, err
	}
	if j.NotifiedAt, err = parseNullTS(notified); err != nil {
		return j, err
	}
	j.CreatedAt, err = parseTS(created)
	return j, err
}

// LatestJudgmentDateTx returns the period end of the newest judgment for
// the project, or nil when it was never judged.
func (r Repo) LatestJudgmentDateTx(ctx context.Context, tx *sql.Tx, projectID string) (*time.Time, error) {
	var s sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT MAX(judgment_date) FROM judgment_logs WHERE project_id=?`, projectID).Scan(&s); err != nil {
		return nil, err
	}
	return parseNullTS(s)
}

// InsertJudgmentTx records j unless a log for the same project and period
// exists. It reports whether a row was written.
func (r Repo) InsertJudgmentTx(ctx context.Context, tx *sql.Tx, j domain.JudgmentLog) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO judgment_logs(id,user_id,project_id,judgment_date,submitted,penalty_executed,penalty_amount,created_at)
VALUES (?,?,?,?,?,?,?,?) ON CONFLICT(project_id, judgment_date) DO NOTHING`,
		j.ID, j.UserID, j.ProjectID, TS(j.JudgmentDate), boolInt(j.Submitted), boolInt(j.PenaltyExecuted), nullableIntPtr(j.PenaltyAmount), TS(j.CreatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkJudgmentsNotified stamps notified_at on logs not stamped yet and
// returns how many rows changed.
func (r Repo) MarkJudgmentsNotified(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{TS(now)}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE judgment_logs SET notified_at=? WHERE notified_at IS NULL AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// JudgmentFilter narrows ListJudgments. Zero values match everything.
type JudgmentFilter struct {
	UserID     string
	ProjectID  string
	MissedOnly bool
	// Unnotified keeps logs whose owner was never told about them.
	Unnotified bool
	Since      *time.Time
	Limit      int
}

// ListJudgments returns judgment logs newest first.
func (r Repo) ListJudgments(ctx context.Context, f JudgmentFilter) ([]domain.JudgmentLog, error) {
	query := `SELECT ` + judgmentColumns + ` FROM judgment_logs WHERE 1=1`
	var args []any
	if f.UserID != "" {
		query += ` AND user_id=?`
		args = append(args, f.UserID)
	}
	if f.ProjectID != "" {
		query += ` AND project_id=?`
		args = append(args, f.ProjectID)
	}
	if f.MissedOnly {
		query += ` AND submitted=0`
	}
	if f.Unnotified {
		query += ` AND notified_at IS NULL`
	}
	if f.Since != nil {
		query += ` AND created_at>=?`
		args = append(args, TS(*f.Since))
	}
	query += ` ORDER BY judgment_date DESC, created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JudgmentLog
	for rows.Next() {
		j, err := scanJudgment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

const penaltyColumns = `id,user_id,project_id,amount,reason,status,payment_ref,created_at,updated_at`

func scanPenalty(row scanner) (domain.PenaltyLog, error) {
	var (
		p                  domain.PenaltyLog
		projectID, payRef  sql.NullString
		created, updatedAt string
	)
	err := row.Scan(&p.ID, &p.UserID, &projectID, &p.Amount, &p.Reason, &p.Status, &payRef, &created, &updatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if projectID.Valid {
		p.ProjectID = &projectID.String
	}
	if payRef.Valid {
		p.PaymentRef = &payRef.String
	}
	if p.CreatedAt, err = parseTS(created); err != nil {
		return p, err
	}
	p.UpdatedAt, err = parseTS(updatedAt)
	return p, err
}

func (r Repo) InsertPenaltyTx(ctx context.Context, tx *sql.Tx, p domain.PenaltyLog) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO penalty_logs(id,user_id,project_id,amount,reason,status,payment_ref,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.UserID, nullableStringPtr(p.ProjectID), p.Amount, p.Reason, p.Status, nullableStringPtr(p.PaymentRef), TS(p.CreatedAt), TS(p.UpdatedAt))
	return err
}

func (r Repo) GetPenalty(ctx context.Context, id string) (domain.PenaltyLog, error) {
	return scanPenalty(r.DB.QueryRowContext(ctx, `SELECT `+penaltyColumns+` FROM penalty_logs WHERE id=?`, id))
}

// PenaltyFilter narrows ListPenalties. Zero values match everything.
type PenaltyFilter struct {
	UserID    string
	ProjectID string
	Status    string
	Limit     int
}

func (r Repo) ListPenalties(ctx context.Context, f PenaltyFilter) ([]domain.PenaltyLog, error) {
	query := `SELECT ` + penaltyColumns + ` FROM penalty_logs WHERE 1=1`
	var args []any
	if f.UserID != "" {
		query += ` AND user_id=?`
		args = append(args, f.UserID)
	}
	if f.ProjectID != "" {
		query += ` AND project_id=?`
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PenaltyLog
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) GetPenaltyTx(ctx context.Context, tx *sql.Tx, id string) (domain.PenaltyLog, error) {
	return scanPenalty(tx.QueryRowContext(ctx, `SELECT `+penaltyColumns+` FROM penalty_logs WHERE id=?`, id))
}

// UpdatePenaltyStatusTx sets the capture status; paymentRef is kept when nil.
func (r Repo) UpdatePenaltyStatusTx(ctx context.Context, tx *sql.Tx, id, status string, paymentRef *string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE penalty_logs SET status=?, payment_ref=COALESCE(?,payment_ref), updated_at=? WHERE id=?`,
		status, nullableStringPtr(paymentRef), TS(now), id)
	if err != nil {
		return fmt.Errorf("update penalty %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
