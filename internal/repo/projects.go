package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"submit/internal/domain"
)

const projectColumns = `id,user_id,name,COALESCE(description,''),frequency,judgment_day,custom_days,penalty_amount,status,next_judgment_date,submission_count,missed_count,total_penalty_amount,created_at,updated_at`

func scanProject(row scanner) (domain.Project, error) {
	var (
		p                  domain.Project
		customDays         sql.NullInt64
		nextJudgment       sql.NullString
		createdAt, updated string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Frequency, &p.JudgmentDay, &customDays, &p.PenaltyAmount, &p.Status,
		&nextJudgment, &p.SubmissionCount, &p.MissedCount, &p.TotalPenaltyAmount, &createdAt, &updated)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if customDays.Valid {
		d := int(customDays.Int64)
		p.CustomDays = &d
	}
	if p.NextJudgmentDate, err = parseNullTS(nextJudgment); err != nil {
		return p, err
	}
	if p.CreatedAt, err = parseTS(createdAt); err != nil {
		return p, err
	}
	p.UpdatedAt, err = parseTS(updated)
	return p, err
}

func scanProjects(rows *sql.Rows) ([]domain.Project, error) {
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	return insertProject(ctx, r.DB, p)
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	return insertProject(ctx, tx, p)
}

func insertProject(ctx context.Context, q querier, p domain.Project) error {
	_, err := q.ExecContext(ctx, `INSERT INTO projects(id,user_id,name,description,frequency,judgment_day,custom_days,penalty_amount,status,next_judgment_date,submission_count,missed_count,total_penalty_amount,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.UserID, p.Name, nullable(p.Description), p.Frequency, p.JudgmentDay, nullableIntPtr(p.CustomDays), p.PenaltyAmount, p.Status,
		nullTS(p.NextJudgmentDate), p.SubmissionCount, p.MissedCount, p.TotalPenaltyAmount, TS(p.CreatedAt), TS(p.UpdatedAt))
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// ListProjects returns a user's projects, newest first, optionally by status.
func (r Repo) ListProjects(ctx context.Context, userID, status string) ([]domain.Project, error) {
	clauses := []string{"user_id=?"}
	args := []any{userID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	return scanProjects(rows)
}

// ListAllProjects is the operator view used by the CLI.
func (r Repo) ListAllProjects(ctx context.Context, status string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	return scanProjects(rows)
}

// ListDueProjects returns active projects whose period ended at or before cutoff.
func (r Repo) ListDueProjects(ctx context.Context, cutoff time.Time) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects
WHERE status=? AND next_judgment_date IS NOT NULL AND next_judgment_date<=?
ORDER BY next_judgment_date, id`, domain.ProjectActive, TS(cutoff))
	if err != nil {
		return nil, err
	}
	return scanProjects(rows)
}

// ListActiveProjectsDueBetween returns active projects whose period ends in
// [from, to].
func (r Repo) ListActiveProjectsDueBetween(ctx context.Context, from, to time.Time) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects
WHERE status=? AND next_judgment_date>=? AND next_judgment_date<=?
ORDER BY user_id, next_judgment_date, name`, domain.ProjectActive, TS(from), TS(to))
	if err != nil {
		return nil, err
	}
	return scanProjects(rows)
}

// ProjectUpdate carries user-editable project fields.
type ProjectUpdate struct {
	Name             *string
	Description      *string
	PenaltyAmount    *int
	Status           *string
	NextJudgmentDate *time.Time
}

func (r Repo) UpdateProject(ctx context.Context, id string, upd ProjectUpdate, now time.Time) error {
	return updateProject(ctx, r.DB, id, upd, now)
}

func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, id string, upd ProjectUpdate, now time.Time) error {
	return updateProject(ctx, tx, id, upd, now)
}

func updateProject(ctx context.Context, q querier, id string, upd ProjectUpdate, now time.Time) error {
	var (
		fields []string
		args   []any
	)
	if upd.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *upd.Name)
	}
	if upd.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*upd.Description))
	}
	if upd.PenaltyAmount != nil {
		fields = append(fields, "penalty_amount=?")
		args = append(args, *upd.PenaltyAmount)
	}
	if upd.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *upd.Status)
	}
	if upd.NextJudgmentDate != nil {
		fields = append(fields, "next_judgment_date=?")
		args = append(args, TS(*upd.NextJudgmentDate))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, TS(now), id)
	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProjectTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// NextSequenceTx bumps the project's submission counter and returns the new
// value, which is the sequence number of the submission being created.
func (r Repo) NextSequenceTx(ctx context.Context, tx *sql.Tx, projectID string, now time.Time) (int, error) {
	var seq int
	err := tx.QueryRowContext(ctx, `UPDATE projects SET submission_count=submission_count+1, updated_at=? WHERE id=? RETURNING submission_count`,
		TS(now), projectID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return seq, err
}

// RecordMissTx adds one missed period and its penalty to the aggregates.
func (r Repo) RecordMissTx(ctx context.Context, tx *sql.Tx, projectID string, amount int, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET missed_count=missed_count+1, total_penalty_amount=total_penalty_amount+?, updated_at=? WHERE id=?`,
		amount, TS(now), projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceScheduleTx moves next_judgment_date from periodEnd to next. It is a
// no-op if the schedule has already moved past periodEnd.
func (r Repo) AdvanceScheduleTx(ctx context.Context, tx *sql.Tx, projectID string, periodEnd, next, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET next_judgment_date=?, updated_at=? WHERE id=? AND next_judgment_date=?`,
		TS(next), TS(now), projectID, TS(periodEnd))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
