package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"submit/internal/domain"
)

const submissionColumns = `id,project_id,user_id,sequence_num,content,line_message_id,created_at`

func scanSubmission(row scanner) (domain.Submission, error) {
	var (
		s       domain.Submission
		msgID   sql.NullString
		created string
	)
	err := row.Scan(&s.ID, &s.ProjectID, &s.UserID, &s.SequenceNum, &s.Content, &msgID, &created)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if msgID.Valid {
		s.LineMessageID = &msgID.String
	}
	s.CreatedAt, err = parseTS(created)
	return s, err
}

// InsertSubmissionTx stores s. Unique violations on the sequence number or
// the chat message id surface as ErrDuplicate.
func (r Repo) InsertSubmissionTx(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO submissions(id,project_id,user_id,sequence_num,content,line_message_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.UserID, s.SequenceNum, s.Content, nullableStringPtr(s.LineMessageID), TS(s.CreatedAt))
	if IsUniqueViolation(err) {
		return fmt.Errorf("submission: %w", ErrDuplicate)
	}
	return err
}

func (r Repo) GetSubmissionByLineMessageID(ctx context.Context, messageID string) (domain.Submission, error) {
	return scanSubmission(r.DB.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE line_message_id=?`, messageID))
}

func (r Repo) GetSubmissionByLineMessageIDTx(ctx context.Context, tx *sql.Tx, messageID string) (domain.Submission, error) {
	return scanSubmission(tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE line_message_id=?`, messageID))
}

// SubmissionExistsTx reports whether projectID has a submission created in
// [start, end], both bounds inclusive.
func (r Repo) SubmissionExistsTx(ctx context.Context, tx *sql.Tx, projectID string, start, end time.Time) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM submissions WHERE project_id=? AND created_at>=? AND created_at<=? LIMIT 1`,
		projectID, TS(start), TS(end)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// SubmittedProjectIDs returns the subset of projectIDs with at least one
// submission in [start, end].
func (r Repo) SubmittedProjectIDs(ctx context.Context, projectIDs []string, start, end time.Time) (map[string]bool, error) {
	res := map[string]bool{}
	if len(projectIDs) == 0 {
		return res, nil
	}
	args := make([]any, 0, len(projectIDs)+2)
	for _, id := range projectIDs {
		args = append(args, id)
	}
	args = append(args, TS(start), TS(end))
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT project_id FROM submissions
WHERE project_id IN (`+placeholders(len(projectIDs))+`) AND created_at>=? AND created_at<=?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res[id] = true
	}
	return res, rows.Err()
}

// SubmissionFilter narrows ListSubmissions. Zero values match everything.
type SubmissionFilter struct {
	UserID    string
	ProjectID string
	Limit     int
}

// ListSubmissions returns submissions newest first.
func (r Repo) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE 1=1`
	var args []any
	if f.UserID != "" {
		query += ` AND user_id=?`
		args = append(args, f.UserID)
	}
	if f.ProjectID != "" {
		query += ` AND project_id=?`
		args = append(args, f.ProjectID)
	}
	query += ` ORDER BY created_at DESC, sequence_num DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
