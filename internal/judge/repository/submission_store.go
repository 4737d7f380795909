// Package repository holds the persistence adapters of the judge core:
// submissions and problems in MySQL, live status in Redis, verdict events
// on Kafka and problem data packs in object storage.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"gavel/internal/common/db"
	"gavel/internal/judge/model"
	appErr "gavel/pkg/errors"
)

// SubmissionStore persists submissions and their judged verdicts.
type SubmissionStore interface {
	Create(ctx context.Context, sub *model.Submission) error
	GetByID(ctx context.Context, id string) (*model.Submission, error)
	MarkRunning(ctx context.Context, id string) error
	SaveVerdict(ctx context.Context, sub *model.Submission) error
	ListByContest(ctx context.Context, contestID string, limit int) ([]*model.Submission, error)
}

// MySQLSubmissionStore is the MySQL-backed SubmissionStore.
type MySQLSubmissionStore struct {
	database db.Database
}

// NewSubmissionStore creates a submission store over the given database.
func NewSubmissionStore(database db.Database) *MySQLSubmissionStore {
	return &MySQLSubmissionStore{database: database}
}

const submissionColumns = `id, team_id, problem_id, contest_id, language, code, status,
	verdict, points, passed_cases, total_cases, time_ms, memory_kb, case_results,
	submitted_at, judged_at`

// Create inserts a pending submission.
func (s *MySQLSubmissionStore) Create(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	caseResults, err := marshalCaseResults(sub.CaseResults)
	if err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "encode case results")
	}
	_, err = s.database.Exec(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TeamID, sub.ProblemID, sub.ContestID, sub.Language, sub.Code,
		string(sub.Status), string(sub.Verdict), sub.Points, sub.PassedCases,
		sub.TotalCases, sub.TimeMS, sub.MemoryKB, caseResults,
		sub.SubmittedAt, sub.JudgedAt)
	if err != nil {
		if key, ok := db.UniqueViolation(err); ok {
			return appErr.Newf(appErr.SubmissionCreateFailed, "duplicate submission key %s", key)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "insert submission")
	}
	return nil
}

// GetByID loads one submission.
func (s *MySQLSubmissionStore) GetByID(ctx context.Context, id string) (*model.Submission, error) {
	if id == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	row := s.database.QueryRow(ctx, `
		SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %s not found", id)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query submission")
	}
	return sub, nil
}

// MarkRunning transitions a pending submission to running.
func (s *MySQLSubmissionStore) MarkRunning(ctx context.Context, id string) error {
	res, err := s.database.Exec(ctx, `
		UPDATE submissions SET status = ? WHERE id = ? AND status = ?`,
		string(model.StatusRunning), id, string(model.StatusPending))
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "mark submission running")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErr.Newf(appErr.SubmissionNotFound, "submission %s not pending", id)
	}
	return nil
}

// SaveVerdict writes the judged terminal state of a submission.
func (s *MySQLSubmissionStore) SaveVerdict(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	caseResults, err := marshalCaseResults(sub.CaseResults)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "encode case results")
	}
	_, err = s.database.Exec(ctx, `
		UPDATE submissions
		SET status = ?, verdict = ?, points = ?, passed_cases = ?, total_cases = ?,
			time_ms = ?, memory_kb = ?, case_results = ?, judged_at = ?
		WHERE id = ?`,
		string(model.StatusJudged), string(sub.Verdict), sub.Points, sub.PassedCases,
		sub.TotalCases, sub.TimeMS, sub.MemoryKB, caseResults, sub.JudgedAt, sub.ID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "save verdict")
	}
	return nil
}

// ListByContest returns a contest's submissions ordered by submit time,
// oldest first, which is the order scoring replays them in.
func (s *MySQLSubmissionStore) ListByContest(ctx context.Context, contestID string, limit int) ([]*model.Submission, error) {
	if contestID == "" {
		return nil, appErr.ValidationError("contest_id", "required")
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.database.Query(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE contest_id = ? ORDER BY submitted_at ASC, id ASC LIMIT ?`,
		contestID, limit)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions")
	}
	defer rows.Close()

	var subs []*model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan submission")
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate submissions")
	}
	return subs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
	var sub model.Submission
	var status, verdict string
	var caseResults sql.NullString
	var judgedAt sql.NullTime
	err := row.Scan(&sub.ID, &sub.TeamID, &sub.ProblemID, &sub.ContestID,
		&sub.Language, &sub.Code, &status, &verdict, &sub.Points,
		&sub.PassedCases, &sub.TotalCases, &sub.TimeMS, &sub.MemoryKB,
		&caseResults, &sub.SubmittedAt, &judgedAt)
	if err != nil {
		return nil, err
	}
	sub.Status = model.SubmissionStatus(status)
	sub.Verdict = model.Outcome(verdict)
	if caseResults.Valid && caseResults.String != "" {
		if err := json.Unmarshal([]byte(caseResults.String), &sub.CaseResults); err != nil {
			return nil, err
		}
	}
	if judgedAt.Valid {
		t := judgedAt.Time
		sub.JudgedAt = &t
	}
	return &sub, nil
}

func marshalCaseResults(results []model.CaseResult) (string, error) {
	if len(results) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
