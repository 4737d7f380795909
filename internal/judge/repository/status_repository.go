package repository

import (
	"context"
	"encoding/json"
	"time"

	"gavel/internal/common/cache"
	"gavel/internal/judge/model"
	appErr "gavel/pkg/errors"
)

const statusKeyPrefix = "judge:status:"

// StatusRecord is the live view of a submission served while it moves
// through the queue. It mirrors the submission minus the source code.
type StatusRecord struct {
	SubmissionID string                  `json:"submission_id"`
	Status       model.SubmissionStatus  `json:"status"`
	Verdict      model.Outcome           `json:"verdict,omitempty"`
	Points       int                     `json:"points"`
	PassedCases  int                     `json:"passed_cases"`
	TotalCases   int                     `json:"total_cases"`
	TimeMS       int64                   `json:"time_ms"`
	MemoryKB     int64                   `json:"memory_kb"`
	CaseResults  []model.CaseResult      `json:"case_results,omitempty"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// RecordFromSubmission projects a submission into its live status view.
func RecordFromSubmission(sub *model.Submission) StatusRecord {
	return StatusRecord{
		SubmissionID: sub.ID,
		Status:       sub.Status,
		Verdict:      sub.Verdict,
		Points:       sub.Points,
		PassedCases:  sub.PassedCases,
		TotalCases:   sub.TotalCases,
		TimeMS:       sub.TimeMS,
		MemoryKB:     sub.MemoryKB,
		CaseResults:  sub.CaseResults,
		UpdatedAt:    time.Now().UTC(),
	}
}

// StatusRepository keeps live submission status in Redis so polling does
// not touch MySQL while a submission is queued or running.
type StatusRepository struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewStatusRepository creates a status repository with the given TTL.
func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration) *StatusRepository {
	return &StatusRepository{cache: cacheClient, ttl: ttl}
}

// Get returns the live status for a submission id.
func (r *StatusRepository) Get(ctx context.Context, submissionID string) (StatusRecord, error) {
	if submissionID == "" {
		return StatusRecord{}, appErr.ValidationError("submission_id", "required")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+submissionID)
	if err != nil {
		return StatusRecord{}, appErr.Wrapf(err, appErr.CacheError, "read status")
	}
	if val == "" {
		return StatusRecord{}, appErr.Newf(appErr.NotFound, "status for submission %s not found", submissionID)
	}
	var record StatusRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return StatusRecord{}, appErr.Wrapf(err, appErr.CacheError, "decode status")
	}
	return record, nil
}

// Save persists a status snapshot.
func (r *StatusRepository) Save(ctx context.Context, record StatusRecord) error {
	if record.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "encode status")
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+record.SubmissionID, string(data), r.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status")
	}
	return nil
}
