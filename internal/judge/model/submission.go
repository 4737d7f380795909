package model

import "time"

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	StatusPending SubmissionStatus = "pending"
	StatusRunning SubmissionStatus = "running"
	StatusJudged  SubmissionStatus = "judged"
)

// Outcome is the terminal tag of a single case run or a whole submission.
type Outcome string

const (
	OutcomeAccepted      Outcome = "accepted"
	OutcomeWrongAnswer   Outcome = "wrong_answer"
	OutcomeTimeLimit     Outcome = "time_limit_exceeded"
	OutcomeMemoryLimit   Outcome = "memory_limit_exceeded"
	OutcomeOutputLimit   Outcome = "output_limit_exceeded"
	OutcomeRuntimeError  Outcome = "runtime_error"
	OutcomeCompileError  Outcome = "compile_error"
	OutcomeInternalError Outcome = "internal_error"
)

// Terminal reports whether the outcome is a judged verdict.
func (o Outcome) Terminal() bool {
	return o != ""
}

// Accepted reports whether the outcome passed.
func (o Outcome) Accepted() bool {
	return o == OutcomeAccepted
}

// Submission is one team's attempt at one problem.
// Created pending by the API layer; only the worker pool and verdict
// aggregation mutate it afterwards.
type Submission struct {
	ID        string           `json:"id"`
	TeamID    string           `json:"team_id"`
	ProblemID string           `json:"problem_id"`
	ContestID string           `json:"contest_id"`
	Language  string           `json:"language"`
	Code      string           `json:"code"`
	Status    SubmissionStatus `json:"status"`

	Verdict     Outcome      `json:"verdict,omitempty"`
	Points      int          `json:"points"`
	PassedCases int          `json:"passed_cases"`
	TotalCases  int          `json:"total_cases"`
	TimeMS      int64        `json:"time_ms"`
	MemoryKB    int64        `json:"memory_kb"`
	CaseResults []CaseResult `json:"case_results,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	JudgedAt    *time.Time `json:"judged_at,omitempty"`
}

// CaseResult is the judged outcome of one test case.
type CaseResult struct {
	Ordinal  int     `json:"ordinal"`
	Outcome  Outcome `json:"outcome"`
	TimeMS   int64   `json:"time_ms"`
	MemoryKB int64   `json:"memory_kb"`
	Points   int     `json:"points"`
	Passed   bool    `json:"passed"`
	Detail   string  `json:"detail,omitempty"`
}

// ResourceLimits is the nominal per-run limit pair declared by a problem
// or case, before language multipliers are applied.
type ResourceLimits struct {
	TimeLimitMS   int64 `json:"time_limit_ms"`
	MemoryLimitKB int64 `json:"memory_limit_kb"`
}
