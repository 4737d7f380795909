package model

import "time"

// Event topics consumed by the external push layer.
const (
	TopicSubmissionJudged = "submission.judged"
	TopicStandingsUpdated = "standings.updated"
)

// SubmissionJudgedEvent is emitted once per judged submission.
type SubmissionJudgedEvent struct {
	SubmissionID string    `json:"submission_id"`
	ContestID    string    `json:"contest_id"`
	TeamID       string    `json:"team_id"`
	ProblemID    string    `json:"problem_id"`
	Verdict      Outcome   `json:"verdict"`
	Points       int       `json:"points"`
	JudgedAt     time.Time `json:"judged_at"`
}

// StandingsUpdatedEvent is emitted when a team's standing changes.
type StandingsUpdatedEvent struct {
	ContestID string    `json:"contest_id"`
	TeamID    string    `json:"team_id"`
	UpdatedAt time.Time `json:"updated_at"`
}
