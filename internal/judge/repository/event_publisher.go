package repository

import (
	"context"
	"encoding/json"
	"time"

	"gavel/internal/common/mq"
	"gavel/internal/judge/model"
	appErr "gavel/pkg/errors"
)

// EventPublisher emits judge lifecycle events for downstream consumers
// (notifications, analytics, external scoreboards).
type EventPublisher interface {
	PublishSubmissionJudged(ctx context.Context, sub *model.Submission) error
	PublishStandingsUpdated(ctx context.Context, contestID, teamID string) error
}

// MQEventPublisher publishes events to a message queue.
type MQEventPublisher struct {
	queue mq.MessageQueue
}

// NewEventPublisher creates a publisher over the given queue.
func NewEventPublisher(queue mq.MessageQueue) *MQEventPublisher {
	return &MQEventPublisher{queue: queue}
}

// PublishSubmissionJudged emits the terminal verdict of a submission.
func (p *MQEventPublisher) PublishSubmissionJudged(ctx context.Context, sub *model.Submission) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	judgedAt := time.Now().UTC()
	if sub.JudgedAt != nil {
		judgedAt = *sub.JudgedAt
	}
	event := model.SubmissionJudgedEvent{
		SubmissionID: sub.ID,
		ContestID:    sub.ContestID,
		TeamID:       sub.TeamID,
		ProblemID:    sub.ProblemID,
		Verdict:      sub.Verdict,
		Points:       sub.Points,
		JudgedAt:     judgedAt,
	}
	return p.publish(ctx, model.TopicSubmissionJudged, sub.ID, event)
}

// PublishStandingsUpdated signals that a contest scoreboard changed.
func (p *MQEventPublisher) PublishStandingsUpdated(ctx context.Context, contestID, teamID string) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if contestID == "" {
		return appErr.ValidationError("contest_id", "required")
	}
	event := model.StandingsUpdatedEvent{
		ContestID: contestID,
		TeamID:    teamID,
		UpdatedAt: time.Now().UTC(),
	}
	return p.publish(ctx, model.TopicStandingsUpdated, contestID, event)
}

func (p *MQEventPublisher) publish(ctx context.Context, topic, id string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode event")
	}
	message := mq.NewMessage(payload)
	message.ID = id
	if err := p.queue.Publish(ctx, topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish %s event", topic)
	}
	return nil
}
