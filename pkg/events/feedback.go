package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// FeedbackRequested asks the feedback workflow to grade an interview.
type FeedbackRequested struct {
	InterviewID string    `json:"interview_id"`
	UserID      string    `json:"user_id"`
	EndedAt     time.Time `json:"ended_at"`
	RequestedAt time.Time `json:"requested_at"`
}

// InterviewEnder records that an interview has ended.
type InterviewEnder interface {
	MarkEnded(ctx context.Context, interviewID, userID string) (time.Time, error)
}

// EndNotifier marks an interview ended and requests feedback for it.
type EndNotifier struct {
	ender     InterviewEnder
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewEndNotifier builds a notifier. A nil publisher only marks the interview.
func NewEndNotifier(ender InterviewEnder, publisher Publisher, logger *slog.Logger) *EndNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EndNotifier{ender: ender, publisher: publisher, logger: logger, now: time.Now}
}

func (n *EndNotifier) InterviewEnded(ctx context.Context, interviewID, userID string) error {
	endedAt, err := n.ender.MarkEnded(ctx, interviewID, userID)
	if err != nil {
		return fmt.Errorf("mark interview ended: %w", err)
	}
	if n.publisher == nil {
		n.logger.Warn("feedback request skipped, no event bus", "interview_id", interviewID)
		return nil
	}
	err = n.publisher.Publish(SubjectFeedbackRequested, FeedbackRequested{
		InterviewID: interviewID,
		UserID:      userID,
		EndedAt:     endedAt.UTC(),
		RequestedAt: n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("request feedback: %w", err)
	}
	n.logger.Info("feedback requested", "interview_id", interviewID, "user_id", userID)
	return nil
}
