package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vango-go/vai-interview/pkg/interview"
)

// InterviewContext loads the resume, job description and enhanced prompt for
// an interview owned by userID.
func (s *Store) InterviewContext(ctx context.Context, userID, interviewID string) (interview.Context, error) {
	var (
		c        interview.Context
		enhanced *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, resume_text, job_description, enhanced_prompt
		FROM interviews
		WHERE id = $1 AND user_id = $2`,
		interviewID, userID,
	).Scan(&c.InterviewID, &c.UserID, &c.Title, &c.Resume, &c.JobDescription, &enhanced)
	if errors.Is(err, pgx.ErrNoRows) {
		return interview.Context{}, ErrInterviewNotFound
	}
	if err != nil {
		return interview.Context{}, fmt.Errorf("query interview: %w", err)
	}
	if enhanced != nil {
		c.EnhancedPrompt = *enhanced
	}
	return c, nil
}

// CreateInterview inserts a scheduled interview. Used by seeding and tests.
func (s *Store) CreateInterview(ctx context.Context, c interview.Context) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO interviews (id, user_id, title, resume_text, job_description)
		VALUES ($1, $2, $3, $4, $5)`,
		c.InterviewID, c.UserID, c.Title, c.Resume, c.JobDescription,
	)
	if err != nil {
		return fmt.Errorf("insert interview: %w", err)
	}
	return nil
}

// SaveEnhancedPrompt stores the interviewer guidance produced by the
// enhancement workflow; the next session picks it up.
func (s *Store) SaveEnhancedPrompt(ctx context.Context, interviewID, userID, prompt string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE interviews
		SET enhanced_prompt = $3, enhanced_prompt_updated_at = now()
		WHERE id = $1 AND user_id = $2`,
		interviewID, userID, prompt,
	)
	if err != nil {
		return fmt.Errorf("update enhanced prompt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInterviewNotFound
	}
	return nil
}

// MarkEnded records that the candidate finished the interview. Calling it
// again keeps the first end time.
func (s *Store) MarkEnded(ctx context.Context, interviewID, userID string) (time.Time, error) {
	var endedAt time.Time
	err := s.pool.QueryRow(ctx, `
		UPDATE interviews
		SET status = 'completed', ended_at = COALESCE(ended_at, now())
		WHERE id = $1 AND user_id = $2
		RETURNING ended_at`,
		interviewID, userID,
	).Scan(&endedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrInterviewNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("mark interview ended: %w", err)
	}
	return endedAt, nil
}
