package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-interview/pkg/interview"
)

// TurnRow is the stored metadata of one persisted turn.
type TurnRow struct {
	ID          uuid.UUID         `json:"id"`
	InterviewID string            `json:"interview_id"`
	SessionID   string            `json:"session_id"`
	TurnIndex   int               `json:"turn_index"`
	Speaker     interview.Speaker `json:"speaker"`
	Transcript  string            `json:"transcript"`
	AudioKey    string            `json:"audio_key"`
	AudioBytes  int               `json:"audio_bytes"`
	DurationMS  int64             `json:"duration_ms"`
	CreatedAt   time.Time         `json:"created_at"`
}

// InsertTurn records a turn. A row for the same interview, session and index
// is left untouched, and inserted reports false.
func (s *Store) InsertTurn(ctx context.Context, row TurnRow) (inserted bool, err error) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO interview_turns
			(id, interview_id, session_id, turn_index, speaker, transcript, audio_key, audio_bytes, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (interview_id, session_id, turn_index) DO NOTHING`,
		row.ID, row.InterviewID, row.SessionID, row.TurnIndex, string(row.Speaker),
		row.Transcript, row.AudioKey, row.AudioBytes, row.DurationMS,
	)
	if err != nil {
		return false, fmt.Errorf("insert turn: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListTurns returns the persisted turns of an interview owned by userID, in
// conversation order.
func (s *Store) ListTurns(ctx context.Context, userID, interviewID string) ([]TurnRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.interview_id, t.session_id, t.turn_index, t.speaker, t.transcript,
		       t.audio_key, t.audio_bytes, t.duration_ms, t.created_at
		FROM interview_turns t
		JOIN interviews i ON i.id = t.interview_id
		WHERE t.interview_id = $1 AND i.user_id = $2
		ORDER BY MIN(t.created_at) OVER (PARTITION BY t.session_id), t.session_id, t.turn_index`,
		interviewID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRow
	for rows.Next() {
		var (
			r       TurnRow
			speaker string
		)
		if err := rows.Scan(&r.ID, &r.InterviewID, &r.SessionID, &r.TurnIndex, &speaker, &r.Transcript,
			&r.AudioKey, &r.AudioBytes, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		r.Speaker = interview.Speaker(speaker)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return out, nil
}
