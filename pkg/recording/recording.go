// Package recording turns finished interview turns into a WAV object plus a
// stored turn row.
package recording

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/vango-go/vai-interview/pkg/audio"
	"github.com/vango-go/vai-interview/pkg/interview"
	"github.com/vango-go/vai-interview/pkg/store"
)

const contentTypeWAV = "audio/wav"

// ObjectStore uploads recordings.
type ObjectStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// TurnStore records turn metadata.
type TurnStore interface {
	InsertTurn(ctx context.Context, row store.TurnRow) (bool, error)
}

type Persister struct {
	objects ObjectStore
	turns   TurnStore
	logger  *slog.Logger
	now     func() time.Time
}

func NewPersister(objects ObjectStore, turns TurnStore, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		objects: objects,
		turns:   turns,
		logger:  logger,
		now:     time.Now,
	}
}

// ObjectName is the key a turn recording is written under, before any bucket
// prefix.
func ObjectName(rec interview.TurnRecord, id ulid.ULID) string {
	return fmt.Sprintf("interviews/%s/turns/%s/%04d_%s_%s.wav",
		rec.InterviewID, rec.SessionID, rec.Index, rec.Speaker, id.String())
}

// PersistTurn uploads the turn audio, when there is any, then inserts the
// turn row.
func (p *Persister) PersistTurn(ctx context.Context, rec interview.TurnRecord) error {
	if !rec.Speaker.Valid() {
		return fmt.Errorf("invalid speaker %q", rec.Speaker)
	}

	row := store.TurnRow{
		ID:          uuid.New(),
		InterviewID: rec.InterviewID,
		SessionID:   rec.SessionID,
		TurnIndex:   rec.Index,
		Speaker:     rec.Speaker,
		Transcript:  rec.Transcript,
		AudioBytes:  rec.AudioBytes(),
	}

	if row.AudioBytes > 0 {
		pcm := rec.PCM()
		rate := rec.Speaker.SampleRate()
		wav := audio.MonoWAV(pcm, rate)

		id, err := ulid.New(ulid.Timestamp(p.now()), rand.Reader)
		if err != nil {
			return fmt.Errorf("generate object id: %w", err)
		}
		key, err := p.objects.Put(ctx, ObjectName(rec, id), wav, contentTypeWAV)
		if err != nil {
			return fmt.Errorf("upload turn audio: %w", err)
		}
		row.AudioKey = key
		row.DurationMS = audio.DurationMS(len(pcm), rate)
	}

	inserted, err := p.turns.InsertTurn(ctx, row)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	if !inserted {
		p.logger.Warn("turn row already exists",
			"interview_id", rec.InterviewID,
			"session_id", rec.SessionID,
			"turn_index", rec.Index,
			"speaker", string(rec.Speaker),
		)
	}
	return nil
}
