package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-interview/pkg/interview"
)

// Persister stores a finished turn. Implementations upload the audio and
// record the turn row.
type Persister interface {
	PersistTurn(ctx context.Context, turn interview.TurnRecord) error
}

var (
	errQueueStopped    = errors.New("upload queue stopped")
	errQueueNotStarted = errors.New("upload queue not started")
)

type queueState int

const (
	queueNotStarted queueState = iota
	queueRunning
	queueStopping
	queueStopped
)

// UploadStats counts queue activity for logging.
type UploadStats struct {
	Enqueued  int64
	Persisted int64
	Failed    int64
}

// UploadQueue persists turns one at a time in submission order. Each turn is
// submitted at most once; storage failures are logged and skipped.
type UploadQueue struct {
	persister Persister
	logger    *slog.Logger
	owner     turnOwner
	delay     time.Duration
	timeout   time.Duration

	mu     sync.Mutex
	state  queueState
	items  []interview.TurnRecord
	notify chan struct{}

	workerCtx    context.Context
	workerCancel context.CancelFunc
	done         chan struct{}

	enqueued  atomic.Int64
	persisted atomic.Int64
	failed    atomic.Int64
}

type UploadQueueConfig struct {
	InterviewID string
	UserID      string
	SessionID   string
	// Delay is slept before every upload.
	Delay time.Duration
	// Timeout bounds a single PersistTurn call.
	Timeout time.Duration
}

func NewUploadQueue(p Persister, logger *slog.Logger, cfg UploadQueueConfig) *UploadQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &UploadQueue{
		persister: p,
		logger:    logger,
		owner: turnOwner{
			InterviewID: cfg.InterviewID,
			UserID:      cfg.UserID,
			SessionID:   cfg.SessionID,
		},
		delay:        cfg.Delay,
		timeout:      cfg.Timeout,
		notify:       make(chan struct{}, 1),
		workerCtx:    ctx,
		workerCancel: cancel,
		done:         make(chan struct{}),
	}
}

// Start launches the single worker. Calling it again is a no-op.
func (q *UploadQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != queueNotStarted {
		return
	}
	q.state = queueRunning
	go q.run()
}

// Enqueue snapshots turn and schedules it for persistence. It returns false
// when the turn was already submitted, has no content, or the queue is stopped.
func (q *UploadQueue) Enqueue(turn *Turn) bool {
	if turn == nil {
		return false
	}
	q.mu.Lock()
	if q.state == queueStopping || q.state == queueStopped {
		q.mu.Unlock()
		q.logger.Warn("upload rejected after stop",
			"interview_id", q.owner.InterviewID,
			"turn_index", turn.Index,
			"speaker", string(turn.Speaker),
		)
		return false
	}
	rec, ok := turn.claim(q.owner)
	if !ok {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, rec)
	q.mu.Unlock()

	q.enqueued.Add(1)
	q.signal()
	return true
}

func (q *UploadQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Stop waits for queued turns to be persisted, then stops the worker. If ctx
// expires first the in-flight upload is canceled and remaining turns are
// dropped with an error log.
func (q *UploadQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	switch q.state {
	case queueNotStarted:
		q.state = queueStopped
		pending := len(q.items)
		q.items = nil
		q.mu.Unlock()
		q.workerCancel()
		close(q.done)
		if pending > 0 {
			return errQueueNotStarted
		}
		return nil
	case queueStopping, queueStopped:
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.state = queueStopping
	q.mu.Unlock()
	q.signal()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		q.workerCancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *UploadQueue) Stats() UploadStats {
	return UploadStats{
		Enqueued:  q.enqueued.Load(),
		Persisted: q.persisted.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *UploadQueue) run() {
	defer close(q.done)
	defer q.workerCancel()

	for {
		rec, ok, stopping := q.pop()
		if !ok {
			if stopping {
				q.setStopped()
				return
			}
			select {
			case <-q.notify:
				continue
			case <-q.workerCtx.Done():
				q.dropRemaining()
				return
			}
		}

		if q.delay > 0 {
			timer := time.NewTimer(q.delay)
			select {
			case <-timer.C:
			case <-q.workerCtx.Done():
				timer.Stop()
				q.dropRecord(rec)
				q.dropRemaining()
				return
			}
		}
		q.persist(rec)
	}
}

func (q *UploadQueue) pop() (rec interview.TurnRecord, ok bool, stopping bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stopping = q.state == queueStopping
	if len(q.items) == 0 {
		return interview.TurnRecord{}, false, stopping
	}
	rec = q.items[0]
	q.items[0] = interview.TurnRecord{}
	q.items = q.items[1:]
	return rec, true, stopping
}

func (q *UploadQueue) setStopped() {
	q.mu.Lock()
	q.state = queueStopped
	q.mu.Unlock()
}

func (q *UploadQueue) persist(rec interview.TurnRecord) {
	ctx, cancel := context.WithTimeout(q.workerCtx, q.timeout)
	defer cancel()

	start := time.Now()
	err := q.persistSafe(ctx, rec)
	if err != nil {
		q.failed.Add(1)
		q.logger.Error("turn upload failed",
			"interview_id", rec.InterviewID,
			"user_id", rec.UserID,
			"turn_index", rec.Index,
			"speaker", string(rec.Speaker),
			"error", err,
		)
		return
	}
	q.persisted.Add(1)
	q.logger.Info("turn persisted",
		"interview_id", rec.InterviewID,
		"turn_index", rec.Index,
		"speaker", string(rec.Speaker),
		"audio_bytes", rec.AudioBytes(),
		"transcript_chars", len(rec.Transcript),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (q *UploadQueue) persistSafe(ctx context.Context, rec interview.TurnRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("persister panic")
			q.logger.Error("panic in turn persister", "panic", r, "turn_index", rec.Index)
		}
	}()
	if q.persister == nil {
		return errors.New("persister is nil")
	}
	return q.persister.PersistTurn(ctx, rec)
}

func (q *UploadQueue) dropRecord(rec interview.TurnRecord) {
	q.failed.Add(1)
	q.logger.Error("turn upload abandoned",
		"interview_id", rec.InterviewID,
		"turn_index", rec.Index,
		"speaker", string(rec.Speaker),
	)
}

func (q *UploadQueue) dropRemaining() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.state = queueStopped
	q.mu.Unlock()
	for _, rec := range items {
		q.dropRecord(rec)
	}
}
