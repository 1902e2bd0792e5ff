package session

import (
	"strings"
	"sync"

	"github.com/vango-go/vai-interview/pkg/interview"
)

// Turn is one speaker's contribution to the conversation. Only the owning
// relay mutates a turn, but teardown reads every turn, so access is locked.
type Turn struct {
	Index   int
	Speaker interview.Speaker

	mu         sync.Mutex
	audio      [][]byte
	audioBytes int
	transcript strings.Builder
	persisted  bool
}

// AppendAudio copies chunk onto the turn. It returns false if the turn was
// already handed to the upload queue.
func (t *Turn) AppendAudio(chunk []byte) bool {
	buf := make([]byte, len(chunk))
	copy(buf, chunk)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.persisted {
		return false
	}
	if len(buf) > 0 {
		t.audio = append(t.audio, buf)
		t.audioBytes += len(buf)
	}
	return true
}

// AppendTranscript reports false if the turn was already persisted.
func (t *Turn) AppendTranscript(text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.persisted {
		return false
	}
	t.transcript.WriteString(text)
	return true
}

func (t *Turn) SetTranscript(text string) {
	t.mu.Lock()
	t.transcript.Reset()
	t.transcript.WriteString(text)
	t.mu.Unlock()
}

func (t *Turn) Transcript() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transcript.String()
}

func (t *Turn) AudioBytes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audioBytes
}

func (t *Turn) HasContent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasContentLocked()
}

func (t *Turn) hasContentLocked() bool {
	return t.audioBytes > 0 || t.transcript.Len() > 0
}

func (t *Turn) Persisted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.persisted
}

// turnOwner identifies the session a turn belongs to.
type turnOwner struct {
	InterviewID string
	UserID      string
	SessionID   string
}

// claim marks the turn persisted and returns its snapshot. It fails if the
// turn was already claimed or has nothing to persist.
func (t *Turn) claim(owner turnOwner) (interview.TurnRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.persisted || !t.hasContentLocked() {
		return interview.TurnRecord{}, false
	}
	t.persisted = true

	chunks := make([][]byte, len(t.audio))
	copy(chunks, t.audio)
	return interview.TurnRecord{
		InterviewID: owner.InterviewID,
		UserID:      owner.UserID,
		SessionID:   owner.SessionID,
		Index:       t.Index,
		Speaker:     t.Speaker,
		Transcript:  t.transcript.String(),
		Audio:       chunks,
	}, true
}

// TurnTracker owns the ordered turn list of one session. Indices are shared
// by both speakers and strictly increase in creation order.
type TurnTracker struct {
	mu    sync.Mutex
	turns []*Turn
	next  int
	open  map[interview.Speaker]*Turn
}

func NewTurnTracker() *TurnTracker {
	return &TurnTracker{open: make(map[interview.Speaker]*Turn, 2)}
}

// Begin allocates the next index and makes the new turn the speaker's open turn.
func (t *TurnTracker) Begin(speaker interview.Speaker) *Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.beginLocked(speaker)
}

func (t *TurnTracker) beginLocked(speaker interview.Speaker) *Turn {
	turn := &Turn{Index: t.next, Speaker: speaker}
	t.next++
	t.turns = append(t.turns, turn)
	t.open[speaker] = turn
	return turn
}

// Open returns the speaker's open turn, or nil once it has been persisted.
func (t *TurnTracker) Open(speaker interview.Speaker) *Turn {
	t.mu.Lock()
	turn := t.open[speaker]
	t.mu.Unlock()
	if turn == nil || turn.Persisted() {
		return nil
	}
	return turn
}

// OpenOrBegin returns the speaker's open turn, starting one if needed.
func (t *TurnTracker) OpenOrBegin(speaker interview.Speaker) (turn *Turn, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur := t.open[speaker]; cur != nil && !cur.Persisted() {
		return cur, false
	}
	return t.beginLocked(speaker), true
}

// IsLatest reports whether no turn has been started after turn.
func (t *TurnTracker) IsLatest(turn *Turn) bool {
	if turn == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return turn.Index == t.next-1
}

// Turns returns the turns in index order.
func (t *TurnTracker) Turns() []*Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

func (t *TurnTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}
