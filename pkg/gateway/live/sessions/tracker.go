// Package sessions tracks live interview sessions for drain and status.
package sessions

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// Handle is what the tracker needs to control one live session.
type Handle struct {
	InterviewID string
	UserID      string
	StartedAt   time.Time
	Cancel      func()
	Warn        func(code, message string) error
}

// Info describes a tracked session without exposing its controls.
type Info struct {
	SessionID   string
	InterviewID string
	UserID      string
	StartedAt   time.Time
}

// Tracker is a registry of the live sessions on this replica. The zero value
// is not usable; a nil *Tracker tracks nothing.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	active  sync.WaitGroup
}

type entry struct {
	id     string
	handle Handle
	done   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*entry)}
}

// Register tracks a session until the returned func is called. Registering an
// id twice releases the older registration.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}
	e := &entry{id: sessionID, handle: h}

	t.mu.Lock()
	prev := t.entries[sessionID]
	t.entries[sessionID] = e
	t.active.Add(1)
	t.mu.Unlock()

	t.release(prev)
	return func() { t.release(e) }
}

func (t *Tracker) release(e *entry) {
	if e == nil {
		return
	}
	e.done.Do(func() {
		t.mu.Lock()
		if t.entries[e.id] == e {
			delete(t.entries, e.id)
		}
		t.mu.Unlock()
		t.active.Done()
	})
}

// matching snapshots the entries accepted by keep.
func (t *Tracker) matching(keep func(*entry) bool) []*entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*entry
	for _, e := range t.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Lookup returns the sessions currently serving interviewID, oldest first.
func (t *Tracker) Lookup(interviewID string) []Info {
	if t == nil {
		return nil
	}
	found := t.matching(func(e *entry) bool { return e.handle.InterviewID == interviewID })
	out := make([]Info, 0, len(found))
	for _, e := range found {
		out = append(out, Info{
			SessionID:   e.id,
			InterviewID: e.handle.InterviewID,
			UserID:      e.handle.UserID,
			StartedAt:   e.handle.StartedAt,
		})
	}
	slices.SortFunc(out, func(a, b Info) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return out
}

// Supersede cancels every session serving interviewID other than keep, so a
// reconnecting candidate replaces their previous connection.
func (t *Tracker) Supersede(interviewID, keep string) int {
	if t == nil {
		return 0
	}
	return cancelEach(t.matching(func(e *entry) bool {
		return e.id != keep && e.handle.InterviewID == interviewID
	}))
}

// WarnAll sends a WARNING to every live session and reports how many were
// asked. Delivery failures are ignored.
func (t *Tracker) WarnAll(code, message string) int {
	if t == nil {
		return 0
	}
	sent := 0
	for _, e := range t.matching(func(e *entry) bool { return e.handle.Warn != nil }) {
		_ = e.handle.Warn(code, message)
		sent++
	}
	return sent
}

// CancelAll cancels every live session. Each still runs its teardown.
func (t *Tracker) CancelAll() int {
	if t == nil {
		return 0
	}
	return cancelEach(t.matching(func(*entry) bool { return true }))
}

func cancelEach(entries []*entry) int {
	n := 0
	for _, e := range entries {
		if e.handle.Cancel == nil {
			continue
		}
		e.handle.Cancel()
		n++
	}
	return n
}

// Wait blocks until every registered session has unregistered or ctx is done.
// It reports whether all sessions finished.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.active.Wait()
	}()
	if ctx == nil {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
