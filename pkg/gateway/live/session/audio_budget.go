package session

import "time"

// DefaultInboundBurst is how much over-rate audio a client may send at once.
const DefaultInboundBurst = 2 * time.Second

// audioBudget is a byte token bucket for client audio. A nil budget allows
// everything.
type audioBudget struct {
	now      func() time.Time
	rate     int64
	capacity int64
	tokens   int64
	last     time.Time
	burst    time.Duration
}

func newAudioBudget(now func() time.Time, bytesPerSecond int64, burst time.Duration) *audioBudget {
	if bytesPerSecond <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burst <= 0 {
		burst = DefaultInboundBurst
	}
	capacity := bytesPerSecond * int64(burst) / int64(time.Second)
	if capacity < 1 {
		capacity = 1
	}
	return &audioBudget{
		now:      now,
		rate:     bytesPerSecond,
		capacity: capacity,
		tokens:   capacity,
		last:     now(),
		burst:    burst,
	}
}

// Take spends n bytes and reports whether the frame fits the budget. A
// rejected frame spends nothing.
func (b *audioBudget) Take(n int) bool {
	if b == nil {
		return true
	}
	b.refill()
	if n < 0 {
		n = 0
	}
	if b.tokens < int64(n) {
		return false
	}
	b.tokens -= int64(n)
	return true
}

func (b *audioBudget) refill() {
	now := b.now()
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.last = now
	if elapsed >= b.burst {
		b.tokens = b.capacity
		return
	}
	b.tokens += elapsed.Nanoseconds() * b.rate / int64(time.Second)
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}
