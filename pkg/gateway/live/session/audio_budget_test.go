package session

import (
	"testing"
	"time"
)

func TestAudioBudget_AllowsBurstThenDenies(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	b := newAudioBudget(func() time.Time { return now }, 32000, time.Second)

	if !b.Take(20000) {
		t.Fatalf("expected first frame within burst")
	}
	if !b.Take(12000) {
		t.Fatalf("expected second frame to use the rest of the burst")
	}
	if b.Take(1) {
		t.Fatalf("expected deny once the burst is spent")
	}
}

func TestAudioBudget_RejectedFrameSpendsNothing(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	b := newAudioBudget(func() time.Time { return now }, 1000, time.Second)

	if b.Take(1500) {
		t.Fatalf("expected oversized frame to be denied")
	}
	if !b.Take(1000) {
		t.Fatalf("expected full budget after a rejected frame")
	}
}

func TestAudioBudget_RefillsAtRate(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	b := newAudioBudget(func() time.Time { return now }, 32000, time.Second)

	if !b.Take(32000) {
		t.Fatalf("expected full burst")
	}
	now = now.Add(100 * time.Millisecond)
	if !b.Take(3200) {
		t.Fatalf("expected 100ms of audio after 100ms")
	}
	if b.Take(1) {
		t.Fatalf("expected deny without further refill")
	}

	now = now.Add(time.Hour)
	if !b.Take(32000) {
		t.Fatalf("expected refill capped at a full burst")
	}
	if b.Take(1) {
		t.Fatalf("expected capacity cap")
	}
}

func TestAudioBudget_DisabledAllowsEverything(t *testing.T) {
	var b *audioBudget = newAudioBudget(nil, 0, 0)
	if b != nil {
		t.Fatalf("expected nil budget when rate is zero")
	}
	if !b.Take(1 << 20) {
		t.Fatalf("nil budget must allow")
	}
}
