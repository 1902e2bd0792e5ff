package realtime

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsCapacityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "quota", err: ErrQuotaExceeded, want: true},
		{name: "closed", err: ErrConnectionClosed, want: true},
		{name: "wrapped quota", err: fmt.Errorf("receive: %w", ErrQuotaExceeded), want: true},
		{name: "other", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCapacityError(tt.err); got != tt.want {
				t.Fatalf("IsCapacityError(%v)=%v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestEventKindString(t *testing.T) {
	if got := EventTurnComplete.String(); got != "turn_complete" {
		t.Fatalf("String()=%q", got)
	}
	if got := EventKind(99).String(); got != "unknown" {
		t.Fatalf("String()=%q", got)
	}
}
