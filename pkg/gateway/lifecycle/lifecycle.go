package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle is a tiny process lifecycle state holder shared across handlers.
// It is used for readiness draining during graceful shutdown.
type Lifecycle struct {
	draining     atomic.Bool
	drainStarted atomic.Int64
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	if draining {
		l.drainStarted.CompareAndSwap(0, time.Now().UnixNano())
	} else {
		l.drainStarted.Store(0)
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// DrainingFor reports how long the process has been draining, or zero.
func (l *Lifecycle) DrainingFor(now time.Time) time.Duration {
	if l == nil || !l.draining.Load() {
		return 0
	}
	started := l.drainStarted.Load()
	if started == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, started))
}
