package syncclient

import (
	"sync"
	"time"

	"github.com/mcdev12/cuetimer/go/internal/countdown"
)

// Estimator turns the latest server snapshot into a live countdown. It
// anchors the snapshot's remaining time to the local instant it arrived and
// never compares local and server wall clocks.
type Estimator struct {
	mu sync.Mutex

	snapshot   countdown.Snapshot
	base       int64
	receivedAt time.Time
	anchored   bool
}

// NewEstimator creates an estimator with no anchor
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Observe anchors to s as received at localNow. A snapshot for the current
// room that is older than the anchor is ignored. It reports whether the
// anchor moved.
func (e *Estimator) Observe(s countdown.Snapshot, localNow time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.anchored && e.snapshot.RoomID == s.RoomID && s.ServerNow < e.snapshot.ServerNow {
		return false
	}

	e.snapshot = s
	e.base = s.BaseRemaining()
	e.receivedAt = localNow
	e.anchored = true
	return true
}

// Remaining estimates the time left at localNow
func (e *Estimator) Remaining(localNow time.Time) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remainingLocked(localNow)
}

func (e *Estimator) remainingLocked(localNow time.Time) int64 {
	if !e.anchored {
		return 0
	}
	if e.snapshot.Status != countdown.StatusRunning {
		return max(0, e.base)
	}
	since := max(0, localNow.Sub(e.receivedAt).Milliseconds())
	return max(0, e.base-since)
}

// Phase is the colour phase for the estimated remaining time
func (e *Estimator) Phase(localNow time.Time) countdown.Phase {
	return countdown.PhaseFor(e.Remaining(localNow))
}

// Reading is what a display renders at one instant
type Reading struct {
	RoomID      string
	Status      countdown.Status
	DurationMs  int64
	RemainingMs int64
	Phase       countdown.Phase
}

// Read returns the estimate at localNow. ok is false before the first
// snapshot.
func (e *Estimator) Read(localNow time.Time) (Reading, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.anchored {
		return Reading{}, false
	}
	remaining := e.remainingLocked(localNow)
	return Reading{
		RoomID:      e.snapshot.RoomID,
		Status:      e.snapshot.Status,
		DurationMs:  e.snapshot.DurationMs,
		RemainingMs: remaining,
		Phase:       countdown.PhaseFor(remaining),
	}, true
}

// Reset drops the anchor
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = countdown.Snapshot{}
	e.base = 0
	e.anchored = false
}
