// Package countdown holds the server-authoritative timer state machine for a
// single room.
//
// Every operation takes an explicit as-of instant in Unix milliseconds so the
// same instant can be used for the elapse check, the command and the
// resulting snapshot. While a room is running its deadline is the only
// source of time left; in every other status RemainingMs is.
package countdown

import (
	"fmt"
)

// Status is the lifecycle state of a room's countdown
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

const (
	// MinDurationMs is the shortest countdown a controller may configure.
	MinDurationMs int64 = 1000
	// MaxDurationMs caps configured durations at one day.
	MaxDurationMs int64 = 24 * 60 * 60 * 1000
	// DefaultDurationMs is used for rooms created before any start/setDuration.
	DefaultDurationMs int64 = 5 * 60 * 1000

	// deadlineFloorMs keeps a downward adjustment from expiring a running room instantly.
	deadlineFloorMs int64 = 1000
)

// ParseStatus validates a status string
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusIdle, StatusRunning, StatusPaused, StatusFinished:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Room is the authoritative countdown state of one room.
type Room struct {
	Code        string
	Status      Status
	DurationMs  int64
	DeadlineMs  *int64
	RemainingMs int64
	UpdatedAt   int64

	// Version is bumped on every mutation.
	Version uint64
}

// NewRoom creates an idle room holding the given duration.
func NewRoom(code string, durationMs int64, now int64) *Room {
	if durationMs < MinDurationMs {
		durationMs = DefaultDurationMs
	}
	return &Room{
		Code:        code,
		Status:      StatusIdle,
		DurationMs:  durationMs,
		RemainingMs: durationMs,
		UpdatedAt:   now,
	}
}

// Remaining returns the time left at instant t. It never goes below zero.
func (r *Room) Remaining(t int64) int64 {
	if r.Status == StatusRunning && r.DeadlineMs != nil {
		return max(0, *r.DeadlineMs-t)
	}
	return max(0, r.RemainingMs)
}

// Elapsed is the part of the current duration already consumed at t.
func (r *Room) Elapsed(t int64) int64 {
	return max(0, r.DurationMs-r.Remaining(t))
}

// Finalize moves a running room whose deadline has passed to finished.
// It reports whether the room changed.
func (r *Room) Finalize(t int64) bool {
	if r.Status != StatusRunning || r.Remaining(t) > 0 {
		return false
	}
	r.Status = StatusFinished
	r.DeadlineMs = nil
	r.RemainingMs = 0
	r.touch(t)
	return true
}

// Apply runs the elapse check and then cmd, both at instant t. It reports
// whether anything changed; an unchanged room keeps its UpdatedAt and Version.
func (r *Room) Apply(cmd Command, t int64) bool {
	finalized := r.Finalize(t)

	var changed bool
	switch cmd.Kind {
	case CommandStart:
		changed = r.start(cmd.DurationMs, t)
	case CommandPause:
		changed = r.pause(t)
	case CommandResume:
		changed = r.resume(t)
	case CommandReset:
		changed = r.reset()
	case CommandSetDuration:
		if cmd.DurationMs != nil {
			changed = r.setDuration(*cmd.DurationMs, t)
		}
	case CommandAdjustTime:
		changed = r.adjustTime(cmd.DeltaMs, t)
	case CommandFinish:
		changed = r.finish()
	}

	if changed {
		r.touch(t)
	}
	return finalized || changed
}

func (r *Room) start(durationMs *int64, t int64) bool {
	if durationMs != nil {
		r.DurationMs = *durationMs
	}
	r.Status = StatusRunning
	r.setDeadline(t + r.DurationMs)
	r.RemainingMs = r.DurationMs
	return true
}

func (r *Room) pause(t int64) bool {
	if r.Status != StatusRunning {
		return false
	}
	r.RemainingMs = r.Remaining(t)
	r.Status = StatusPaused
	r.DeadlineMs = nil
	return true
}

func (r *Room) resume(t int64) bool {
	if r.Status != StatusPaused {
		return false
	}
	r.Status = StatusRunning
	r.setDeadline(t + r.RemainingMs)
	return true
}

func (r *Room) reset() bool {
	if r.Status == StatusIdle && r.DeadlineMs == nil && r.RemainingMs == r.DurationMs {
		return false
	}
	r.Status = StatusIdle
	r.RemainingMs = r.DurationMs
	r.DeadlineMs = nil
	return true
}

func (r *Room) setDuration(durationMs int64, t int64) bool {
	remaining := r.Remaining(t)
	elapsed := r.DurationMs - remaining

	r.DurationMs = durationMs
	switch r.Status {
	case StatusRunning:
		r.RemainingMs = max(0, durationMs-elapsed)
		r.setDeadline(t + r.RemainingMs)
	case StatusIdle:
		r.RemainingMs = durationMs
	default:
		r.RemainingMs = min(remaining, durationMs)
	}
	return true
}

func (r *Room) adjustTime(deltaMs int64, t int64) bool {
	if deltaMs == 0 {
		return false
	}

	switch r.Status {
	case StatusRunning:
		deadline := max(*r.DeadlineMs+deltaMs, t+deadlineFloorMs)
		r.setDeadline(deadline)
		r.RemainingMs = deadline - t
	case StatusFinished:
		// The elapse check already pinned remaining to zero, so time added
		// here counts from a fresh baseline rather than the stale deadline.
		remaining := max(0, r.RemainingMs+deltaMs)
		if remaining == 0 {
			return false
		}
		remaining = max(remaining, deadlineFloorMs)
		r.Status = StatusRunning
		r.setDeadline(t + remaining)
		r.RemainingMs = remaining
	default:
		r.RemainingMs = max(0, r.RemainingMs+deltaMs)
	}

	// Duration is the high-water mark of remaining time in this round.
	if r.RemainingMs > r.DurationMs {
		r.DurationMs = r.RemainingMs
	}
	return true
}

func (r *Room) finish() bool {
	if r.Status == StatusFinished && r.DeadlineMs == nil && r.RemainingMs == 0 {
		return false
	}
	r.Status = StatusFinished
	r.RemainingMs = 0
	r.DeadlineMs = nil
	return true
}

func (r *Room) setDeadline(ms int64) {
	r.DeadlineMs = &ms
}

func (r *Room) touch(t int64) {
	r.UpdatedAt = t
	r.Version++
}

// Clone returns a copy that shares no pointers with r.
func (r *Room) Clone() *Room {
	c := *r
	if r.DeadlineMs != nil {
		d := *r.DeadlineMs
		c.DeadlineMs = &d
	}
	return &c
}
