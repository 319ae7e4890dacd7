package countdown

// Snapshot is the outbound wire form of a room at one server instant.
//
// ElapsedMs and StartedAt are compatibility fields for older displays. They
// are derived here and nowhere else.
type Snapshot struct {
	RoomID      string `json:"roomId"`
	Status      Status `json:"status"`
	DurationMs  int64  `json:"durationMs"`
	DeadlineMs  *int64 `json:"deadlineMs"`
	RemainingMs int64  `json:"remainingMs"`
	YellowAtMs  int64  `json:"yellowAtMs"`
	RedAtMs     int64  `json:"redAtMs"`
	ServerNow   int64  `json:"serverNow"`
	UpdatedAt   int64  `json:"updatedAt"`

	ElapsedMs int64  `json:"elapsedMs"`
	StartedAt *int64 `json:"startedAt"`

	version uint64
}

// NewSnapshot captures r as of serverNow.
func NewSnapshot(r *Room, serverNow int64) Snapshot {
	s := Snapshot{
		RoomID:      r.Code,
		Status:      r.Status,
		DurationMs:  r.DurationMs,
		RemainingMs: r.Remaining(serverNow),
		YellowAtMs:  YellowAtMs,
		RedAtMs:     RedAtMs,
		ServerNow:   serverNow,
		UpdatedAt:   r.UpdatedAt,
		ElapsedMs:   r.Elapsed(serverNow),
		version:     r.Version,
	}
	if r.Status == StatusRunning && r.DeadlineMs != nil {
		deadline := *r.DeadlineMs
		started := deadline - r.DurationMs
		s.DeadlineMs = &deadline
		s.StartedAt = &started
	}
	return s
}

// Version is the room version the snapshot was taken at.
func (s Snapshot) Version() uint64 {
	return s.version
}

// BaseRemaining derives the time left at the snapshot's own ServerNow, the
// same way Room.Remaining does.
func (s Snapshot) BaseRemaining() int64 {
	if s.Status == StatusRunning && s.DeadlineMs != nil {
		return max(0, *s.DeadlineMs-s.ServerNow)
	}
	return max(0, s.RemainingMs)
}
