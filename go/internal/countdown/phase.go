package countdown

const (
	// YellowAtMs and RedAtMs are the fixed presentation thresholds sent with
	// every snapshot. They never influence state transitions.
	YellowAtMs int64 = 60_000
	RedAtMs    int64 = 30_000
)

// Phase is the presentation colour band for an amount of remaining time
type Phase string

const (
	PhaseGreen  Phase = "green"
	PhaseYellow Phase = "yellow"
	PhaseRed    Phase = "red"
)

// PhaseFor classifies remaining time against the fixed thresholds.
func PhaseFor(remainingMs int64) Phase {
	switch {
	case remainingMs <= RedAtMs:
		return PhaseRed
	case remainingMs <= YellowAtMs:
		return PhaseYellow
	default:
		return PhaseGreen
	}
}
