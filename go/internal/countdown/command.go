package countdown

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// CommandKind names a state-mutating operation on a room
type CommandKind string

const (
	CommandStart       CommandKind = "start"
	CommandPause       CommandKind = "pause"
	CommandResume      CommandKind = "resume"
	CommandReset       CommandKind = "reset"
	CommandSetDuration CommandKind = "setDuration"
	CommandAdjustTime  CommandKind = "adjustTime"
	CommandFinish      CommandKind = "finish"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMalformed       = errors.New("malformed command payload")
	ErrInvalidDuration = errors.New("invalid duration")
)

// Command is a parsed, validated mutation request.
type Command struct {
	Kind       CommandKind
	DurationMs *int64
	DeltaMs    int64
}

type durationPayload struct {
	DurationMs *float64 `json:"durationMs"`
}

type adjustPayload struct {
	DeltaMs *float64 `json:"deltaMs"`
}

// ParseCommand decodes the payload for a command of the given type.
func ParseCommand(kind string, payload json.RawMessage) (Command, error) {
	cmd := Command{Kind: CommandKind(kind)}

	switch cmd.Kind {
	case CommandPause, CommandResume, CommandReset, CommandFinish:
		return cmd, nil

	case CommandStart:
		var p durationPayload
		if err := decodePayload(payload, &p); err != nil {
			return Command{}, err
		}
		if p.DurationMs != nil {
			d, err := ValidateDuration(*p.DurationMs)
			if err != nil {
				return Command{}, err
			}
			cmd.DurationMs = &d
		}
		return cmd, nil

	case CommandSetDuration:
		var p durationPayload
		if err := decodePayload(payload, &p); err != nil {
			return Command{}, err
		}
		if p.DurationMs == nil {
			return Command{}, fmt.Errorf("%w: durationMs is required", ErrMalformed)
		}
		d, err := ValidateDuration(*p.DurationMs)
		if err != nil {
			return Command{}, err
		}
		cmd.DurationMs = &d
		return cmd, nil

	case CommandAdjustTime:
		var p adjustPayload
		if err := decodePayload(payload, &p); err != nil {
			return Command{}, err
		}
		if p.DeltaMs == nil || !isWhole(*p.DeltaMs) || *p.DeltaMs == 0 {
			return Command{}, fmt.Errorf("%w: deltaMs must be a non-zero integer", ErrMalformed)
		}
		if math.Abs(*p.DeltaMs) > float64(MaxDurationMs) {
			return Command{}, fmt.Errorf("%w: deltaMs out of range", ErrMalformed)
		}
		cmd.DeltaMs = int64(*p.DeltaMs)
		return cmd, nil
	}

	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, kind)
}

// ValidateDuration checks a client-supplied duration in milliseconds.
func ValidateDuration(ms float64) (int64, error) {
	if !isWhole(ms) {
		return 0, fmt.Errorf("%w: %v is not a whole number of milliseconds", ErrInvalidDuration, ms)
	}
	d := int64(ms)
	if d < MinDurationMs || d > MaxDurationMs {
		return 0, fmt.Errorf("%w: %d out of range [%d, %d]", ErrInvalidDuration, d, MinDurationMs, MaxDurationMs)
	}
	return d, nil
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func isWhole(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f)
}
