package progress

import (
	"fmt"
	"strings"
)

// Status is the reconciled state of one (job, table) pair.
type Status uint8

// Table states. Extracting and Inserting share the in-flight tier; Completed
// and Failed are absorbing.
const (
	StatusPending Status = iota
	StatusExtracting
	StatusInserting
	StatusCompleted
	StatusFailed
)

var statusNames = [...]string{
	StatusPending:    "pending",
	StatusExtracting: "extracting",
	StatusInserting:  "inserting",
	StatusCompleted:  "completed",
	StatusFailed:     "failed",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// ParseStatus maps a status name back to its Status.
func ParseStatus(name string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for i, n := range statusNames {
		if n == normalized {
			return Status(i), nil
		}
	}
	return StatusPending, fmt.Errorf("unknown table status %q", name)
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("invalid table status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Terminal reports whether s is Completed or Failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlight reports whether s is Extracting or Inserting.
func (s Status) InFlight() bool {
	return s == StatusExtracting || s == StatusInserting
}

func (s Status) tier() int {
	switch {
	case s.Terminal():
		return 2
	case s.InFlight():
		return 1
	default:
		return 0
	}
}

// Transition is the total transition function of the table state machine:
// terminal states absorb every input, nothing moves back to a lower tier, and
// the two in-flight phases may replace each other.
func Transition(from, to Status) Status {
	if from.Terminal() || to.tier() < from.tier() {
		return from
	}
	return to
}

// ValidStep reports whether from → to is a step Transition could produce.
func ValidStep(from, to Status) bool {
	return Transition(from, to) == to
}
