package job

import (
	"fmt"

	"github.com/triagehq/triage"
)

// Priority selects which lane a job is queued into. Lower values are more
// urgent; workers always drain higher-urgency lanes first.
type Priority int

const (
	// PriorityCritical is reserved for safety-class work expected to be
	// rare and fast. A continuous critical stream starves lower lanes.
	PriorityCritical Priority = iota
	// PriorityHigh is for latency-sensitive work.
	PriorityHigh
	// PriorityNormal is the default lane.
	PriorityNormal
	// PriorityLow is for background work that can wait indefinitely.
	PriorityLow
)

// Priorities lists every lane in strict dispatch-precedence order.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// NumPriorities is the number of lanes.
const NumPriorities = 4

// Valid reports whether p names one of the four lanes.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts the wire form to a Priority. The empty string
// maps to PriorityNormal so submissions may omit the field.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: %q", triage.ErrInvalidPriority, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", triage.ErrInvalidPriority, int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(data []byte) error {
	parsed, err := ParsePriority(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
