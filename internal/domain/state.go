package domain

const (
	// DefaultWindowSteps is the rolling window length in logical steps.
	DefaultWindowSteps = 24

	// AmountRingSize is how many recent amounts are kept per entity for
	// round-amount and structuring heuristics.
	AmountRingSize = 10
)

// EntityState is a read-only view of one entity's behavioral aggregates.
// The state store hands out copies; detectors never mutate it.
type EntityState struct {
	EntityID    string `json:"entityId"`
	WindowSteps int    `json:"windowSteps"`

	FirstSeenStep int `json:"firstSeenStep"`
	LastSeenStep  int `json:"lastSeenStep"`

	// Lifetime aggregates (append-only).
	LifetimeCount int64   `json:"lifetimeCount"`
	LifetimeTotal float64 `json:"lifetimeTotal"`

	// Rolling-window aggregates over the last WindowSteps steps.
	WindowCount int64   `json:"windowCount"`
	WindowTotal float64 `json:"windowTotal"`

	// PartyFirstSeen maps each counterparty ever seen to the step it was
	// first observed. Never pruned.
	PartyFirstSeen map[string]int `json:"partyFirstSeen"`

	// WindowParties holds the counterparties seen inside the current window.
	WindowParties map[string]bool `json:"windowParties"`

	// LastAmounts is the most recent amounts, oldest first, capped at
	// AmountRingSize.
	LastAmounts []float64 `json:"lastAmounts"`
}

// Seen reports whether the entity has ever appeared on the stream.
func (s *EntityState) Seen() bool {
	return s.LifetimeCount > 0
}

// WindowStart returns the first step covered by the current window.
func (s *EntityState) WindowStart() int {
	start := s.LastSeenStep - s.WindowSteps + 1
	if start < 0 {
		start = 0
	}
	return start
}
