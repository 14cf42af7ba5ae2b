package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Failures are always partition- or entity-scoped,
// never global.
var (
	// ErrLookupUnavailable signals a profile/jurisdiction lookup failure.
	// Detectors fail open to score 0 and the engine continues.
	ErrLookupUnavailable = errors.New("profile lookup unavailable")

	// ErrProfileNotFound signals a missing profile record.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrBrokerUnavailable signals a transient broker failure. The affected
	// partition retries with backoff; other partitions are unaffected.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	ErrCaseNotFound      = errors.New("case not found")
	ErrCaseClosed        = errors.New("case is closed")
	ErrInvalidTransition = errors.New("invalid case status transition")
)

// MalformedEventError marks a record that failed ingress validation.
// The record is logged, counted and skipped; ingestion never blocks on a
// single bad record.
type MalformedEventError struct {
	Partition int32
	Offset    int64
	Reason    string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event at partition %d offset %d: %s", e.Partition, e.Offset, e.Reason)
}

// StateCorruptionError marks a violated entity state invariant, such as a
// negative window counter. Processing halts for that entity only.
type StateCorruptionError struct {
	EntityID string
	Reason   string
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("entity state corrupted for %s: %s", e.EntityID, e.Reason)
}
