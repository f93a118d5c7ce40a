// internal/poller/types.go
package poller

import (
	"errors"
	"fmt"
	"time"

	"github.com/tamzrod/modbus-tagwatch/internal/codec"
)

// ErrReadExhausted means every attempt of a read returned no data.
// It is a degraded-data outcome, not a transport fault.
var ErrReadExhausted = errors.New("poller: read attempts exhausted")

// ConnectionError is a transport fault while opening or reading the endpoint.
type ConnectionError struct {
	Op  string // "connect" or "read"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("poller: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Outcome classifies one poll cycle.
type Outcome uint8

const (
	// OutcomeOK: both reads succeeded, Reading is complete.
	OutcomeOK Outcome = iota + 1

	// OutcomePartial: exactly one read succeeded; see HaveFloat/HaveRegisters.
	OutcomePartial

	// OutcomeFailed: no value could be obtained this cycle.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomePartial:
		return "partial"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is emitted exactly once per poll cycle.
type Event struct {
	TagID string
	Index int
	At    time.Time

	// Generation identifies the Poller instance that produced the event.
	Generation uint64

	Outcome Outcome

	// Reading is complete for OutcomeOK. For OutcomePartial only the
	// fields backed by the successful read are set.
	Reading       codec.Reading
	HaveFloat     bool
	HaveRegisters bool

	Err error // nil only for OutcomeOK
}

// ConnectionLost reports whether the consumer should treat this cycle as a failure.
func (e Event) ConnectionLost() bool {
	return e.Outcome != OutcomeOK
}
