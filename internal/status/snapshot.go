// internal/status/snapshot.go
package status

import "time"

// Snapshot is the connection state of one tag as seen by the manager.
type Snapshot struct {
	Health              Health
	LastError           string
	ConsecutiveFailures uint32
	Since               time.Time // when Health last changed
	LastSeen            time.Time
}

// SecondsInError is the time spent in a non-OK state, saturated at 65535.
func (s Snapshot) SecondsInError(now time.Time) uint16 {
	if s.Health == HealthOK || s.Since.IsZero() {
		return 0
	}
	sec := now.Sub(s.Since) / time.Second
	if sec < 0 {
		return 0
	}
	if sec > 65535 {
		return 65535
	}
	return uint16(sec)
}
