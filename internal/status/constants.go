// internal/status/constants.go
package status

// Health is the connection health of one tag or of the whole process.
type Health uint16

// ---- HEALTH CODES ----

// HealthUnknown represents a boot state: no cycle has completed yet.
const HealthUnknown Health = 0

// HealthOK represents a tag whose last cycle produced a full reading.
const HealthOK Health = 1

// HealthError represents a tag whose last cycle lost the connection.
const HealthError Health = 2

// HealthStale represents a tag that has not reported for too long.
const HealthStale Health = 3

// HealthDisabled represents a tag that is configured but not polled.
const HealthDisabled Health = 4

func (h Health) String() string {
	switch h {
	case HealthUnknown:
		return "unknown"
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	case HealthStale:
		return "stale"
	case HealthDisabled:
		return "disabled"
	default:
		return "invalid"
	}
}

// Online is the process-wide online/offline view of a health code.
func (h Health) Online() bool {
	return h == HealthOK
}
