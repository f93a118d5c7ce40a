// internal/config/validate.go
package config

import (
	"fmt"
	"strings"

	"github.com/tamzrod/modbus-tagwatch/internal/address"
	"github.com/tamzrod/modbus-tagwatch/internal/logging"
	"github.com/tamzrod/modbus-tagwatch/internal/writer"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}

	// ------------------------------------------------------------
	// CONNECTION
	// ------------------------------------------------------------

	c := cfg.Connection
	if err := validPort("connection.port", c.Port); err != nil {
		return err
	}
	if c.IntervalMs < 0 {
		return fmt.Errorf("connection.interval_ms must be >= 0, got %d", c.IntervalMs)
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("connection.timeout_ms must be >= 0, got %d", c.TimeoutMs)
	}

	// ------------------------------------------------------------
	// TAGS
	// ------------------------------------------------------------

	type span struct {
		start int
		end   int
		owner string
	}

	byAddress := make(map[string]int)
	byID := make(map[string]int)
	var reads []span

	for i, t := range cfg.Tags {
		spec, err := address.Parse(t.Address)
		if err != nil {
			return fmt.Errorf("tags[%d]: %w", i, err)
		}

		canon := spec.String()
		if prev, exists := byAddress[canon]; exists {
			return fmt.Errorf("tags[%d]: address %s already used by tags[%d]", i, canon, prev)
		}
		byAddress[canon] = i

		// Normalize defaults a missing id to the canonical address
		id := t.ID
		if id == "" {
			id = canon
		}
		if prev, exists := byID[id]; exists {
			return fmt.Errorf("tags[%d]: id %q already used by tags[%d]", i, id, prev)
		}
		byID[id] = i

		reads = append(reads, span{
			start: int(spec.Register),
			end:   int(spec.Register) + 1,
			owner: fmt.Sprintf("tags[%d]", i),
		})
	}

	// ------------------------------------------------------------
	// MQTT
	// ------------------------------------------------------------

	if m := cfg.MQTT; m != nil {
		if m.Broker == "" {
			return fmt.Errorf("mqtt.broker required")
		}
		if err := validPort("mqtt.port", m.Port); err != nil {
			return err
		}
		if strings.ContainsAny(m.RootTopic, "+#") {
			return fmt.Errorf("mqtt.root_topic %q must not contain wildcards", m.RootTopic)
		}
	}

	// ------------------------------------------------------------
	// STATUS BLOCK (OPT-IN)
	// ------------------------------------------------------------

	if sb := cfg.StatusBlock; sb != nil {
		for i := 0; i < len(sb.DeviceName); i++ {
			if sb.DeviceName[i] > 0x7F {
				return fmt.Errorf("status_block.device_name must contain ASCII characters only")
			}
		}
		if err := validPort("status_block.port", sb.Port); err != nil {
			return err
		}

		block := span{
			start: int(sb.Address),
			end:   int(sb.Address) + writer.SlotsPerBlock - 1,
			owner: "status_block",
		}
		if block.end > 0xFFFF {
			return fmt.Errorf("status_block.address %d: block of %d registers overflows", sb.Address, writer.SlotsPerBlock)
		}

		// the block may share the polled device; it must not cover a tag
		if sameDevice(c, *sb) {
			for _, r := range reads {
				// overlap check (inclusive)
				if !(block.end < r.start || block.start > r.end) {
					return fmt.Errorf(
						"status_block range=%d-%d overlaps %s range=%d-%d",
						block.start, block.end, r.owner, r.start, r.end,
					)
				}
			}
		}
	}

	// ------------------------------------------------------------
	// LOG
	// ------------------------------------------------------------

	switch strings.ToLower(cfg.Log.Format) {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("log.format %q: want %s or %s", cfg.Log.Format, logging.FormatConsole, logging.FormatJSON)
	}

	return nil
}

func validPort(field string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s %d out of range", field, port)
	}
	return nil
}

// sameDevice compares effective endpoints without applying defaults to cfg.
func sameDevice(c ConnectionConfig, sb StatusBlockConfig) bool {
	host, port, unit := c.Host, c.Port, c.UnitID
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	if unit == 0 {
		unit = DefaultUnitID
	}

	return (sb.Host == "" || sb.Host == host) &&
		(sb.Port == 0 || sb.Port == port) &&
		(sb.UnitID == 0 || sb.UnitID == unit)
}
