// internal/config/normalize.go
package config

import (
	"github.com/tamzrod/modbus-tagwatch/internal/address"
	"github.com/tamzrod/modbus-tagwatch/internal/tag"
	"github.com/tamzrod/modbus-tagwatch/internal/writer"
)

// Defaults applied by Normalize.
const (
	DefaultHost       = "192.168.56.2"
	DefaultPort       = int(tag.DefaultPort)
	DefaultIntervalMs = 100
	DefaultTimeoutMs  = 1000
	DefaultUnitID     = tag.DefaultUnitID

	DefaultMQTTPort      = 1883
	DefaultMQTTClientID  = "tagwatch"
	DefaultMQTTRootTopic = "tagwatch"

	DeviceNameMaxChars = writer.DeviceNameMaxChars
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	c := &cfg.Connection
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.IntervalMs == 0 {
		c.IntervalMs = DefaultIntervalMs
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
	if c.UnitID == 0 {
		c.UnitID = DefaultUnitID
	}

	// canonical address text: "0100" -> "100", " 7.3 " -> "7.3"
	// A tag without an id is keyed by its address, so the id survives
	// restarts and reloads.
	for i := range cfg.Tags {
		t := &cfg.Tags[i]
		if spec, err := address.Parse(t.Address); err == nil {
			t.Address = spec.String()
		}
		if t.ID == "" {
			t.ID = t.Address
		}
	}

	if m := cfg.MQTT; m != nil {
		if m.Port == 0 {
			m.Port = DefaultMQTTPort
		}
		if m.ClientID == "" {
			m.ClientID = DefaultMQTTClientID
		}
		if m.RootTopic == "" {
			m.RootTopic = DefaultMQTTRootTopic
		}
	}

	if sb := cfg.StatusBlock; sb != nil {
		if sb.Host == "" {
			sb.Host = c.Host
		}
		if sb.Port == 0 {
			sb.Port = c.Port
		}
		if sb.UnitID == 0 {
			sb.UnitID = c.UnitID
		}
		// ASCII already validated
		if len(sb.DeviceName) > DeviceNameMaxChars {
			sb.DeviceName = sb.DeviceName[:DeviceNameMaxChars]
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}
