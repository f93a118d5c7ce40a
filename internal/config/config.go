// internal/config/config.go
package config

import (
	"time"

	"github.com/tamzrod/modbus-tagwatch/internal/tag"
)

type Config struct {
	Connection  ConnectionConfig   `yaml:"connection"`
	Tags        []TagConfig        `yaml:"tags"`
	MQTT        *MQTTConfig        `yaml:"mqtt,omitempty"`
	StatusBlock *StatusBlockConfig `yaml:"status_block,omitempty"`
	Log         LogConfig          `yaml:"log"`
}

// ---- CONNECTION ----

type ConnectionConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	IntervalMs int    `yaml:"interval_ms"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	UnitID     uint8  `yaml:"unit_id"`

	// Online: missing means true
	Online *bool `yaml:"online,omitempty"`
}

func (c ConnectionConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func (c ConnectionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c ConnectionConfig) IsOnline() bool {
	return c.Online == nil || *c.Online
}

// ---- TAGS ----

type TagConfig struct {
	ID      string `yaml:"id,omitempty"`
	Address string `yaml:"address"`
	Comment string `yaml:"comment,omitempty"`
}

// ---- MQTT ----

type MQTTConfig struct {
	Broker    string `yaml:"broker"`
	Port      int    `yaml:"port"`
	ClientID  string `yaml:"client_id"`
	RootTopic string `yaml:"root_topic"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
}

// ---- STATUS BLOCK ----

// StatusBlockConfig mirrors process health into holding registers.
// Host/Port/UnitID default to the polled connection.
type StatusBlockConfig struct {
	Host       string `yaml:"host,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	UnitID     uint8  `yaml:"unit_id,omitempty"`
	Address    uint16 `yaml:"address"`
	DeviceName string `yaml:"device_name,omitempty"`
}

// ---- LOG ----

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Descriptors converts the tag list into rows 0..n-1.
// Connection fields are left zero; the manager fills them.
func (c *Config) Descriptors() []tag.Descriptor {
	out := make([]tag.Descriptor, 0, len(c.Tags))
	for i, t := range c.Tags {
		out = append(out, tag.Descriptor{
			ID:      t.ID,
			Index:   i,
			Address: t.Address,
			Comment: t.Comment,
		})
	}
	return out
}
