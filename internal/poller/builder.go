// internal/poller/builder.go
package poller

import (
	"github.com/rs/zerolog"

	pmodbus "github.com/tamzrod/modbus-tagwatch/internal/poller/modbus"
	"github.com/tamzrod/modbus-tagwatch/internal/tag"
)

// Build constructs a Poller for one tag and wires the Modbus client lifecycle.
// The connection is opened lazily by the first cycle and reused while healthy.
// On transport death the poller discards the client and calls the factory on
// a later cycle. Only address errors fail here.
func Build(d tag.Descriptor, logger zerolog.Logger) (*Poller, error) {
	d = d.WithDefaults()

	factory := func() (Client, error) {
		c, err := pmodbus.New(pmodbus.Config{
			Endpoint: d.Endpoint(),
			UnitID:   d.UnitID,
			Timeout:  d.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	return New(
		Config{
			TagID:    d.ID,
			Index:    d.Index,
			Address:  d.Address,
			Interval: d.Interval,
		},
		factory,
		logger.With().Str("endpoint", d.Endpoint()).Logger(),
	)
}
