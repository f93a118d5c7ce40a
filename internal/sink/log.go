// internal/sink/log.go
package sink

import (
	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-tagwatch/internal/codec"
	"github.com/tamzrod/modbus-tagwatch/internal/poller"
	"github.com/tamzrod/modbus-tagwatch/internal/status"
)

// Log writes one line per event and per status change.
// Complete readings go to debug so a 100 ms interval does not flood info.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) HandleEvent(ev poller.Event) {
	var e *zerolog.Event
	if ev.Outcome == poller.OutcomeOK {
		e = l.logger.Debug()
	} else {
		e = l.logger.Warn().Err(ev.Err)
	}

	e = e.Str("tag", ev.TagID).
		Int("index", ev.Index).
		Stringer("outcome", ev.Outcome)

	if ev.HaveFloat {
		e = e.Float64("float", codec.DisplayFloat(ev.Reading.Float))
	}
	if ev.HaveRegisters {
		e = e.Uint32("dword", ev.Reading.Dword).
			Uint16("word", ev.Reading.Word).
			Str("bits", ev.Reading.BitString)
	}
	e.Msg("tag reading")
}

func (l *Log) HandleStatus(h status.Health) {
	e := l.logger.Info()
	if !h.Online() {
		e = l.logger.Warn()
	}
	e.Stringer("health", h).Bool("online", h.Online()).Msg("connection status changed")
}
