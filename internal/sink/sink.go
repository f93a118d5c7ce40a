// internal/sink/sink.go
package sink

import (
	"github.com/tamzrod/modbus-tagwatch/internal/manager"
	"github.com/tamzrod/modbus-tagwatch/internal/poller"
	"github.com/tamzrod/modbus-tagwatch/internal/status"
)

// Multi fans every call out to each handler in order.
type Multi []manager.Handler

func (m Multi) HandleEvent(ev poller.Event) {
	for _, h := range m {
		h.HandleEvent(ev)
	}
}

func (m Multi) HandleStatus(s status.Health) {
	for _, h := range m {
		h.HandleStatus(s)
	}
}
