// internal/tag/tag.go
package tag

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Defaults applied by WithDefaults.
const (
	DefaultPort     uint16 = 502
	DefaultInterval        = 100 * time.Millisecond
	DefaultTimeout         = time.Second
	DefaultUnitID   uint8  = 1
)

// Descriptor is one tag to poll.
// ID is stable for the life of the tag; Index is the external row position
// and may change when other tags are removed.
type Descriptor struct {
	ID       string
	Index    int
	Address  string
	Host     string
	Port     uint16
	Interval time.Duration
	Timeout  time.Duration
	UnitID   uint8
	Comment  string
}

// NewID returns a fresh opaque tag identifier.
func NewID() string {
	return uuid.NewString()
}

// Endpoint is host:port of the remote controller.
func (d Descriptor) Endpoint() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port)))
}

// WithDefaults fills zero fields. The receiver is not modified.
func (d Descriptor) WithDefaults() Descriptor {
	if d.ID == "" {
		d.ID = NewID()
	}
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if d.Interval <= 0 {
		d.Interval = DefaultInterval
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.UnitID == 0 {
		d.UnitID = DefaultUnitID
	}
	return d
}

func (d Descriptor) String() string {
	return fmt.Sprintf("tag[%d] %s @ %s", d.Index, d.Address, d.Endpoint())
}
