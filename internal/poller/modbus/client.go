// internal/poller/modbus/client.go
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
)

// ErrNoData marks a read that completed on the wire but produced no usable
// registers (exception response or short payload). Callers may retry it.
var ErrNoData = errors.New("modbus: no data")

// Client is one Modbus TCP connection, owned by exactly one poller.
// Not safe for concurrent use.
type Client struct {
	handler *modbus.TCPClientHandler
	mb      modbus.Client
}

// Config is minimal transport config.
type Config struct {
	Endpoint string
	UnitID   uint8
	Timeout  time.Duration
}

// New creates a connected Modbus TCP client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus client: endpoint required")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus client: connect %s: %w", cfg.Endpoint, err)
	}

	return &Client{
		handler: h,
		mb:      modbus.NewClient(h),
	}, nil
}

// Close closes the TCP connection.
func (c *Client) Close() error {
	if c == nil || c.handler == nil {
		return nil
	}
	return c.handler.Close()
}

// ReadHoldingRegisters reads qty registers starting at addr (FC 3).
func (c *Client) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	if c == nil || c.mb == nil {
		return nil, errors.New("modbus client: not connected")
	}
	raw, err := c.mb.ReadHoldingRegisters(addr, qty)
	if err != nil {
		return nil, classify(err)
	}
	if len(raw) < 2*int(qty) {
		return nil, fmt.Errorf("%w: addr=%d want=%d regs got=%d bytes", ErrNoData, addr, qty, len(raw))
	}
	return unpackRegisters(raw), nil
}

// WriteRegisters writes regs starting at addr (FC 16).
func (c *Client) WriteRegisters(addr uint16, regs []uint16) error {
	if c == nil || c.mb == nil {
		return errors.New("modbus client: not connected")
	}
	if len(regs) == 0 {
		return nil
	}
	_, err := c.mb.WriteMultipleRegisters(addr, uint16(len(regs)), packRegisters(regs))
	if err != nil {
		return classify(err)
	}
	return nil
}

// WriteRegister writes a single register (FC 6).
func (c *Client) WriteRegister(addr, value uint16) error {
	if c == nil || c.mb == nil {
		return errors.New("modbus client: not connected")
	}
	if _, err := c.mb.WriteSingleRegister(addr, value); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps exception responses onto ErrNoData.
// Everything else (dial, EOF, timeouts, framing) stays a transport fault.
func classify(err error) error {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return fmt.Errorf("%w: fc=%d exception=%d", ErrNoData, mbErr.FunctionCode, mbErr.ExceptionCode)
	}
	return err
}

// ---- helpers (pure geometry) ----

func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return out
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, 2*len(regs))
	for i, r := range regs {
		binary.BigEndian.PutUint16(out[2*i:], r)
	}
	return out
}
