// internal/writer/status_writer.go
package writer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/modbus-tagwatch/internal/poller"
	"github.com/tamzrod/modbus-tagwatch/internal/status"
)

// ---- STATUS BLOCK LAYOUT ----
//
// slot 0       health code (status.Health)
// slot 1       last error code (see ErrorCode)
// slot 2       seconds in error, saturating at 65535
// slot 3       reserved
// slots 4..11  device name, 16 ASCII chars, two per register

const (
	SlotHealthCode      = 0
	SlotLastErrorCode   = 1
	SlotSecondsInError  = 2
	SlotDeviceNameStart = 4
	SlotDeviceNameSlots = 8
	SlotsPerBlock       = SlotDeviceNameStart + SlotDeviceNameSlots

	DeviceNameMaxChars = 2 * SlotDeviceNameSlots
)

// Error codes written to SlotLastErrorCode.
const (
	ErrorNone         uint16 = 0
	ErrorNoData       uint16 = 1
	ErrorConnect      uint16 = 2
	ErrorTransport    uint16 = 3
	ErrorUnclassified uint16 = 0xFFFF
)

// ErrorCode folds a poll error into the register code.
func ErrorCode(err error) uint16 {
	if err == nil {
		return ErrorNone
	}
	var ce *poller.ConnectionError
	if errors.As(err, &ce) {
		if ce.Op == "connect" {
			return ErrorConnect
		}
		return ErrorTransport
	}
	if errors.Is(err, poller.ErrReadExhausted) {
		return ErrorNoData
	}
	return ErrorUnclassified
}

// Block is the live part of the status block.
type Block struct {
	Health         status.Health
	LastErrorCode  uint16
	SecondsInError uint16
}

// StatusWriter mirrors the process health into a holding-register block.
// The first write, and the first write after any failure, re-asserts the
// whole block including the device name; later writes only touch slots
// that changed. Not safe for concurrent use.
type StatusWriter struct {
	cli      EndpointClient
	base     uint16
	nameRegs []uint16

	needFull bool
	last     Block
}

// NewStatusWriter builds a writer for the block starting at base.
func NewStatusWriter(cli EndpointClient, base uint16, deviceName string) (*StatusWriter, error) {
	if cli == nil {
		return nil, errors.New("status writer: client required")
	}
	if int(base)+SlotsPerBlock > 0x10000 {
		return nil, fmt.Errorf("status writer: block at %d overflows the register space", base)
	}
	return &StatusWriter{
		cli:      cli,
		base:     base,
		nameRegs: encodeDeviceNameRegs(deviceName),
		needFull: true,
	}, nil
}

// WriteStatus delivers b into the block.
func (sw *StatusWriter) WriteStatus(b Block) error {
	if sw.needFull {
		if err := sw.cli.WriteRegisters(sw.base, sw.fullBlockRegs(b)); err != nil {
			return fmt.Errorf("status writer: full block write failed: %w", err)
		}
		sw.needFull = false
		sw.last = b
		return nil
	}

	var errs []string
	write := func(slot int, cur, prev uint16, name string) bool {
		if cur == prev {
			return true
		}
		if err := sw.cli.WriteRegister(sw.base+uint16(slot), cur); err != nil {
			errs = append(errs, fmt.Sprintf("slot%d %s write failed: %v", slot, name, err))
			return false
		}
		return true
	}

	if write(SlotHealthCode, uint16(b.Health), uint16(sw.last.Health), "health") {
		sw.last.Health = b.Health
	}
	if write(SlotLastErrorCode, b.LastErrorCode, sw.last.LastErrorCode, "last_error") {
		sw.last.LastErrorCode = b.LastErrorCode
	}
	if write(SlotSecondsInError, b.SecondsInError, sw.last.SecondsInError, "seconds") {
		sw.last.SecondsInError = b.SecondsInError
	}

	if len(errs) > 0 {
		sw.needFull = true
		return errors.New("status writer: " + strings.Join(errs, " | "))
	}
	return nil
}

// Invalidate forces a full re-assert on the next write, e.g. when the
// device may have restarted.
func (sw *StatusWriter) Invalidate() {
	sw.needFull = true
}

func (sw *StatusWriter) fullBlockRegs(b Block) []uint16 {
	regs := make([]uint16, SlotsPerBlock)
	regs[SlotHealthCode] = uint16(b.Health)
	regs[SlotLastErrorCode] = b.LastErrorCode
	regs[SlotSecondsInError] = b.SecondsInError
	copy(regs[SlotDeviceNameStart:], sw.nameRegs)
	return regs
}

// encodeDeviceNameRegs packs up to 16 printable ASCII characters into
// big-endian register pairs. Anything else becomes '?'.
func encodeDeviceNameRegs(name string) []uint16 {
	b := []byte(name)
	if len(b) > DeviceNameMaxChars {
		b = b[:DeviceNameMaxChars]
	}
	for i := range b {
		if b[i] < 0x20 || b[i] > 0x7E {
			b[i] = '?'
		}
	}

	out := make([]uint16, SlotDeviceNameSlots)
	for i := 0; i < len(b); i += 2 {
		hi := b[i]
		var lo byte
		if i+1 < len(b) {
			lo = b[i+1]
		}
		out[i/2] = uint16(hi)<<8 | uint16(lo)
	}
	return out
}
