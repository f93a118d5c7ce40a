// internal/writer/writer.go
package writer

import (
	"errors"
	"fmt"

	"github.com/tamzrod/modbus-tagwatch/internal/address"
	"github.com/tamzrod/modbus-tagwatch/internal/codec"
)

// ErrBitAddress is returned for writes to a bit-indexed address.
var ErrBitAddress = errors.New("writer: bit-indexed address is read-only")

// EndpointClient is the exact contract the writers use.
// *modbus.Client from internal/poller/modbus satisfies it.
type EndpointClient interface {
	WriteRegisters(addr uint16, regs []uint16) error
	WriteRegister(addr, value uint16) error
}

// Writer writes values back to the register a tag decodes from.
type Writer struct {
	cli EndpointClient
}

func New(cli EndpointClient) *Writer {
	return &Writer{cli: cli}
}

// WriteFloat writes v as an IEEE-754 word pair [Low, High] at spec.Register (FC 16).
func (w *Writer) WriteFloat(spec address.Spec, v float32) error {
	if spec.HasBit() {
		return fmt.Errorf("%w: %s", ErrBitAddress, spec)
	}
	p := codec.EncodeFloat(v)
	if err := w.cli.WriteRegisters(spec.Register, p.Registers()); err != nil {
		return fmt.Errorf("writer: float addr=%d: %w", spec.Register, err)
	}
	return nil
}

// WriteDword writes v as [Low, High] at spec.Register (FC 16).
func (w *Writer) WriteDword(spec address.Spec, v uint32) error {
	if spec.HasBit() {
		return fmt.Errorf("%w: %s", ErrBitAddress, spec)
	}
	p := codec.Pair{Low: uint16(v), High: uint16(v >> 16)}
	if err := w.cli.WriteRegisters(spec.Register, p.Registers()); err != nil {
		return fmt.Errorf("writer: dword addr=%d: %w", spec.Register, err)
	}
	return nil
}

// WriteWord writes one register (FC 6).
func (w *Writer) WriteWord(spec address.Spec, v uint16) error {
	if spec.HasBit() {
		return fmt.Errorf("%w: %s", ErrBitAddress, spec)
	}
	if err := w.cli.WriteRegister(spec.Register, v); err != nil {
		return fmt.Errorf("writer: word addr=%d: %w", spec.Register, err)
	}
	return nil
}
