// internal/writer/writer_test.go
package writer

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/tamzrod/modbus-tagwatch/internal/address"
	"github.com/tamzrod/modbus-tagwatch/internal/poller"
	"github.com/tamzrod/modbus-tagwatch/internal/status"
)

// ---- fake endpoint client ----

type fakeEndpointClient struct {
	writes []writeCall
	fail   error
}

type writeCall struct {
	addr uint16
	fc   uint8
	regs []uint16
}

func (f *fakeEndpointClient) WriteRegisters(addr uint16, regs []uint16) error {
	if f.fail != nil {
		return f.fail
	}
	f.writes = append(f.writes, writeCall{addr: addr, fc: 16, regs: append([]uint16(nil), regs...)})
	return nil
}

func (f *fakeEndpointClient) WriteRegister(addr, value uint16) error {
	if f.fail != nil {
		return f.fail
	}
	f.writes = append(f.writes, writeCall{addr: addr, fc: 6, regs: []uint16{value}})
	return nil
}

// ---- value writer ----

func TestWriteFloat_LowHighOrder(t *testing.T) {
	fake := &fakeEndpointClient{}
	w := New(fake)

	if err := w.WriteFloat(address.MustParse("1344"), 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fake.writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(fake.writes))
	}
	got := fake.writes[0]
	if got.fc != 16 || got.addr != 1344 {
		t.Fatalf("expected fc16 at 1344, got fc%d at %d", got.fc, got.addr)
	}
	bits := math.Float32bits(1.0)
	if got.regs[0] != uint16(bits) || got.regs[1] != uint16(bits>>16) {
		t.Fatalf("expected [low high] = [%#04x %#04x], got %#04x", uint16(bits), uint16(bits>>16), got.regs)
	}
}

func TestWriteDword(t *testing.T) {
	fake := &fakeEndpointClient{}
	if err := New(fake).WriteDword(address.MustParse("10"), 0xDEADBEEF); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r := fake.writes[0].regs; r[0] != 0xBEEF || r[1] != 0xDEAD {
		t.Fatalf("unexpected registers %#04x", r)
	}
}

func TestWriteWord_SingleRegister(t *testing.T) {
	fake := &fakeEndpointClient{}
	if err := New(fake).WriteWord(address.MustParse("7"), 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fake.writes[0]; got.fc != 6 || got.addr != 7 || got.regs[0] != 42 {
		t.Fatalf("unexpected write %+v", got)
	}
}

func TestWrite_BitAddressRejected(t *testing.T) {
	fake := &fakeEndpointClient{}
	w := New(fake)
	spec := address.MustParse("100.3")

	if err := w.WriteFloat(spec, 1); !errors.Is(err, ErrBitAddress) {
		t.Fatalf("float: expected ErrBitAddress, got %v", err)
	}
	if err := w.WriteDword(spec, 1); !errors.Is(err, ErrBitAddress) {
		t.Fatalf("dword: expected ErrBitAddress, got %v", err)
	}
	if err := w.WriteWord(spec, 1); !errors.Is(err, ErrBitAddress) {
		t.Fatalf("word: expected ErrBitAddress, got %v", err)
	}
	if len(fake.writes) != 0 {
		t.Fatalf("expected no writes, got %d", len(fake.writes))
	}
}

func TestWrite_ClientErrorWrapped(t *testing.T) {
	boom := errors.New("broken pipe")
	w := New(&fakeEndpointClient{fail: boom})
	if err := w.WriteFloat(address.MustParse("1"), 2); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
}

// ---- status block ----

func TestStatusWriter_FullAssertThenDeltas(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw, err := NewStatusWriter(cli, 500, "DEV-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := Block{Health: status.HealthOK}
	if err := sw.WriteStatus(first); err != nil {
		t.Fatalf("initial full assert failed: %v", err)
	}
	if len(cli.writes) != 1 || len(cli.writes[0].regs) != SlotsPerBlock {
		t.Fatalf("expected one full block write, got %+v", cli.writes)
	}
	regs := cli.writes[0].regs
	if regs[SlotHealthCode] != uint16(status.HealthOK) {
		t.Fatalf("health slot = %d", regs[SlotHealthCode])
	}
	if regs[SlotDeviceNameStart] != uint16('D')<<8|uint16('E') {
		t.Fatalf("device name not packed: %#04x", regs[SlotDeviceNameStart:])
	}

	// unchanged: nothing written
	cli.writes = nil
	if err := sw.WriteStatus(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cli.writes) != 0 {
		t.Fatalf("expected no writes for identical block, got %d", len(cli.writes))
	}

	// health and seconds change: two single-register writes
	if err := sw.WriteStatus(Block{Health: status.HealthError, SecondsInError: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cli.writes) != 2 {
		t.Fatalf("expected 2 delta writes, got %d", len(cli.writes))
	}
	if cli.writes[0].addr != 500+SlotHealthCode || cli.writes[1].addr != 500+SlotSecondsInError {
		t.Fatalf("unexpected delta addresses %d, %d", cli.writes[0].addr, cli.writes[1].addr)
	}
}

func TestStatusWriter_FailureForcesFullReassert(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw, _ := NewStatusWriter(cli, 0, "")
	_ = sw.WriteStatus(Block{Health: status.HealthOK})

	cli.fail = errors.New("timeout")
	if err := sw.WriteStatus(Block{Health: status.HealthError}); err == nil {
		t.Fatalf("expected error")
	}

	cli.fail = nil
	cli.writes = nil
	if err := sw.WriteStatus(Block{Health: status.HealthError}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cli.writes) != 1 || len(cli.writes[0].regs) != SlotsPerBlock {
		t.Fatalf("expected full re-assert after failure, got %+v", cli.writes)
	}
}

func TestStatusWriter_InvalidateReasserts(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw, _ := NewStatusWriter(cli, 0, "DEV")
	_ = sw.WriteStatus(Block{Health: status.HealthOK})

	cli.writes = nil
	sw.Invalidate()
	if err := sw.WriteStatus(Block{Health: status.HealthOK}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cli.writes) != 1 || len(cli.writes[0].regs) != SlotsPerBlock {
		t.Fatalf("expected full re-assert of an unchanged block, got %+v", cli.writes)
	}
}

func TestNewStatusWriter_Overflow(t *testing.T) {
	if _, err := NewStatusWriter(&fakeEndpointClient{}, 0xFFFA, ""); err == nil {
		t.Fatalf("expected overflow error")
	}
	if _, err := NewStatusWriter(nil, 0, ""); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestEncodeDeviceNameRegs(t *testing.T) {
	regs := encodeDeviceNameRegs("abc\x01defghijklmnopqrstuvwxyz")
	if len(regs) != SlotDeviceNameSlots {
		t.Fatalf("expected %d regs, got %d", SlotDeviceNameSlots, len(regs))
	}
	if regs[0] != uint16('a')<<8|uint16('b') {
		t.Fatalf("reg0 = %#04x", regs[0])
	}
	if regs[1] != uint16('c')<<8|uint16('?') {
		t.Fatalf("non-printable not sanitized: %#04x", regs[1])
	}

	odd := encodeDeviceNameRegs("X")
	if odd[0] != uint16('X')<<8 || odd[1] != 0 {
		t.Fatalf("odd-length name: %#04x", odd)
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want uint16
	}{
		{nil, ErrorNone},
		{fmt.Errorf("float: %w", poller.ErrReadExhausted), ErrorNoData},
		{&poller.ConnectionError{Op: "connect", Err: errors.New("refused")}, ErrorConnect},
		{&poller.ConnectionError{Op: "read", Err: errors.New("EOF")}, ErrorTransport},
		{errors.New("other"), ErrorUnclassified},
	}
	for _, c := range cases {
		if got := ErrorCode(c.err); got != c.want {
			t.Fatalf("ErrorCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
