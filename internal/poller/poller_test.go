// internal/poller/poller_test.go
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-tagwatch/internal/address"
	"github.com/tamzrod/modbus-tagwatch/internal/codec"
	pmodbus "github.com/tamzrod/modbus-tagwatch/internal/poller/modbus"
)

// ---- fake client ----

type fakeClient struct {
	mu     sync.Mutex
	regs   []uint16
	noData int // next N reads return ErrNoData; <0 means always
	short  bool
	fault  error
	reads  int
	closed bool
}

func (f *fakeClient) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if f.fault != nil {
		return nil, f.fault
	}
	if f.noData != 0 {
		if f.noData > 0 {
			f.noData--
		}
		if f.short {
			return f.regs[:1], nil
		}
		return nil, pmodbus.ErrNoData
	}
	return append([]uint16(nil), f.regs...), nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory hands out clients built by mk and counts opens/closes.
type fakeFactory struct {
	mk    func() *fakeClient
	err   error
	opens atomic.Int32
	made  []*fakeClient
	mu    sync.Mutex
}

func (ff *fakeFactory) factory() (Client, error) {
	if ff.err != nil {
		return nil, ff.err
	}
	c := ff.mk()
	ff.mu.Lock()
	ff.made = append(ff.made, c)
	ff.mu.Unlock()
	ff.opens.Add(1)
	return c, nil
}

func (ff *fakeFactory) allClosed() bool {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	for _, c := range ff.made {
		if !c.isClosed() {
			return false
		}
	}
	return true
}

func newTestPoller(t *testing.T, addr string, ff *fakeFactory) *Poller {
	t.Helper()
	p, err := New(Config{
		TagID:    "t1",
		Index:    3,
		Address:  addr,
		Interval: 5 * time.Millisecond,
	}, ff.factory, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return p
}

func single(c *fakeClient) *fakeFactory {
	return &fakeFactory{mk: func() *fakeClient { return c }}
}

// waitFor polls cond until it holds or d elapses.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", d)
		}
		time.Sleep(time.Millisecond)
	}
}

// ---- construction ----

func TestNew_AddressErrors(t *testing.T) {
	ff := single(&fakeClient{})
	cases := map[string]error{
		"":      address.ErrInvalidFormat,
		"abc":   address.ErrInvalidFormat,
		"12.16": address.ErrBitOutOfRange,
	}
	for raw, want := range cases {
		_, err := New(Config{TagID: "t", Address: raw, Interval: time.Second}, ff.factory, zerolog.Nop())
		if !errors.Is(err, want) {
			t.Errorf("address %q: expected %v, got %v", raw, want, err)
		}
	}
	if n := ff.opens.Load(); n != 0 {
		t.Fatalf("construction must not connect, opens=%d", n)
	}
}

func TestNew_ConfigErrors(t *testing.T) {
	ff := single(&fakeClient{})
	if _, err := New(Config{Address: "1", Interval: time.Second}, ff.factory, zerolog.Nop()); err == nil {
		t.Errorf("expected error for missing tag id")
	}
	if _, err := New(Config{TagID: "t", Address: "1"}, ff.factory, zerolog.Nop()); err == nil {
		t.Errorf("expected error for zero interval")
	}
	if _, err := New(Config{TagID: "t", Address: "1", Interval: time.Second}, nil, zerolog.Nop()); err == nil {
		t.Errorf("expected error for nil factory")
	}
}

func TestNew_GenerationIsUnique(t *testing.T) {
	ff := single(&fakeClient{regs: []uint16{1, 2}})
	a := newTestPoller(t, "100", ff)
	b := newTestPoller(t, "100", ff)

	if a.Generation() == b.Generation() {
		t.Fatalf("pollers for the same tag share generation %d", a.Generation())
	}
	if ev := b.PollOnce(); ev.Generation != b.Generation() {
		t.Fatalf("event generation=%d, poller=%d", ev.Generation, b.Generation())
	}
}

// ---- single cycle ----

func TestPollOnce_Success(t *testing.T) {
	c := &fakeClient{regs: []uint16{0x0000, 0x3F80}}
	p := newTestPoller(t, "100", single(c))

	ev := p.PollOnce()
	if ev.Outcome != OutcomeOK || ev.Err != nil {
		t.Fatalf("PollOnce outcome=%v err=%v", ev.Outcome, ev.Err)
	}
	if ev.ConnectionLost() {
		t.Errorf("ok cycle reported as connection lost")
	}
	if ev.TagID != "t1" || ev.Index != 3 {
		t.Errorf("routing fields: tag=%q index=%d", ev.TagID, ev.Index)
	}
	if ev.Reading.Float != 1.0 {
		t.Errorf("float=%v, want 1", ev.Reading.Float)
	}
	if ev.Reading.Dword != 0x3F800000 {
		t.Errorf("dword=%#x", ev.Reading.Dword)
	}
	if ev.Reading.Word != 0 {
		t.Errorf("word=%d", ev.Reading.Word)
	}
	if want := codec.DecodeBitString(codec.Pair{Low: 0, High: 0x3F80}); ev.Reading.BitString != want {
		t.Errorf("bits=%q, want %q", ev.Reading.BitString, want)
	}
	if !p.Connected() {
		t.Errorf("expected open connection")
	}
	if n := c.readCount(); n != 2 {
		t.Errorf("reads=%d, want 2", n)
	}
}

func TestPollOnce_BitAddressOverwritesWord(t *testing.T) {
	c := &fakeClient{regs: []uint16{0b0100, 0xFFFF}}
	p := newTestPoller(t, "100.2", single(c))

	ev := p.PollOnce()
	if ev.Outcome != OutcomeOK {
		t.Fatalf("outcome=%v err=%v", ev.Outcome, ev.Err)
	}
	if ev.Reading.Word != 1 {
		t.Errorf("word=%d, want bit value 1", ev.Reading.Word)
	}
	if ev.Reading.Dword != 0xFFFF0004 {
		t.Errorf("dword=%#x", ev.Reading.Dword)
	}
}

func TestPollOnce_RetriesTransientNoData(t *testing.T) {
	c := &fakeClient{regs: []uint16{1, 2}, noData: 2}
	p := newTestPoller(t, "100", single(c))

	if ev := p.PollOnce(); ev.Outcome != OutcomeOK {
		t.Fatalf("outcome=%v err=%v", ev.Outcome, ev.Err)
	}
	// 3 for float, 1 for registers
	if n := c.readCount(); n != 4 {
		t.Fatalf("reads=%d, want 4", n)
	}
}

func TestPollOnce_ShortReadCountsAsNoData(t *testing.T) {
	c := &fakeClient{regs: []uint16{1, 2}, noData: -1, short: true}
	p := newTestPoller(t, "100", single(c))

	ev := p.PollOnce()
	if ev.Outcome != OutcomeFailed || !errors.Is(ev.Err, ErrReadExhausted) {
		t.Fatalf("outcome=%v err=%v", ev.Outcome, ev.Err)
	}
}

func TestPollOnce_ExhaustedIsFailedNotFault(t *testing.T) {
	c := &fakeClient{regs: []uint16{1, 2}, noData: -1}
	p := newTestPoller(t, "100", single(c))

	ev := p.PollOnce()
	if ev.Outcome != OutcomeFailed || !ev.ConnectionLost() {
		t.Fatalf("outcome=%v", ev.Outcome)
	}
	if !errors.Is(ev.Err, ErrReadExhausted) {
		t.Fatalf("expected ErrReadExhausted, got %v", ev.Err)
	}
	if n := c.readCount(); n != 2*MaxAttempts {
		t.Errorf("reads=%d, want %d", n, 2*MaxAttempts)
	}

	// no data is not a transport fault: the connection is kept
	if !p.Connected() || c.isClosed() {
		t.Fatalf("connection dropped on no-data")
	}
}

func TestPollOnce_PartialWhenFloatExhausted(t *testing.T) {
	c := &fakeClient{regs: []uint16{0x1234, 0}, noData: MaxAttempts}
	p := newTestPoller(t, "100", single(c))

	ev := p.PollOnce()
	if ev.Outcome != OutcomePartial {
		t.Fatalf("outcome=%v err=%v", ev.Outcome, ev.Err)
	}
	if !ev.ConnectionLost() {
		t.Errorf("partial must count as a failure")
	}
	if ev.HaveFloat || !ev.HaveRegisters {
		t.Errorf("HaveFloat=%v HaveRegisters=%v", ev.HaveFloat, ev.HaveRegisters)
	}
	if ev.Reading.Dword != 0x1234 || ev.Reading.Float != 0 {
		t.Errorf("reading=%+v", ev.Reading)
	}
	if !errors.Is(ev.Err, ErrReadExhausted) {
		t.Errorf("expected ErrReadExhausted, got %v", ev.Err)
	}
}

func TestPollOnce_FaultAbortsWithoutRetryAndReconnects(t *testing.T) {
	first := &fakeClient{fault: errors.New("connection reset by peer")}
	second := &fakeClient{regs: []uint16{5, 0}}
	clients := []*fakeClient{first, second}
	ff := &fakeFactory{mk: func() *fakeClient {
		c := clients[0]
		clients = clients[1:]
		return c
	}}
	p := newTestPoller(t, "100", ff)

	ev := p.PollOnce()
	if ev.Outcome != OutcomeFailed {
		t.Fatalf("outcome=%v", ev.Outcome)
	}
	var ce *ConnectionError
	if !errors.As(ev.Err, &ce) || ce.Op != "read" {
		t.Fatalf("expected read ConnectionError, got %v", ev.Err)
	}
	if n := first.readCount(); n != 1 {
		t.Errorf("fault was retried: reads=%d", n)
	}
	if !first.isClosed() || p.Connected() {
		t.Errorf("faulted connection not dropped")
	}

	ev = p.PollOnce()
	if ev.Outcome != OutcomeOK || ev.Reading.Word != 5 {
		t.Fatalf("after reconnect: outcome=%v word=%d", ev.Outcome, ev.Reading.Word)
	}
	if n := ff.opens.Load(); n != 2 {
		t.Errorf("opens=%d, want 2", n)
	}
}

func TestPollOnce_ConnectFailure(t *testing.T) {
	ff := &fakeFactory{err: errors.New("dial tcp: connection refused")}
	p := newTestPoller(t, "100", ff)

	ev := p.PollOnce()
	if ev.Outcome != OutcomeFailed {
		t.Fatalf("outcome=%v", ev.Outcome)
	}
	var ce *ConnectionError
	if !errors.As(ev.Err, &ce) || ce.Op != "connect" {
		t.Fatalf("expected connect ConnectionError, got %v", ev.Err)
	}
	if p.Connected() {
		t.Errorf("reported connected after failed dial")
	}
}

func TestSetIndex(t *testing.T) {
	c := &fakeClient{regs: []uint16{1, 2}}
	p := newTestPoller(t, "100", single(c))
	p.SetIndex(9)
	if i := p.PollOnce().Index; i != 9 {
		t.Fatalf("index=%d, want 9", i)
	}
}

// ---- loop lifecycle ----

func TestRun_FailingCyclesKeepLooping(t *testing.T) {
	c := &fakeClient{regs: []uint16{1, 2}, noData: -1}
	p := newTestPoller(t, "100", single(c))

	out := make(chan Event, 64)
	p.Start(context.Background(), out)

	var got []Event
	waitFor(t, 2*time.Second, func() bool {
		for {
			select {
			case ev := <-out:
				got = append(got, ev)
			default:
				return len(got) >= 3
			}
		}
	})

	if !p.Running() {
		t.Fatalf("loop stopped on failing cycles")
	}
	p.Stop()
	if p.Running() {
		t.Fatalf("still running after Stop")
	}

	for _, ev := range got {
		if ev.Outcome != OutcomeFailed || !errors.Is(ev.Err, ErrReadExhausted) {
			t.Fatalf("unexpected event outcome=%v err=%v", ev.Outcome, ev.Err)
		}
	}

	// exactly one event per cycle: every emitted event consumed 2*MaxAttempts reads
	emitted := len(got) + len(out)
	reads := c.readCount()
	if reads < emitted*2*MaxAttempts || reads > (emitted+1)*2*MaxAttempts {
		t.Fatalf("reads=%d for %d events", reads, emitted)
	}
}

func TestStop_NoLateEventsAcrossRestarts(t *testing.T) {
	ff := &fakeFactory{mk: func() *fakeClient { return &fakeClient{regs: []uint16{1, 2}} }}
	p := newTestPoller(t, "100", ff)

	out := make(chan Event, 4096)
	for i := 0; i < 100; i++ {
		p.Start(context.Background(), out)
		if i%3 == 0 {
			time.Sleep(time.Millisecond)
		}
		p.Stop()

		n := len(out)
		if p.Running() {
			t.Fatalf("cycle %d: running after Stop", i)
		}
		if !ff.allClosed() {
			t.Fatalf("cycle %d leaked a connection", i)
		}
		if len(out) != n {
			t.Fatalf("cycle %d: event emitted after Stop", i)
		}
	}

	n := len(out)
	time.Sleep(20 * time.Millisecond)
	if len(out) != n {
		t.Fatalf("event emitted after Stop returned")
	}
}

func TestStop_DoesNotDeadlockOnBlockedConsumer(t *testing.T) {
	c := &fakeClient{regs: []uint16{1, 2}}
	p := newTestPoller(t, "100", single(c))

	out := make(chan Event) // nobody reads
	p.Start(context.Background(), out)
	waitFor(t, time.Second, func() bool { return c.readCount() >= 2 })

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a full event channel")
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	c := &fakeClient{regs: []uint16{1, 2}}
	p := newTestPoller(t, "100", single(c))

	p.Stop() // never started

	out := make(chan Event, 16)
	p.Start(context.Background(), out)
	p.Start(context.Background(), out)
	p.Stop()
	p.Stop()
	if p.Running() {
		t.Fatalf("running after Stop")
	}
}

func TestClose_ReleasesPollOnceConnection(t *testing.T) {
	c := &fakeClient{regs: []uint16{1, 2}}
	p := newTestPoller(t, "100", single(c))

	p.PollOnce()
	if !p.Connected() {
		t.Fatalf("expected open connection after PollOnce")
	}

	p.Close()
	if p.Connected() || !c.isClosed() {
		t.Fatalf("Close did not release the connection")
	}
	p.Close()
}
