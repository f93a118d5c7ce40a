// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-tagwatch/internal/address"
	"github.com/tamzrod/modbus-tagwatch/internal/codec"
	pmodbus "github.com/tamzrod/modbus-tagwatch/internal/poller/modbus"
)

// MaxAttempts is the per-read retry budget inside one cycle.
const MaxAttempts = 3

// registersPerTag: every tag reads register N and N+1.
const registersPerTag = 2

var generations atomic.Uint64

// Client abstracts the Modbus operations the poller needs.
type Client interface {
	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) // FC 3
	Close() error
}

// Factory opens a new connection. ONE attempt per call.
type Factory func() (Client, error)

// Config is the minimal runtime config the poller needs.
type Config struct {
	TagID    string
	Index    int
	Address  string
	Interval time.Duration
	Attempts int // 0 => MaxAttempts
}

// Poller owns one connection and one address and polls it until stopped.
type Poller struct {
	cfg     Config
	spec    address.Spec
	factory Factory
	logger  zerolog.Logger
	gen     uint64

	index     atomic.Int64
	connected atomic.Bool

	// loop-owned
	client Client

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates config and parses the tag address. It does not connect.
func New(cfg Config, factory Factory, logger zerolog.Logger) (*Poller, error) {
	if cfg.TagID == "" {
		return nil, errors.New("poller: tag id required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if factory == nil {
		return nil, errors.New("poller: client factory required")
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = MaxAttempts
	}

	spec, err := address.Parse(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("poller: tag %s: %w", cfg.TagID, err)
	}

	p := &Poller{
		cfg:     cfg,
		spec:    spec,
		factory: factory,
		gen:     generations.Add(1),
		logger: logger.With().
			Str("tag", cfg.TagID).
			Str("address", spec.String()).
			Logger(),
	}
	p.index.Store(int64(cfg.Index))
	return p, nil
}

// TagID returns the stable tag identifier.
func (p *Poller) TagID() string { return p.cfg.TagID }

// Generation is unique per Poller and stamped on every event it emits.
// Two pollers built for the same tag id never share it.
func (p *Poller) Generation() uint64 { return p.gen }

// Spec returns the parsed address.
func (p *Poller) Spec() address.Spec { return p.spec }

// Index returns the current external row index.
func (p *Poller) Index() int { return int(p.index.Load()) }

// SetIndex moves the poller to another row. Safe while running.
func (p *Poller) SetIndex(i int) { p.index.Store(int64(i)) }

// Connected reports whether the poller currently holds an open connection.
func (p *Poller) Connected() bool { return p.connected.Load() }

// Running reports whether the loop goroutine is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// PollOnce performs exactly one poll cycle without sleeping.
// Must not be called while the poller is running.
func (p *Poller) PollOnce() Event {
	return p.poll(context.Background())
}

// Close releases a connection left open by PollOnce.
func (p *Poller) Close() {
	p.dropClient()
}

func (p *Poller) poll(ctx context.Context) Event {
	ev := Event{
		TagID:      p.cfg.TagID,
		Index:      p.Index(),
		At:         time.Now(),
		Generation: p.gen,
	}

	if err := p.ensureConnected(); err != nil {
		ev.Outcome = OutcomeFailed
		ev.Err = err
		return ev
	}

	floatRegs, floatErr := p.read(ctx)
	if isFault(floatErr) {
		p.dropClient()
		ev.Outcome = OutcomeFailed
		ev.Err = floatErr
		return ev
	}

	regs, regsErr := p.read(ctx)
	if isFault(regsErr) {
		p.dropClient()
		ev.Outcome = OutcomeFailed
		ev.Err = regsErr
		return ev
	}

	if floatErr == nil {
		pair, _ := codec.PairFromRegisters(floatRegs)
		ev.Reading.Float = codec.DecodeFloat(pair)
		ev.HaveFloat = true
	}
	if regsErr == nil {
		pair, _ := codec.PairFromRegisters(regs)
		r := codec.Decode(pair, p.spec)
		r.Float = ev.Reading.Float
		ev.Reading = r
		ev.HaveRegisters = true
	}

	switch {
	case ev.HaveFloat && ev.HaveRegisters:
		ev.Outcome = OutcomeOK
	case ev.HaveFloat || ev.HaveRegisters:
		ev.Outcome = OutcomePartial
		ev.Err = errors.Join(floatErr, regsErr)
	default:
		ev.Outcome = OutcomeFailed
		ev.Err = errors.Join(floatErr, regsErr)
	}
	return ev
}

// read fetches the register pair with up to cfg.Attempts tries.
// Only "no data" results are retried; a transport error aborts immediately.
func (p *Poller) read(ctx context.Context) ([]uint16, error) {
	var last error
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		regs, err := p.client.ReadHoldingRegisters(p.spec.Register, registersPerTag)
		if err == nil && len(regs) >= registersPerTag {
			return regs, nil
		}
		if err != nil && !errors.Is(err, pmodbus.ErrNoData) {
			return nil, &ConnectionError{Op: "read", Err: err}
		}
		if err == nil {
			err = fmt.Errorf("%w: got %d registers", pmodbus.ErrNoData, len(regs))
		}
		last = err

		p.logger.Debug().Err(err).Int("attempt", attempt).Msg("read returned no data")
	}
	return nil, fmt.Errorf("%w: register=%d attempts=%d: %v", ErrReadExhausted, p.spec.Register, p.cfg.Attempts, last)
}

func (p *Poller) ensureConnected() error {
	if p.client != nil {
		return nil
	}
	c, err := p.factory()
	if err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}
	p.client = c
	p.connected.Store(true)
	p.logger.Debug().Msg("connected")
	return nil
}

// dropClient discards a dead connection; the next cycle reconnects.
func (p *Poller) dropClient() {
	if p.client == nil {
		return
	}
	if err := p.client.Close(); err != nil {
		p.logger.Debug().Err(err).Msg("close after fault")
	}
	p.client = nil
	p.connected.Store(false)
}

// isFault reports transport faults and cancellation; ErrReadExhausted is not one.
func isFault(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConnectionError
	return errors.As(err, &ce) || errors.Is(err, context.Canceled)
}
