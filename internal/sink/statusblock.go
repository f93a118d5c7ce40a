// internal/sink/statusblock.go
package sink

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-tagwatch/internal/poller"
	"github.com/tamzrod/modbus-tagwatch/internal/status"
	"github.com/tamzrod/modbus-tagwatch/internal/writer"
)

// BlockClient is the connection a StatusBlock writes through.
type BlockClient interface {
	writer.EndpointClient
	Close() error
}

// StatusBlock mirrors the aggregated health into a register block on a
// Modbus device.
//
// HandleEvent and HandleStatus only record state. A worker started by Start
// owns the device connection: it writes on every health change, refreshes
// seconds-in-error once per second while offline and retries a failed
// dial or write on the same tick.
type StatusBlock struct {
	dial       func() (BlockClient, error)
	base       uint16
	deviceName string
	logger     zerolog.Logger
	now        func() time.Time
	refresh    time.Duration

	mu      sync.Mutex
	health  status.Health
	lastErr uint16
	since   time.Time

	// worker-owned
	cli     BlockClient
	sw      *writer.StatusWriter
	written status.Health
	failed  bool

	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func NewStatusBlock(dial func() (BlockClient, error), base uint16, deviceName string, logger zerolog.Logger) *StatusBlock {
	return &StatusBlock{
		dial:       dial,
		base:       base,
		deviceName: deviceName,
		logger:     logger.With().Uint16("status_base", base).Logger(),
		now:        time.Now,
		refresh:    time.Second,
		kick:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the writer goroutine. Idempotent.
func (b *StatusBlock) Start() {
	b.startOnce.Do(func() { go b.loop() })
}

// Close stops the worker, waits for an in-progress write and drops the
// device connection.
func (b *StatusBlock) Close() error {
	var err error
	b.closeOnce.Do(func() {
		started := true
		b.startOnce.Do(func() { started = false })
		close(b.stop)
		if started {
			<-b.done
		}
		err = b.dropClient()
	})
	return err
}

func (b *StatusBlock) HandleEvent(ev poller.Event) {
	if !ev.ConnectionLost() {
		return
	}
	code := writer.ErrorCode(ev.Err)
	b.mu.Lock()
	b.lastErr = code
	b.mu.Unlock()
}

func (b *StatusBlock) HandleStatus(h status.Health) {
	b.mu.Lock()
	switch {
	case h.Online():
		b.since = time.Time{}
		b.lastErr = writer.ErrorNone
	case b.since.IsZero():
		b.since = b.now()
	}
	b.health = h
	b.mu.Unlock()

	select {
	case b.kick <- struct{}{}:
	default:
	}
}

func (b *StatusBlock) loop() {
	defer close(b.done)

	tick := time.NewTicker(b.refresh)
	defer tick.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-b.kick:
			b.flush()
		case <-tick.C:
			b.mu.Lock()
			offline := !b.health.Online()
			b.mu.Unlock()
			if offline || b.failed {
				b.flush()
			}
		}
	}
}

func (b *StatusBlock) block() writer.Block {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := status.Snapshot{Health: b.health, Since: b.since}
	return writer.Block{
		Health:         b.health,
		LastErrorCode:  b.lastErr,
		SecondsInError: snap.SecondsInError(b.now()),
	}
}

func (b *StatusBlock) flush() {
	blk := b.block()
	b.failed = true

	if b.sw == nil {
		cli, err := b.dial()
		if err != nil {
			b.logger.Warn().Err(err).Msg("status block connect failed")
			return
		}
		sw, err := writer.NewStatusWriter(cli, b.base, b.deviceName)
		if err != nil {
			_ = cli.Close()
			b.logger.Error().Err(err).Msg("status block disabled")
			return
		}
		b.cli, b.sw = cli, sw
	}

	// a device that was unreachable may have restarted with a blank block
	if blk.Health.Online() && !b.written.Online() {
		b.sw.Invalidate()
	}

	if err := b.sw.WriteStatus(blk); err != nil {
		b.logger.Warn().Err(err).Msg("status block write failed")
		_ = b.dropClient()
		return
	}
	b.written = blk.Health
	b.failed = false
}

func (b *StatusBlock) dropClient() error {
	if b.cli == nil {
		return nil
	}
	err := b.cli.Close()
	b.cli, b.sw = nil, nil
	return err
}
