// internal/manager/manager.go
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/modbus-tagwatch/internal/poller"
	"github.com/tamzrod/modbus-tagwatch/internal/status"
	"github.com/tamzrod/modbus-tagwatch/internal/tag"
)

// DefaultBuffer is the capacity of the shared event channel.
const DefaultBuffer = 256

var (
	ErrUnknownTag   = errors.New("manager: unknown tag")
	ErrDuplicateTag = errors.New("manager: duplicate tag id")
	ErrClosed       = errors.New("manager: closed")
)

// Handler is the external collaborator that receives poll results.
// Calls are serialized; events of one tag arrive in cycle order.
// Calls run on the delivery goroutine with the routing lock held, so a
// Handler must return promptly (network I/O belongs on its own goroutine)
// and must not call back into the Manager synchronously.
type Handler interface {
	HandleEvent(ev poller.Event)
	HandleStatus(h status.Health)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	OnEvent  func(ev poller.Event)
	OnStatus func(h status.Health)
}

func (f HandlerFuncs) HandleEvent(ev poller.Event) {
	if f.OnEvent != nil {
		f.OnEvent(ev)
	}
}

func (f HandlerFuncs) HandleStatus(h status.Health) {
	if f.OnStatus != nil {
		f.OnStatus(h)
	}
}

// Runner is the part of a poller the manager drives.
type Runner interface {
	Start(ctx context.Context, out chan<- poller.Event)
	Stop()
	Index() int
	SetIndex(i int)
	Connected() bool
	Generation() uint64
}

// Builder constructs a Runner for one tag.
type Builder func(d tag.Descriptor, logger zerolog.Logger) (Runner, error)

func buildPoller(d tag.Descriptor, logger zerolog.Logger) (Runner, error) {
	return poller.Build(d, logger)
}

// Connection carries the endpoint parameters shared by all tags.
// Zero fields in a tag.Descriptor are filled from it.
type Connection struct {
	Host     string
	Port     uint16
	Interval time.Duration
	Timeout  time.Duration
	UnitID   uint8
	Online   bool
}

// Apply fills d's zero connection fields from c.
func (c Connection) Apply(d tag.Descriptor) tag.Descriptor {
	if d.Host == "" {
		d.Host = c.Host
	}
	if d.Port == 0 {
		d.Port = c.Port
	}
	if d.Interval <= 0 {
		d.Interval = c.Interval
	}
	if d.Timeout <= 0 {
		d.Timeout = c.Timeout
	}
	if d.UnitID == 0 {
		d.UnitID = c.UnitID
	}
	return d.WithDefaults()
}

type entry struct {
	desc   tag.Descriptor
	runner Runner
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger handed to every poller.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithBuilder replaces the poller constructor.
func WithBuilder(b Builder) Option {
	return func(m *Manager) { m.build = b }
}

// WithBuffer sets the event channel capacity.
func WithBuffer(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.buffer = n
		}
	}
}

// WithStaleAfter marks a tag stale when it has not reported for d.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) { m.staleAfter = d }
}

// WithReindex controls whether RemoveOne and AddOne keep indices contiguous.
func WithReindex(on bool) Option {
	return func(m *Manager) { m.reindex = on }
}

// Manager owns the active pollers, keyed by tag ID.
// It is the only component that starts or stops pollers.
type Manager struct {
	handler    Handler
	build      Builder
	logger     zerolog.Logger
	buffer     int
	staleAfter time.Duration
	reindex    bool

	tracker *status.Tracker

	// opMu serializes mutations (single writer).
	opMu sync.Mutex

	// mu guards pollers; the forwarder holds it (read) while delivering,
	// so a tag removed under mu never receives a later delivery.
	mu      sync.RWMutex
	pollers map[string]*entry
	closed  bool

	statusMu   sync.Mutex
	lastHealth status.Health

	handlerMu sync.Mutex

	events chan poller.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a manager and starts its forwarder goroutine.
func New(handler Handler, opts ...Option) *Manager {
	m := &Manager{
		handler: handler,
		build:   buildPoller,
		logger:  zerolog.Nop(),
		buffer:  DefaultBuffer,
		reindex: true,
		pollers: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.handler == nil {
		m.handler = HandlerFuncs{}
	}

	m.tracker = status.NewTracker(m.staleAfter)
	m.events = make(chan poller.Event, m.buffer)
	m.ctx, m.cancel = context.WithCancel(context.Background())

	go m.forward()
	return m
}

// Apply is the "go online / go offline" switch: online restarts every tag
// with conn, offline stops everything.
func (m *Manager) Apply(conn Connection, tags []tag.Descriptor) error {
	if !conn.Online {
		m.StopAll()
		return nil
	}
	return m.Resync(conn, tags)
}

// StartAll builds and starts one poller per descriptor.
// A descriptor that fails to build does not prevent the others from starting;
// all build errors are returned joined.
func (m *Manager) StartAll(conn Connection, tags []tag.Descriptor) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	var errs []error
	for _, d := range tags {
		if err := m.startLocked(conn.Apply(d), false); err != nil {
			errs = append(errs, err)
		}
	}

	m.logger.Info().
		Int("started", m.Len()).
		Int("failed", len(errs)).
		Msg("pollers started")
	return errors.Join(errs...)
}

// StopAll stops and joins every poller and clears the set. Idempotent.
func (m *Manager) StopAll() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.stopAllLocked()
}

// Resync replaces the running set with tags, using fresh connections.
func (m *Manager) Resync(conn Connection, tags []tag.Descriptor) error {
	m.StopAll()
	return m.StartAll(conn, tags)
}

// AddOne starts a single poller while the others keep running.
// With reindexing on, tags at or after d.Index shift down one row;
// a negative Index appends.
func (m *Manager) AddOne(conn Connection, d tag.Descriptor) (tag.Descriptor, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	d = conn.Apply(d)
	if d.Index < 0 {
		d.Index = m.Len()
	}
	if err := m.startLocked(d, m.reindex); err != nil {
		return tag.Descriptor{}, err
	}
	return d, nil
}

// RemoveOne stops and joins one poller, then discards it.
// With reindexing on, tags after it move up one row.
func (m *Manager) RemoveOne(id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	e, ok := m.pollers[id]
	if ok {
		delete(m.pollers, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTag, id)
	}

	e.runner.Stop()
	m.tracker.Forget(id)

	if m.reindex {
		removed := e.runner.Index()
		m.mu.RLock()
		for _, other := range m.pollers {
			if i := other.runner.Index(); i > removed {
				other.runner.SetIndex(i - 1)
			}
		}
		m.mu.RUnlock()
	}

	m.logger.Info().Str("tag", id).Str("address", e.desc.Address).Msg("poller removed")
	m.refreshStatus()
	return nil
}

// Reindex renumbers the active pollers 0..n-1, keeping their relative order.
func (m *Manager) Reindex() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, e := range m.sortedLocked() {
		e.runner.SetIndex(i)
	}
}

// Close stops every poller and the forwarder. The manager is unusable afterwards.
func (m *Manager) Close() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.stopAllLocked()

	m.mu.Lock()
	already := m.closed
	m.closed = true
	m.mu.Unlock()

	if !already {
		m.cancel()
		<-m.done
	}
}

// Len is the number of active pollers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pollers)
}

// Active returns the active descriptors ordered by current index.
func (m *Manager) Active() []tag.Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := m.sortedLocked()
	out := make([]tag.Descriptor, 0, len(sorted))
	for _, e := range sorted {
		d := e.desc
		d.Index = e.runner.Index()
		out = append(out, d)
	}
	return out
}

// Connected reports the ConnectionState of one tag.
func (m *Manager) Connected(id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.pollers[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownTag, id)
	}
	return e.runner.Connected(), nil
}

// Status is the aggregated online/offline health.
func (m *Manager) Status() status.Health {
	return m.tracker.Aggregate()
}

// Snapshot returns the tracked health of one tag.
func (m *Manager) Snapshot(id string) (status.Snapshot, bool) {
	return m.tracker.Snapshot(id)
}

// ---- internals ----

func (m *Manager) startLocked(d tag.Descriptor, shift bool) error {
	m.mu.RLock()
	closed := m.closed
	_, dup := m.pollers[d.ID]
	m.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if dup {
		return fmt.Errorf("%w: %s", ErrDuplicateTag, d.ID)
	}

	r, err := m.build(d, m.logger)
	if err != nil {
		m.logger.Warn().Err(err).Int("index", d.Index).Str("address", d.Address).Msg("poller build failed")
		return fmt.Errorf("tag %d (%q): %w", d.Index, d.Address, err)
	}

	m.mu.Lock()
	if shift {
		for _, other := range m.pollers {
			if i := other.runner.Index(); i >= d.Index {
				other.runner.SetIndex(i + 1)
			}
		}
	}
	m.pollers[d.ID] = &entry{desc: d, runner: r}
	m.mu.Unlock()

	m.tracker.Track(d.ID)
	r.Start(m.ctx, m.events)

	m.logger.Debug().Str("tag", d.ID).Int("index", d.Index).Str("address", d.Address).Msg("poller started")
	return nil
}

func (m *Manager) stopAllLocked() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.pollers))
	for _, e := range m.pollers {
		entries = append(entries, e)
	}
	m.pollers = make(map[string]*entry)
	m.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Stop()
		}(e.runner)
	}
	wg.Wait()

	m.tracker.Reset()
	m.logger.Info().Int("stopped", len(entries)).Msg("pollers stopped")
	m.refreshStatus()
}

func (m *Manager) sortedLocked() []*entry {
	out := make([]*entry, 0, len(m.pollers))
	for _, e := range m.pollers {
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].runner.Index() < out[j].runner.Index()
	})
	return out
}

// forward is the single consumer of poller events.
func (m *Manager) forward() {
	defer close(m.done)

	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-m.events:
			if m.deliver(ev) {
				m.refreshStatus()
			}
		}
	}
}

// deliver routes one event. Events of tags no longer registered, or emitted
// by an earlier poller for a reused tag id, are dropped; the index is
// rewritten to the tag's current row.
func (m *Manager) deliver(ev poller.Event) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.pollers[ev.TagID]
	if !ok {
		m.logger.Debug().Str("tag", ev.TagID).Msg("dropping event of removed tag")
		return false
	}
	if e.runner.Generation() != ev.Generation {
		m.logger.Debug().Str("tag", ev.TagID).Uint64("generation", ev.Generation).Msg("dropping event of stopped poller")
		return false
	}
	ev.Index = e.runner.Index()

	var err error
	if ev.ConnectionLost() {
		err = ev.Err
		if err == nil {
			err = errors.New(ev.Outcome.String())
		}
	}
	m.tracker.Observe(ev.TagID, err)

	m.handlerMu.Lock()
	m.handler.HandleEvent(ev)
	m.handlerMu.Unlock()
	return true
}

func (m *Manager) refreshStatus() {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	h := m.tracker.Aggregate()
	if h == m.lastHealth {
		return
	}
	m.lastHealth = h
	m.logger.Info().Stringer("health", h).Bool("online", h.Online()).Msg("connection status")

	m.handlerMu.Lock()
	m.handler.HandleStatus(h)
	m.handlerMu.Unlock()
}
