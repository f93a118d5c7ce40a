// internal/poller/runner.go
package poller

import (
	"context"
	"time"
)

// Run polls until ctx is cancelled and emits one Event per cycle on out.
// No overlap: the next cycle starts Interval after the previous one ended.
// The connection is closed when Run returns.
func (p *Poller) Run(ctx context.Context, out chan<- Event) {
	defer p.dropClient()

	last := Outcome(0)

	for {
		if ctx.Err() != nil {
			return
		}

		ev := p.poll(ctx)
		if ctx.Err() != nil {
			return
		}
		p.logTransition(last, ev)
		last = ev.Outcome

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}

		sleep := time.NewTimer(p.cfg.Interval)
		select {
		case <-ctx.Done():
			sleep.Stop()
			return
		case <-sleep.C:
		}
	}
}

// Start launches Run on its own goroutine. No-op if already running.
func (p *Poller) Start(ctx context.Context, out chan<- Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		p.Run(runCtx, out)
	}()
}

// Stop cancels the loop and blocks until it has exited and closed its connection.
// No event is emitted after Stop returns. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) logTransition(prev Outcome, ev Event) {
	if ev.Outcome == prev {
		if ev.Outcome != OutcomeOK {
			p.logger.Debug().Err(ev.Err).Stringer("outcome", ev.Outcome).Msg("poll cycle failed")
		}
		return
	}
	switch ev.Outcome {
	case OutcomeOK:
		p.logger.Info().Msg("tag online")
	default:
		p.logger.Warn().Err(ev.Err).Stringer("outcome", ev.Outcome).Msg("connection lost")
	}
}
