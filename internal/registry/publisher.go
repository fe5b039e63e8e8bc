package registry

import (
	"context"
	"time"

	"github.com/l1jgo/realmd/internal/realm"
	"go.uber.org/zap"
)

// Cache receives the full realm list whenever it changes, for readers that
// do not speak the binary protocol (the public web front end).
type Cache interface {
	SetWorlds(ctx context.Context, worlds []realm.WorldDescriptor) error
}

// Publisher copies registry snapshots into a Cache. Change notifications are
// coalesced: any number of Notify calls between two writes cause one write.
type Publisher struct {
	reg     *Registry
	cache   Cache
	refresh time.Duration
	timeout time.Duration
	signal  chan struct{}
	log     *zap.Logger
}

// NewPublisher builds a publisher that also rewrites the list every refresh
// interval so a restarted cache converges. refresh <= 0 disables that.
func NewPublisher(reg *Registry, cache Cache, refresh time.Duration, log *zap.Logger) *Publisher {
	return &Publisher{
		reg:     reg,
		cache:   cache,
		refresh: refresh,
		timeout: 5 * time.Second,
		signal:  make(chan struct{}, 1),
		log:     log.With(zap.String("component", "cache-publisher")),
	}
}

// Notify schedules a write without blocking.
func (p *Publisher) Notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Run writes snapshots until ctx is cancelled. Cache failures are logged and
// retried on the next change or refresh.
func (p *Publisher) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if p.refresh > 0 {
		ticker := p.reg.clock.Ticker(p.refresh)
		defer ticker.Stop()
		tick = ticker.C
	}

	p.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.signal:
			p.publish(ctx)
		case <-tick:
			p.publish(ctx)
		}
	}
}

func (p *Publisher) publish(ctx context.Context) {
	worlds := p.reg.GetAll()

	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.cache.SetWorlds(wctx, worlds); err != nil {
		if ctx.Err() == nil {
			p.log.Warn("realm cache update failed", zap.Error(err))
		}
		return
	}
	p.log.Debug("realm cache updated", zap.Int("worlds", len(worlds)))
}
