package pool

import (
	"context"
	"sync/atomic"

	"github.com/catherinevee/connpool/internal/logger"
)

// enqueueFill dispatches an asynchronous fillToMin run, either to the
// configured PoolFiller or, if none was wired, to a bare goroutine.
func (p *Pool) enqueueFill() {
	if p.filler != nil {
		p.filler.FillPool(p)
		return
	}
	go p.fillToMin()
}

// fillToMin tops the pool up to MinSize by manufacturing connections
// outside the lock and appending them directly to inventory. These
// connections bypass the checkout path's permit ledger entirely (nothing
// is ever handed to a caller for them), so a permit taken here is always
// released raw rather than through releasePermit.
//
// Each iteration acquires a permit with the pool's normal blocking
// timeout before manufacturing, so a filler run can never push
// outstanding above MaxSize. If no permit frees up within that timeout
// the loop simply stops, tolerating a transient under-count below
// MinSize rather than retrying forever. Shutdown is detected through the
// shutdown flag checks under the lock, not through the permit wait.
func (p *Pool) fillToMin() {
	for {
		p.mu.Lock()
		if p.shutdown.Load() {
			p.mu.Unlock()
			return
		}
		deficit := p.cfg.MinSize - (p.inv.len() + len(p.checkedOut))
		p.mu.Unlock()
		if deficit <= 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.BlockingTimeout)
		err := p.sem.Acquire(ctx, 1)
		cancel()
		if err != nil {
			p.logger.Debug("fillToMin stopping early, could not acquire a permit",
				logger.String("pool", p.name),
			)
			return
		}
		atomic.AddInt64(&p.outstanding, 1)

		mc, err := p.factory.CreateManagedConnection(context.Background(), nil, nil)
		if err != nil {
			p.logger.Warn("fillToMin: factory failed to manufacture, stopping this run",
				logger.String("pool", p.name),
				logger.Error(err),
			)
			p.releaseRawPermit()
			return
		}
		lst := newListener(mc)

		p.mu.Lock()
		if p.shutdown.Load() {
			p.mu.Unlock()
			p.releaseRawPermit()
			p.doDestroy(lst, reasonFlush)
			return
		}
		p.inv.pushTail(lst)
		p.setGaugesLocked()
		p.mu.Unlock()
		p.metrics.incCreated()
		p.releaseRawPermit()
	}
}
