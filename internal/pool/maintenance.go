package pool

import (
	"context"
	"time"

	"github.com/catherinevee/connpool/internal/logger"
)

// RemoveIdleConnections sweeps the inventory from the head (oldest idle
// first) destroying any listener that has sat unused longer than
// IdleTimeout. A no-op if IdleTimeout is zero.
//
// Written as two passes: collect candidates under the lock, then destroy
// them outside it, so mutating the list while scanning it can never
// leave a concurrent checkout observing a half-removed listener.
func (p *Pool) RemoveIdleConnections(ctx context.Context) {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	log := p.logger.WithContext(ctx)
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)

	var toDestroy []*Listener

	p.mu.Lock()
	for {
		head, ok := p.inv.peekHead()
		if !ok || !head.IsTimedOut(cutoff) {
			break
		}
		if p.cfg.StrictMin && p.inv.len() <= p.cfg.MinSize {
			break
		}
		p.inv.popHead()
		toDestroy = append(toDestroy, head)
	}
	emptied := p.inv.len() == 0 && len(p.checkedOut) == 0
	p.setGaugesLocked()
	p.mu.Unlock()

	for _, lst := range toDestroy {
		p.doDestroy(lst, reasonIdle)
	}

	if len(toDestroy) > 0 {
		log.Debug("idle sweep destroyed listeners",
			logger.String("pool", p.name),
			logger.Int("count", len(toDestroy)),
		)
	}

	if emptied && p.notifier != nil {
		p.notifier.EmptySubPool(p)
	}

	if !p.shutdown.Load() && p.cfg.MinSize > 0 {
		p.enqueueFill()
	}
}

// ValidateConnections blocks for up to one permit (serializing the sweep
// against checkout contention at peak capacity, the same way a real
// checkout would), then borrows out of inventory only the listeners
// whose LastValidatedTime has gone stale past
// BackgroundValidationInterval, hands that batch to the factory's
// ValidatingFactory capability if present, and destroys whatever comes
// back invalid. Listeners validated recently are left untouched in
// inventory rather than re-pinged on every sweep.
//
// A factory that doesn't implement ValidatingFactory causes a one-time
// warning and otherwise leaves the inventory untouched.
func (p *Pool) ValidateConnections(ctx context.Context) {
	if p.cfg.BackgroundValidationInterval <= 0 {
		return
	}
	vf, ok := p.factory.(ValidatingFactory)
	if !ok {
		p.validatingWarnOnce.Do(func() {
			p.logger.Warn("background validation enabled but factory does not implement ValidatingFactory",
				logger.String("pool", p.name),
			)
		})
		return
	}

	log := p.logger.WithContext(ctx)

	if err := p.acquirePermit(ctx); err != nil {
		log.Debug("validation sweep skipped, could not acquire a permit",
			logger.String("pool", p.name),
		)
		return
	}
	defer p.releaseRawPermit()

	staleCutoff := time.Now().Add(-p.cfg.BackgroundValidationInterval)

	p.mu.Lock()
	var all []*Listener
	for {
		lst, ok := p.inv.popTail()
		if !ok {
			break
		}
		all = append(all, lst)
	}
	var borrowed []*Listener
	for _, lst := range all {
		if lst.LastValidatedTime().Before(staleCutoff) {
			borrowed = append(borrowed, lst)
		} else {
			p.inv.pushTail(lst)
		}
	}
	p.setGaugesLocked()
	p.mu.Unlock()

	if len(borrowed) == 0 {
		return
	}

	candidates := make([]ManagedConnection, len(borrowed))
	byMC := make(map[ManagedConnection]*Listener, len(borrowed))
	for i, lst := range borrowed {
		candidates[i] = lst.ManagedConnection()
		byMC[candidates[i]] = lst
	}

	invalid, err := vf.GetInvalidConnections(ctx, candidates)
	if err != nil {
		log.WithError(err).Warn("validation call failed, returning all borrowed listeners to inventory unvalidated",
			logger.String("pool", p.name),
		)
		invalid = nil
	}
	invalidSet := make(map[ManagedConnection]struct{}, len(invalid))
	for _, mc := range invalid {
		invalidSet[mc] = struct{}{}
	}

	now := time.Now()
	p.mu.Lock()
	for _, lst := range borrowed {
		if _, bad := invalidSet[lst.ManagedConnection()]; bad {
			continue
		}
		lst.SetLastValidatedTime(now)
		p.inv.pushTail(lst)
	}
	p.setGaugesLocked()
	p.mu.Unlock()

	for _, lst := range borrowed {
		if _, bad := invalidSet[lst.ManagedConnection()]; bad {
			p.doDestroy(lst, reasonValidation)
		}
	}
}
