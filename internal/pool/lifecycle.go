package pool

import "github.com/catherinevee/connpool/internal/logger"

// Reenable clears the shutdown flag and (re)registers with the
// idle-removal and background-validation schedulers, if wired and their
// intervals are non-zero. Safe to call on a freshly constructed pool
// (NewPool calls it directly) or after a prior Shutdown.
func (p *Pool) Reenable() {
	p.shutdown.Store(false)

	if p.idleRemover != nil && p.cfg.IdleTimeout > 0 {
		p.idleRemover.RegisterPool(p, p.cfg.IdleTimeout)
	}
	if p.validator != nil && p.cfg.BackgroundValidationInterval > 0 {
		p.validator.RegisterPool(p, p.cfg.BackgroundValidationInterval)
	}
}

// Shutdown stops accepting new fill work, unregisters from both
// schedulers, and flushes every connection the pool currently holds,
// idle or checked out.
func (p *Pool) Shutdown() {
	p.shutdown.Store(true)

	if p.idleRemover != nil {
		p.idleRemover.UnregisterPool(p)
	}
	if p.validator != nil {
		p.validator.UnregisterPool(p)
	}

	p.Flush()
}

// Flush destroys every idle listener immediately, and marks every
// checked-out listener StateDestroy so its eventual ReturnConnection
// destroys it instead of recycling it. Unlike RemoveIdleConnections,
// Flush does not honor StrictMin — it is only ever called during
// shutdown or an explicit flush request, both of which mean "discard
// everything".
func (p *Pool) Flush() {
	p.mu.Lock()
	var toDestroy []*Listener
	for {
		lst, ok := p.inv.popTail()
		if !ok {
			break
		}
		toDestroy = append(toDestroy, lst)
	}
	for _, lst := range p.checkedOut {
		lst.SetState(StateDestroy)
	}
	p.setGaugesLocked()
	p.mu.Unlock()

	for _, lst := range toDestroy {
		p.doDestroy(lst, reasonFlush)
	}

	if len(toDestroy) > 0 {
		p.logger.Debug("flush destroyed idle listeners",
			logger.String("pool", p.name),
			logger.Int("count", len(toDestroy)),
		)
	}

	if !p.shutdown.Load() && p.cfg.MinSize > 0 {
		p.enqueueFill()
	}
}
