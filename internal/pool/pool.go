// Package pool implements a bounded, semaphore-guarded pool of reusable
// managed connections. This file carries the foreground checkout/return
// protocol.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/catherinevee/connpool/internal/logger"
)

// IdleRemover is the external scheduler collaborator that periodically
// invokes RemoveIdleConnections on every registered pool.
type IdleRemover interface {
	RegisterPool(p *Pool, interval time.Duration)
	UnregisterPool(p *Pool)
}

// ConnectionValidator is the external scheduler collaborator that
// periodically invokes ValidateConnections on every registered pool.
type ConnectionValidator interface {
	RegisterPool(p *Pool, interval time.Duration)
	UnregisterPool(p *Pool)
}

// PoolFiller executes fillToMin on a worker thread, asynchronously.
type PoolFiller interface {
	FillPool(p *Pool)
}

// SubPoolNotifier is the outer pool's hook: invoked when an idle sweep
// finds this pool holding no listeners at all (inventory and checked-out
// set both empty), so the outer pool may discard it.
type SubPoolNotifier interface {
	EmptySubPool(p *Pool)
}

// Dependencies bundles the optional collaborators a Pool is wired to.
// A nil scheduler or Notifier field disables that duty (matching the
// IdleTimeout==0 / BackgroundValidationInterval==0 disable switches for
// the scheduler fields); a nil Filler falls back to a bare goroutine and
// a nil Logger to logger.New.
type Dependencies struct {
	Logger      logger.Logger
	IdleRemover IdleRemover
	Validator   ConnectionValidator
	Filler      PoolFiller
	Notifier    SubPoolNotifier
}

// Pool is one bounded managed-connection pool, specialized (in the outer
// system) to a single subject/credentials/request-info tuple.
type Pool struct {
	name    string
	cfg     Config
	factory Factory
	logger  logger.Logger
	metrics *poolMetrics

	sem         *semaphore.Weighted
	outstanding int64 // atomic: maxSize - availablePermits, any acquired permit

	mu         sync.Mutex
	inv        *inventory
	checkedOut map[uuid.UUID]*Listener
	maxUsed    int

	permits sync.Map // uuid.UUID -> struct{}; the permit-holder map

	started  atomic.Bool
	shutdown atomic.Bool

	idleRemover IdleRemover
	validator   ConnectionValidator
	filler      PoolFiller
	notifier    SubPoolNotifier

	validatingWarnOnce sync.Once
}

// NewPool stores configuration and collaborators, sizes the inventory,
// constructs the fair permit gate, optionally enqueues a prefill, and
// calls Reenable.
func NewPool(name string, cfg Config, factory Factory, deps Dependencies) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, errNilFactory
	}

	log := deps.Logger
	if log == nil {
		log = logger.New("pool." + name)
	}

	p := &Pool{
		name:        name,
		cfg:         cfg,
		factory:     factory,
		logger:      log,
		metrics:     newPoolMetrics(name),
		sem:         semaphore.NewWeighted(int64(cfg.MaxSize)),
		inv:         newInventory(),
		checkedOut:  make(map[uuid.UUID]*Listener, cfg.MaxSize),
		idleRemover: deps.IdleRemover,
		validator:   deps.Validator,
		filler:      deps.Filler,
		notifier:    deps.Notifier,
	}

	if cfg.Prefill {
		p.enqueueFill()
	}
	p.Reenable()

	return p, nil
}

var errNilFactory = &Error{Kind: KindCreateFailed, Err: errNilFactoryCause{}}

type errNilFactoryCause struct{}

func (errNilFactoryCause) Error() string { return "pool: factory must not be nil" }

// acquirePermit blocks on the fair semaphore, bounded by both the
// caller's own context and cfg.BlockingTimeout. It reports elapsed wait
// time and distinguishes a deadline (NoCapacity) from the caller's own
// context being cancelled (Interrupted).
func (p *Pool) acquirePermit(ctx context.Context) error {
	start := time.Now()
	acqCtx, cancel := context.WithTimeout(ctx, p.cfg.BlockingTimeout)
	defer cancel()

	err := p.sem.Acquire(acqCtx, 1)
	elapsed := time.Since(start)
	p.metrics.observeWait(elapsed.Seconds())
	if err == nil {
		atomic.AddInt64(&p.outstanding, 1)
		return nil
	}
	if ctx.Err() != nil {
		return interruptedErr(elapsed.String(), ctx.Err())
	}
	return noCapacityErr(elapsed.String())
}

// releaseRawPermit releases a permit that was never recorded in the
// permit-holder map (manufacture failed before a listener existed to
// record it against).
func (p *Pool) releaseRawPermit() {
	atomic.AddInt64(&p.outstanding, -1)
	p.sem.Release(1)
}

// recordPermitLocked marks listener id as holding the permit this call
// acquired, and bumps the high-water mark. Must be called with p.mu held.
func (p *Pool) recordPermitLocked(id uuid.UUID) {
	p.permits.Store(id, struct{}{})
	held := int(atomic.LoadInt64(&p.outstanding))
	if held > p.maxUsed {
		p.maxUsed = held
	}
}

// releasePermit drops the ledger marker for id, if present, and releases
// exactly one permit. Returns whether a marker was present, so callers
// can tell a genuine release from a double-return no-op.
func (p *Pool) releasePermit(id uuid.UUID) bool {
	if _, loaded := p.permits.LoadAndDelete(id); loaded {
		atomic.AddInt64(&p.outstanding, -1)
		p.sem.Release(1)
		return true
	}
	return false
}

// GetConnection acquires a resource matched to (subject, cri), reusing
// from inventory (LIFO) when possible and manufacturing a new one
// otherwise.
func (p *Pool) GetConnection(ctx context.Context, subject, cri interface{}) (*Listener, error) {
	if err := p.acquirePermit(ctx); err != nil {
		return nil, err
	}
	log := p.logger.WithContext(ctx)

	for {
		p.mu.Lock()
		if p.shutdown.Load() {
			p.mu.Unlock()
			p.releaseRawPermit()
			return nil, shuttingDownErr()
		}

		candidate, ok := p.inv.popTail()
		if !ok {
			p.mu.Unlock()
			break
		}
		p.checkedOut[candidate.ID()] = candidate
		p.setGaugesLocked()
		p.mu.Unlock()

		matched, err := p.factory.MatchManagedConnections(ctx, []ManagedConnection{candidate.ManagedConnection()}, subject, cri)
		if err != nil || matched == nil {
			if err != nil {
				log.WithError(err).Warn("checkout match failed, destroying candidate",
					logger.String("pool", p.name),
				)
			}
			p.mu.Lock()
			delete(p.checkedOut, candidate.ID())
			p.setGaugesLocked()
			p.mu.Unlock()
			p.doDestroy(candidate, reasonMatchFailed)

			if p.cfg.UseFastFail {
				break
			}
			continue
		}

		candidate.Used()
		p.mu.Lock()
		p.recordPermitLocked(candidate.ID())
		p.setGaugesLocked()
		p.mu.Unlock()
		return candidate, nil
	}

	mc, err := p.factory.CreateManagedConnection(ctx, subject, cri)
	if err != nil {
		p.releaseRawPermit()
		return nil, createFailedErr(err)
	}
	lst := newListener(mc)

	p.mu.Lock()
	p.checkedOut[lst.ID()] = lst
	p.recordPermitLocked(lst.ID())
	p.setGaugesLocked()
	p.mu.Unlock()
	p.metrics.incCreated()

	if p.started.CompareAndSwap(false, true) && p.cfg.MinSize > 0 {
		p.enqueueFill()
	}

	return lst, nil
}

// ReturnConnection gives a resource back, recycling it into inventory
// unless it's being killed.
func (p *Pool) ReturnConnection(lst *Listener, kill bool) {
	p.mu.Lock()
	if lst.State() == StateDestroyed {
		p.releasePermit(lst.ID())
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := lst.ManagedConnection().Cleanup(); err != nil {
		p.logger.Warn("cleanup failed on return, forcing kill",
			logger.String("pool", p.name),
			logger.Error(err),
		)
		kill = true
	}

	p.mu.Lock()
	reason := reasonCleanupFailed
	if s := lst.State(); s == StateDestroy || s == StateDestroyed {
		kill = true
		reason = reasonFlush
	}
	delete(p.checkedOut, lst.ID())

	if !kill && p.inv.len() >= p.cfg.MaxSize {
		p.logger.Warn("inventory at capacity on return, forcing kill (anomaly: more listeners than permits)",
			logger.String("pool", p.name),
			logger.Int("inventory_size", p.inv.len()),
			logger.Int("max_size", p.cfg.MaxSize),
		)
		kill = true
		reason = reasonOverflow
	}

	if kill {
		p.inv.remove(lst)
	} else {
		lst.Used()
		if p.inv.contains(lst.ID()) {
			p.logger.Debug("ignoring double-return", logger.String("pool", p.name))
		} else {
			p.inv.pushTail(lst)
		}
	}

	p.releasePermit(lst.ID())
	p.setGaugesLocked()
	p.mu.Unlock()

	if kill {
		p.doDestroy(lst, reason)
	}
}

// doDestroy is idempotent: it swallows destroy failures (logged) and
// never revives a destroyed listener.
func (p *Pool) doDestroy(lst *Listener, reason string) {
	if lst.State() == StateDestroyed {
		return
	}
	lst.SetState(StateDestroyed)
	if err := lst.ManagedConnection().Destroy(); err != nil {
		p.logger.Debug("destroy failed, listener remains DESTROYED",
			logger.String("pool", p.name),
			logger.Error(err),
		)
	}
	p.metrics.incDestroyed(reason)
}

// setGaugesLocked refreshes the occupancy gauges. Must be called with
// p.mu held.
func (p *Pool) setGaugesLocked() {
	p.metrics.setCheckedOut(len(p.checkedOut))
	p.metrics.setInventory(p.inv.len())
	p.metrics.setMaxUsed(p.maxUsed)
}

// IsEmpty reports whether both inventory and the checked-out set are
// empty.
func (p *Pool) IsEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inv.len() == 0 && len(p.checkedOut) == 0
}

// IsRunning reports whether the pool has not been shut down.
func (p *Pool) IsRunning() bool {
	return !p.shutdown.Load()
}

// MaxUsedConnections returns the monotonic high-water mark of checked-out
// connections.
func (p *Pool) MaxUsedConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxUsed
}

// Name returns the pool's identifying name, used as the metrics label
// and in log lines.
func (p *Pool) Name() string { return p.name }
