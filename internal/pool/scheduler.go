package pool

import (
	"context"
	"sync"
	"time"

	"github.com/catherinevee/connpool/internal/logger"
)

// TickerScheduler drives both idle eviction and background validation for
// every pool registered with it, one time.Ticker per pool per duty. It
// implements IdleRemover directly, and its Validator method returns the
// ConnectionValidator view, so a single scheduler instance can back both
// collaborators on Pool.
type TickerScheduler struct {
	log logger.Logger

	mu        sync.Mutex
	idleJobs  map[*Pool]chan struct{}
	validJobs map[*Pool]chan struct{}
}

// NewTickerScheduler builds a scheduler ready to register pools.
func NewTickerScheduler() *TickerScheduler {
	return &TickerScheduler{
		log:       logger.New("pool.scheduler"),
		idleJobs:  make(map[*Pool]chan struct{}),
		validJobs: make(map[*Pool]chan struct{}),
	}
}

// RegisterPool starts a ticking idle sweep for p at the given interval.
// A zero interval is a no-op.
func (s *TickerScheduler) RegisterPool(p *Pool, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.idleJobs[p]; ok {
		return
	}
	stop := make(chan struct{})
	s.idleJobs[p] = stop
	go s.runIdleLoop(p, interval, stop)
}

// UnregisterPool stops p's idle sweep, if running.
func (s *TickerScheduler) UnregisterPool(p *Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.idleJobs[p]; ok {
		close(stop)
		delete(s.idleJobs, p)
	}
}

func (s *TickerScheduler) runIdleLoop(p *Pool, interval time.Duration, stop chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.RemoveIdleConnections(context.Background())
		case <-stop:
			return
		}
	}
}

// validationScheduler is the ConnectionValidator half of TickerScheduler:
// a wrapper type whose RegisterPool/UnregisterPool work on validJobs, so
// a caller can wire one TickerScheduler as Dependencies.IdleRemover and
// its Validator() as Dependencies.Validator, or two distinct instances,
// without confusion between the two duties' registration maps.
type validationScheduler struct {
	*TickerScheduler
}

// Validator returns this scheduler wearing the ConnectionValidator hat.
func (s *TickerScheduler) Validator() ConnectionValidator {
	return validationScheduler{s}
}

func (v validationScheduler) RegisterPool(p *Pool, interval time.Duration) {
	if interval <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.validJobs[p]; ok {
		return
	}
	stop := make(chan struct{})
	v.validJobs[p] = stop
	go v.runValidationLoop(p, interval, stop)
}

func (v validationScheduler) UnregisterPool(p *Pool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if stop, ok := v.validJobs[p]; ok {
		close(stop)
		delete(v.validJobs, p)
	}
}

func (v validationScheduler) runValidationLoop(p *Pool, interval time.Duration, stop chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.ValidateConnections(context.Background())
		case <-stop:
			return
		}
	}
}
