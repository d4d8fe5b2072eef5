package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn implements ManagedConnection for tests, tracking its own
// lifecycle so assertions can check it was destroyed exactly once.
type fakeConn struct {
	id          int
	mu          sync.Mutex
	cleanupErr  error
	destroyErr  error
	destroyed   bool
	destroyedAt time.Time
}

func (f *fakeConn) Cleanup() error {
	return f.cleanupErr
}

func (f *fakeConn) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
	f.destroyedAt = time.Now()
	return f.destroyErr
}

func (f *fakeConn) isDestroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// fakeFactory is a counting, always-matching factory that can be told to
// fail creation or matching on demand.
type fakeFactory struct {
	mu          sync.Mutex
	nextID      int
	created     []*fakeConn
	createErr   error
	matchAlways bool // if false, MatchManagedConnections always returns no match
	invalid     map[*fakeConn]bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{matchAlways: true, invalid: make(map[*fakeConn]bool)}
}

func (f *fakeFactory) CreateManagedConnection(ctx context.Context, subject, cri interface{}) (ManagedConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	c := &fakeConn{id: f.nextID}
	f.created = append(f.created, c)
	return c, nil
}

func (f *fakeFactory) MatchManagedConnections(ctx context.Context, candidates []ManagedConnection, subject, cri interface{}) (ManagedConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.matchAlways || len(candidates) == 0 {
		return nil, nil
	}
	return candidates[0], nil
}

func (f *fakeFactory) GetInvalidConnections(ctx context.Context, candidates []ManagedConnection) ([]ManagedConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var bad []ManagedConnection
	for _, c := range candidates {
		if f.invalid[c.(*fakeConn)] {
			bad = append(bad, c)
		}
	}
	return bad, nil
}

func (f *fakeFactory) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func testConfig(maxSize int) Config {
	cfg := DefaultConfig()
	cfg.MaxSize = maxSize
	cfg.BlockingTimeout = 200 * time.Millisecond
	cfg.IdleTimeout = 0
	cfg.BackgroundValidationInterval = 0
	return cfg
}

func TestGetConnection_ManufacturesWhenInventoryEmpty(t *testing.T) {
	f := newFakeFactory()
	p, err := NewPool("t1", testConfig(2), f, Dependencies{})
	require.NoError(t, err)

	lst, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, lst)
	assert.Equal(t, 1, f.createdCount())
}

func TestGetConnection_ReusesFromInventoryLIFO(t *testing.T) {
	f := newFakeFactory()
	p, err := NewPool("t2", testConfig(2), f, Dependencies{})
	require.NoError(t, err)

	lst, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	p.ReturnConnection(lst, false)

	reused, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.createdCount(), "second checkout should reuse, not manufacture")
	assert.Equal(t, lst.ID(), reused.ID())
}

func TestGetConnection_BlocksUntilCapacityFrees(t *testing.T) {
	f := newFakeFactory()
	p, err := NewPool("t3", testConfig(1), f, Dependencies{})
	require.NoError(t, err)

	lst, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		p.ReturnConnection(lst, false)
	}()

	go func() {
		_, err := p.GetConnection(context.Background(), nil, nil)
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second GetConnection never unblocked after return")
	}
}

func TestGetConnection_NoCapacityError(t *testing.T) {
	f := newFakeFactory()
	cfg := testConfig(1)
	cfg.BlockingTimeout = 50 * time.Millisecond
	p, err := NewPool("t4", cfg, f, Dependencies{})
	require.NoError(t, err)

	_, err = p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)

	_, err = p.GetConnection(context.Background(), nil, nil)
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindNoCapacity, perr.Kind)
	assert.False(t, perr.Retryable)
}

func TestGetConnection_InterruptedByCallerContext(t *testing.T) {
	f := newFakeFactory()
	cfg := testConfig(1)
	cfg.BlockingTimeout = 5 * time.Second
	p, err := NewPool("t5", cfg, f, Dependencies{})
	require.NoError(t, err)

	_, err = p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = p.GetConnection(ctx, nil, nil)
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindInterrupted, perr.Kind)
	assert.False(t, perr.Retryable)
}

func TestGetConnection_ShuttingDown(t *testing.T) {
	f := newFakeFactory()
	p, err := NewPool("t6", testConfig(2), f, Dependencies{})
	require.NoError(t, err)

	p.Shutdown()

	_, err = p.GetConnection(context.Background(), nil, nil)
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindShuttingDown, perr.Kind)
}

func TestReturnConnection_KillDestroysAndFreesPermit(t *testing.T) {
	f := newFakeFactory()
	p, err := NewPool("t7", testConfig(1), f, Dependencies{})
	require.NoError(t, err)

	lst, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)

	p.ReturnConnection(lst, true)
	assert.True(t, lst.ManagedConnection().(*fakeConn).isDestroyed())
	assert.Equal(t, 0, p.inv.len())

	// permit must have been freed: a second checkout should not block
	lst2, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, lst2)
}

func TestReturnConnection_CleanupFailureForcesKill(t *testing.T) {
	f := newFakeFactory()
	p, err := NewPool("t8", testConfig(1), f, Dependencies{})
	require.NoError(t, err)

	lst, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	lst.ManagedConnection().(*fakeConn).cleanupErr = errors.New("boom")

	p.ReturnConnection(lst, false)
	assert.True(t, lst.ManagedConnection().(*fakeConn).isDestroyed())
	assert.Equal(t, 0, p.inv.len())
}

func TestReturnConnection_DoubleReturnIsIdempotent(t *testing.T) {
	f := newFakeFactory()
	p, err := NewPool("t9", testConfig(2), f, Dependencies{})
	require.NoError(t, err)

	lst, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)

	p.ReturnConnection(lst, false)
	assert.Equal(t, 1, p.inv.len())

	// Returning the same listener again must not duplicate it in
	// inventory nor release a second permit.
	p.ReturnConnection(lst, false)
	assert.Equal(t, 1, p.inv.len())
}

func TestGetConnection_MatchFailureDestroysCandidateAndManufactures(t *testing.T) {
	f := newFakeFactory()
	p, err := NewPool("t10", testConfig(2), f, Dependencies{})
	require.NoError(t, err)

	lst, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	p.ReturnConnection(lst, false)
	require.Equal(t, 1, f.createdCount())

	f.matchAlways = false
	next, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, 2, f.createdCount())
	assert.True(t, lst.ManagedConnection().(*fakeConn).isDestroyed())
}

func TestGetConnection_UseFastFailLeavesRemainingInventoryUntouched(t *testing.T) {
	f := newFakeFactory()
	cfg := testConfig(2)
	cfg.UseFastFail = true
	p, err := NewPool("t10b", cfg, f, Dependencies{})
	require.NoError(t, err)

	l1, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	l2, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	p.ReturnConnection(l1, false)
	p.ReturnConnection(l2, false)
	require.Equal(t, 2, p.inv.len())

	// l2 was returned last, so it sits at the tail and is the first
	// candidate popped. With UseFastFail, one match failure must abort
	// the scan rather than continue on to try l1.
	f.matchAlways = false
	next, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, next)

	assert.True(t, l2.ManagedConnection().(*fakeConn).isDestroyed())
	assert.False(t, l1.ManagedConnection().(*fakeConn).isDestroyed())
	assert.Equal(t, 1, p.inv.len())
}

func TestMaxUsedConnections_TracksHighWaterMark(t *testing.T) {
	f := newFakeFactory()
	p, err := NewPool("t11", testConfig(3), f, Dependencies{})
	require.NoError(t, err)

	l1, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	l2, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, p.MaxUsedConnections())

	p.ReturnConnection(l1, false)
	p.ReturnConnection(l2, false)
	assert.Equal(t, 2, p.MaxUsedConnections(), "high-water mark must not decrease on return")
}

func TestIsEmpty(t *testing.T) {
	f := newFakeFactory()
	p, err := NewPool("t12", testConfig(2), f, Dependencies{})
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())

	lst, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, p.IsEmpty())

	p.ReturnConnection(lst, true)
	assert.True(t, p.IsEmpty())
}

func TestIsRunning_ReflectsShutdownState(t *testing.T) {
	f := newFakeFactory()
	p, err := NewPool("t13", testConfig(2), f, Dependencies{})
	require.NoError(t, err)
	assert.True(t, p.IsRunning())

	p.Shutdown()
	assert.False(t, p.IsRunning())

	p.Reenable()
	assert.True(t, p.IsRunning())
}

// TestConcurrentCheckoutsRespectCapacity is the capacity property
// test: MaxSize concurrent checkouts against a higher-demand
// caller set must never let more than MaxSize permits out at once.
func TestConcurrentCheckoutsRespectCapacity(t *testing.T) {
	f := newFakeFactory()
	const maxSize = 4
	cfg := testConfig(maxSize)
	cfg.BlockingTimeout = time.Second
	p, err := NewPool("t14", cfg, f, Dependencies{})
	require.NoError(t, err)

	var concurrent int64
	var maxObserved int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lst, err := p.GetConnection(context.Background(), nil, nil)
			if err != nil {
				return
			}
			cur := atomic.AddInt64(&concurrent, 1)
			for {
				prev := atomic.LoadInt64(&maxObserved)
				if cur <= prev || atomic.CompareAndSwapInt64(&maxObserved, prev, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&concurrent, -1)
			p.ReturnConnection(lst, false)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, maxObserved, int64(maxSize))
}

func TestCreateFailedError(t *testing.T) {
	f := newFakeFactory()
	f.createErr = errors.New("dial refused")
	p, err := NewPool("t15", testConfig(2), f, Dependencies{})
	require.NoError(t, err)

	_, err = p.GetConnection(context.Background(), nil, nil)
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindCreateFailed, perr.Kind)
	assert.False(t, perr.Retryable)
}

func TestNewPool_RejectsNilFactory(t *testing.T) {
	_, err := NewPool("t16", testConfig(1), nil, Dependencies{})
	require.Error(t, err)
}

func TestNewPool_RejectsInvalidConfig(t *testing.T) {
	f := newFakeFactory()
	cfg := testConfig(0)
	_, err := NewPool("t17", cfg, f, Dependencies{})
	require.Error(t, err)
}
