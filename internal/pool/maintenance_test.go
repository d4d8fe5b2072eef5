package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveIdleConnections_EvictsPastTimeout(t *testing.T) {
	f := newFakeFactory()
	cfg := testConfig(3)
	cfg.IdleTimeout = 20 * time.Millisecond
	p, err := NewPool("m1", cfg, f, Dependencies{})
	require.NoError(t, err)

	lst, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	p.ReturnConnection(lst, false)
	require.Equal(t, 1, p.inv.len())

	time.Sleep(40 * time.Millisecond)
	p.RemoveIdleConnections(context.Background())

	assert.Equal(t, 0, p.inv.len())
	assert.True(t, lst.ManagedConnection().(*fakeConn).isDestroyed())
}

func TestRemoveIdleConnections_KeepsFreshEntries(t *testing.T) {
	f := newFakeFactory()
	cfg := testConfig(3)
	cfg.IdleTimeout = time.Hour
	p, err := NewPool("m2", cfg, f, Dependencies{})
	require.NoError(t, err)

	lst, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	p.ReturnConnection(lst, false)

	p.RemoveIdleConnections(context.Background())
	assert.Equal(t, 1, p.inv.len())
	assert.False(t, lst.ManagedConnection().(*fakeConn).isDestroyed())
}

func TestRemoveIdleConnections_NoopWhenDisabled(t *testing.T) {
	f := newFakeFactory()
	cfg := testConfig(3)
	cfg.IdleTimeout = 0
	p, err := NewPool("m3", cfg, f, Dependencies{})
	require.NoError(t, err)

	lst, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	p.ReturnConnection(lst, false)

	p.RemoveIdleConnections(context.Background())
	assert.Equal(t, 1, p.inv.len())
}

func TestRemoveIdleConnections_StrictMinStopsAtFloor(t *testing.T) {
	f := newFakeFactory()
	cfg := testConfig(3)
	cfg.IdleTimeout = 10 * time.Millisecond
	cfg.MinSize = 1
	cfg.StrictMin = true
	p, err := NewPool("m4", cfg, f, Dependencies{})
	require.NoError(t, err)

	l1, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	l2, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	p.ReturnConnection(l1, false)
	p.ReturnConnection(l2, false)
	require.Equal(t, 2, p.inv.len())

	time.Sleep(30 * time.Millisecond)
	p.RemoveIdleConnections(context.Background())

	assert.Equal(t, 1, p.inv.len(), "StrictMin must stop the sweep once inventory size hits MinSize")
}

func TestValidateConnections_DestroysInvalid(t *testing.T) {
	f := newFakeFactory()
	cfg := testConfig(3)
	cfg.BackgroundValidationInterval = 15 * time.Millisecond
	p, err := NewPool("m5", cfg, f, Dependencies{})
	require.NoError(t, err)

	good, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	bad, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	p.ReturnConnection(good, false)
	p.ReturnConnection(bad, false)

	f.invalid[bad.ManagedConnection().(*fakeConn)] = true

	time.Sleep(30 * time.Millisecond)
	p.ValidateConnections(context.Background())

	assert.True(t, bad.ManagedConnection().(*fakeConn).isDestroyed())
	assert.False(t, good.ManagedConnection().(*fakeConn).isDestroyed())
	assert.Equal(t, 1, p.inv.len())
}

func TestValidateConnections_SkipsRecentlyValidatedListeners(t *testing.T) {
	f := newFakeFactory()
	cfg := testConfig(3)
	cfg.BackgroundValidationInterval = time.Hour
	p, err := NewPool("m7", cfg, f, Dependencies{})
	require.NoError(t, err)

	lst, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	p.ReturnConnection(lst, false)
	f.invalid[lst.ManagedConnection().(*fakeConn)] = true

	// lastValidatedTime was just stamped at construction; a one-hour
	// interval means this listener is not due yet and must be left
	// untouched, never handed to GetInvalidConnections.
	p.ValidateConnections(context.Background())

	assert.False(t, lst.ManagedConnection().(*fakeConn).isDestroyed())
	assert.Equal(t, 1, p.inv.len())
}

// nonValidatingFactory implements only Factory, not ValidatingFactory,
// to exercise the one-time-warning path in ValidateConnections. It
// deliberately does not embed fakeFactory, since embedding would
// promote GetInvalidConnections and make it satisfy ValidatingFactory
// anyway.
type nonValidatingFactory struct {
	base *fakeFactory
}

func (f nonValidatingFactory) CreateManagedConnection(ctx context.Context, subject, cri interface{}) (ManagedConnection, error) {
	return f.base.CreateManagedConnection(ctx, subject, cri)
}

func (f nonValidatingFactory) MatchManagedConnections(ctx context.Context, candidates []ManagedConnection, subject, cri interface{}) (ManagedConnection, error) {
	return f.base.MatchManagedConnections(ctx, candidates, subject, cri)
}

func TestValidateConnections_WarnsOnceWithoutValidatingFactory(t *testing.T) {
	base := newFakeFactory()
	f := nonValidatingFactory{base}
	cfg := testConfig(2)
	cfg.BackgroundValidationInterval = time.Hour
	p, err := NewPool("m6", cfg, f, Dependencies{})
	require.NoError(t, err)

	lst, err := p.GetConnection(context.Background(), nil, nil)
	require.NoError(t, err)
	p.ReturnConnection(lst, false)

	p.ValidateConnections(context.Background())
	p.ValidateConnections(context.Background())

	assert.Equal(t, 1, p.inv.len())
	assert.False(t, lst.ManagedConnection().(*fakeConn).isDestroyed())
}
