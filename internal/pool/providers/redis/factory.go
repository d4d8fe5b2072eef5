// Package redis provides a pool.Factory that manufactures managed
// connections backed by single-connection go-redis clients, selecting
// between standalone/cluster/sentinel clients and pinging on connect.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/catherinevee/connpool/internal/pool"
)

// Config configures the Redis connections this factory manufactures.
// Narrowed to what a single-connection factory needs: each
// ManagedConnection owns exactly one dedicated client (PoolSize forced
// to 1), since connection multiplexing across many logical checkouts is
// exactly what this package's Pool already does one layer up.
type Config struct {
	Addr     string
	Password string
	DB       int

	ClusterAddrs []string

	MasterName    string
	SentinelAddrs []string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
}

// DefaultConfig returns sensible defaults for a standalone connection.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	}
}

// Factory manufactures pool.ManagedConnection values wrapping a
// single-connection redis.UniversalClient. It implements both
// pool.Factory and pool.ValidatingFactory.
type Factory struct {
	cfg Config
}

// New builds a Factory from cfg.
func New(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

func (f *Factory) newClient() redis.UniversalClient {
	switch {
	case len(f.cfg.ClusterAddrs) > 0:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        f.cfg.ClusterAddrs,
			Password:     f.cfg.Password,
			MaxRetries:   f.cfg.MaxRetries,
			DialTimeout:  f.cfg.DialTimeout,
			ReadTimeout:  f.cfg.ReadTimeout,
			WriteTimeout: f.cfg.WriteTimeout,
			PoolSize:     1,
		})
	case len(f.cfg.SentinelAddrs) > 0 && f.cfg.MasterName != "":
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    f.cfg.MasterName,
			SentinelAddrs: f.cfg.SentinelAddrs,
			Password:      f.cfg.Password,
			DB:            f.cfg.DB,
			MaxRetries:    f.cfg.MaxRetries,
			DialTimeout:   f.cfg.DialTimeout,
			ReadTimeout:   f.cfg.ReadTimeout,
			WriteTimeout:  f.cfg.WriteTimeout,
			PoolSize:      1,
		})
	default:
		return redis.NewClient(&redis.Options{
			Addr:         f.cfg.Addr,
			Password:     f.cfg.Password,
			DB:           f.cfg.DB,
			MaxRetries:   f.cfg.MaxRetries,
			DialTimeout:  f.cfg.DialTimeout,
			ReadTimeout:  f.cfg.ReadTimeout,
			WriteTimeout: f.cfg.WriteTimeout,
			PoolSize:     1,
		})
	}
}

// managedConn adapts a redis.UniversalClient to pool.ManagedConnection.
type managedConn struct {
	client redis.UniversalClient
	db     int
}

// Cleanup aborts a dangling MULTI left open by the previous checkout, so
// a reused connection never leaks queued-but-unexecuted commands.
// DISCARD with no MULTI open is the common case and errors rather than
// no-ops, so that specific error is swallowed; anything else is real.
func (m *managedConn) Cleanup() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := m.client.Do(ctx, "DISCARD").Err()
	if err != nil && strings.Contains(err.Error(), "without MULTI") {
		return nil
	}
	return err
}

// Destroy closes the underlying client connection.
func (m *managedConn) Destroy() error {
	return m.client.Close()
}

// CreateManagedConnection dials a fresh single-connection client and
// pings it before handing it back.
func (f *Factory) CreateManagedConnection(ctx context.Context, subject, cri interface{}) (pool.ManagedConnection, error) {
	db := f.cfg.DB
	if n, ok := cri.(int); ok {
		db = n
	}

	cfg := f.cfg
	cfg.DB = db
	client := (&Factory{cfg: cfg}).newClient()
	pingCtx, cancel := context.WithTimeout(ctx, f.cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect: %w", err)
	}
	return &managedConn{client: client, db: db}, nil
}

// MatchManagedConnections returns the first candidate whose selected
// database matches cri (an int DB index), or the first candidate if cri
// is absent.
func (f *Factory) MatchManagedConnections(ctx context.Context, candidates []pool.ManagedConnection, subject, cri interface{}) (pool.ManagedConnection, error) {
	wantDB, hasDB := cri.(int)
	for _, c := range candidates {
		mc := c.(*managedConn)
		if !hasDB || mc.db == wantDB {
			return mc, nil
		}
	}
	return nil, nil
}

// GetInvalidConnections implements pool.ValidatingFactory by pinging
// each candidate and reporting the ones that fail.
func (f *Factory) GetInvalidConnections(ctx context.Context, candidates []pool.ManagedConnection) ([]pool.ManagedConnection, error) {
	var invalid []pool.ManagedConnection
	for _, c := range candidates {
		mc := c.(*managedConn)
		pingCtx, cancel := context.WithTimeout(ctx, f.cfg.ReadTimeout)
		err := mc.client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			invalid = append(invalid, c)
		}
	}
	return invalid, nil
}
