// Package sqlite provides a pool.Factory that manufactures managed
// connections backed by single-connection database/sql handles over
// mattn/go-sqlite3, each opened in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"github.com/catherinevee/connpool/internal/pool"
)

// Config configures the sqlite connections this factory manufactures.
type Config struct {
	// Path is the database file path, or ":memory:".
	Path string
	// BusyTimeoutMS is passed as _busy_timeout in the DSN.
	BusyTimeoutMS int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:          "connpool.db",
		BusyTimeoutMS: 5000,
	}
}

// Factory manufactures pool.ManagedConnection values, each wrapping its
// own single-connection *sql.DB. Each handle is pinned to exactly one
// physical connection (SetMaxOpenConns(1)) since this package's Pool,
// not database/sql, owns the pooling.
type Factory struct {
	cfg Config
}

// New builds a Factory from cfg.
func New(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

type managedConn struct {
	db *sql.DB
}

// Cleanup rolls back any transaction left open by the previous checkout.
// Issuing ROLLBACK with nothing open is the common case (most checkouts
// never start a transaction) and returns a driver error rather than a
// no-op, so that specific error is swallowed; anything else is real.
func (m *managedConn) Cleanup() error {
	_, err := m.db.Exec("ROLLBACK")
	if err != nil && strings.Contains(err.Error(), "no transaction is active") {
		return nil
	}
	return err
}

// Destroy closes the underlying handle.
func (m *managedConn) Destroy() error {
	return m.db.Close()
}

// CreateManagedConnection opens a fresh WAL-mode connection.
func (f *Factory) CreateManagedConnection(ctx context.Context, subject, cri interface{}) (pool.ManagedConnection, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", f.cfg.Path, f.cfg.BusyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &managedConn{db: db}, nil
}

// MatchManagedConnections is indifferent to subject/cri: every
// connection in this factory's pool points at the same file, so the
// first candidate always satisfies the request.
func (f *Factory) MatchManagedConnections(ctx context.Context, candidates []pool.ManagedConnection, subject, cri interface{}) (pool.ManagedConnection, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	return candidates[0], nil
}

// GetInvalidConnections implements pool.ValidatingFactory with a
// PingContext liveness probe per candidate, bounded so one wedged
// connection can't stall the whole validation sweep. Candidates are
// pinged concurrently so a batch of N pings costs one 2-second budget
// rather than N of them stacked sequentially.
func (f *Factory) GetInvalidConnections(ctx context.Context, candidates []pool.ManagedConnection) ([]pool.ManagedConnection, error) {
	var (
		mu      sync.Mutex
		invalid []pool.ManagedConnection
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range candidates {
		c := c
		g.Go(func() error {
			mc := c.(*managedConn)
			pingCtx, cancel := context.WithTimeout(gctx, 2*time.Second)
			defer cancel()
			if err := mc.db.PingContext(pingCtx); err != nil {
				mu.Lock()
				invalid = append(invalid, c)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return invalid, nil
}
