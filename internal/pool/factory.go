package pool

import "context"

// ManagedConnection is the opaque, reusable resource the pool hands out.
// The pool never interprets it beyond these two lifecycle calls; concrete
// implementations live in providers/ (e.g. a *redis.Client, a *sql.DB).
type ManagedConnection interface {
	// Cleanup resets per-checkout state (e.g. rolls back an open
	// transaction) before the connection re-enters the inventory.
	Cleanup() error
	// Destroy releases the underlying resource. Called at most once per
	// ManagedConnection; the pool guards this via Listener state.
	Destroy() error
}

// Factory manufactures and matches managed connections on the pool's
// behalf. Implementations must tolerate concurrent calls across distinct
// managed connections; the pool never issues two concurrent calls
// against the same one.
type Factory interface {
	// CreateManagedConnection manufactures a brand-new connection for the
	// given subject/connection-request-info pair. Either argument may be
	// nil; a factory that doesn't distinguish subjects should ignore them.
	CreateManagedConnection(ctx context.Context, subject, cri interface{}) (ManagedConnection, error)

	// MatchManagedConnections picks one candidate from the supplied set
	// that satisfies (subject, cri), or returns (nil, nil) if none
	// match. An error is treated identically to a nil match by the pool:
	// the candidate is destroyed and the scan continues (or fast-fails).
	MatchManagedConnections(ctx context.Context, candidates []ManagedConnection, subject, cri interface{}) (ManagedConnection, error)
}

// ValidatingFactory is the optional capability a Factory may implement to
// participate in background liveness validation. A factory that does not
// implement this interface causes the validator to log a one-time
// warning and take no action.
type ValidatingFactory interface {
	Factory

	// GetInvalidConnections returns the subset of candidates that are no
	// longer usable. A nil/empty result means all candidates are healthy.
	GetInvalidConnections(ctx context.Context, candidates []ManagedConnection) ([]ManagedConnection, error)
}
