package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle tag carried by a Listener.
type State int

const (
	// StateNormal is a healthy listener, idle or checked out.
	StateNormal State = iota
	// StateDestroy marks a checked-out listener for destruction on return
	// (set by flush/shutdown while the caller still holds it).
	StateDestroy
	// StateDestroyed is terminal: the underlying connection has been
	// released and the listener must never be reused.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateDestroy:
		return "DESTROY"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// Listener is the pool's wrapper around a ManagedConnection, carrying the
// state and timestamps the core needs. Owned by the pool while idle, by
// the caller while checked out; never revived once destroyed.
type Listener struct {
	id uuid.UUID

	mu             sync.Mutex
	state          State
	lastUsed       time.Time
	lastValidated  time.Time
	managedConn    ManagedConnection
}

func newListener(mc ManagedConnection) *Listener {
	now := time.Now()
	return &Listener{
		id:            uuid.New(),
		state:         StateNormal,
		lastUsed:      now,
		lastValidated: now,
		managedConn:   mc,
	}
}

// ID is this listener's stable identity, used as the permit-holder and
// checked-out-set key so an async return can find its record even if the
// caller's own reference has gone stale.
func (l *Listener) ID() uuid.UUID {
	return l.id
}

// State returns the current lifecycle tag.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetState transitions the lifecycle tag. Callers are responsible for
// honoring the "never revived" invariant; doDestroy enforces it for the
// DESTROYED transition specifically.
func (l *Listener) SetState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}

// Used stamps the last-used time to now, called on checkout and on
// return-to-inventory.
func (l *Listener) Used() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastUsed = time.Now()
}

// LastUsed returns the last-used timestamp.
func (l *Listener) LastUsed() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUsed
}

// IsTimedOut reports whether this listener was last used before cutoff.
func (l *Listener) IsTimedOut(cutoff time.Time) bool {
	return l.LastUsed().Before(cutoff)
}

// LastValidatedTime returns the last time background validation touched
// this listener.
func (l *Listener) LastValidatedTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastValidated
}

// SetLastValidatedTime stamps the last-validated time.
func (l *Listener) SetLastValidatedTime(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastValidated = t
}

// ManagedConnection returns the wrapped resource.
func (l *Listener) ManagedConnection() ManagedConnection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.managedConn
}
