package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrInvalidConnection   = errors.New("invalid connection")
)

// Connection is one live transport session owned by a single user.
type Connection struct {
	ID           string
	UserID       int
	CreatedAt    time.Time
	LastActivity time.Time
}

// Observer receives per-user connection count changes. The On* hooks run
// while the registry lock is held and must not call back into the registry.
// Emit runs after the lock has been released.
type Observer interface {
	OnConnectionRegistered(userID, live int)
	OnConnectionDeregistered(userID, live int)
	Emit()
}

// Cleaner drops state keyed by a connection once it is deregistered.
type Cleaner interface {
	RemoveConnection(connID string)
}

// Registry is the authoritative record of live connections and their owners.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	byUser   map[int]map[string]struct{}
	observer Observer
	cleaners []Cleaner
	now      func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[int]map[string]struct{}),
		now:    time.Now,
	}
}

// NewConnectionID issues a fresh connection identifier.
func NewConnectionID() string {
	return uuid.NewString()
}

// SetObserver installs the presence observer. It must be called before the
// registry is shared between goroutines.
func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

// AddCleaner appends a cleaner invoked on every deregistration. It must be
// called before the registry is shared between goroutines.
func (r *Registry) AddCleaner(c Cleaner) {
	r.cleaners = append(r.cleaners, c)
}

// Register records a new connection for userID.
func (r *Registry) Register(connID string, userID int) error {
	if connID == "" || userID == 0 {
		return fmt.Errorf("register %q for user %d: %w", connID, userID, ErrInvalidConnection)
	}

	r.mu.Lock()
	if _, ok := r.conns[connID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("register %q: %w", connID, ErrDuplicateConnection)
	}
	now := r.now()
	r.conns[connID] = &Connection{ID: connID, UserID: userID, CreatedAt: now, LastActivity: now}
	if _, ok := r.byUser[userID]; !ok {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][connID] = struct{}{}
	live := len(r.byUser[userID])
	if r.observer != nil {
		r.observer.OnConnectionRegistered(userID, live)
	}
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.Emit()
	}
	return nil
}

// Deregister removes a connection. Unknown ids are ignored so that racing
// disconnect paths can all call it.
func (r *Registry) Deregister(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	live := 0
	if set, ok := r.byUser[conn.UserID]; ok {
		delete(set, connID)
		live = len(set)
		if live == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
	if r.observer != nil {
		r.observer.OnConnectionDeregistered(conn.UserID, live)
	}
	r.mu.Unlock()

	for _, c := range r.cleaners {
		c.RemoveConnection(connID)
	}
	if r.observer != nil {
		r.observer.Emit()
	}
}

// ConnectionsFor returns the live connection ids of userID.
func (r *Registry) ConnectionsFor(userID int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// OwnerOf returns the user owning connID.
func (r *Registry) OwnerOf(connID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	if !ok {
		return 0, fmt.Errorf("owner of %q: %w", connID, ErrConnectionNotFound)
	}
	return conn.UserID, nil
}

// Exists reports whether connID is currently registered.
func (r *Registry) Exists(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connID]
	return ok
}

// Get returns a copy of the connection record.
func (r *Registry) Get(connID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// Touch refreshes the last-activity timestamp of a connection.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		conn.LastActivity = r.now()
	}
}

// Users returns a sorted snapshot of users holding at least one connection.
func (r *Registry) Users() []int {
	r.mu.RLock()
	users := make([]int, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	r.mu.RUnlock()
	sort.Ints(users)
	return users
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Idle lists connections whose last activity is older than maxIdle.
func (r *Registry) Idle(maxIdle time.Duration) []string {
	cutoff := r.now().Add(-maxIdle)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, conn := range r.conns {
		if conn.LastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
