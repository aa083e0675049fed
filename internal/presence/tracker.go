package presence

import (
	"sort"
	"sync"
	"time"
)

// Status is the derived online state of a user.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Event describes a presence transition.
type Event struct {
	UserID int       `json:"user_id"`
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// Listener is invoked for every presence transition, in order.
type Listener func(Event)

// ConnectionSource is the registry view the tracker derives state from.
type ConnectionSource interface {
	ConnectionsFor(userID int) []string
	Users() []int
}

// Tracker derives online/offline state from the connection registry and
// emits an event only on the 0->1 and 1->0 edges of a user's connection count.
type Tracker struct {
	conns ConnectionSource
	now   func() time.Time

	mu       sync.Mutex
	lastSeen map[int]time.Time
	pending  []Event

	emitMu    sync.Mutex
	listeners []Listener
}

// NewTracker creates a tracker over conns.
func NewTracker(conns ConnectionSource) *Tracker {
	return &Tracker{
		conns:    conns,
		now:      time.Now,
		lastSeen: make(map[int]time.Time),
	}
}

// Subscribe registers a listener. Listeners must not register or deregister
// connections themselves.
func (t *Tracker) Subscribe(l Listener) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	t.listeners = append(t.listeners, l)
}

// OnConnectionRegistered is called by the registry with the user's live
// connection count after a registration.
func (t *Tracker) OnConnectionRegistered(userID, live int) {
	if live != 1 {
		return
	}
	t.mu.Lock()
	t.pending = append(t.pending, Event{UserID: userID, Status: StatusOnline, At: t.now()})
	t.mu.Unlock()
}

// OnConnectionDeregistered is called by the registry with the user's live
// connection count after a deregistration.
func (t *Tracker) OnConnectionDeregistered(userID, live int) {
	if live != 0 {
		return
	}
	now := t.now()
	t.mu.Lock()
	t.lastSeen[userID] = now
	t.pending = append(t.pending, Event{UserID: userID, Status: StatusOffline, At: now})
	t.mu.Unlock()
}

// Emit delivers queued events to listeners in the order they were queued.
func (t *Tracker) Emit() {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	for {
		t.mu.Lock()
		if len(t.pending) == 0 {
			t.mu.Unlock()
			return
		}
		ev := t.pending[0]
		t.pending = t.pending[1:]
		t.mu.Unlock()

		for _, l := range t.listeners {
			l(ev)
		}
	}
}

// IsOnline reports whether the user holds at least one live connection.
func (t *Tracker) IsOnline(userID int) bool {
	return len(t.conns.ConnectionsFor(userID)) > 0
}

// ListOnlineUsers returns a sorted point-in-time snapshot of online users.
func (t *Tracker) ListOnlineUsers() []int {
	users := t.conns.Users()
	sort.Ints(users)
	return users
}

// LastSeen returns when the user last went offline.
func (t *Tracker) LastSeen(userID int) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.lastSeen[userID]
	return at, ok
}
