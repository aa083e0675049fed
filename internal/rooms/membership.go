package rooms

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// RoomID identifies a fan-out group of connections.
type RoomID string

// Public is the reserved identifier of the public chat room.
const Public RoomID = "public"

const privatePrefix = "private_"

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrInvalidRoom       = errors.New("invalid room")
)

// PrivateRoomID derives the pairwise room of two users. The result does not
// depend on argument order.
func PrivateRoomID(a, b int) RoomID {
	if a > b {
		a, b = b, a
	}
	return RoomID(fmt.Sprintf("%s%d_%d", privatePrefix, a, b))
}

// ParsePrivate returns the two participants of a private room.
func ParsePrivate(id RoomID) (int, int, bool) {
	rest, ok := strings.CutPrefix(string(id), privatePrefix)
	if !ok {
		return 0, 0, false
	}
	lo, hi, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, 0, false
	}
	a, err := strconv.Atoi(lo)
	if err != nil {
		return 0, 0, false
	}
	b, err := strconv.Atoi(hi)
	if err != nil {
		return 0, 0, false
	}
	return a, b, true
}

// ConnectionChecker reports whether a connection is registered.
type ConnectionChecker interface {
	Exists(connID string) bool
}

// Membership tracks which connections are subscribed to which rooms.
type Membership struct {
	conns ConnectionChecker

	mu     sync.RWMutex
	rooms  map[RoomID]map[string]struct{}
	byConn map[string]map[RoomID]struct{}
}

// NewMembership creates an empty membership table.
func NewMembership(conns ConnectionChecker) *Membership {
	return &Membership{
		conns:  conns,
		rooms:  make(map[RoomID]map[string]struct{}),
		byConn: make(map[string]map[RoomID]struct{}),
	}
}

// Join subscribes connID to room. Joining twice is a no-op.
func (m *Membership) Join(connID string, room RoomID) error {
	if room == "" {
		return fmt.Errorf("join %q: %w", connID, ErrInvalidRoom)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Checked under the membership lock so a concurrent deregistration either
	// sees this entry during cleanup or makes this check fail.
	if !m.conns.Exists(connID) {
		return fmt.Errorf("join %s: %q: %w", room, connID, ErrUnknownConnection)
	}
	if _, ok := m.rooms[room]; !ok {
		m.rooms[room] = make(map[string]struct{})
	}
	m.rooms[room][connID] = struct{}{}
	if _, ok := m.byConn[connID]; !ok {
		m.byConn[connID] = make(map[RoomID]struct{})
	}
	m.byConn[connID][room] = struct{}{}
	return nil
}

// Leave unsubscribes connID from room. Leaving a room the connection is not
// in is a no-op.
func (m *Membership) Leave(connID string, room RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(connID, room)
}

func (m *Membership) leaveLocked(connID string, room RoomID) {
	if members, ok := m.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
	if joined, ok := m.byConn[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(m.byConn, connID)
		}
	}
}

// RemoveConnection drops every membership held by connID.
func (m *Membership) RemoveConnection(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for room := range m.byConn[connID] {
		m.leaveLocked(connID, room)
	}
}

// MembersOf returns the connections currently subscribed to room.
func (m *Membership) MembersOf(room RoomID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// IsMember reports whether connID is subscribed to room.
func (m *Membership) IsMember(connID string, room RoomID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[room][connID]
	return ok
}

// RoomsOf returns the rooms connID is subscribed to, sorted.
func (m *Membership) RoomsOf(connID string) []RoomID {
	m.mu.RLock()
	joined := make([]RoomID, 0, len(m.byConn[connID]))
	for room := range m.byConn[connID] {
		joined = append(joined, room)
	}
	m.mu.RUnlock()
	sort.Slice(joined, func(i, j int) bool { return joined[i] < joined[j] })
	return joined
}

// RoomsInvolving returns the non-empty private rooms in which userID is one
// of the two participants.
func (m *Membership) RoomsInvolving(userID int) []RoomID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []RoomID
	for room := range m.rooms {
		a, b, ok := ParsePrivate(room)
		if ok && (a == userID || b == userID) {
			result = append(result, room)
		}
	}
	return result
}
