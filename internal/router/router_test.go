package router

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-router/internal/notify"
	"chat-router/internal/presence"
	"chat-router/internal/registry"
	"chat-router/internal/rooms"
)

type recordingDeliverer struct {
	mu       sync.Mutex
	received map[string][]Delivery
}

func (d *recordingDeliverer) Deliver(connIDs []string, del Delivery) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.received == nil {
		d.received = map[string][]Delivery{}
	}
	for _, id := range connIDs {
		d.received[id] = append(d.received[id], del)
	}
	return len(connIDs)
}

func (d *recordingDeliverer) got(connID string) []Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.received[connID]
}

func (d *recordingDeliverer) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []int
	last  notify.Notification
}

func (n *recordingNotifier) Notify(userID int, note notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, userID)
	n.last = note
}

type fixture struct {
	reg      *registry.Registry
	members  *rooms.Membership
	out      *recordingDeliverer
	notifier *recordingNotifier
	router   *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	tracker := presence.NewTracker(reg)
	reg.SetObserver(tracker)
	members := rooms.NewMembership(reg)
	reg.AddCleaner(members)
	out := &recordingDeliverer{}
	n := &recordingNotifier{}
	return &fixture{
		reg:      reg,
		members:  members,
		out:      out,
		notifier: n,
		router:   New(members, reg, tracker, out, n, zap.NewNop()),
	}
}

func (f *fixture) connect(t *testing.T, connID string, userID int, joined ...rooms.RoomID) {
	t.Helper()
	require.NoError(t, f.reg.Register(connID, userID))
	for _, room := range joined {
		require.NoError(t, f.members.Join(connID, room))
	}
}

func TestBroadcastReachesEveryPublicMember(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "a1", 1, rooms.Public)
	f.connect(t, "a2", 1, rooms.Public)
	f.connect(t, "b1", 2, rooms.Public)
	f.connect(t, "lurker", 3)

	res, err := f.router.Route(context.Background(), Envelope{Kind: KindBroadcast, Origin: 1, OriginConn: "a1", Payload: "hi"})
	require.NoError(t, err)
	assert.Equal(t, rooms.Public, res.Room)
	assert.Equal(t, 3, res.Delivered)
	assert.False(t, res.Notified)
	for _, id := range []string{"a1", "a2", "b1"} {
		require.Len(t, f.out.got(id), 1, id)
		assert.Equal(t, "hi", f.out.got(id)[0].Payload)
	}
	assert.Empty(t, f.out.got("lurker"))
}

func TestWhisperIsolatedToPairRoom(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "c1", 1, rooms.Public, rooms.PrivateRoomID(1, 2))
	f.connect(t, "c2", 2, rooms.Public, rooms.PrivateRoomID(1, 2))
	f.connect(t, "c3", 3, rooms.Public, rooms.PrivateRoomID(1, 3))

	res, err := f.router.Route(context.Background(), Envelope{Kind: KindWhisper, Origin: 2, TargetUser: 1, Payload: "secret"})
	require.NoError(t, err)
	assert.Equal(t, rooms.PrivateRoomID(1, 2), res.Room)
	assert.Equal(t, 2, res.Delivered)
	assert.Len(t, f.out.got("c1"), 1)
	assert.Len(t, f.out.got("c2"), 1)
	assert.Empty(t, f.out.got("c3"))
	assert.Empty(t, f.notifier.calls)
}

func TestWhisperNotifiesAbsentRecipientOnce(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "c1", 1, rooms.Public, rooms.PrivateRoomID(1, 2))

	res, err := f.router.Route(context.Background(), Envelope{
		Kind: KindWhisper, Origin: 1, TargetUser: 2, Payload: "ping",
		Notice: notify.Notification{Body: "ping"},
	})
	require.NoError(t, err)
	assert.True(t, res.Notified)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, []int{2}, f.notifier.calls)
	assert.Equal(t, "New private message", f.notifier.last.Title)
	assert.Equal(t, "/chat/1", f.notifier.last.URL)
	assert.Equal(t, rooms.PrivateRoomID(1, 2), f.notifier.last.Room)
}

func TestWhisperNotifiesOnlineRecipientOutsideRoom(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "c1", 1, rooms.Public, rooms.PrivateRoomID(1, 2))
	f.connect(t, "c2", 2, rooms.Public)

	res, err := f.router.Route(context.Background(), Envelope{Kind: KindWhisper, Origin: 1, TargetUser: 2})
	require.NoError(t, err)
	assert.True(t, res.Notified)
	assert.Empty(t, f.out.got("c2"))
}

// c1 (user 1) and c2 (user 2) share the pair room; user 2 drops and the next
// whisper falls back to a notification.
func TestPairConversationScenario(t *testing.T) {
	f := newFixture(t)
	room := rooms.PrivateRoomID(1, 2)
	f.connect(t, "c1", 1, rooms.Public, room)
	f.connect(t, "c2", 2, rooms.Public, room)

	res, err := f.router.Route(context.Background(), Envelope{Kind: KindWhisper, Origin: 1, TargetUser: 2, Payload: "m1"})
	require.NoError(t, err)
	assert.False(t, res.Notified)
	assert.Len(t, f.out.got("c2"), 1)

	f.reg.Deregister("c2")
	assert.NotContains(t, f.members.MembersOf(room), "c2")

	res, err = f.router.Route(context.Background(), Envelope{Kind: KindWhisper, Origin: 1, TargetUser: 2, Payload: "m2"})
	require.NoError(t, err)
	assert.True(t, res.Notified)
	assert.Equal(t, 1, res.Delivered)
	assert.Len(t, f.out.got("c2"), 1)
	assert.Equal(t, []int{2}, f.notifier.calls)
}

func TestTypingExcludesOriginConnection(t *testing.T) {
	f := newFixture(t)
	room := rooms.PrivateRoomID(1, 2)
	f.connect(t, "a1", 1, rooms.Public, room)
	f.connect(t, "a2", 1, rooms.Public, room)
	f.connect(t, "b1", 2, rooms.Public, room)

	res, err := f.router.Route(context.Background(), Envelope{Kind: KindTypingStart, Origin: 1, OriginConn: "a1", TargetUser: 2})
	require.NoError(t, err)
	assert.Equal(t, room, res.Room)
	assert.Equal(t, 2, res.Delivered)
	assert.Empty(t, f.out.got("a1"))
	assert.Len(t, f.out.got("a2"), 1)
	assert.Len(t, f.out.got("b1"), 1)

	f.out.reset()
	res, err = f.router.Route(context.Background(), Envelope{Kind: KindTypingStop, Origin: 1, OriginConn: "a1", Room: rooms.Public})
	require.NoError(t, err)
	assert.Equal(t, rooms.Public, res.Room)
	assert.Empty(t, f.out.got("a1"))
	assert.False(t, res.Notified)
}

func TestPresenceChangeReachesPublicAndPeerRoomsOnce(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "a1", 1, rooms.Public, rooms.PrivateRoomID(1, 2))
	f.connect(t, "b1", 2, rooms.PrivateRoomID(1, 2))
	f.connect(t, "c1", 3, rooms.PrivateRoomID(3, 4))

	res, err := f.router.Route(context.Background(), Envelope{Kind: KindPresenceChange, TargetUser: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Len(t, f.out.got("a1"), 1)
	assert.Len(t, f.out.got("b1"), 1)
	assert.Empty(t, f.out.got("c1"))
}

func TestPinBroadcastsToPublic(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "a1", 1, rooms.Public)
	f.connect(t, "b1", 2, rooms.Public)

	for _, kind := range []Kind{KindPin, KindUnpin} {
		res, err := f.router.Route(context.Background(), Envelope{Kind: kind, Origin: 1, OriginConn: "a1"})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Delivered, kind)
	}
	assert.Equal(t, KindUnpin, f.out.got("b1")[1].Kind)
}

func TestInvalidEnvelopes(t *testing.T) {
	f := newFixture(t)
	cases := map[string]Envelope{
		"unknown kind":         {Kind: "shout", Origin: 1},
		"broadcast no origin":  {Kind: KindBroadcast},
		"whisper no origin":    {Kind: KindWhisper, TargetUser: 2},
		"whisper no recipient": {Kind: KindWhisper, Origin: 1},
		"whisper to self":      {Kind: KindWhisper, Origin: 1, TargetUser: 1},
		"typing no context":    {Kind: KindTypingStart, Origin: 1},
		"presence no user":     {Kind: KindPresenceChange},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.router.Route(context.Background(), env)
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
	assert.Empty(t, f.notifier.calls)
}

func TestRouteToEmptyRoomIsNotAnError(t *testing.T) {
	f := newFixture(t)
	res, err := f.router.Route(context.Background(), Envelope{Kind: KindBroadcast, Origin: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Delivered)
}

type orderedDeliverer struct {
	mu   sync.Mutex
	seen map[string][]int
}

func (d *orderedDeliverer) Deliver(connIDs []string, del Delivery) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range connIDs {
		d.seen[id] = append(d.seen[id], del.Payload.(int))
	}
	return len(connIDs)
}

func TestMembersObserveSameOrder(t *testing.T) {
	reg := registry.New()
	members := rooms.NewMembership(reg)
	reg.AddCleaner(members)
	out := &orderedDeliverer{seen: map[string][]int{}}
	r := New(members, reg, presence.NewTracker(reg), out, &recordingNotifier{}, zap.NewNop())

	for i, id := range []string{"x", "y", "z"} {
		require.NoError(t, reg.Register(id, i+1))
		require.NoError(t, members.Join(id, rooms.Public))
	}

	var wg sync.WaitGroup
	for i := 1; i <= 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Route(context.Background(), Envelope{Kind: KindBroadcast, Origin: 1, Payload: i})
		}(i)
	}
	wg.Wait()

	assert.Len(t, out.seen["x"], 30)
	assert.Equal(t, out.seen["x"], out.seen["y"])
	assert.Equal(t, out.seen["x"], out.seen["z"])
	sorted := append([]int(nil), out.seen["x"]...)
	sort.Ints(sorted)
	assert.Equal(t, 1, sorted[0])
}

func TestTwoTabsWhisperScenario(t *testing.T) {
	reg := registry.New()
	tracker := presence.NewTracker(reg)
	reg.SetObserver(tracker)
	members := rooms.NewMembership(reg)
	reg.AddCleaner(members)
	out := &recordingDeliverer{}
	n := &recordingNotifier{}
	r := New(members, reg, tracker, out, n, zap.NewNop())

	var online []int
	tracker.Subscribe(func(ev presence.Event) {
		if ev.Status == presence.StatusOnline {
			online = append(online, ev.UserID)
		}
	})

	const userA, userB = 10, 20
	room := rooms.PrivateRoomID(userA, userB)
	require.NoError(t, reg.Register("c1", userA))
	require.NoError(t, reg.Register("c2", userA))
	require.NoError(t, reg.Register("b1", userB))
	require.NoError(t, members.Join("b1", room))
	assert.Equal(t, []int{userA, userB}, online)

	res, err := r.Route(context.Background(), Envelope{Kind: KindWhisper, Origin: userB, TargetUser: userA, Payload: "one"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Len(t, out.got("b1"), 1, "sender sees its own whisper")
	assert.Empty(t, out.got("c1"))
	assert.Empty(t, out.got("c2"))
	assert.Equal(t, []int{userA}, n.calls)

	require.NoError(t, members.Join("c1", room))
	res, err = r.Route(context.Background(), Envelope{Kind: KindWhisper, Origin: userB, TargetUser: userA, Payload: "two"})
	require.NoError(t, err)
	assert.False(t, res.Notified)
	assert.Len(t, out.got("c1"), 1)
	assert.Empty(t, out.got("c2"))
	assert.Equal(t, []int{userA}, n.calls)
}
