package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type presenceEvent struct {
	userID  uint
	payload PresenceRecord
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []presenceEvent
}

func (r *recordingEmitter) ToUser(userID uint, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, presenceEvent{userID: userID, payload: payload.(PresenceRecord)})
}

func (r *recordingEmitter) all() []presenceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]presenceEvent{}, r.events...)
}

type staticRoster struct {
	contacts map[uint][]uint
}

func (s *staticRoster) ContactsOf(userID uint) ([]uint, error) {
	return s.contacts[userID], nil
}

type memoryLastSeen struct {
	mu      sync.Mutex
	records map[uint]PresenceRecord
}

func newMemoryLastSeen() *memoryLastSeen {
	return &memoryLastSeen{records: map[uint]PresenceRecord{}}
}

func (s *memoryLastSeen) SetOnline(userID uint, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[userID] = PresenceRecord{UserID: userID, Online: online, LastSeen: at}
	return nil
}

func (s *memoryLastSeen) Get(userIDs []uint) (map[uint]PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[uint]PresenceRecord{}
	for _, id := range userIDs {
		if r, ok := s.records[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func newTestRegistry(timeout time.Duration) (*Registry, *recordingEmitter, *memoryLastSeen) {
	emitter := &recordingEmitter{}
	roster := &staticRoster{contacts: map[uint][]uint{
		1: {2, 3},
		2: {1},
	}}
	lastSeen := newMemoryLastSeen()
	return NewRegistry(emitter, roster, lastSeen, timeout), emitter, lastSeen
}

func TestPresenceFlipsOnFirstAndLastConnection(t *testing.T) {
	registry, emitter, _ := newTestRegistry(time.Minute)

	registry.Register(1, "conn-a")
	registry.Register(1, "conn-b")

	events := emitter.all()
	require.Len(t, events, 2, "only the first connection flips presence, fanned to both contacts")
	for _, e := range events {
		assert.True(t, e.payload.Online)
		assert.Equal(t, uint(1), e.payload.UserID)
	}
	assert.ElementsMatch(t, []uint{2, 3}, []uint{events[0].userID, events[1].userID})

	registry.Unregister("conn-a")
	assert.Len(t, emitter.all(), 2, "user still online on the second connection")
	assert.True(t, registry.Online(1))

	registry.Unregister("conn-b")
	events = emitter.all()
	require.Len(t, events, 4)
	assert.False(t, events[2].payload.Online)
	assert.False(t, registry.Online(1))
}

func TestUnregisterUnknownConnection(t *testing.T) {
	registry, emitter, _ := newTestRegistry(time.Minute)

	registry.Unregister("nope")
	assert.Empty(t, emitter.all())
}

func TestOnlineOfflineHooks(t *testing.T) {
	registry, _, _ := newTestRegistry(time.Minute)

	var mu sync.Mutex
	online, offline := []uint{}, []uint{}
	registry.OnOnline(func(userID uint) {
		mu.Lock()
		online = append(online, userID)
		mu.Unlock()
	})
	registry.OnOffline(func(userID uint) {
		mu.Lock()
		offline = append(offline, userID)
		mu.Unlock()
	})

	registry.Register(1, "conn-a")
	registry.Register(1, "conn-b")
	registry.Unregister("conn-a")
	registry.Unregister("conn-b")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint{1}, online)
	assert.Equal(t, []uint{1}, offline)
}

func TestSnapshotMergesLiveAndStored(t *testing.T) {
	registry, _, lastSeen := newTestRegistry(time.Minute)

	then := time.Now().Add(-time.Hour)
	require.NoError(t, lastSeen.SetOnline(2, false, then))

	registry.Register(1, "conn-a")

	snapshot := registry.Snapshot([]uint{1, 2, 3})
	require.Len(t, snapshot, 3)

	assert.True(t, snapshot[1].Online)
	assert.False(t, snapshot[2].Online)
	assert.WithinDuration(t, then, snapshot[2].LastSeen, time.Second)
	assert.False(t, snapshot[3].Online, "never-seen user defaults to offline")
}

func TestSnapshotPrefersLiveState(t *testing.T) {
	registry, _, lastSeen := newTestRegistry(time.Minute)

	// Store says offline; the live registry disagrees and wins.
	require.NoError(t, lastSeen.SetOnline(1, false, time.Now().Add(-time.Hour)))
	registry.Register(1, "conn-a")

	snapshot := registry.Snapshot([]uint{1})
	assert.True(t, snapshot[1].Online)
}

func TestSweepDropsSilentConnections(t *testing.T) {
	registry, emitter, _ := newTestRegistry(30 * time.Millisecond)

	registry.Register(1, "conn-a")
	registry.Register(2, "conn-b")

	// Keep one connection alive across the timeout.
	deadline := time.Now().Add(60 * time.Millisecond)
	for time.Now().Before(deadline) {
		registry.Touch("conn-b")
		time.Sleep(5 * time.Millisecond)
	}

	registry.Sweep()

	assert.False(t, registry.Online(1), "silent connection must be reaped")
	assert.True(t, registry.Online(2), "touched connection must survive")

	events := emitter.all()
	last := events[len(events)-1]
	assert.False(t, last.payload.Online)
	assert.Equal(t, uint(1), last.payload.UserID)
}

func TestRoomBookkeeping(t *testing.T) {
	registry, _, _ := newTestRegistry(time.Minute)
	registry.Register(1, "conn-a")

	registry.JoinRoom("conn-a", 10)
	registry.JoinRoom("conn-a", 11)
	assert.ElementsMatch(t, []uint{10, 11}, registry.Rooms("conn-a"))

	registry.LeaveRoom("conn-a", 10)
	assert.Equal(t, []uint{11}, registry.Rooms("conn-a"))

	registry.Unregister("conn-a")
	assert.Nil(t, registry.Rooms("conn-a"))
}

func TestLastSeenPersistedOnTransition(t *testing.T) {
	registry, _, lastSeen := newTestRegistry(time.Minute)

	registry.Register(1, "conn-a")
	registry.Unregister("conn-a")

	stored, err := lastSeen.Get([]uint{1})
	require.NoError(t, err)
	require.Contains(t, stored, uint(1))
	assert.False(t, stored[1].Online)
	assert.WithinDuration(t, time.Now(), stored[1].LastSeen, time.Second)
}
