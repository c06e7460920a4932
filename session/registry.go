// Package session tracks live connections per user and derives presence from
// registry transitions.
package session

import (
	"log"
	"sync"
	"time"
)

// Events with presence payloads.
const (
	EventPresenceUpdated = "presence.updated"
)

// PresenceRecord is the derived online/offline view of one user.
type PresenceRecord struct {
	UserID   uint      `json:"user_id"`
	Online   bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// Connection is one live transport owned by a user. A user may hold several
// (tabs, devices); presence flips only on the first and last.
type Connection struct {
	ID       string
	UserID   uint
	rooms    map[uint]struct{}
	lastSeen time.Time
}

// Emitter delivers an event to every connection in a user's personal room.
type Emitter interface {
	ToUser(userID uint, event string, payload any)
}

// Roster resolves which users share a conversation with a given user;
// presence fan-out is bounded to that set.
type Roster interface {
	ContactsOf(userID uint) ([]uint, error)
}

// LastSeenStore persists the transient presence record.
type LastSeenStore interface {
	SetOnline(userID uint, online bool, at time.Time) error
	Get(userIDs []uint) (map[uint]PresenceRecord, error)
}

// Registry owns all live connections. Register/Unregister are the only
// places presence transitions happen.
type Registry struct {
	mu      sync.Mutex
	conns   map[string]*Connection
	byUser  map[uint]map[string]*Connection
	timeout time.Duration

	emitter  Emitter
	roster   Roster
	lastSeen LastSeenStore

	onOffline []func(userID uint)
	onOnline  []func(userID uint)
}

func NewRegistry(emitter Emitter, roster Roster, lastSeen LastSeenStore, livenessTimeout time.Duration) *Registry {
	return &Registry{
		conns:    map[string]*Connection{},
		byUser:   map[uint]map[string]*Connection{},
		timeout:  livenessTimeout,
		emitter:  emitter,
		roster:   roster,
		lastSeen: lastSeen,
	}
}

// OnOffline registers a hook fired when a user's last connection goes away.
// The call arena uses it to start the disconnect grace period.
func (r *Registry) OnOffline(fn func(userID uint)) {
	r.onOffline = append(r.onOffline, fn)
}

// OnOnline registers a hook fired when a user's first connection appears.
func (r *Registry) OnOnline(fn func(userID uint)) {
	r.onOnline = append(r.onOnline, fn)
}

// Register adds a connection for the user and emits a presence-online event
// to the user's contacts when it is their first live connection.
func (r *Registry) Register(userID uint, connID string) *Connection {
	r.mu.Lock()
	conn := &Connection{
		ID:       connID,
		UserID:   userID,
		rooms:    map[uint]struct{}{},
		lastSeen: time.Now(),
	}
	r.conns[connID] = conn
	first := len(r.byUser[userID]) == 0
	if first {
		r.byUser[userID] = map[string]*Connection{}
	}
	r.byUser[userID][connID] = conn
	r.mu.Unlock()

	if first {
		r.broadcastPresence(userID, true)
		for _, fn := range r.onOnline {
			fn(userID)
		}
	}
	return conn
}

// Unregister removes a connection. Presence flips offline only when the
// user's connection count reaches zero.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	delete(r.byUser[conn.UserID], connID)
	last := len(r.byUser[conn.UserID]) == 0
	if last {
		delete(r.byUser, conn.UserID)
	}
	r.mu.Unlock()

	if last {
		r.broadcastPresence(conn.UserID, false)
		for _, fn := range r.onOffline {
			fn(conn.UserID)
		}
	}
}

// ConnectionsFor returns the ids of the user's live connections.
func (r *Registry) ConnectionsFor(userID uint) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for id := range r.byUser[userID] {
		out = append(out, id)
	}
	return out
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID]) > 0
}

// Touch refreshes the liveness timestamp; called on every inbound event.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		conn.lastSeen = time.Now()
	}
}

// JoinRoom records conversation membership on the connection so it can be
// re-attached on reconnect bookkeeping and detached on disconnect.
func (r *Registry) JoinRoom(connID string, conversationID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		conn.rooms[conversationID] = struct{}{}
	}
}

func (r *Registry) LeaveRoom(connID string, conversationID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		delete(conn.rooms, conversationID)
	}
}

// Rooms returns the conversation ids the connection has joined.
func (r *Registry) Rooms(connID string) []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return nil
	}
	out := []uint{}
	for id := range conn.rooms {
		out = append(out, id)
	}
	return out
}

// Snapshot returns the presence records for the given users: live registry
// state for online users, the persisted last-seen for the rest.
func (r *Registry) Snapshot(userIDs []uint) map[uint]PresenceRecord {
	stored := map[uint]PresenceRecord{}
	if r.lastSeen != nil {
		if got, err := r.lastSeen.Get(userIDs); err == nil {
			stored = got
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[uint]PresenceRecord{}
	for _, id := range userIDs {
		record := PresenceRecord{UserID: id}
		if s, ok := stored[id]; ok {
			record.LastSeen = s.LastSeen
		}
		record.Online = len(r.byUser[id]) > 0
		out[id] = record
	}
	return out
}

// Sweep force-unregisters connections that have been silent longer than the
// liveness timeout. A crashed client without a clean close is reconciled here.
func (r *Registry) Sweep() {
	cutoff := time.Now().Add(-r.timeout)

	r.mu.Lock()
	stale := []string{}
	for id, conn := range r.conns {
		if conn.lastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		log.Printf("session: connection %s exceeded liveness timeout", id)
		r.Unregister(id)
	}
}

// StartSweeper runs Sweep periodically until stop is closed.
func (r *Registry) StartSweeper(stop <-chan struct{}) {
	interval := r.timeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

func (r *Registry) broadcastPresence(userID uint, online bool) {
	now := time.Now()
	if r.lastSeen != nil {
		if err := r.lastSeen.SetOnline(userID, online, now); err != nil {
			log.Printf("session: persist presence for user %d: %v", userID, err)
		}
	}
	if r.roster == nil || r.emitter == nil {
		return
	}
	contacts, err := r.roster.ContactsOf(userID)
	if err != nil {
		log.Printf("session: resolve contacts of user %d: %v", userID, err)
		return
	}
	record := PresenceRecord{UserID: userID, Online: online, LastSeen: now}
	for _, contact := range contacts {
		r.emitter.ToUser(contact, EventPresenceUpdated, record)
	}
}
