// Package notify delivers durable notification events over a per-user push
// stream. The stream is resumable: every open starts with a full snapshot,
// so a reconnecting client recovers missed state without sequence gaps.
package notify

import (
	"sync"
	"time"

	"conversation-service/model"
	"conversation-service/store"
)

// Event is one frame on the stream.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the first data frame of every stream.
type Snapshot struct {
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int64                `json:"unreadCount"`
}

const snapshotLimit = 50

// Hub fans externally-produced notifications out to the open streams of
// their recipient. Slow consumers are dropped rather than blocking the
// producer; the snapshot on their next reconnect recovers the loss.
type Hub struct {
	mu      sync.Mutex
	streams map[uint][]chan Event
	store   store.Store
}

func NewHub(st store.Store) *Hub {
	return &Hub{
		streams: map[uint][]chan Event{},
		store:   st,
	}
}

// Subscribe opens a stream for the user. The returned cancel must be called
// when the client disconnects.
func (h *Hub) Subscribe(userID uint) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	h.streams[userID] = append(h.streams[userID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		chans := h.streams[userID]
		for i, c := range chans {
			if c == ch {
				h.streams[userID] = append(chans[:i], chans[i+1:]...)
				close(ch)
				break
			}
		}
		if len(h.streams[userID]) == 0 {
			delete(h.streams, userID)
		}
	}
	return ch, cancel
}

// Snapshot returns the unread state the stream opens with.
func (h *Hub) Snapshot(userID uint) (Snapshot, error) {
	notifications, unread, err := h.store.Notifications(userID, snapshotLimit)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Notifications: notifications, UnreadCount: unread}, nil
}

// Publish persists an externally-produced notification and pushes it to the
// recipient's open streams.
func (h *Hub) Publish(n *model.Notification) error {
	if err := h.store.SaveNotification(n); err != nil {
		return err
	}
	h.Push(n.UserID, *n)
	return nil
}

// Push delivers an already-persisted notification to open streams.
func (h *Hub) Push(userID uint, n model.Notification) {
	event := Event{Type: "notification", Data: n, Timestamp: time.Now()}

	// The sends are non-blocking, so holding the lock keeps a concurrent
	// cancel from closing a channel mid-send.
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.streams[userID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// MarkRead flips one notification's read flag.
func (h *Hub) MarkRead(id, userID uint) error {
	return h.store.MarkNotificationRead(id, userID)
}

// MarkAllRead flips every unread notification for the user.
func (h *Hub) MarkAllRead(userID uint) error {
	return h.store.MarkAllNotificationsRead(userID)
}
