package call

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"conversation-service/model"
	"conversation-service/store"
)

// Wire events emitted by the arena.
const (
	EventOffer       = "call.offer"
	EventAnswer      = "call.answer"
	EventIce         = "call.ice"
	EventEnded       = "call.ended"
	EventPeerToggled = "call.peer.toggled"
)

var ErrAlreadyInCall = errors.New("call: conversation already has an active call")

// Origin identifies the connection issuing a call intent.
type Origin struct {
	ConnID string
	UserID uint
}

// Emitter delivers signaling events. Offers and terminal events go to user
// rooms so a callee receives them even before joining the conversation room.
type Emitter interface {
	ToConversation(conversationID uint, event string, payload any)
	ToUser(userID uint, event string, payload any)
	ToConn(connID string, event string, payload any)
}

// Messenger posts the call summary message into the conversation after a
// completed call. Satisfied by the messenger engine.
type Messenger interface {
	SendSystem(conversationID, senderID uint, content string) error
}

// OfferPayload is relayed to every other room member as the incoming call.
type OfferPayload struct {
	ConversationID uint        `json:"conversation_id"`
	Kind           string      `json:"kind"`
	SDP            any         `json:"sdp"`
	CallerID       uint        `json:"caller_id"`
	Caller         *model.User `json:"caller,omitempty"`
}

// EndedPayload is the single terminal event both sides receive; no stale UI
// can remain ringing after it.
type EndedPayload struct {
	ConversationID uint   `json:"conversation_id"`
	UserID         uint   `json:"user_id"`
	Reason         Reason `json:"reason"`
}

// Arena stores one live Session per conversation and enforces the legal
// transitions. Sessions are destroyed on the terminal transition.
type Arena struct {
	mu       sync.Mutex
	sessions map[uint]*Session

	store     store.Store
	emitter   Emitter
	messenger Messenger

	// Recorder, when set, receives the post-hoc call record in addition to
	// the store (wired to the AMQP event bus in main).
	Recorder func(model.CallRecord)

	ringTimeout time.Duration
	grace       time.Duration
	graceMu     sync.Mutex
	graceTimers map[uint][]*time.Timer
}

func NewArena(st store.Store, emitter Emitter, messenger Messenger, ringTimeout, disconnectGrace time.Duration) *Arena {
	return &Arena{
		sessions:    map[uint]*Session{},
		store:       st,
		emitter:     emitter,
		messenger:   messenger,
		ringTimeout: ringTimeout,
		grace:       disconnectGrace,
		graceTimers: map[uint][]*time.Timer{},
	}
}

// Initiate starts a call attempt: one active session per conversation.
func (a *Arena) Initiate(origin Origin, conversationID uint, kind string, offer any) error {
	ok, err := a.store.IsParticipant(conversationID, origin.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotAParticipant
	}

	session := &Session{
		conversationID: conversationID,
		callerID:       origin.UserID,
		kind:           kind,
		state:          Ringing,
		offer:          offer,
		started:        time.Now(),
	}

	// Arm the ring timer before publishing the session so an accept can never
	// observe it half-initialized.
	session.ringTimer = time.AfterFunc(a.ringTimeout, func() {
		a.terminate(session, session.callerID, endWhileRinging(ReasonMissed), 0)
	})

	a.mu.Lock()
	if existing, ok := a.sessions[conversationID]; ok && existing.State() != Ended {
		a.mu.Unlock()
		session.ringTimer.Stop()
		return ErrAlreadyInCall
	}
	a.sessions[conversationID] = session
	a.mu.Unlock()

	payload := OfferPayload{
		ConversationID: conversationID,
		Kind:           kind,
		SDP:            offer,
		CallerID:       origin.UserID,
	}
	if caller, err := a.store.User(origin.UserID); err == nil {
		payload.Caller = caller
	}

	participants, err := a.store.Participants(conversationID)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if p.UserID != origin.UserID {
			a.emitter.ToUser(p.UserID, EventOffer, payload)
		}
	}
	return nil
}

// Accept moves Ringing to Negotiating. Only the first acceptance wins; any
// later accept, including one racing on another device, is a silent no-op.
// Signals from users outside the conversation are dropped.
func (a *Arena) Accept(origin Origin, conversationID uint, answer any) {
	session := a.lookup(conversationID)
	if session == nil || !a.member(conversationID, origin.UserID) {
		return
	}

	won, pending := session.accept(origin.UserID, answer)
	if !won {
		return
	}

	a.emitter.ToUser(session.callerID, EventAnswer, map[string]any{
		"conversation_id": conversationID,
		"sdp":             answer,
		"user_id":         origin.UserID,
	})

	// Flush candidates queued while the remote side was absent, in arrival
	// order.
	for _, entry := range pending {
		to := session.callerID
		if entry.from == session.callerID {
			to = origin.UserID
		}
		a.emitter.ToUser(to, EventIce, map[string]any{
			"conversation_id": conversationID,
			"candidate":       entry.candidate,
			"user_id":         entry.from,
		})
	}
}

// Ice relays a candidate to the peer, queueing while the remote side has not
// joined negotiation. Late candidates after teardown are dropped, not errored.
func (a *Arena) Ice(origin Origin, conversationID uint, candidate any) {
	session := a.lookup(conversationID)
	if session == nil || !a.member(conversationID, origin.UserID) {
		return
	}

	relayTo, queued, dropped := session.routeICE(origin.UserID, candidate)
	if queued || dropped || relayTo == 0 {
		return
	}
	a.emitter.ToUser(relayTo, EventIce, map[string]any{
		"conversation_id": conversationID,
		"candidate":       candidate,
		"user_id":         origin.UserID,
	})
}

// Connected acknowledges that the peer-to-peer handshake succeeded; either
// side may report it.
func (a *Arena) Connected(origin Origin, conversationID uint) {
	session := a.lookup(conversationID)
	if session == nil || !session.involves(origin.UserID) {
		return
	}
	session.connected()
}

// Decline ends the call from the callee side only while it is still ringing;
// a decline racing a winning accept is absorbed.
func (a *Arena) Decline(origin Origin, conversationID uint) {
	session := a.lookup(conversationID)
	if session == nil || !a.member(conversationID, origin.UserID) {
		return
	}
	a.terminate(session, origin.UserID, endWhileRinging(ReasonDeclined), 0)
}

// End is the universal cancellation point, accepted from any non-terminal
// state. A caller hanging up while still ringing cancels; otherwise the call
// completed.
func (a *Arena) End(origin Origin, conversationID uint, durationSeconds int) {
	session := a.lookup(conversationID)
	if session == nil || !a.member(conversationID, origin.UserID) {
		return
	}
	a.terminate(session, origin.UserID, func(st State) (Reason, bool) {
		if st == Ringing {
			if origin.UserID == session.callerID {
				return ReasonCancelled, true
			}
			return ReasonDeclined, true
		}
		return ReasonCompleted, true
	}, durationSeconds)
}

// Toggle relays an informational mute/camera state change to the peer. No
// state transition results.
func (a *Arena) Toggle(origin Origin, conversationID uint, payload any) {
	session := a.lookup(conversationID)
	if session == nil || session.State() == Ended {
		return
	}
	peer := session.peerOf(origin.UserID)
	if peer == 0 {
		return
	}
	a.emitter.ToUser(peer, EventPeerToggled, map[string]any{
		"conversation_id": conversationID,
		"user_id":         origin.UserID,
		"state":           payload,
	})
}

// HandleDisconnect starts the grace period for every non-terminal session the
// user is negotiating; a brief reconnect cancels it, otherwise the session
// ends as failed.
func (a *Arena) HandleDisconnect(userID uint) {
	a.mu.Lock()
	involved := []*Session{}
	for _, session := range a.sessions {
		if session.State() != Ended && session.involves(userID) {
			involved = append(involved, session)
		}
	}
	a.mu.Unlock()

	if len(involved) == 0 {
		return
	}

	a.graceMu.Lock()
	defer a.graceMu.Unlock()
	for _, session := range involved {
		s := session
		a.graceTimers[userID] = append(a.graceTimers[userID], time.AfterFunc(a.grace, func() {
			a.terminate(s, userID, endAlways(ReasonFailed), 0)
		}))
	}
}

// HandleReconnect cancels any pending disconnect grace timers for the user.
func (a *Arena) HandleReconnect(userID uint) {
	a.graceMu.Lock()
	defer a.graceMu.Unlock()
	for _, timer := range a.graceTimers[userID] {
		timer.Stop()
	}
	delete(a.graceTimers, userID)
}

// Active reports whether the conversation currently has a non-terminal call.
func (a *Arena) Active(conversationID uint) bool {
	session := a.lookup(conversationID)
	return session != nil && session.State() != Ended
}

func (a *Arena) lookup(conversationID uint) *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[conversationID]
}

// member reports conversation membership; store failures deny.
func (a *Arena) member(conversationID, userID uint) bool {
	ok, err := a.store.IsParticipant(conversationID, userID)
	return err == nil && ok
}

func endAlways(reason Reason) func(State) (Reason, bool) {
	return func(State) (Reason, bool) { return reason, true }
}

func endWhileRinging(reason Reason) func(State) (Reason, bool) {
	return func(st State) (Reason, bool) {
		if st != Ringing {
			return "", false
		}
		return reason, true
	}
}

// terminate performs the terminal transition, destroys the session, fans the
// terminal event out to both sides and hands the duration record off. choose
// picks the reason from the state actually left, under the session lock.
func (a *Arena) terminate(session *Session, byUserID uint, choose func(State) (Reason, bool), durationSeconds int) {
	reason, ended := session.endIf(choose)
	if !ended {
		return
	}

	a.mu.Lock()
	if a.sessions[session.conversationID] == session {
		delete(a.sessions, session.conversationID)
	}
	a.mu.Unlock()

	payload := EndedPayload{
		ConversationID: session.conversationID,
		UserID:         byUserID,
		Reason:         reason,
	}
	a.emitter.ToConversation(session.conversationID, EventEnded, payload)
	a.emitter.ToUser(session.callerID, EventEnded, payload)
	if session.calleeID != 0 {
		a.emitter.ToUser(session.calleeID, EventEnded, payload)
	}

	record := model.CallRecord{
		ConversationID: session.conversationID,
		CallerID:       session.callerID,
		Kind:           session.kind,
		Reason:         string(reason),
		StartedAt:      session.started,
		EndedAt:        time.Now(),
		Duration:       durationSeconds,
	}
	if err := a.store.SaveCallRecord(&record); err != nil {
		log.Printf("call: save record for conversation %d: %v", session.conversationID, err)
	}
	if a.Recorder != nil {
		a.Recorder(record)
	}

	if durationSeconds > 0 && a.messenger != nil {
		if err := a.messenger.SendSystem(session.conversationID, session.callerID, summaryText(session.kind, durationSeconds)); err != nil {
			log.Printf("call: summary message for conversation %d: %v", session.conversationID, err)
		}
	}
}

func summaryText(kind string, durationSeconds int) string {
	hours := durationSeconds / 3600
	minutes := (durationSeconds % 3600) / 60
	seconds := durationSeconds % 60

	var duration string
	if hours > 0 {
		duration = fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	} else {
		duration = fmt.Sprintf("%d:%02d", minutes, seconds)
	}

	kindText := "Audio call"
	if kind == "video" {
		kindText = "Video call"
	}
	return fmt.Sprintf("%s ended. Duration: %s", kindText, duration)
}
