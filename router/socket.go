package router

import (
	"errors"
	"log"

	"conversation-service/call"
	"conversation-service/messenger"
	"conversation-service/session"
	"conversation-service/socketio"
	"conversation-service/store"
	"conversation-service/utils"

	"github.com/zishang520/socket.io/v2/socket"
)

// InitConnection answers the client's first event with everything it needs to
// render: the conversation list and the presence of the user's contacts.
type InitConnection struct {
	Conversations []messenger.ConversationSummary `json:"conversations"`
	Presence      []session.PresenceRecord        `json:"presence"`
}

type ErrorMessage struct {
	Message        string `json:"message"`
	ConversationID uint   `json:"conversation_id,omitempty"`
}

// Socket wires the inbound wire events to the engines. Every handler refreshes
// the connection's liveness timestamp before doing anything else.
func Socket(server *socket.Server, registry *session.Registry, engine *messenger.Engine, arena *call.Arena, st store.Store) {
	server.On("connection", func(clients ...interface{}) {
		client := clients[0].(*socket.Socket)

		claims, ok := client.Data().(*utils.TokenMetadata)
		if !ok {
			client.Disconnect(true)
			return
		}
		userID := claims.UserID()
		connID := string(client.Id())

		registry.Register(userID, connID)
		origin := messenger.Origin{ConnID: connID, UserID: userID}
		callOrigin := call.Origin{ConnID: connID, UserID: userID}

		fail := func(err error, conversationID uint) {
			if err == nil {
				return
			}
			msg := "internal error"
			switch {
			case errors.Is(err, store.ErrNotAParticipant):
				msg = "not a participant of the conversation"
			case errors.Is(err, store.ErrNotFound):
				msg = "not found"
			case errors.Is(err, messenger.ErrNotSender):
				msg = "only the sender may modify a message"
			case errors.Is(err, call.ErrAlreadyInCall):
				msg = "a call is already active in the conversation"
			default:
				log.Printf("socket: user %d: %v", userID, err)
			}
			client.Emit("error", ErrorMessage{Message: msg, ConversationID: conversationID})
		}

		client.On("init", func(args ...interface{}) {
			registry.Touch(connID)

			conversations, err := engine.Conversations(userID)
			if err != nil {
				fail(err, 0)
				return
			}

			presence := []session.PresenceRecord{}
			if contacts, err := st.ContactsOf(userID); err == nil {
				for _, record := range registry.Snapshot(contacts) {
					presence = append(presence, record)
				}
			}

			client.Emit("init", InitConnection{
				Conversations: conversations,
				Presence:      presence,
			})
		})

		client.On("room.join", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)
			conversationID := asUint(p, "conversation_id")

			if err := engine.Authorize(userID, conversationID); err != nil {
				fail(err, conversationID)
				return
			}
			client.Join(socketio.ConversationRoom(conversationID))
			registry.JoinRoom(connID, conversationID)
		})

		client.On("room.leave", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)
			conversationID := asUint(p, "conversation_id")

			client.Leave(socketio.ConversationRoom(conversationID))
			registry.LeaveRoom(connID, conversationID)
		})

		client.On("message.send", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)
			conversationID := asUint(p, "conversation_id")

			_, err := engine.Send(origin, conversationID, messenger.SendInput{
				Type:        asString(p, "type"),
				Content:     asString(p, "content"),
				FileURL:     asString(p, "file_url"),
				FileName:    asString(p, "file_name"),
				FileSize:    int64(asUint(p, "file_size")),
				ReplyToID:   asUint(p, "reply_to_id"),
				ClientToken: asString(p, "client_token"),
			})
			fail(err, conversationID)
		})

		client.On("message.read", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)
			conversationID := asUint(p, "conversation_id")

			fail(engine.MarkRead(origin, conversationID, asUint(p, "message_id")), conversationID)
		})

		client.On("message.history", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)
			conversationID := asUint(p, "conversation_id")

			messages, err := engine.History(userID, conversationID, asInt(p, "limit"), asInt(p, "offset"))
			if err != nil {
				fail(err, conversationID)
				return
			}
			client.Emit("message.history", map[string]any{
				"conversation_id": conversationID,
				"messages":        messages,
			})
		})

		client.On("message.edit", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)

			_, err := engine.Edit(origin, asUint(p, "message_id"), asString(p, "content"))
			fail(err, 0)
		})

		client.On("message.delete", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)

			fail(engine.Delete(origin, asUint(p, "message_id")), 0)
		})

		client.On("reaction.add", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)

			fail(engine.React(origin, asUint(p, "message_id"), asString(p, "emoji")), 0)
		})

		client.On("reaction.remove", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)

			fail(engine.Unreact(origin, asUint(p, "message_id"), asString(p, "emoji")), 0)
		})

		client.On("typing.start", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)

			engine.Typing(origin, asUint(p, "conversation_id"), true)
		})

		client.On("typing.stop", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)

			engine.Typing(origin, asUint(p, "conversation_id"), false)
		})

		client.On("call.offer", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)
			conversationID := asUint(p, "conversation_id")

			fail(arena.Initiate(callOrigin, conversationID, asString(p, "kind"), p["sdp"]), conversationID)
		})

		client.On("call.answer", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)

			arena.Accept(callOrigin, asUint(p, "conversation_id"), p["sdp"])
		})

		client.On("call.ice", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)

			arena.Ice(callOrigin, asUint(p, "conversation_id"), p["candidate"])
		})

		client.On("call.connected", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)

			arena.Connected(callOrigin, asUint(p, "conversation_id"))
		})

		client.On("call.decline", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)

			arena.Decline(callOrigin, asUint(p, "conversation_id"))
		})

		client.On("call.end", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)

			arena.End(callOrigin, asUint(p, "conversation_id"), asInt(p, "duration"))
		})

		client.On("call.toggle", func(args ...interface{}) {
			registry.Touch(connID)
			p := payload(args)

			arena.Toggle(callOrigin, asUint(p, "conversation_id"), p)
		})

		client.On("disconnect", func(args ...interface{}) {
			registry.Unregister(connID)
		})
	})
}

// payload extracts the object argument of a wire event. Clients send a single
// JSON object; anything else yields an empty map and the handler's own
// validation rejects the intent.
func payload(args []interface{}) map[string]interface{} {
	if len(args) == 0 {
		return map[string]interface{}{}
	}
	if m, ok := args[0].(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func asUint(m map[string]interface{}, key string) uint {
	switch v := m[key].(type) {
	case float64:
		if v < 0 {
			return 0
		}
		return uint(v)
	case int:
		if v < 0 {
			return 0
		}
		return uint(v)
	case int64:
		if v < 0 {
			return 0
		}
		return uint(v)
	}
	return 0
}

func asInt(m map[string]interface{}, key string) int {
	return int(asUint(m, key))
}

func asString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
