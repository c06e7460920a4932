package socketio

import (
	"context"
	"fmt"
	"time"

	"conversation-service/config"
	"conversation-service/database"
	"conversation-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/zishang520/engine.io/v2/log"
	"github.com/zishang520/socket.io-go-redis/adapter"
	r_type "github.com/zishang520/socket.io-go-redis/types"
	"github.com/zishang520/socket.io/v2/socket"
)

var server *socket.Server

func Init(app *fiber.App) *socket.Server {
	log.DEBUG = config.Config("SOCKET_DEBUG") == "true"

	options := socket.DefaultServerOptions()
	options.SetServeClient(true)
	options.SetAllowEIO3(true)
	options.SetPingInterval(25 * time.Second)
	options.SetPingTimeout(20 * time.Second)
	options.SetMaxHttpBufferSize(100000000)
	options.SetConnectTimeout(10 * time.Second)
	options.SetAdapter(&adapter.RedisAdapterBuilder{
		Redis: r_type.NewRedisClient(context.Background(), database.Redis[1]),
		Opts:  &adapter.RedisAdapterOptions{},
	})

	server = socket.NewServer(nil, nil)

	server.Use(func(client *socket.Socket, next func(*socket.ExtendedError)) {
		token, ok := client.Conn().Request().Query().Get("token")
		if !ok {
			next(socket.NewExtendedError("authentication required", nil))
			return
		}

		claims, err := utils.CheckAndExtractTokenMetadata(token, "JWT_ACCESS_KEY")
		if err != nil {
			next(socket.NewExtendedError("invalid token", nil))
			return
		}

		client.Join(UserRoom(claims.UserID()))
		client.SetData(claims)
		next(nil)
	})

	app.Get("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))
	app.Post("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))

	return server
}

// UserRoom is the per-user room every authenticated connection joins on
// handshake; events addressed to a user reach all their devices.
func UserRoom(userID uint) socket.Room {
	return socket.Room(fmt.Sprintf("user:%d", userID))
}

// ConversationRoom is the live fan-out group for one conversation.
func ConversationRoom(conversationID uint) socket.Room {
	return socket.Room(fmt.Sprintf("conversation:%d", conversationID))
}

// Emitter adapts the socket server to the fan-out interfaces the engines
// consume.
type Emitter struct {
	server *socket.Server
}

func NewEmitter(s *socket.Server) *Emitter {
	return &Emitter{server: s}
}

func (e *Emitter) ToUser(userID uint, event string, payload any) {
	e.server.To(UserRoom(userID)).Emit(event, payload)
}

func (e *Emitter) ToConversation(conversationID uint, event string, payload any) {
	e.server.To(ConversationRoom(conversationID)).Emit(event, payload)
}

// ToConversationExcept fans out to every joined connection in the room except
// the origin; each socket is a member of the room named by its own id.
func (e *Emitter) ToConversationExcept(conversationID uint, exceptConnID string, event string, payload any) {
	e.server.To(ConversationRoom(conversationID)).Except(socket.Room(exceptConnID)).Emit(event, payload)
}

func (e *Emitter) ToConn(connID string, event string, payload any) {
	e.server.To(socket.Room(connID)).Emit(event, payload)
}

// Broadcast sends an event to every connected socket.
func Broadcast(event string, message any) {
	server.FetchSockets()(func(sockets []*socket.RemoteSocket, _ error) {
		for _, socket := range sockets {
			socket.Emit(event, message)
		}
	})
}
