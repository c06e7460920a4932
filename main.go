package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"conversation-service/call"
	"conversation-service/config"
	"conversation-service/controller"
	"conversation-service/database"
	"conversation-service/event"
	"conversation-service/event/listener"
	"conversation-service/messenger"
	"conversation-service/model"
	"conversation-service/notify"
	"conversation-service/router"
	"conversation-service/session"
	"conversation-service/socketio"
	"conversation-service/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func durationConfig(key string, fallback time.Duration) time.Duration {
	seconds, err := strconv.Atoi(config.Config(key))
	if err != nil || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func main() {
	log.SetPrefix("conversation-service: ")

	rest := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		AppName:               "conversation-service",
	})

	rest.Use(cors.New())

	database.RedisConnect()
	database.PostgresConnect()

	event.RabbitMQConnect([]string{
		// Connect to queues
		"notifications",
		"calls",
	})

	st := store.NewGorm(database.Postgres)
	hub := notify.NewHub(st)

	// Run notifications listener
	go listener.Notifications(hub)

	// Subscribe listener channel to "notifications" events
	event.RabbitMQSubscribe([]event.RabbitMQSubscribeListener{
		{
			Queue:   "notifications",
			Channel: listener.NotificationsChannel,
		},
	})

	// Init event logs
	event.Init()

	socket := socketio.Init(rest)
	emitter := socketio.NewEmitter(socket)

	registry := session.NewRegistry(
		emitter,
		st,
		session.NewRedisLastSeen(database.Redis[0]),
		durationConfig("SESSION_LIVENESS_TIMEOUT", 60*time.Second),
	)

	engine := messenger.NewEngine(st, emitter, durationConfig("TYPING_EXPIRY", 5*time.Second))

	arena := call.NewArena(
		st,
		emitter,
		engine,
		durationConfig("CALL_RING_TIMEOUT", 45*time.Second),
		durationConfig("CALL_DISCONNECT_GRACE", 15*time.Second),
	)
	arena.Recorder = func(record model.CallRecord) {
		data, err := json.Marshal(record)
		if err != nil {
			return
		}
		event.Emit("calls", "call_finished", data, true)
	}

	// A user losing their last connection mid-call starts the disconnect
	// grace period; coming back in time cancels it.
	registry.OnOffline(arena.HandleDisconnect)
	registry.OnOnline(arena.HandleReconnect)

	stop := make(chan struct{})
	registry.StartSweeper(stop)

	controller.Init(hub, engine, registry)

	router.Rest(rest)
	router.Socket(socket, registry, engine, arena, st)

	go rest.Listen(fmt.Sprintf(":%s", config.Config("SERVER_PORT")))

	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	close(stop)
	socketio.Broadcast("server.shutdown", fiber.Map{"reconnect": true})
	socket.Close(nil)
	event.RabbitMQChannel.Close()
	event.RabbitMQConnection.Close()
	event.InLogFile.Close()
	event.OutLogFile.Close()
	os.Exit(0)
}
