package controller

import (
	"bufio"
	"encoding/json"
	"time"

	"conversation-service/notify"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

const heartbeatInterval = 30 * time.Second

// NotificationStream is the push channel for notification events. Every open
// starts with a connected greeting and a full snapshot, so a client that
// reconnects after a gap recovers without tracking offsets. A comment
// heartbeat keeps intermediaries from reaping the idle connection.
func NotificationStream(c *fiber.Ctx) error {
	id := userID(c)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		events, cancel := hub.Subscribe(id)
		defer cancel()

		if !writeEvent(w, notify.Event{
			Type:      "connected",
			Message:   "notification stream established",
			Timestamp: time.Now(),
		}) {
			return
		}

		snapshot, err := hub.Snapshot(id)
		if err == nil {
			if !writeEvent(w, notify.Event{
				Type:      "initial_data",
				Data:      snapshot,
				Timestamp: time.Now(),
			}) {
				return
			}
		}

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if !writeEvent(w, event) {
					return
				}
			case <-heartbeat.C:
				if _, err := w.WriteString(": heartbeat\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))

	return nil
}

// writeEvent frames one event and reports whether the client is still there.
func writeEvent(w *bufio.Writer, event notify.Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return true
	}
	if _, err := w.WriteString("data: " + string(data) + "\n\n"); err != nil {
		return false
	}
	return w.Flush() == nil
}

func NotificationList(c *fiber.Ctx) error {
	snapshot, err := hub.Snapshot(userID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Internal server error",
			"data":    nil,
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    snapshot,
	})
}

func NotificationRead(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid notification id",
			"data":    nil,
		})
	}

	if err := hub.MarkRead(uint(id), userID(c)); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Internal server error",
			"data":    nil,
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    nil,
	})
}

func NotificationReadAll(c *fiber.Ctx) error {
	if err := hub.MarkAllRead(userID(c)); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Internal server error",
			"data":    nil,
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    nil,
	})
}
