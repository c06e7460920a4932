package controller

import (
	"strconv"

	"conversation-service/messenger"
	"conversation-service/notify"
	"conversation-service/session"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var (
	hub      *notify.Hub
	engine   *messenger.Engine
	registry *session.Registry
)

// Init hands the controllers their collaborators. Called once from main.
func Init(h *notify.Hub, e *messenger.Engine, r *session.Registry) {
	hub = h
	engine = e
	registry = r
}

func userID(c *fiber.Ctx) uint {
	user := c.Locals("user").(*jwt.Token)
	claims := user.Claims.(jwt.MapClaims)
	raw, _ := claims["id"].(string)
	id, _ := strconv.ParseUint(raw, 10, 64)
	return uint(id)
}
