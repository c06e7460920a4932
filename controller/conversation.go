package controller

import (
	"errors"

	"conversation-service/store"

	"github.com/gofiber/fiber/v2"
)

func ConversationList(c *fiber.Ctx) error {
	conversations, err := engine.Conversations(userID(c))
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
		"data":    conversations,
	})
}

// ConversationDetail returns one conversation with the caller's unread count.
func ConversationDetail(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid conversation id",
			"data":    nil,
		})
	}

	conversation, err := engine.Conversation(userID(c), uint(id))
	if err != nil {
		if errors.Is(err, store.ErrNotAParticipant) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"status":  "error",
				"message": "Not a participant of the conversation",
				"data":    nil,
			})
		}
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"status":  "error",
				"message": "Conversation not found",
				"data":    nil,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Internal server error",
			"data":    nil,
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    conversation,
	})
}

func ConversationMessages(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid conversation id",
			"data":    nil,
		})
	}

	messages, err := engine.History(userID(c), uint(id), c.QueryInt("limit"), c.QueryInt("offset"))
	if err != nil {
		if errors.Is(err, store.ErrNotAParticipant) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"status":  "error",
				"message": "Not a participant of the conversation",
				"data":    nil,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Internal server error",
			"data":    nil,
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    messages,
	})
}

// ConversationPresence answers with the live presence of the caller's
// contacts; pollers use it as a fallback when the socket is down.
func ConversationPresence(c *fiber.Ctx) error {
	contacts, err := engine.Contacts(userID(c))
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
		"data":    registry.Snapshot(contacts),
	})
}
