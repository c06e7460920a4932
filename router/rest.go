package router

import (
	"conversation-service/controller"
	"conversation-service/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

func Rest(app *fiber.App) {
	api := app.Group("/v1", logger.New())

	// Conversations
	conversation := api.Group("/conversations", middleware.JWT())
	conversation.Get("/", controller.ConversationList)
	conversation.Get("/presence", controller.ConversationPresence)
	conversation.Get("/:id", controller.ConversationDetail)
	conversation.Get("/:id/messages", controller.ConversationMessages)

	// Notifications
	notification := api.Group("/notifications", middleware.JWT())
	notification.Get("/stream", controller.NotificationStream)
	notification.Get("/", controller.NotificationList)
	notification.Post("/:id/read", controller.NotificationRead)
	notification.Post("/read-all", controller.NotificationReadAll)
}
