package gateway

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"marketplace_chat/internal/chat/domain"
	"marketplace_chat/pkg/middlewares"
)

type createConversationReq struct {
	CustomerID   int64  `json:"customer_id"`
	ProviderID   int64  `json:"provider_id"`
	CustomerName string `json:"customer_name"`
	ProviderName string `json:"provider_name"`
}

// RegisterRoutes mounts the REST history endpoints and the websocket
// upgrade path. Every route sits behind the JWT middleware.
func RegisterRoutes(ctx context.Context, app *fiber.App, store *Store, handler *WSHandler) {
	api := app.Group("/api", middlewares.JWTMiddleware())

	api.Post("/conversations", func(c *fiber.Ctx) error {
		var req createConversationReq
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "malformed body",
			})
		}
		if req.CustomerID <= 0 || req.ProviderID <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "customer_id and provider_id are required",
			})
		}

		userID, _ := c.Locals(middlewares.TokenUserID).(int64)
		if userID != req.CustomerID && userID != req.ProviderID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "caller is not a participant",
			})
		}

		// The caller's own side gets the authenticated display name,
		// the counterpart keeps whatever the frontend passed along.
		callerName, _ := c.Locals(middlewares.TokenName).(string)
		if userID == req.CustomerID {
			req.CustomerName = callerName
		} else {
			req.ProviderName = callerName
		}

		conv, created := store.GetOrCreate(
			domain.Participant{ID: req.CustomerID, Name: req.CustomerName},
			domain.Participant{ID: req.ProviderID, Name: req.ProviderName},
		)
		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(conv)
	})

	api.Get("/conversations", func(c *fiber.Ctx) error {
		userID, _ := c.Locals(middlewares.TokenUserID).(int64)
		return c.JSON(store.ListFor(userID))
	})

	api.Get("/conversations/:id/messages", func(c *fiber.Ctx) error {
		convID, err := c.ParamsInt("id")
		if err != nil || convID <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid conversation id",
			})
		}

		conv, ok := store.Get(int64(convID))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "conversation not found",
			})
		}
		userID, _ := c.Locals(middlewares.TokenUserID).(int64)
		if !conv.HasParticipant(userID) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "caller is not a participant",
			})
		}

		limit := c.QueryInt("limit", 50)
		if page := c.QueryInt("page", 0); page > 0 {
			msgs, total := store.MessagesPage(int64(convID), page, limit)
			return c.JSON(fiber.Map{
				"messages": msgs,
				"page":     page,
				"limit":    limit,
				"total":    total,
			})
		}
		return c.JSON(store.Messages(int64(convID), limit))
	})

	api.Put("/conversations/:id/messages/:mid", func(c *fiber.Ctx) error {
		convID, err := c.ParamsInt("id")
		msgID, err2 := c.ParamsInt("mid")
		if err != nil || err2 != nil || convID <= 0 || msgID <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid ids",
			})
		}

		var req struct {
			Content string `json:"content"`
		}
		if err := c.BodyParser(&req); err != nil || req.Content == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "content is required",
			})
		}

		userID, _ := c.Locals(middlewares.TokenUserID).(int64)
		msg, ok := store.UpdateMessage(int64(convID), int64(msgID), userID, req.Content)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "message not found or not yours",
			})
		}

		handler.NotifyMessageUpdated(msg)
		return c.JSON(msg)
	})

	api.Delete("/conversations/:id/messages/:mid", func(c *fiber.Ctx) error {
		convID, err := c.ParamsInt("id")
		msgID, err2 := c.ParamsInt("mid")
		if err != nil || err2 != nil || convID <= 0 || msgID <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid ids",
			})
		}

		userID, _ := c.Locals(middlewares.TokenUserID).(int64)
		if !store.DeleteMessage(int64(convID), int64(msgID), userID) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "message not found or not yours",
			})
		}

		handler.NotifyMessageDeleted(int64(convID), int64(msgID))
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Use("/ws", middlewares.JWTMiddleware(), func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})

	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		handler.HandleConnection(ctx, conn)
	}))
}
