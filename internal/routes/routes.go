package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GleciaGaba/GYMCOACH/internal/config"
	"github.com/GleciaGaba/GYMCOACH/internal/handlers"
	"github.com/GleciaGaba/GYMCOACH/internal/middleware"
	"github.com/GleciaGaba/GYMCOACH/internal/repository"
	"github.com/GleciaGaba/GYMCOACH/internal/router"
	"github.com/GleciaGaba/GYMCOACH/internal/services"
)

func RegisterRoutes(
	app *fiber.App,
	cfg *config.Config,
	db *pgxpool.Pool,
	hub *router.Hub,
	presence router.PresenceStore,
) error {
	userRepo := repository.NewUserRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	chatService := services.NewChatService(db, conversationRepo, messageRepo, userRepo)
	chatHandler := handlers.NewChatHandler(chatService, hub, presence, cfg.JWTSecret)
	authHandler := handlers.NewAuthHandler(userRepo, cfg.JWTSecret)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	chat := api.Group("/chat", middleware.AuthRequired(cfg.JWTSecret))
	chat.Get("/conversations", chatHandler.ListConversations)
	chat.Get("/conversation/:otherUserId", chatHandler.GetConversation)
	chat.Post("/send", chatHandler.SendMessage)
	chat.Put("/conversation/:id/read", chatHandler.MarkConversationRead)
	chat.Get("/unread-count", chatHandler.UnreadCount)

	app.Use("/ws", chatHandler.WebSocketAuth)
	app.Get("/ws", websocket.New(chatHandler.HandleWebSocket))

	return registerDocsRoutes(app, cfg)
}
