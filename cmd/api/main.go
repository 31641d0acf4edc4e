package main

import (
	"log"
	"net/http"
	"time"

	"bytechat_go_backend/cmd/api/config"
	"bytechat_go_backend/internal/api"
	"bytechat_go_backend/internal/auth"
	"bytechat_go_backend/internal/database"
	"bytechat_go_backend/internal/services"
	"bytechat_go_backend/internal/wsocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.NewConfig()
	if cfg.OpenRouterAPIKey == "" {
		log.Fatal("OPENROUTER_API_KEY is not set in the environment")
	}

	database.InitDB()

	// External collaborators
	verifier := auth.NewGoogleVerifier()
	var openRouterClient *services.OpenRouterClient
	if cfg.OpenRouterBaseURL != "" {
		openRouterClient = services.NewOpenRouterClientWithURL(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL)
	} else {
		openRouterClient = services.NewOpenRouterClient(cfg.OpenRouterAPIKey)
	}
	gmailService := services.NewGmailService()

	// Internal services
	userService := services.NewUserService(database.DB)
	streamChatService := services.NewStreamChatService(verifier, userService, openRouterClient, cfg.DefaultModel)

	r := gin.Default()

	// CORS middleware configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// WebSocket upgrader
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // TODO: Implement a more secure check in production
		},
	}

	wsHandler := wsocket.NewHandler(streamChatService, upgrader)

	api.SetupRoutes(r, streamChatService, userService, gmailService, verifier)
	auth.SetupRoutes(r, verifier, userService)

	// WebSocket chat transport
	r.GET("/ws/chat", auth.AuthMiddleware(verifier, userService), func(c *gin.Context) {
		user, _ := c.Get("user")
		wsHandler.HandleWebSocket(c.Writer, c.Request, user)
	})

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
