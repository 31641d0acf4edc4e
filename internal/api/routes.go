package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"bytechat_go_backend/internal/auth"
	apperrors "bytechat_go_backend/internal/errors"
	"bytechat_go_backend/internal/services"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, streamChatService *services.StreamChatService, userService services.UserStore, gmailService *services.GmailService, verifier *auth.GoogleVerifier) {
	r.POST("/stream-chat", streamChatHandler(streamChatService))

	api := r.Group("/api")
	{
		api.GET("/users", listUsersHandler(userService))
		api.GET("/emails", auth.AuthMiddleware(verifier, userService), listEmailsHandler(gmailService))
	}
}

// streamChatRequest is the inbound chat body. The bearer token travels in
// the body because the frontend fires this request straight from the chat
// box, mirroring the auth endpoint's shape.
type streamChatRequest struct {
	AccessToken string                 `json:"access_token" binding:"required"`
	Messages    []services.ChatMessage `json:"messages" binding:"required,min=1"`
	Model       string                 `json:"model"`
	Temperature *float64               `json:"temperature"`
	MaxTokens   int                    `json:"max_tokens"`
	Stream      *bool                  `json:"stream"`
}

func streamChatHandler(streamChatService *services.StreamChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request streamChatRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}
		if request.Stream != nil && !*request.Stream {
			apperrors.HandleError(c, apperrors.New400Error("this endpoint only supports stream: true"))
			return
		}

		// Verification and the quota gate both happen before the response
		// commits, so these failures still get real HTTP status codes.
		user, err := streamChatService.Authorize(c.Request.Context(), request.AccessToken)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		temperature := 0.7
		if request.Temperature != nil {
			temperature = *request.Temperature
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)
		c.Writer.Flush()

		sink := &sseSink{ctx: c.Request.Context(), w: c.Writer}
		streamChatService.Relay(c.Request.Context(), user, services.ChatRequest{
			Model:       request.Model,
			Messages:    request.Messages,
			Temperature: temperature,
			MaxTokens:   request.MaxTokens,
			Stream:      true,
		}, sink)
	}
}

// sseSink writes one `data:` event per payload and flushes immediately, so
// the caller observes the same pacing as the upstream provider.
type sseSink struct {
	ctx context.Context
	w   gin.ResponseWriter
}

func (s *sseSink) Send(data []byte) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func listUsersHandler(userService services.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := userService.ListUsers(c.Request.Context())
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"count":   len(users),
			"users":   users,
		})
	}
}

func listEmailsHandler(gmailService *services.GmailService) gin.HandlerFunc {
	return func(c *gin.Context) {
		maxResults := int64(10)
		if raw := c.Query("max_results"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed < 1 {
				apperrors.HandleError(c, apperrors.New400Error("invalid max_results value"))
				return
			}
			maxResults = parsed
		}

		accessToken := c.GetString("access_token")
		previews, err := gmailService.ListRecentMessages(c.Request.Context(), accessToken, maxResults)
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"count":   len(previews),
			"emails":  previews,
		})
	}
}
