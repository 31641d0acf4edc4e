package auth

import (
	"net/http"
	"strings"

	apperrors "bytechat_go_backend/internal/errors"
	"bytechat_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func SetupRoutes(r *gin.Engine, verifier *GoogleVerifier, userService services.UserStore) {
	auth := r.Group("/auth")
	{
		auth.POST("/google", googleAuthHandler(verifier, userService))
		auth.GET("/user", AuthMiddleware(verifier, userService), getUser)
	}
}

// AuthMiddleware verifies the caller's bearer token and stashes the
// get-or-created account in the context. WebSocket upgrade requests carry
// the token in a query parameter instead of the Authorization header.
func AuthMiddleware(verifier *GoogleVerifier, userService services.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string

		if websocket.IsWebSocketUpgrade(c.Request) {
			token = c.Query("token")
		} else {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
				c.Abort()
				return
			}

			bearerToken := strings.Split(authHeader, " ")
			if len(bearerToken) != 2 {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
				c.Abort()
				return
			}
			token = bearerToken[1]
		}

		info, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
			c.Abort()
			return
		}

		user, err := userService.GetOrCreateUser(c.Request.Context(), info.Email, info.Name, info.Picture)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process user information"})
			c.Abort()
			return
		}

		c.Set("user", user)
		c.Set("access_token", token)
		c.Next()
	}
}

// googleAuthHandler verifies a Google access token posted by the frontend
// and returns the caller's account, creating it with the default allotment
// on first sight.
func googleAuthHandler(verifier *GoogleVerifier, userService services.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			AccessToken string `json:"access_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}

		info, err := verifier.Verify(c.Request.Context(), request.AccessToken)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		user, err := userService.GetOrCreateUser(c.Request.Context(), info.Email, info.Name, info.Picture)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		c.JSON(http.StatusOK, user)
	}
}

func getUser(c *gin.Context) {
	user, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found in context"})
		return
	}
	c.JSON(http.StatusOK, user)
}
