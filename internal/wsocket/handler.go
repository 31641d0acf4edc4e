package wsocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	apperrors "bytechat_go_backend/internal/errors"
	"bytechat_go_backend/internal/models"
	"bytechat_go_backend/internal/services"

	"github.com/gorilla/websocket"
)

// Handler serves the websocket chat transport. Each inbound request message
// runs the same streaming accounting proxy as the SSE endpoint; every event
// payload (provider frames, the token_update frame, the [DONE] sentinel) is
// relayed as one text message, so both transports deliver the identical
// sequence.
type Handler struct {
	streamChatService *services.StreamChatService
	upgrader          websocket.Upgrader
}

// chatMessage is one inbound websocket request. The access token already
// arrived as a query parameter and was verified by the auth middleware.
type chatMessage struct {
	Messages    []services.ChatMessage `json:"messages"`
	Model       string                 `json:"model"`
	Temperature *float64               `json:"temperature"`
	MaxTokens   int                    `json:"max_tokens"`
}

func NewHandler(streamChatService *services.StreamChatService, upgrader websocket.Upgrader) *Handler {
	return &Handler{
		streamChatService: streamChatService,
		upgrader:          upgrader,
	}
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request, user interface{}) {
	account, ok := user.(*models.User)
	if !ok {
		http.Error(w, "No authenticated user", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading connection: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("Error reading message: %v", err)
			break
		}

		var msg chatMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.writeError(conn, "Invalid chat request")
			continue
		}
		if len(msg.Messages) == 0 {
			h.writeError(conn, "Messages should be a non-empty array")
			continue
		}

		// Pointer so an explicit 0 survives, same semantics as the SSE path.
		temperature := 0.7
		if msg.Temperature != nil {
			temperature = *msg.Temperature
		}

		// The balance moves between messages on a long-lived connection, so
		// the quota gate runs again for each request.
		current, err := h.streamChatService.CheckQuota(ctx, &services.UserInfo{
			Email:   account.Email,
			Name:    account.Name,
			Picture: account.Picture,
		})
		if err != nil {
			if errors.Is(err, apperrors.ErrQuotaExhausted) {
				h.writeError(conn, "Insufficient tokens remaining")
			} else {
				h.writeError(conn, "Failed to load account")
			}
			continue
		}

		sink := &wsSink{ctx: ctx, conn: conn}
		h.streamChatService.Relay(ctx, current, services.ChatRequest{
			Model:       msg.Model,
			Messages:    msg.Messages,
			Temperature: temperature,
			MaxTokens:   msg.MaxTokens,
			Stream:      true,
		}, sink)
	}
}

func (h *Handler) writeError(conn *websocket.Conn, message string) {
	payload, _ := json.Marshal(map[string]string{"error": message})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("Error sending error message: %v", err)
	}
}

// wsSink relays each event payload as one text message.
type wsSink struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (s *wsSink) Send(data []byte) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
