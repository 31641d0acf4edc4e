package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	apperrors "bytechat_go_backend/internal/errors"
	"bytechat_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// UserInfo is the canonical identity produced by token verification.
type UserInfo struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	VerifiedEmail bool   `json:"verified_email"`
}

// TokenVerifier resolves an opaque bearer token to a user identity or fails
// with ErrUnauthorized.
type TokenVerifier interface {
	Verify(ctx context.Context, accessToken string) (*UserInfo, error)
}

// EventSink receives downstream events, one payload per call. The payload is
// either a verbatim provider frame, a synthetic JSON event, or the literal
// [DONE] sentinel; the transport (SSE, websocket) owns the framing. Send
// returns an error once the client is gone.
type EventSink interface {
	Send(data []byte) error
}

// DoneSentinel terminates every downstream stream.
const DoneSentinel = "[DONE]"

// StreamChatService gates a chat request on verification and remaining
// quota, relays the provider stream to the caller frame by frame, and
// settles the user's balance exactly once when the stream ends.
type StreamChatService struct {
	verifier     TokenVerifier
	users        UserStore
	relay        RelayOpener
	defaultModel string
}

func NewStreamChatService(verifier TokenVerifier, users UserStore, relay RelayOpener, defaultModel string) *StreamChatService {
	return &StreamChatService{
		verifier:     verifier,
		users:        users,
		relay:        relay,
		defaultModel: defaultModel,
	}
}

// Authorize runs the pre-stream gates: token verification, account
// get-or-create, and the quota check. It fails fast with ErrQuotaExhausted
// before any upstream connection is opened, so an exhausted user never
// incurs provider cost.
func (s *StreamChatService) Authorize(ctx context.Context, accessToken string) (*models.User, error) {
	info, err := s.verifier.Verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	return s.CheckQuota(ctx, info)
}

// CheckQuota refreshes the caller's account and applies the quota gate. The
// websocket transport reuses it per request message, since a long-lived
// connection outlives the balance it was admitted with.
func (s *StreamChatService) CheckQuota(ctx context.Context, info *UserInfo) (*models.User, error) {
	user, err := s.users.GetOrCreateUser(ctx, info.Email, info.Name, info.Picture)
	if err != nil {
		return nil, err
	}

	if user.TokensLeft <= 0 {
		return nil, fmt.Errorf("no tokens left for %s: %w", user.Email, apperrors.ErrQuotaExhausted)
	}
	return user, nil
}

// Relay opens the upstream stream and forwards every frame to the sink in
// arrival order with no buffering beyond the frame itself. Non-zero usage
// snapshots observed mid-stream overwrite each other (the provider reports
// cumulative counts), and once the stream terminates, however it terminates, the last
// snapshot is reconciled against the ledger exactly once, off the
// forwarding path. The sink always sees a deterministic close.
func (s *StreamChatService) Relay(ctx context.Context, user *models.User, req ChatRequest, sink EventSink) {
	if req.Model == "" {
		req.Model = s.defaultModel
	}
	req.Stream = true

	logger := log.With().
		Str("request_id", uuid.NewString()).
		Str("email", user.Email).
		Str("model", req.Model).
		Logger()

	stream, err := s.relay.OpenStream(ctx, req)
	if err != nil {
		// Pre-stream failure: nothing was consumed, nothing to settle.
		logger.Warn().Err(err).Msg("failed to open upstream stream")
		s.sendError(sink, upstreamMessage(err))
		return
	}
	defer stream.Close()

	var usage Usage
	clientGone := false

	for {
		frame, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Mid-stream failure: the HTTP status is already committed, so
			// the error travels in-band. Partial consumption still settles.
			logger.Warn().Err(err).Msg("upstream stream failed mid-flight")
			s.sendError(sink, upstreamMessage(err))
			break
		}

		// Latest non-zero total wins; an all-zero snapshot never erases an
		// earlier observation.
		if frame.Usage != nil && frame.Usage.Total() > 0 {
			usage = *frame.Usage
		}
		if err := sink.Send(frame.Raw); err != nil {
			// The caller walked away; stop forwarding but keep the observed
			// usage so the partial stream is still billed.
			logger.Debug().Err(err).Msg("client disconnected mid-stream")
			clientGone = true
			break
		}
	}

	s.settle(ctx, user, usage.Total(), sink, clientGone, logger)
}

// settle performs the single end-of-stream ledger reconciliation and emits
// the trailing accounting frame plus the terminal sentinel.
func (s *StreamChatService) settle(ctx context.Context, user *models.User, consumed int64, sink EventSink, clientGone bool, logger zerolog.Logger) {
	// Reconciliation must survive downstream cancellation: billed usage is
	// not lost because the caller hung up.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	tokensLeft, err := s.users.ReconcileUsage(rctx, user.Email, consumed)
	if err != nil {
		logger.Error().Err(err).Int64("consumed", consumed).Msg("usage reconciliation failed, charge not applied")
		if !clientGone {
			s.sendError(sink, "Failed to update token balance")
			_ = sink.Send([]byte(DoneSentinel))
		}
		return
	}

	logger.Info().
		Int64("consumed", consumed).
		Int64("tokens_left", tokensLeft).
		Msg("stream settled")

	if clientGone {
		return
	}

	update, _ := json.Marshal(map[string]interface{}{
		"type":        "token_update",
		"tokens_left": tokensLeft,
		"tokens_used": consumed,
	})
	if err := sink.Send(update); err != nil {
		return
	}
	_ = sink.Send([]byte(DoneSentinel))
}

func (s *StreamChatService) sendError(sink EventSink, message string) {
	payload, _ := json.Marshal(map[string]string{"error": message})
	_ = sink.Send(payload)
}

func upstreamMessage(err error) string {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		switch {
		case upErr.Timeout:
			return "Request timeout"
		case upErr.StatusCode != 0:
			return fmt.Sprintf("OpenRouter API error: %s", upErr.Body)
		}
	}
	return fmt.Sprintf("Stream error: %v", err)
}
