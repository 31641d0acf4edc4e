package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1/chat/completions"

// streamTimeout bounds the whole upstream connection, headers through last
// byte.
const streamTimeout = 60 * time.Second

// ChatMessage is one role-tagged message. Content is either a plain string
// or a structured multi-part content list; it is forwarded to the provider
// untouched.
type ChatMessage struct {
	Role    string      `json:"role" binding:"required"`
	Content interface{} `json:"content" binding:"required"`
}

// ChatRequest is the provider-facing completion request.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Usage is the provider's self-reported token consumption. Within one stream
// the counts are cumulative-to-date, so later snapshots supersede earlier
// ones.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Total returns the billable total, falling back to prompt+completion when
// the provider omits total_tokens.
func (u Usage) Total() int64 {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// RelayFrame is one upstream event. Raw is the verbatim JSON payload to
// forward downstream; Usage is non-nil when the frame carried a usage
// summary.
type RelayFrame struct {
	Raw   json.RawMessage
	Usage *Usage
}

// UpstreamError reports a failed provider call: a non-success initial
// status (Body carries the provider's error body), a read timeout, or a
// broken connection mid-stream.
type UpstreamError struct {
	StatusCode int
	Body       string
	Timeout    bool
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return "upstream read timeout"
	case e.StatusCode != 0:
		return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("upstream stream error: %v", e.Err)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RelayStream is a finite, forward-only sequence of provider frames backed
// by one live connection.
type RelayStream interface {
	// Recv blocks for the next well-formed frame. Malformed frames are
	// skipped, the [DONE] sentinel (or natural end of stream) yields io.EOF,
	// and transport failures yield *UpstreamError.
	Recv() (*RelayFrame, error)
	Close() error
}

// RelayOpener opens a streaming completion request.
type RelayOpener interface {
	OpenStream(ctx context.Context, req ChatRequest) (RelayStream, error)
}

// OpenRouterClient talks to an OpenAI-compatible chat completion endpoint.
type OpenRouterClient struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func NewOpenRouterClient(apiKey string) *OpenRouterClient {
	return NewOpenRouterClientWithURL(apiKey, defaultOpenRouterURL)
}

func NewOpenRouterClientWithURL(apiKey, baseURL string) *OpenRouterClient {
	return &OpenRouterClient{
		client:  &http.Client{Timeout: streamTimeout},
		apiKey:  apiKey,
		baseURL: baseURL,
	}
}

// OpenStream POSTs the completion request and hands back the live event
// stream. A non-success initial status fails the whole sequence with
// *UpstreamError carrying the provider's error body.
func (c *OpenRouterClient) OpenStream(ctx context.Context, req ChatRequest) (RelayStream, error) {
	req.Stream = true

	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("failed to marshal request body: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("HTTP-Referer", "https://bytechat.ai")
	httpReq.Header.Set("X-Title", "ByteChat")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &relayStream{body: resp.Body, scanner: scanner}, nil
}

type relayStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *relayStream) Recv() (*RelayFrame, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		// Providers delimit events with a line-oriented data marker; anything
		// else (comments, blank keep-alives) is not a frame.
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimSpace(line[6:])
		if data == "[DONE]" {
			return nil, io.EOF
		}

		frame, ok := parseFrame(data)
		if !ok {
			// One corrupt frame must not abort an otherwise-healthy stream.
			continue
		}
		return frame, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, classifyTransportError(err)
	}
	return nil, io.EOF
}

func (s *relayStream) Close() error {
	return s.body.Close()
}

func parseFrame(data string) (*RelayFrame, bool) {
	var payload struct {
		Usage *Usage `json:"usage"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, false
	}
	// The scanner reuses its buffer between lines; the frame needs its own
	// copy.
	raw := append(json.RawMessage(nil), data...)
	return &RelayFrame{Raw: raw, Usage: payload.Usage}, true
}

func classifyTransportError(err error) *UpstreamError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &UpstreamError{Timeout: true, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{Timeout: true, Err: err}
	}
	return &UpstreamError{Err: err}
}
