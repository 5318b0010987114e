// Package gateway talks to an OpenAI-compatible chat completion endpoint.
// It returns raw assistant text and classifies failures so callers can
// decide between retrying and surfacing a fatal error.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/svaboev-coder/collecting-contacts/internal/models"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	maxBodySnippet     = 256
)

// Config carries the provider connection settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	Temperature float64
	MaxTokens   int
}

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client issues completion calls. It holds no state between calls.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	timeout     time.Duration
	maxAttempts int
	temperature float64
	maxTokens   int
	client      httpDoer
	logger      *zap.SugaredLogger
}

// NewClient constructs a Client from cfg.
func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       strings.TrimSpace(cfg.Model),
		timeout:     timeout,
		maxAttempts: attempts,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &http.Client{},
		logger:      logger,
	}
}

// Complete replays the transcript verbatim to the provider with instruction
// as the system message and returns the raw assistant text. Transient
// failures (rate limit, timeout, unavailable) are retried with exponential
// backoff up to the configured attempt bound; Unauthorized is returned
// immediately.
func (c *Client) Complete(ctx context.Context, transcript []models.ConversationTurn, instruction string) (string, error) {
	if len(transcript) == 0 {
		return "", fmt.Errorf("gateway: transcript must not be empty")
	}

	msgs := make([]chatMessage, 0, len(transcript)+1)
	msgs = append(msgs, chatMessage{Role: "system", Content: instruction})
	for _, turn := range transcript {
		role := strings.TrimSpace(turn.Role)
		if role == "" {
			role = "user"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: turn.Text})
	}

	payload := chatAPIRequest{
		Model:    c.model,
		Messages: msgs,
	}
	if c.temperature > 0 {
		payload.Temperature = c.temperature
	}
	if c.maxTokens > 0 {
		payload.MaxTokens = c.maxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gateway: marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		text, err := c.attempt(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var gwErr *Error
		if errors.As(err, &gwErr) && !gwErr.Retryable() {
			return "", err
		}
		if attempt == c.maxAttempts-1 {
			break
		}

		wait := time.Duration(1<<attempt) * time.Second
		if errors.As(err, &gwErr) && gwErr.RetryAfter > 0 {
			wait = gwErr.RetryAfter
		}
		c.logger.Debugf("completion attempt %d failed, retrying in %s: %v", attempt+1, wait, err)

		select {
		case <-ctx.Done():
			return "", classifyContextErr(ctx.Err())
		case <-time.After(wait):
		}
	}

	return "", fmt.Errorf("gateway: completion failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, body []byte) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/chat/completions"
	request, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gateway: create request: %w", err)
	}

	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return "", classifyTransportErr(err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return "", classifyTransportErr(err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", classifyStatus(response, respBody)
	}

	var apiResp chatAPIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("gateway: decode response: %w", err)
	}

	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return "", &Error{Kind: KindUnavailable, Message: apiResp.Error.Message}
	}

	if len(apiResp.Choices) == 0 {
		return "", &Error{Kind: KindUnavailable, Message: "response contained no choices"}
	}

	return apiResp.Choices[0].Message.Content, nil
}

func classifyStatus(response *http.Response, body []byte) error {
	message := decodeErrorMessage(body)
	if message == "" {
		message = strings.TrimSpace(string(body))
		if len(message) > maxBodySnippet {
			message = message[:maxBodySnippet]
		}
	}
	if message == "" {
		message = http.StatusText(response.StatusCode)
	}

	gwErr := &Error{StatusCode: response.StatusCode, Message: message}
	switch {
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		gwErr.Kind = KindUnauthorized
	case response.StatusCode == http.StatusTooManyRequests:
		gwErr.Kind = KindRateLimited
		gwErr.RetryAfter = parseRetryAfter(response.Header.Get("Retry-After"))
	case response.StatusCode == http.StatusRequestTimeout || response.StatusCode == http.StatusGatewayTimeout:
		gwErr.Kind = KindTimeout
	default:
		gwErr.Kind = KindUnavailable
	}
	return gwErr
}

func classifyTransportErr(err error) error {
	if classified := classifyContextErr(err); classified != err {
		return classified
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: err.Error()}
	}

	return &Error{Kind: KindUnavailable, Message: err.Error()}
}

func classifyContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		// Cancellation is the caller's doing, not a provider failure.
		return err
	}
	return err
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func decodeErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var envelope struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return ""
	}
	return strings.TrimSpace(envelope.Error.Message)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatAPIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatAPIChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatAPIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type chatAPIResponse struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Created int64           `json:"created"`
	Choices []chatAPIChoice `json:"choices"`
	Error   *chatAPIError   `json:"error,omitempty"`
}
