// Package llm provides the remote model client used by the workflow engine.
//
// The client speaks the chat-completions wire format: an ordered list of
// role/content messages plus model, max_tokens and temperature, returning
// generated text and token usage. Transport failures are retried exactly
// once with no back-off; non-2xx responses surface immediately as an
// api.APIError carrying the status code and body.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haikala/weft/pkg/api"
)

const (
	chatCompletionsPath = "/chat/completions"

	contentTypeHeader   = "Content-Type"
	applicationJSON     = "application/json"
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "

	// requestTimeout bounds both connect and read for a single request.
	requestTimeout = 30 * time.Second

	// transportAttempts is the total number of tries for one Generate call:
	// the initial request plus a single immediate re-attempt.
	transportAttempts = 2
)

// Message is one chat message in a generation request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result holds the outcome of one successful generation call.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Latency      time.Duration
}

// TotalTokens returns the combined prompt and completion token count.
func (r *Result) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Client generates text from a remote model endpoint.
type Client interface {
	Generate(ctx context.Context, messages []Message, model string, maxTokens int, temperature float64) (*Result, error)
}

// Config carries everything an HTTPClient needs at construction time.
// There is no process-wide settings object; callers build a Config and
// inject it.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.getunbound.ai/v1".
	// The chat-completions path is appended to it.
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// Prices overrides the default per-model price table when non-nil.
	Prices PriceTable

	// HTTPClient overrides the default 30s-timeout client when non-nil.
	// Tests use this to point at an httptest server with short timeouts.
	HTTPClient *http.Client
}

// HTTPClient is the production Client implementation.
type HTTPClient struct {
	baseURL string
	apiKey  string
	prices  PriceTable
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient from the given config.
func NewHTTPClient(cfg Config) *HTTPClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	prices := cfg.Prices
	if prices == nil {
		prices = DefaultPrices
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		prices:  prices,
		http:    httpClient,
	}
}

// Wire structures for the chat-completions endpoint.

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Message Message `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Generate sends one chat-completion request.
//
// Errors are classified into exactly three kinds: api.TransportError when
// the endpoint is unreachable even after the single retry, api.APIError for
// any non-2xx response, and a plain wrapped error for anything else (such
// as an unparseable response body).
func (c *HTTPClient) Generate(ctx context.Context, messages []Message, model string, maxTokens int, temperature float64) (*Result, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := c.baseURL + chatCompletionsPath
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < transportAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set(contentTypeHeader, applicationJSON)
		if c.apiKey != "" {
			req.Header.Set(authorizationHeader, bearerPrefix+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Connection refused, reset and timeout all surface here.
			// One immediate re-attempt, no back-off.
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, api.NewAPIError(resp.StatusCode, string(body))
		}

		latency := time.Since(start)

		var decoded chatResponse
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}

		text := ""
		if len(decoded.Choices) > 0 {
			text = decoded.Choices[0].Message.Content
		}

		in := decoded.Usage.PromptTokens
		out := decoded.Usage.CompletionTokens

		return &Result{
			Text:         text,
			InputTokens:  in,
			OutputTokens: out,
			CostUSD:      c.prices.Cost(model, in, out),
			Latency:      latency,
		}, nil
	}

	return nil, api.NewTransportError(lastErr)
}
