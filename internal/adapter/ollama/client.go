// Package ollama provides the HTTP client for the Ollama generation backend.
package ollama

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

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Upstream error classes. Callers match with errors.Is; the raw cause is
// preserved in the error message only.
var (
	ErrTimeout     = errors.New("ollama: deadline exceeded")
	ErrUnavailable = errors.New("ollama: backend unavailable")
	ErrMalformed   = errors.New("ollama: malformed backend response")
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultStreamTimeout  = 5 * time.Minute
	defaultHealthTimeout  = 5 * time.Second

	defaultTemperature = 0.7
	defaultMaxTokens   = 2048
	defaultTopP        = 0.9
	defaultTopK        = 40

	// deltaThrottleInterval caps how often the streaming callback fires.
	// The terminal callback always fires regardless.
	deltaThrottleInterval = 16 * time.Millisecond
)

// rolePrefixes are labels the model sometimes prepends to its answer despite
// being told not to. Stripped once from the fully aggregated text, first
// match wins.
var rolePrefixes = []string{
	"Assistente:", "Assistant:", "Resposta:", "Response:",
	"AI:", "IA:", "Bot:", "Chatbot:", "Sistema:",
}

// Config configures the Ollama client. Zero values fall back to defaults.
type Config struct {
	BaseURL        string
	DefaultModel   string
	RequestTimeout time.Duration
	StreamTimeout  time.Duration
	HealthTimeout  time.Duration
}

// Client is the Ollama backend client.
type Client struct {
	baseURL        string
	defaultModel   string
	requestTimeout time.Duration
	streamTimeout  time.Duration
	healthTimeout  time.Duration
	throttle       time.Duration
	httpClient     *http.Client
	encoder        *tiktoken.Tiktoken
	logger         *zap.Logger
}

// NewClient creates a new Ollama client. The http.Client carries no global
// timeout; every call binds its own deadline so streamed generations can
// outlive ordinary requests.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = defaultStreamTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}

	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("token encoder unavailable, token counts fall back to backend values", zap.Error(err))
	}

	return &Client{
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		defaultModel:   cfg.DefaultModel,
		requestTimeout: cfg.RequestTimeout,
		streamTimeout:  cfg.StreamTimeout,
		healthTimeout:  cfg.HealthTimeout,
		throttle:       deltaThrottleInterval,
		httpClient:     &http.Client{},
		encoder:        encoder,
		logger:         logger,
	}
}

// BackendConfig is a per-request backend override.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
	Enabled bool
}

// Options are the per-call generation parameters.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Backend     *BackendConfig
}

// Result is the outcome of a completed generation.
type Result struct {
	Content        string
	Model          string
	TokenCount     int
	ProcessingTime time.Duration
}

// Callback receives incremental output during a streamed generation.
// fullText is the aggregated text so far; the terminal invocation's fullText
// equals the returned Result.Content exactly.
type Callback func(fragment, fullText string, done bool)

// StreamEvent is one event on the internal stream: a delta, the terminal
// event, or an error. Exactly one of Done and Err is meaningful at a time.
type StreamEvent struct {
	Fragment  string
	FullText  string
	Done      bool
	EvalCount int
	Err       error
}

// generateRequest is the wire request for /api/generate.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

// generateResponse is one wire object: the whole body when buffered, or one
// newline-delimited line when streaming.
type generateResponse struct {
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
}

// Generate runs one generation against the backend. With a nil callback it
// performs a single buffered call; otherwise it streams newline-delimited
// JSON events and invokes the callback with coalesced deltas at most once
// per throttle interval, always firing the terminal invocation synchronously.
func (c *Client) Generate(ctx context.Context, prompt string, opts Options, onDelta Callback) (*Result, error) {
	start := time.Now()

	baseURL := c.baseURL
	timeout := c.requestTimeout
	if onDelta != nil {
		timeout = c.streamTimeout
	}
	if opts.Backend != nil {
		if !opts.Backend.Enabled {
			return nil, fmt.Errorf("%w: backend disabled", ErrUnavailable)
		}
		if opts.Backend.BaseURL != "" {
			baseURL = strings.TrimSuffix(opts.Backend.BaseURL, "/")
		}
		if opts.Backend.Timeout > 0 {
			timeout = opts.Backend.Timeout
		}
	}

	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: onDelta != nil,
		Options: generateOptions{
			Temperature: temperature,
			MaxTokens:   maxTokens,
			TopP:        defaultTopP,
			TopK:        defaultTopK,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if onDelta == nil {
		return c.readBuffered(resp.Body, model, start)
	}
	return c.readStream(ctx, resp.Body, model, start, onDelta)
}

// readBuffered handles the stream:false response shape.
func (c *Client) readBuffered(body io.Reader, model string, start time.Time) (*Result, error) {
	respBody, err := io.ReadAll(body)
	if err != nil {
		return nil, classify(err)
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	content := stripRolePrefix(strings.TrimSpace(out.Response))
	if content == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformed)
	}

	return &Result{
		Content:        content,
		Model:          model,
		TokenCount:     c.tokenCount(out.EvalCount, content),
		ProcessingTime: time.Since(start),
	}, nil
}

// readStream consumes the event channel, coalescing fragments between
// throttled callback invocations so that concatenating everything the
// callback saw reproduces the full text.
func (c *Client) readStream(ctx context.Context, body io.Reader, model string, start time.Time, onDelta Callback) (*Result, error) {
	events := c.streamEvents(ctx, body)

	var pending strings.Builder
	var lastEmit time.Time

	for ev := range events {
		if ev.Err != nil {
			return nil, ev.Err
		}

		pending.WriteString(ev.Fragment)

		if ev.Done {
			final := stripRolePrefix(strings.TrimSpace(ev.FullText))
			if final == "" {
				return nil, fmt.Errorf("%w: empty response", ErrMalformed)
			}
			onDelta(pending.String(), final, true)
			return &Result{
				Content:        final,
				Model:          model,
				TokenCount:     c.tokenCount(ev.EvalCount, final),
				ProcessingTime: time.Since(start),
			}, nil
		}

		if pending.Len() > 0 && time.Since(lastEmit) >= c.throttle {
			onDelta(pending.String(), ev.FullText, false)
			pending.Reset()
			lastEmit = time.Now()
		}
	}

	// Channel closed without a terminal event: the context fired.
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: stream ended without completion", ErrMalformed)
}

// streamEvents parses newline-delimited JSON from the response body into a
// channel of stream events. Partial lines are reassembled across reads; a
// malformed line is logged and skipped rather than aborting the stream. The
// goroutine exits when the terminal event is seen, the body ends, or the
// context is cancelled.
func (c *Client) streamEvents(ctx context.Context, body io.Reader) <-chan StreamEvent {
	ch := make(chan StreamEvent)

	go func() {
		defer close(ch)

		reader := bufio.NewReader(body)
		var full strings.Builder

		emit := func(ev StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			line, err := reader.ReadString('\n')

			if trimmed := strings.TrimSpace(line); trimmed != "" {
				var chunk generateResponse
				if jerr := json.Unmarshal([]byte(trimmed), &chunk); jerr != nil {
					c.logger.Warn("skipping malformed stream line",
						zap.Error(jerr),
						zap.String("line", trimmed))
				} else {
					full.WriteString(chunk.Response)
					if !emit(StreamEvent{
						Fragment:  chunk.Response,
						FullText:  full.String(),
						Done:      chunk.Done,
						EvalCount: chunk.EvalCount,
					}) {
						return
					}
					if chunk.Done {
						return
					}
				}
			}

			if err != nil {
				if err == io.EOF {
					// The backend closed the stream without a done flag.
					// Surface what accumulated as the terminal event.
					emit(StreamEvent{FullText: full.String(), Done: true})
				} else {
					emit(StreamEvent{Err: classify(err)})
				}
				return
			}
		}
	}()

	return ch
}

// tokenCount prefers the backend's eval_count and falls back to a local
// estimate when the backend omits it.
func (c *Client) tokenCount(evalCount int, content string) int {
	if evalCount > 0 {
		return evalCount
	}
	if c.encoder == nil {
		return 0
	}
	return len(c.encoder.Encode(content, nil, nil))
}

// Model is one entry from the backend's model listing.
type Model struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

// ListModels retrieves the models installed on the backend.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var result tagsResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return result.Models, nil
}

// Health reports whether the backend answers its version endpoint within the
// health deadline.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// stripRolePrefix removes one leading role label, if present. Applied exactly
// once to the fully aggregated text, never per fragment.
func stripRolePrefix(s string) string {
	for _, prefix := range rolePrefixes {
		if strings.HasPrefix(s, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(s, prefix))
		}
	}
	return s
}

// classify maps a transport error onto the upstream error taxonomy. Caller
// cancellation passes through untouched.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
