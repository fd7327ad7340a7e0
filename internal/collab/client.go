package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"montage/internal/services"
)

const defaultHTTPTimeout = 30 * time.Second

// Config captures the runtime settings required to talk to one collaborator.
type Config struct {
	Name           string
	Endpoint       string
	APIKey         string
	Model          string
	TimeoutSeconds int
}

// Client wraps a stage collaborator's JSON-over-HTTP API. It performs a
// single request per call; retries, breakers, and fallbacks live in the
// resilience layer above it.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a collaborator client from the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			Name:           strings.TrimSpace(cfg.Name),
			Endpoint:       strings.TrimSpace(cfg.Endpoint),
			APIKey:         strings.TrimSpace(cfg.APIKey),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Name returns the configured collaborator name.
func (c *Client) Name() string {
	return c.cfg.Name
}

type invokeRequest struct {
	Model string `json:"model,omitempty"`
	Input any    `json:"input"`
}

type invokeResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke posts one request to the collaborator and returns the raw
// result payload. Failures come back tagged with the error taxonomy:
// 429 is throttled, timeouts and 5xx are transient, 400 and 422 are
// validation, remaining client errors are fatal.
func (c *Client) Invoke(ctx context.Context, operation string, input any) (json.RawMessage, error) {
	if c.cfg.Endpoint == "" {
		return nil, services.Wrap(services.ErrFatal, "", operation,
			fmt.Sprintf("%s: endpoint not configured", c.cfg.Name), nil)
	}

	encoded, err := json.Marshal(invokeRequest{Model: c.cfg.Model, Input: input})
	if err != nil {
		return nil, services.Wrap(services.ErrFatal, "", operation,
			fmt.Sprintf("%s: encode request", c.cfg.Name), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrFatal, "", operation,
			fmt.Sprintf("%s: build request", c.cfg.Name), err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "", operation,
			fmt.Sprintf("%s: read response", c.cfg.Name), err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, c.classifyStatus(operation, resp, body)
	}

	var payload invokeResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, services.Wrap(services.ErrTransient, "", operation,
			fmt.Sprintf("%s: decode response: %s", c.cfg.Name, summarizeSnippet(string(body))), err)
	}
	if payload.Error != nil {
		return nil, services.Wrap(services.ErrFatal, "", operation,
			fmt.Sprintf("%s: api error: %s", c.cfg.Name, strings.TrimSpace(payload.Error.Message)), nil)
	}
	if len(payload.Result) == 0 {
		return nil, services.Wrap(services.ErrTransient, "", operation,
			fmt.Sprintf("%s: empty result", c.cfg.Name), nil)
	}
	return payload.Result, nil
}

// HealthCheck issues a fast request to verify the endpoint is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.Endpoint == "" {
		return errors.New("endpoint not configured")
	}
	healthURL, err := url.JoinPath(c.cfg.Endpoint, "health")
	if err != nil {
		return fmt.Errorf("build health url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("health request: http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) classifyTransportError(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTransient, "", operation,
			fmt.Sprintf("%s: request timeout", c.cfg.Name), err)
	}
	return services.Wrap(services.ErrTransient, "", operation,
		fmt.Sprintf("%s: request failed", c.cfg.Name), err)
}

func (c *Client) classifyStatus(operation string, resp *http.Response, body []byte) error {
	detail := fmt.Sprintf("%s: http %d: %s", c.cfg.Name, resp.StatusCode, summarizeSnippet(string(body)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if after, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			detail = fmt.Sprintf("%s (retry after %s)", detail, after)
		}
		return services.Wrap(services.ErrThrottled, "", operation, detail, nil)
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return services.Wrap(services.ErrValidation, "", operation, detail, nil)
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "", operation, detail, nil)
	default:
		return services.Wrap(services.ErrFatal, "", operation, detail, nil)
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func summarizeSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	replacer := strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")
	clean := replacer.Replace(trimmed)
	clean = strings.Join(strings.Fields(clean), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
