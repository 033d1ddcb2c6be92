package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ErrTimeout is returned when a request is aborted by its deadline.
var ErrTimeout = errors.New("request timed out")

// StatusError is a non-2xx answer from the inference server.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error: %s", e.Status)
	}
	return fmt.Sprintf("API error: %s - %s", e.Status, e.Body)
}

// Client talks to an Ollama server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
}

// ClientOptions configures a Client. Zero values fall back to no-op telemetry
// and the default logger.
type ClientOptions struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Tracer     trace.Tracer
	Meter      metric.Meter
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ClientOptions) *Client {
	if opts.HTTPClient == nil {
		// Deadlines come from the caller's context.
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("backend")
	}
	if opts.Meter == nil {
		opts.Meter = noop.NewMeterProvider().Meter("backend")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		tracer:     opts.Tracer,
	}

	histogram, err := opts.Meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		c.logger.Warn("failed to create histogram", "error", err)
	}
	c.duration = histogram
	return c
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Chat sends a non-streaming chat request and returns the reply text.
func (c *Client) Chat(ctx context.Context, req OllamaRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ollama_chat",
		trace.WithAttributes(
			attribute.String("llm.model", req.Model),
			attribute.Int("llm.messages", len(req.Messages)),
		))
	defer span.End()

	req.Stream = false
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var apiResp OllamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("llm.prompt_tokens", apiResp.PromptEvalCount),
		attribute.Int64("llm.completion_tokens", apiResp.EvalCount),
	)
	return apiResp.Message.Content, nil
}

// Ping checks that the server answers the tags endpoint with a 2xx status.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "ollama_tags")
	defer span.End()

	if _, err := c.do(ctx, http.MethodGet, "/api/tags", nil); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// ListModels fetches the list of available models.
func (c *Client) ListModels(ctx context.Context) ([]OllamaModel, error) {
	ctx, span := c.tracer.Start(ctx, "ollama_tags")
	defer span.End()

	body, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}

	var tagsResp OllamaTagsResponse
	if err := json.Unmarshal(body, &tagsResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return tagsResp.Models, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload io.Reader) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("content-type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.recordDuration(ctx, method, path, start, 0, "timeout")
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		c.recordDuration(ctx, method, path, start, 0, "network")
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.recordDuration(ctx, method, path, start, resp.StatusCode, "timeout")
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		c.recordDuration(ctx, method, path, start, resp.StatusCode, "network")
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.recordDuration(ctx, method, path, start, resp.StatusCode, strconv.Itoa(resp.StatusCode))
		return nil, &StatusError{
			Code:   resp.StatusCode,
			Status: resp.Status,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	c.recordDuration(ctx, method, path, start, resp.StatusCode, "")

	c.logger.Debug("ollama request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())
	return body, nil
}

// recordDuration adds one request to the duration histogram. A zero status
// means no response arrived; errType is empty on success.
func (c *Client) recordDuration(ctx context.Context, method, path string, start time.Time, status int, errType string) {
	if c.duration == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	}
	if status != 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", status))
	}
	if errType != "" {
		attrs = append(attrs, attribute.String("error.type", errType))
	}
	// The request context may already be done; the measurement still counts.
	c.duration.Record(context.WithoutCancel(ctx), float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attrs...))
}
