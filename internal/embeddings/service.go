package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragdocd/internal/retry"
	"go.uber.org/zap"
)

// Sentinel errors; the message doubles as the error kind surfaced to
// clients.
var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid client configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnavailable indicates retries against the embedding provider
	// were exhausted.
	ErrUnavailable = errors.New("EmbeddingUnavailable")

	// ErrConfigError indicates an authentication/configuration failure
	// that is never retried.
	ErrConfigError = errors.New("EmbeddingConfigError")

	// ErrDimensionMismatch indicates the provider returned a vector whose
	// length does not match the configured dimension.
	ErrDimensionMismatch = errors.New("EmbeddingDimensionMismatch")
)

// Config holds configuration for the embedding client.
type Config struct {
	// BaseURL is the base URL of the embedding provider.
	BaseURL string

	// Model is the embedding model name sent with every request.
	Model string

	// APIKey authenticates against the provider (EMBED_PROVIDER_KEY).
	APIKey string

	// Dimension is the expected embedding dimension D; responses with a
	// different length fail with ErrDimensionMismatch.
	Dimension int

	// MinInterval is the Pacer's baseline minimum inter-call interval.
	MinInterval time.Duration

	// MaxInterval caps adaptive growth of MinInterval on rate-limit
	// responses.
	MaxInterval time.Duration

	// Retry controls the retry-with-backoff behavior for transient
	// failures. Zero value falls back to retry.DefaultConfig().
	Retry retry.Config
}

// ConfigFromEnv creates a Config from the EMBED_* environment
// variables.
func ConfigFromEnv() Config {
	baseURL := os.Getenv("EMBED_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8081"
	}

	model := os.Getenv("EMBED_MODEL")
	if model == "" {
		model = "text-embedding-ada-002"
	}

	dim := 1536
	if v := os.Getenv("VECTOR_DIMENSION"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			dim = parsed
		}
	}

	minInterval := 350 * time.Millisecond
	if v := os.Getenv("VECTOR_MIN_INTERVAL_SECONDS"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			minInterval = time.Duration(parsed * float64(time.Second))
		}
	}

	return Config{
		BaseURL:     baseURL,
		Model:       model,
		APIKey:      os.Getenv("EMBED_PROVIDER_KEY"),
		Dimension:   dim,
		MinInterval: minInterval,
		MaxInterval: 2 * time.Second,
		Retry:       retry.DefaultConfig(),
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// Client is the embedding provider client. It normalizes input text,
// retries transient failures with exponential backoff, and paces calls
// adaptively against provider rate limits.
type Client struct {
	config  Config
	http    *http.Client
	pacer   *retry.Pacer
	metrics *Metrics
}

// NewClient creates an embedding client from the given configuration.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if config.Retry == (retry.Config{}) {
		config.Retry = retry.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config:  config,
		http:    &http.Client{},
		pacer:   retry.NewPacer(config.MinInterval, config.MaxInterval),
		metrics: NewMetrics(logger),
	}, nil
}

// embedRequest is the provider's wire request shape: {input, model}.
type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponseItem struct {
	Embedding []float32 `json:"embedding"`
}

type embedUsage struct {
	TotalTokens int `json:"total_tokens"`
}

type embedResponse struct {
	Data  []embedResponseItem `json:"data"`
	Usage embedUsage          `json:"usage"`
	Model string              `json:"model"`
}

// normalize replaces newline sequences with spaces before text is sent
// to the provider.
func normalize(text string) string {
	r := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
	return r.Replace(text)
}

// Embed requests an embedding for a single text, returning the vector,
// the provider's reported token count, and the model name used.
func (c *Client) Embed(ctx context.Context, text string) (vector []float32, tokenCount int, model string, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordGeneration(ctx, c.config.Model, "embed", time.Since(start), 1, err)
	}()

	if text == "" {
		err = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, 0, "", err
	}

	resp, callErr := c.call(ctx, []string{text})
	if callErr != nil {
		err = callErr
		return nil, 0, "", err
	}
	if len(resp.Data) == 0 {
		err = fmt.Errorf("%w: empty response", ErrUnavailable)
		return nil, 0, "", err
	}

	vec := resp.Data[0].Embedding
	if len(vec) != c.config.Dimension {
		err = fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(vec), c.config.Dimension)
		return nil, 0, "", err
	}

	return vec, resp.Usage.TotalTokens, resp.Model, nil
}

// EmbedBatch embeds multiple texts in one call. The provider already
// batches multiple inputs per request, so this is not a fan-out to Embed;
// per-client pacing still applies to the batch as a single call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		c.metrics.RecordGeneration(ctx, c.config.Model, "embed_batch", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	resp, err := c.call(ctx, texts)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(resp.Data) != len(texts) {
		genErr = fmt.Errorf("%w: got %d vectors for %d inputs", ErrUnavailable, len(resp.Data), len(texts))
		return nil, genErr
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) != c.config.Dimension {
			genErr = fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(d.Embedding), c.config.Dimension)
			return nil, genErr
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// call performs one paced, retried HTTP round trip against the embedding
// provider's /embeddings endpoint.
func (c *Client) call(ctx context.Context, texts []string) (*embedResponse, error) {
	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = normalize(t)
	}

	var result *embedResponse
	err := retry.Do(ctx, c.config.Retry, classifyHTTPError, func(ctx context.Context) error {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}

		body, status, err := c.doRequest(ctx, "/embeddings", embedRequest{Input: normalized, Model: c.config.Model})
		if err != nil {
			return err
		}

		if status == http.StatusTooManyRequests {
			c.pacer.OnRateLimited()
			return &httpStatusError{status: status, body: string(body)}
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return fmt.Errorf("%w: status %d", ErrConfigError, status)
		}
		if status < 200 || status >= 300 {
			return &httpStatusError{status: status, body: string(body)}
		}

		c.pacer.OnSuccess()

		var decoded embedResponse
		if jsonErr := json.Unmarshal(body, &decoded); jsonErr != nil {
			return fmt.Errorf("decoding response: %w", jsonErr)
		}
		result = &decoded
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConfigError) {
			return nil, err
		}
		if errors.Is(err, retry.ErrExhausted) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return result, nil
}

// httpStatusError marks a non-2xx HTTP response so classifyHTTPError can
// route it to the right retry class.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func classifyHTTPError(err error) retry.Class {
	if errors.Is(err, ErrConfigError) {
		return retry.Other
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.status == http.StatusTooManyRequests:
			return retry.RateLimit
		case statusErr.status >= 500:
			return retry.Connection
		default:
			return retry.Other
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return retry.Other
	}
	// Anything else reaching here is a network-level failure (dial,
	// timeout, connection reset): treat as transient.
	return retry.Connection
}

func (c *Client) doRequest(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// chatRequest models a minimal OpenAI-compatible chat-completion call used
// by GenerateTags, targeting the same embedding provider base URL rather
// than a distinct LLM SDK.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// GenerateTags asks the provider's chat-completion endpoint for up to
// maxTags lowercase, comma-separated tags describing text in light of
// contextHint.
func (c *Client) GenerateTags(ctx context.Context, text, contextHint string, maxTags int) ([]string, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if maxTags <= 0 {
		maxTags = 5
	}

	prompt := fmt.Sprintf(
		"Generate up to %d relevant, lowercase, comma-separated tags for the following content.\n"+
			"Context: %s\n\nContent:\n%s\n\nRespond with only the comma-separated tags.",
		maxTags, contextHint, text,
	)

	var result []string
	err := retry.Do(ctx, c.config.Retry, classifyHTTPError, func(ctx context.Context) error {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}

		req := chatRequest{
			Model:    c.config.Model,
			Messages: []chatMessage{{Role: "user", Content: prompt}},
		}

		body, status, err := c.doRequest(ctx, "/chat/completions", req)
		if err != nil {
			return err
		}
		if status == http.StatusTooManyRequests {
			c.pacer.OnRateLimited()
			return &httpStatusError{status: status, body: string(body)}
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return fmt.Errorf("%w: status %d", ErrConfigError, status)
		}
		if status < 200 || status >= 300 {
			return &httpStatusError{status: status, body: string(body)}
		}
		c.pacer.OnSuccess()

		var decoded chatResponse
		if err := json.Unmarshal(body, &decoded); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		if len(decoded.Choices) == 0 {
			return fmt.Errorf("%w: no choices in response", ErrUnavailable)
		}

		result = parseTags(decoded.Choices[0].Message.Content, maxTags)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConfigError) {
			return nil, err
		}
		if errors.Is(err, retry.ErrExhausted) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return result, nil
}

// parseTags splits a comma-separated tag list, lowercasing and trimming
// each tag and truncating to max entries.
func parseTags(raw string, max int) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		tag := strings.ToLower(strings.TrimSpace(p))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
		if len(tags) >= max {
			break
		}
	}
	return tags
}
