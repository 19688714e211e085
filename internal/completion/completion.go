// Package completion calls the language model provider and normalizes its
// failures into a small error taxonomy the rest of the service can act on.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/safelex/safelex/internal/prompt"
)

// Sentinel errors classifying upstream failures.
var (
	// ErrUnauthorized means the provider rejected our credentials.
	ErrUnauthorized = errors.New("completion: provider rejected credentials")
	// ErrOverloaded means the provider is rate limiting or overloaded.
	ErrOverloaded = errors.New("completion: provider overloaded")
	// ErrMalformed means the provider answered but the response was unusable.
	ErrMalformed = errors.New("completion: malformed provider response")
	// ErrTimeout means the call exceeded its deadline.
	ErrTimeout = errors.New("completion: provider timeout")
)

// UpstreamError wraps provider failures that fit no sentinel category.
type UpstreamError struct {
	Status int // HTTP-ish status parsed from the provider error, 0 if unknown
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("completion: upstream error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("completion: upstream error: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RetryConfig configures retry behavior for model calls. Only transient
// failures are retried.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig disables retries; a denied turn refunds its quota
// slot, so eager retries multiply provider load for little gain.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      0,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Client produces chat completions through Genkit.
//
// Safe for concurrent use.
type Client struct {
	g           *genkit.Genkit
	modelName   string
	timeout     time.Duration
	retry       RetryConfig
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithTimeout bounds each generation attempt. Default is 60 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(rc RetryConfig) Option {
	return func(c *Client) {
		c.retry = rc
	}
}

// WithGenerationConfig sets sampling parameters passed to the provider.
func WithGenerationConfig(temperature float64, maxTokens int) Option {
	return func(c *Client) {
		c.temperature = temperature
		c.maxTokens = maxTokens
	}
}

// New creates a Client for the given model. A nil logger falls back to
// slog.Default.
func New(g *genkit.Genkit, modelName string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		g:         g,
		modelName: modelName,
		timeout:   60 * time.Second,
		retry:     DefaultRetryConfig(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends the assembled prompt to the model and returns the answer
// text. Failures are classified into the package sentinels; transient ones
// are retried per the retry policy, each attempt under its own timeout.
func (c *Client) Complete(ctx context.Context, req prompt.Request) (string, error) {
	var lastErr error
	delay := c.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		text, err := c.generate(ctx, req)
		if err == nil {
			c.logger.Debug("completion succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
				"response_length", len(text),
			)
			return text, nil
		}

		lastErr = err

		if !transient(err) {
			return "", err
		}
		if attempt == c.retry.MaxRetries {
			break
		}

		c.logger.Debug("retrying completion",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return "", classify(ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, c.retry.MaxInterval)
		}
	}

	return "", lastErr
}

// generate runs one attempt under its own deadline.
func (c *Client) generate(ctx context.Context, req prompt.Request) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithSystem(req.System),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(req.User))),
	}
	if c.temperature > 0 || c.maxTokens > 0 {
		opts = append(opts, ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     c.temperature,
			MaxOutputTokens: c.maxTokens,
		}))
	}

	resp, err := genkit.Generate(attemptCtx, c.g, opts...)
	if err != nil {
		return "", classify(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty answer text", ErrMalformed)
	}
	return text, nil
}

// transient reports whether a classified error is worth retrying.
func transient(err error) bool {
	if errors.Is(err, ErrOverloaded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		// 503 never reaches here: classify maps it to ErrOverloaded.
		switch ue.Status {
		case 500, 502, 504:
			return true
		}
	}
	return false
}
