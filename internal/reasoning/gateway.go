package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrUnavailable is returned once the retry budget against the LLM backend
// is exhausted.
var ErrUnavailable = errors.New("reasoning backend unavailable")

// Options configures the gateway.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	MaxRetries  int
	BackoffBase time.Duration
}

// Gateway wraps a Provider with bounded exponential-backoff retries. It is
// the only component that talks to the LLM backend.
type Gateway struct {
	provider Provider
	opts     Options
}

// NewGateway creates a Gateway over the given provider.
func NewGateway(provider Provider, opts Options) *Gateway {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	return &Gateway{provider: provider, opts: opts}
}

// Request sends the assembled context and blocks for the full response.
// Transport failures are retried with exponential backoff; after the attempt
// ceiling the error wraps ErrUnavailable.
func (g *Gateway) Request(ctx context.Context, contextText string) (string, error) {
	req := g.buildRequest(contextText)

	var lastErr error
	for attempt := 0; attempt < g.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, g.backoff(attempt)); err != nil {
				return "", err
			}
			slog.Warn("Reasoning request retry", "attempt", attempt, "error", lastErr)
		}

		resp, err := g.provider.Chat(ctx, req)
		if err == nil {
			return resp.Content, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// StreamRequest opens a cancellable token stream for the assembled context.
// Only the connection attempt is retried; once chunks flow, failures surface
// through Stream.Err.
func (g *Gateway) StreamRequest(ctx context.Context, contextText string) (*Stream, error) {
	req := g.buildRequest(contextText)

	var lastErr error
	for attempt := 0; attempt < g.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, g.backoff(attempt)); err != nil {
				return nil, err
			}
			slog.Warn("Reasoning stream retry", "attempt", attempt, "error", lastErr)
		}

		stream, err := g.provider.ChatStream(ctx, req)
		if err == nil {
			return stream, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (g *Gateway) buildRequest(contextText string) *ChatRequest {
	return &ChatRequest{
		Messages: []Message{
			{Role: "user", Content: contextText},
		},
		Model:       g.opts.Model,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	}
}

func (g *Gateway) backoff(attempt int) time.Duration {
	d := g.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
