package llm

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// Guard sits at the provider boundary. It throttles calls with a process-wide
// token bucket and bounds each call with a timeout.
type Guard struct {
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGuard allows requestsPerMinute calls per minute with a burst of one
// second's worth of calls. A non-positive rate disables throttling and a
// non-positive timeout disables the deadline.
func NewGuard(requestsPerMinute int, timeout time.Duration) *Guard {
	lim := rate.NewLimiter(rate.Inf, 0)
	if requestsPerMinute > 0 {
		lim = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), max(1, requestsPerMinute/60))
	}
	return &Guard{limiter: lim, timeout: timeout}
}

func (g *Guard) enter(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: rate limit: %w", ErrModelInvoke, err)
	}
	if g.timeout <= 0 {
		return ctx, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	return ctx, cancel, nil
}

func (g *Guard) Chat(next ChatModel) ChatModel {
	if next == nil {
		return nil
	}
	return &guardedChat{next: next, guard: g}
}

func (g *Guard) Extractor(next Extractor) Extractor {
	if next == nil {
		return nil
	}
	return &guardedExtractor{next: next, guard: g}
}

func (g *Guard) Transcriber(next Transcriber) Transcriber {
	if next == nil {
		return nil
	}
	return &guardedTranscriber{next: next, guard: g}
}

type guardedChat struct {
	next  ChatModel
	guard *Guard
}

func (c *guardedChat) Converse(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, cancel, err := c.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.next.Converse(ctx, req)
}

type guardedExtractor struct {
	next  Extractor
	guard *Guard
}

func (e *guardedExtractor) Extract(ctx context.Context, req ExtractionRequest) (*Extraction, error) {
	ctx, cancel, err := e.guard.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return e.next.Extract(ctx, req)
}

type guardedTranscriber struct {
	next  Transcriber
	guard *Guard
}

func (t *guardedTranscriber) Transcribe(ctx context.Context, audio io.Reader, mimeType string) (string, error) {
	ctx, cancel, err := t.guard.enter(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()
	return t.next.Transcribe(ctx, audio, mimeType)
}
