package embedding

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"kb/internal/domain"
	"kb/internal/port"
)

// RetryConfig bounds the retry policy applied by Retrying.
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
	// RequestsPerSecond paces calls to the service; zero disables pacing.
	RequestsPerSecond float64
}

// Retrying wraps a gateway with bounded exponential-backoff retries for
// transient failures (transport errors, 429 and 5xx). Contract violations
// and client errors are returned immediately.
type Retrying struct {
	next       port.EmbeddingGateway
	maxRetries int
	backoff    time.Duration
	limiter    *rate.Limiter
}

var _ port.EmbeddingGateway = (*Retrying)(nil)

func NewRetrying(next port.EmbeddingGateway, cfg RetryConfig) *Retrying {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	r := &Retrying{
		next:       next,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
	}
	if cfg.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return r
}

func (r *Retrying) EmbedDocumentChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	var out [][]float32
	err := r.run(ctx, func() error {
		var err error
		out, err = r.next.EmbedDocumentChunks(ctx, chunks)
		return err
	})
	return out, err
}

func (r *Retrying) EmbedDocuments(ctx context.Context, docs [][]string) ([][][]float32, error) {
	var out [][][]float32
	err := r.run(ctx, func() error {
		var err error
		out, err = r.next.EmbedDocuments(ctx, docs)
		return err
	})
	return out, err
}

func (r *Retrying) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.run(ctx, func() error {
		var err error
		out, err = r.next.EmbedQuery(ctx, text)
		return err
	})
	return out, err
}

// Health is never retried; probes should report the current state.
func (r *Retrying) Health(ctx context.Context) (domain.HealthStatus, error) {
	return r.next.Health(ctx)
}

func (r *Retrying) run(ctx context.Context, call func() error) error {
	delay := r.backoff
	for attempt := 0; ; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := call()
		if err == nil || attempt >= r.maxRetries || ctx.Err() != nil || !isTransient(err) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay *= 2
	}
}

func isTransient(err error) bool {
	var embErr *domain.EmbeddingError
	if !errors.As(err, &embErr) {
		return false
	}
	return embErr.Temporary()
}
