package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"NewsCollector/internal/domain"
)

const (
	defaultBackoffBase = time.Second
	defaultMaxRetries  = 5
)

// FetchResult carries the candidates of one call and the provider-reported cost.
// ActualCost of zero means the estimate stands.
type FetchResult struct {
	Candidates []domain.ArticleCandidate
	ActualCost int64
}

// Adapter is the uniform capability surface over a provider.
type Adapter interface {
	Source() domain.Source
	EstimateCost(q domain.Query) int64
	Fetch(ctx context.Context, q domain.Query, maxResults int) (FetchResult, error)
}

// Fetcher performs exactly one provider round trip and classifies failures
// with the domain error taxonomy.
type Fetcher interface {
	FetchOnce(ctx context.Context, q domain.Query, maxResults int) (FetchResult, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, q domain.Query, maxResults int) (FetchResult, error)

func (f FetcherFunc) FetchOnce(ctx context.Context, q domain.Query, maxResults int) (FetchResult, error) {
	return f(ctx, q, maxResults)
}

// Paced wraps a Fetcher with a token bucket and bounded exponential backoff.
type Paced struct {
	source     domain.Source
	fetcher    Fetcher
	limiter    *rate.Limiter
	logger     *slog.Logger
	backoff    time.Duration
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ Adapter = (*Paced)(nil)

// Option configures a Paced adapter.
type Option func(*Paced)

// WithBackoff overrides the retry base delay and retry cap.
func WithBackoff(base time.Duration, maxRetries int) Option {
	return func(p *Paced) {
		p.backoff = base
		p.maxRetries = maxRetries
	}
}

// WithLimiter replaces the limiter derived from RequestsPerMinute.
func WithLimiter(l *rate.Limiter) Option {
	return func(p *Paced) {
		p.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Paced) {
		p.logger = logger
	}
}

// New wraps fetcher for source. A non-positive RequestsPerMinute disables pacing.
func New(source domain.Source, fetcher Fetcher, opts ...Option) *Paced {
	p := &Paced{
		source:     source,
		fetcher:    fetcher,
		limiter:    limiterFor(source.RequestsPerMinute),
		logger:     slog.Default(),
		backoff:    defaultBackoffBase,
		maxRetries: defaultMaxRetries,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func limiterFor(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Source returns the static source configuration.
func (p *Paced) Source() domain.Source {
	return p.source
}

// EstimateCost evaluates the source cost model.
func (p *Paced) EstimateCost(q domain.Query) int64 {
	return p.source.EstimateCost(q)
}

// Fetch waits for the rate window, calls the provider and retries rate-limit
// and transient failures with exponential backoff. Auth and exhaustion
// errors are returned at once.
func (p *Paced) Fetch(ctx context.Context, q domain.Query, maxResults int) (FetchResult, error) {
	if err := q.Validate(); err != nil {
		return FetchResult{}, err
	}

	var lastErr error
	backoff := p.backoff

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Debug("retrying fetch",
				"source", p.source.Name,
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr,
			)
			if err := p.sleep(ctx, backoff); err != nil {
				return FetchResult{}, err
			}
			backoff *= 2
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return FetchResult{}, fmt.Errorf("rate limiter: %w", err)
		}

		res, err := p.fetcher.FetchOnce(ctx, q, maxResults)
		if err == nil {
			for i := range res.Candidates {
				if res.Candidates[i].Source == "" {
					res.Candidates[i].Source = p.source.Name
				}
			}
			return res, nil
		}
		lastErr = err

		if domain.IsCancellation(err) || !domain.IsRetryable(err) {
			return FetchResult{}, err
		}
	}

	return FetchResult{}, fmt.Errorf("%s: max retries exceeded: %w", p.source.Name, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ClassifyStatus maps an HTTP status code of a provider response to the
// error taxonomy. It returns nil for success codes.
func ClassifyStatus(status int, detail string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 401 || status == 403:
		return fmt.Errorf("%w: status %d %s", domain.ErrAuth, status, detail)
	case status == 402 || status == 426:
		return fmt.Errorf("%w: status %d %s", domain.ErrSourceExhausted, status, detail)
	case status == 429:
		return fmt.Errorf("%w: status %d %s", domain.ErrRateLimited, status, detail)
	case status >= 500:
		return fmt.Errorf("%w: status %d %s", domain.ErrTransientNetwork, status, detail)
	default:
		return fmt.Errorf("provider rejected request: status %d %s", status, detail)
	}
}

// ClassifyTransport wraps network-level failures as transient unless they are
// context errors.
func ClassifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if domain.IsCancellation(err) || domain.IsRetryable(err) || domain.IsFatalForSource(err) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
}
