package clients

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// BreakerConfig configures a circuit breaker around a client.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

type breakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps next in a circuit breaker. Only retryable failures count
// against the breaker: a 4xx means the service is healthy and the request bad.
func WithBreaker(next Client, cfg BreakerConfig) Client {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Client circuit breaker changed state.", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
	}
	return &breakerClient{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerClient) Invoke(ctx context.Context, req Request) (Response, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Invoke(ctx, req)
	})
	if err != nil {
		return Response{}, err
	}
	return out.(Response), nil
}

// RetryConfig bounds the exponential backoff applied to retryable failures.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type retryClient struct {
	next Client
	cfg  RetryConfig
}

// WithRetry retries retryable failures of next with exponential backoff.
// Non-retryable errors are returned on the first attempt.
func WithRetry(next Client, cfg RetryConfig) Client {
	return &retryClient{next: next, cfg: cfg}
}

func (r *retryClient) Invoke(ctx context.Context, req Request) (Response, error) {
	exp := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		exp.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		exp.MaxInterval = r.cfg.MaxInterval
	}
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, r.cfg.MaxRetries), ctx)

	var resp Response
	err := backoff.Retry(func() error {
		out, err := r.next.Invoke(ctx, req)
		if err != nil {
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = out
		return nil
	}, policy)
	if err != nil && ctx.Err() != nil {
		return Response{}, context.Cause(ctx)
	}
	return resp, err
}

type limitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// WithRateLimit throttles calls to next to rps requests per second.
func WithRateLimit(next Client, rps float64, burst int) Client {
	if burst < 1 {
		burst = 1
	}
	return &limitedClient{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *limitedClient) Invoke(ctx context.Context, req Request) (Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Response{}, context.Cause(ctx)
		}
		return Response{}, &Error{Op: "rate_limit", Retryable: true, Err: err}
	}
	return l.next.Invoke(ctx, req)
}
