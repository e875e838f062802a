package app

import (
	"time"

	"github.com/vk/tradegrid/internal/clients"
	"github.com/vk/tradegrid/internal/concurrency"
)

// pools builds the client pool configuration for both external services.
func (a *App) pools() []concurrency.PoolConfig {
	return []concurrency.PoolConfig{
		{Kind: clients.KindLLM, Size: a.config.LLM.PoolSize, Factory: a.factory(clients.KindLLM, a.config.LLM)},
		{Kind: clients.KindData, Size: a.config.Data.PoolSize, Factory: a.factory(clients.KindData, a.config.Data)},
	}
}

// factory returns a constructor for one pooled client of kind. Every client
// gets its own rate limiter, retry policy and circuit breaker.
func (a *App) factory(kind clients.Kind, sc ServiceConfig) clients.Factory {
	return func() (clients.Client, error) {
		if sc.URL == "" {
			a.logger.Debug("Using offline client.", "kind", kind)
			return clients.Offline{}, nil
		}

		hc := clients.HTTPConfig{BaseURL: sc.URL, Model: sc.Model, Timeout: sc.Timeout}
		var c clients.Client
		if kind == clients.KindLLM {
			c = clients.NewHTTPLLM(hc)
		} else {
			c = clients.NewHTTPData(hc)
		}
		c = clients.WithBreaker(c, clients.BreakerConfig{
			Name:    string(kind),
			Timeout: 30 * time.Second,
		})
		c = clients.WithRetry(c, clients.RetryConfig{
			MaxRetries:      sc.MaxRetries,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		})
		if sc.RateLimit > 0 {
			c = clients.WithRateLimit(c, sc.RateLimit, 1)
		}
		return c, nil
	}
}
