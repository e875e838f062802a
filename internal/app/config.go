package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/vk/tradegrid/internal/session"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	PipelinePath string // hcl files; empty uses the built-in pipeline

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	// Port serves the HTTP API and metrics in service mode.
	Port int

	// Analysis, when set, runs one analysis and exits instead of serving.
	Analysis *session.Request

	MaxRuns       int
	MaxQueued     int
	AdmissionWait time.Duration
	StepCeiling   int
	RunTimeout    time.Duration
	Retention     time.Duration

	LLM  ServiceConfig
	Data ServiceConfig

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SocketIOURL       string
	SocketIONamespace string
}

// ServiceConfig describes one pooled external service. An empty URL selects
// the deterministic offline client.
type ServiceConfig struct {
	URL        string
	Model      string
	PoolSize   int
	Timeout    time.Duration
	MaxRetries uint64
	// RateLimit caps requests per second per pooled client. Zero disables it.
	RateLimit float64
}

// NewConfig validates cfg and returns it.
func NewConfig(cfg Config) (*Config, error) {
	var errs []error
	if cfg.MaxRuns < 1 {
		errs = append(errs, fmt.Errorf("max-runs must be at least 1, got %d", cfg.MaxRuns))
	}
	if cfg.MaxQueued < 0 {
		errs = append(errs, fmt.Errorf("max-queued must not be negative, got %d", cfg.MaxQueued))
	}
	if cfg.StepCeiling < 1 {
		errs = append(errs, fmt.Errorf("step-ceiling must be at least 1, got %d", cfg.StepCeiling))
	}
	if cfg.AdmissionWait < 0 || cfg.RunTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	for name, s := range map[string]ServiceConfig{"llm": cfg.LLM, "data": cfg.Data} {
		if s.PoolSize < 1 {
			errs = append(errs, fmt.Errorf("%s-pool-size must be at least 1, got %d", name, s.PoolSize))
		}
		if s.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("%s-rate-limit must not be negative", name))
		}
	}
	if cfg.Analysis == nil && cfg.Port <= 0 {
		errs = append(errs, errors.New("either an analysis to run or a port to serve on is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &cfg, nil
}
