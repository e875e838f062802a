package app

import (
	"testing"
	"time"

	"github.com/vk/tradegrid/internal/hcl"
	"github.com/vk/tradegrid/internal/registry"
	"github.com/vk/tradegrid/internal/testutil"
)

// TestConfig returns a valid configuration using offline clients and the
// in-memory store.
func TestConfig() *Config {
	return &Config{
		LogFormat:   "text",
		LogLevel:    "debug",
		Port:        8080,
		MaxRuns:     2,
		StepCeiling: 64,
		RunTimeout:  30 * time.Second,
		LLM:         ServiceConfig{PoolSize: 2},
		Data:        ServiceConfig{PoolSize: 2},
	}
}

// SetupAppTest creates a new app instance for system testing.
func SetupAppTest(t *testing.T, cfg *Config, modules ...registry.Module) (*App, *testutil.SafeBuffer) {
	t.Helper()

	logBuffer := &testutil.SafeBuffer{}
	cfg.LogLevel = "debug"
	testApp := NewApp(logBuffer, cfg, hcl.NewLoader(), modules...)

	t.Cleanup(func() {
		if testutil.LogsEnabled() {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
