// Package testsupport provides shared fixtures for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"cadpipe/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test
// and the in-memory storage backend.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Storage.Backend = "memory"
	cfg.Monitor.PollInterval = 1
	cfg.Monitor.MaxProcessingTime = 60
	cfg.Allocator.RetryBudget = 5

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithFailureThreshold overrides the monitor's consecutive-failure limit.
func WithFailureThreshold(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Monitor.FailureThreshold = n
	}
}

// WithRetryBudget overrides the allocator's compare-and-set attempt limit.
func WithRetryBudget(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Allocator.RetryBudget = n
	}
}
