package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for values that would break the daemon.
func (c *Config) Validate() error {
	var problems []error

	if c.Paths.DataDir == "" {
		problems = append(problems, errors.New("paths.data_dir is required"))
	}
	if c.Paths.LogDir == "" {
		problems = append(problems, errors.New("paths.log_dir is required"))
	}

	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.Bucket == "" {
			problems = append(problems, errors.New("storage.bucket is required for the gcs backend"))
		}
	case "memory":
	default:
		problems = append(problems, fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend))
	}
	if c.Storage.ScriptExtension == "" {
		problems = append(problems, errors.New("storage.script_extension is required"))
	}
	if c.Storage.SignedURLTTL <= 0 {
		problems = append(problems, errors.New("storage.signed_url_ttl must be positive"))
	}

	if c.Monitor.PollInterval <= 0 {
		problems = append(problems, errors.New("monitor.poll_interval must be positive"))
	}
	if c.Monitor.MaxProcessingTime <= 0 {
		problems = append(problems, errors.New("monitor.max_processing_time must be positive"))
	}
	if c.Monitor.FailureThreshold <= 0 {
		problems = append(problems, errors.New("monitor.failure_threshold must be positive"))
	}

	if c.Allocator.RetryBudget <= 0 {
		problems = append(problems, errors.New("allocator.retry_budget must be positive"))
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format))
	}

	return errors.Join(problems...)
}
