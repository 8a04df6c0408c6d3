package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides layers CADPIPE_* environment variables on top of whatever
// the TOML file provided. Environment always wins.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Paths.DataDir, "CADPIPE_DATA_DIR")
	setString(&cfg.Paths.LogDir, "CADPIPE_LOG_DIR")
	setString(&cfg.Paths.APIBind, "CADPIPE_API_BIND")

	setString(&cfg.Storage.Backend, "CADPIPE_STORAGE_BACKEND")
	setString(&cfg.Storage.Bucket, "CADPIPE_BUCKET")
	setString(&cfg.Storage.ScriptExtension, "CADPIPE_SCRIPT_EXTENSION")
	setInt(&cfg.Storage.SignedURLTTL, "CADPIPE_SIGNED_URL_TTL")

	setInt(&cfg.Monitor.PollInterval, "CADPIPE_POLL_INTERVAL")
	setInt(&cfg.Monitor.MaxProcessingTime, "CADPIPE_MAX_PROCESSING_TIME")
	setInt(&cfg.Monitor.FailureThreshold, "CADPIPE_FAILURE_THRESHOLD")

	setInt(&cfg.Allocator.RetryBudget, "CADPIPE_ALLOCATE_RETRY_BUDGET")

	setString(&cfg.Logging.Format, "CADPIPE_LOG_FORMAT")
	setString(&cfg.Logging.Level, "CADPIPE_LOG_LEVEL")
}

func setString(target *string, key string) {
	if value, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			*target = trimmed
		}
	}
}

func setInt(target *int, key string) {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			*target = parsed
		}
	}
}
