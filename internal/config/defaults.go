package config

// Default returns the repository default configuration. Values mirror the
// conversion worker's expectations: 30s polls, 10 minute processing deadline,
// 15 minute retrieval links.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: "~/.local/share/cadpipe",
			LogDir:  "~/.local/share/cadpipe/logs",
			APIBind: "127.0.0.1:7181",
		},
		Storage: Storage{
			Backend:         "gcs",
			ScriptExtension: "py",
			SignedURLTTL:    900,
		},
		Monitor: Monitor{
			PollInterval:      30,
			MaxProcessingTime: 600,
			FailureThreshold:  3,
		},
		Allocator: Allocator{
			RetryBudget: 5,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
