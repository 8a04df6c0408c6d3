package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultValidatesWithBucket(t *testing.T) {
	cfg := Default()
	cfg.Storage.Bucket = "cad-artifacts"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRequiresBucketForGCS(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "storage.bucket") {
		t.Fatalf("Validate = %v, want bucket requirement", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "s3"
	cfg.Monitor.PollInterval = 0
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted a broken config")
	}
	for _, want := range []string{"storage.backend", "monitor.poll_interval", "logging.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestLoadParsesFileAndAppliesEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cadpipe.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[storage]
backend = "memory"

[monitor]
poll_interval = 10
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CADPIPE_POLL_INTERVAL", "45")
	t.Setenv("CADPIPE_BUCKET", "from-env")

	cfg, resolved, found, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found || resolved != path {
		t.Fatalf("resolved = %q found = %v", resolved, found)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("backend = %q", cfg.Storage.Backend)
	}
	// Environment wins over the file.
	if cfg.Monitor.PollInterval != 45 {
		t.Fatalf("poll interval = %d, want 45", cfg.Monitor.PollInterval)
	}
	if cfg.Storage.Bucket != "from-env" {
		t.Fatalf("bucket = %q, want from-env", cfg.Storage.Bucket)
	}
	if cfg.PollInterval() != 45*time.Second {
		t.Fatalf("PollInterval() = %v", cfg.PollInterval())
	}
}

func TestLoadMissingExplicitPathUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CADPIPE_STORAGE_BACKEND", "memory")
	t.Setenv("CADPIPE_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("CADPIPE_LOG_DIR", filepath.Join(dir, "logs"))

	cfg, _, found, err := Load(filepath.Join(dir, "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Fatal("reported a file that does not exist")
	}
	if cfg.Monitor.PollInterval != Default().Monitor.PollInterval {
		t.Fatalf("poll interval = %d, want default", cfg.Monitor.PollInterval)
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Fatal("WriteSample overwrote an existing file")
	}

	// The sample itself must parse with only a bucket filled in.
	t.Setenv("CADPIPE_BUCKET", "sample-bucket")
	if _, _, _, err := Load(path); err != nil {
		t.Fatalf("Load sample: %v", err)
	}
}
