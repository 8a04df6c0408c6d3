package storage

import (
	"context"
	"fmt"
	"time"

	"cadpipe/internal/config"
)

// Object describes one stored artifact as seen by a listing.
type Object struct {
	Key     string
	Size    int64
	Updated time.Time
}

// Store is the artifact store contract. All keys are hierarchical paths
// following the convention in package artifacts.
type Store interface {
	// Put writes data under key. Keys are write-once; writing an existing
	// key fails with ErrKeyExists.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get reads the full content of key, failing with ErrNotFound when the
	// key is absent. Meant for small objects: scripts and worker logs.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the objects under prefix. The listing may lag recent puts.
	List(ctx context.Context, prefix string) ([]Object, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// SignedURL mints a time-limited retrieval link for key, failing with
	// ErrNotFound when the key is absent.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Delete removes key. Used only for marker cleanup, never for artifacts.
	Delete(ctx context.Context, key string) error
}

// Open constructs the store selected by configuration.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		return NewGCS(ctx, cfg.Storage.Bucket)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("storage backend: unsupported value %q", cfg.Storage.Backend)
	}
}
