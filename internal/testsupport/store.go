package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"cadpipe/internal/config"
	"cadpipe/internal/ledger"
	"cadpipe/internal/storage"
)

// MustOpenLedger opens a ledger.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg.Paths.DataDir)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// FlakyStore wraps a storage.Store and fails selected operations with an
// injected error until cleared. Zero value passes everything through.
type FlakyStore struct {
	storage.Store

	mu      sync.Mutex
	listErr error
	putErr  error
	signErr error
}

// NewFlakyStore wraps inner with failure injection hooks.
func NewFlakyStore(inner storage.Store) *FlakyStore {
	return &FlakyStore{Store: inner}
}

// FailList makes List return err until called with nil.
func (s *FlakyStore) FailList(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// FailPut makes Put return err until called with nil.
func (s *FlakyStore) FailPut(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// FailSign makes SignedURL return err until called with nil.
func (s *FlakyStore) FailSign(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signErr = err
}

func (s *FlakyStore) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	s.mu.Lock()
	err := s.listErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.List(ctx, prefix)
}

func (s *FlakyStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	err := s.putErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Put(ctx, key, data, contentType)
}

func (s *FlakyStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	err := s.signErr
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.Store.SignedURL(ctx, key, ttl)
}
