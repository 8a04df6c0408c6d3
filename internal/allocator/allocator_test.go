package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"cadpipe/internal/artifacts"
	"cadpipe/internal/ledger"
	"cadpipe/internal/logging"
	"cadpipe/internal/storage"
	"cadpipe/internal/testsupport"
)

func newAllocator(t *testing.T, budget int) (*Allocator, *ledger.Store, storage.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	ledgerStore := testsupport.MustOpenLedger(t, cfg)
	store := storage.NewMemory()
	alloc := New(ledgerStore, store, "py", budget, logging.NewNop())
	return alloc, ledgerStore, store
}

func TestAllocateIsMonotonic(t *testing.T) {
	alloc, _, _ := newAllocator(t, 5)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := alloc.Allocate(ctx, "widget")
		if err != nil {
			t.Fatalf("Allocate #%d: %v", want, err)
		}
		if got != want {
			t.Fatalf("Allocate #%d = %d", want, got)
		}
	}
}

func TestAllocateSkipsStoredVersions(t *testing.T) {
	alloc, _, store := newAllocator(t, 5)
	ctx := context.Background()

	// Scripts in the store the ledger never saw, as after a ledger rebuild.
	for _, version := range []int{1, 2, 5} {
		key := artifacts.InputKey("widget", version, "py")
		if err := store.Put(ctx, key, []byte("x"), "text/x-python"); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	got, err := alloc.Allocate(ctx, "widget")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got != 6 {
		t.Fatalf("Allocate = %d, want 6", got)
	}
}

func TestAllocateRejectsInvalidProject(t *testing.T) {
	alloc, _, _ := newAllocator(t, 5)
	_, err := alloc.Allocate(context.Background(), "../escape")
	if !errors.Is(err, artifacts.ErrInvalidProjectID) {
		t.Fatalf("err = %v, want ErrInvalidProjectID", err)
	}
}

func TestConcurrentAllocationsAreUnique(t *testing.T) {
	alloc, _, _ := newAllocator(t, 20)
	ctx := context.Background()
	const submitters = 8

	var wg sync.WaitGroup
	results := make(chan int, submitters)
	errs := make(chan error, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			version, err := alloc.Allocate(ctx, "widget")
			if err != nil {
				errs <- err
				return
			}
			results <- version
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("Allocate: %v", err)
	}
	seen := make(map[int]bool)
	for version := range results {
		if seen[version] {
			t.Fatalf("version %d allocated twice", version)
		}
		seen[version] = true
	}
	for want := 1; want <= submitters; want++ {
		if !seen[want] {
			t.Fatalf("version %d missing from %v", want, seen)
		}
	}
}

// contendedStore bumps the project's version pointer during every List,
// guaranteeing the allocator's compare-and-set loses each attempt.
type contendedStore struct {
	storage.Store
	ledger  *ledger.Store
	project string
}

func (s *contendedStore) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	project, err := s.ledger.GetProject(ctx, s.project)
	if err != nil {
		return nil, fmt.Errorf("contend: %w", err)
	}
	if _, err := s.ledger.CommitVersion(ctx, s.project, project.CurrentVersion+1, project.CASToken); err != nil {
		return nil, fmt.Errorf("contend: %w", err)
	}
	return s.Store.List(ctx, prefix)
}

func TestAllocateExhaustsRetryBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ledgerStore := testsupport.MustOpenLedger(t, cfg)
	store := &contendedStore{Store: storage.NewMemory(), ledger: ledgerStore, project: "widget"}
	alloc := New(ledgerStore, store, "py", 3, logging.NewNop())

	_, err := alloc.Allocate(context.Background(), "widget")
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
}
