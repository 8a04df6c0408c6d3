package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryPutIsWriteOnce(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if err := store.Put(ctx, "input/widget/widget_v1.py", []byte("a"), "text/x-python"); err != nil {
		t.Fatalf("first put: %v", err)
	}
	err := store.Put(ctx, "input/widget/widget_v1.py", []byte("b"), "text/x-python")
	if !errors.Is(err, ErrKeyExists) {
		t.Fatalf("second put err = %v, want ErrKeyExists", err)
	}
}

func TestMemoryListFiltersByPrefix(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	for _, key := range []string{
		"input/widget/widget_v1.py",
		"output/widget/widget.STEP",
		"output/widget/widget.STL",
		"output/gear/gear.STEP",
	} {
		if err := store.Put(ctx, key, []byte("x"), ""); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	objects, err := store.List(ctx, "output/widget/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("listed %d objects, want 2", len(objects))
	}
	if objects[0].Key != "output/widget/widget.STEP" || objects[1].Key != "output/widget/widget.STL" {
		t.Fatalf("unexpected listing order: %v", objects)
	}
}

func TestMemoryGetReturnsContent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	if err := store.Put(ctx, "logs/widget/widget_info_20260815_120000.log", []byte("done"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}

	data, err := store.Get(ctx, "logs/widget/widget_info_20260815_120000.log")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "done" {
		t.Fatalf("content = %q, want done", data)
	}

	if _, err := store.Get(ctx, "logs/widget/missing.log"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key err = %v, want ErrNotFound", err)
	}
}

func TestMemorySignedURL(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	if err := store.Put(ctx, "output/widget/widget.STEP", []byte("x"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}

	url, err := store.SignedURL(ctx, "output/widget/widget.STEP", 15*time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if url == "" {
		t.Fatal("empty url")
	}

	if _, err := store.SignedURL(ctx, "output/widget/missing.STEP", time.Minute); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key err = %v, want ErrNotFound", err)
	}
}
