package storage

import (
	"errors"
	"fmt"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

var (
	// ErrNotFound marks a specific key as absent. During output polling this
	// is the expected "not ready yet" signal, not a fault.
	ErrNotFound = errors.New("object not found")
	// ErrUnavailable marks a transient backend failure worth retrying.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrUnauthorized marks an authorization failure. Retrying cannot help.
	ErrUnauthorized = errors.New("storage authorization failed")
	// ErrKeyExists marks a rejected overwrite of a write-once key.
	ErrKeyExists = errors.New("object already exists")
)

// classify wraps a backend error with the matching sentinel so callers can
// branch with errors.Is without seeing provider types.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	marker := ErrUnavailable
	var gerr *googleapi.Error
	switch {
	case errors.Is(err, gcs.ErrObjectNotExist):
		marker = ErrNotFound
	case errors.As(err, &gerr):
		switch gerr.Code {
		case http.StatusNotFound:
			marker = ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			marker = ErrUnauthorized
		case http.StatusPreconditionFailed:
			marker = ErrKeyExists
		}
	}
	return fmt.Errorf("%w: %s %s: %w", marker, op, key, err)
}
