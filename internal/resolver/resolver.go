// Package resolver turns a project's stored outputs into time-limited
// download links, preferring exchange formats over meshes.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cadpipe/internal/artifacts"
	"cadpipe/internal/logging"
	"cadpipe/internal/metrics"
	"cadpipe/internal/storage"
)

// Resolution is one issued download link.
type Resolution struct {
	Format    artifacts.Format
	Key       string
	URL       string
	ExpiresAt time.Time
}

// NotAvailableError reports that no attempted format had a signable object.
type NotAvailableError struct {
	ProjectID string
	Attempted []artifacts.Format
}

func (e *NotAvailableError) Error() string {
	tags := make([]string, len(e.Attempted))
	for i, f := range e.Attempted {
		tags[i] = string(f)
	}
	return fmt.Sprintf("no downloadable output for project %s (tried %s)", e.ProjectID, strings.Join(tags, ", "))
}

// Resolver issues signed URLs against the live object store. It never trusts
// the ledger for presence; the store is checked at resolve time.
type Resolver struct {
	store  storage.Store
	ttl    time.Duration
	logger *slog.Logger
}

// New builds a Resolver issuing links valid for ttl.
func New(store storage.Store, ttl time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		ttl:    ttl,
		logger: logging.WithComponent(logger, "resolver"),
	}
}

// Resolve returns a download link for the best available format. When
// requested is non-empty only that format is attempted; otherwise formats are
// tried in preference order. A format whose object exists but cannot be
// signed is skipped in favor of the next one.
func (r *Resolver) Resolve(ctx context.Context, projectID string, requested artifacts.Format) (*Resolution, error) {
	if err := artifacts.ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	candidates, err := r.latestByFormat(ctx, projectID)
	if err != nil {
		return nil, err
	}

	order := artifacts.DefaultPriority()
	if requested != "" {
		order = []artifacts.Format{requested}
	}

	attempted := make([]artifacts.Format, 0, len(order))
	for _, format := range order {
		attempted = append(attempted, format)
		key, ok := candidates[format]
		if !ok {
			continue
		}
		url, err := r.store.SignedURL(ctx, key, r.ttl)
		if err != nil {
			// The object may have been deleted between listing and signing,
			// or signing credentials may lack this scope. Try the next one.
			r.logger.Warn("sign failed, trying next format",
				logging.Project(projectID),
				logging.Format(string(format)),
				logging.Key(key),
				logging.Error(err))
			continue
		}
		metrics.SignedURLsTotal.WithLabelValues(string(format)).Inc()
		r.logger.Info("issued download link",
			logging.Project(projectID),
			logging.Format(string(format)),
			logging.Key(key))
		return &Resolution{
			Format:    format,
			Key:       key,
			URL:       url,
			ExpiresAt: time.Now().UTC().Add(r.ttl),
		}, nil
	}

	return nil, &NotAvailableError{ProjectID: projectID, Attempted: attempted}
}

// AvailableFormats lists the formats currently present in the project's
// output namespace, in preference order.
func (r *Resolver) AvailableFormats(ctx context.Context, projectID string) ([]artifacts.Format, error) {
	candidates, err := r.latestByFormat(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var available []artifacts.Format
	for _, format := range artifacts.DefaultPriority() {
		if _, ok := candidates[format]; ok {
			available = append(available, format)
		}
	}
	return available, nil
}

// latestByFormat maps each recognized format to its most recently written key
// under the project's output prefix.
func (r *Resolver) latestByFormat(ctx context.Context, projectID string) (map[artifacts.Format]string, error) {
	objects, err := r.store.List(ctx, artifacts.OutputPrefix(projectID))
	if err != nil {
		return nil, fmt.Errorf("list outputs for %s: %w", projectID, err)
	}
	type candidate struct {
		key     string
		updated time.Time
	}
	best := make(map[artifacts.Format]candidate)
	for _, obj := range objects {
		format, ok := artifacts.FormatForKey(obj.Key)
		if !ok {
			continue
		}
		current, seen := best[format]
		if !seen || obj.Updated.After(current.updated) {
			best[format] = candidate{key: obj.Key, updated: obj.Updated}
		}
	}
	result := make(map[artifacts.Format]string, len(best))
	for format, c := range best {
		result[format] = c.key
	}
	return result, nil
}
