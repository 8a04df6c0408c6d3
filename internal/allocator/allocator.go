// Package allocator assigns monotonically increasing version numbers to
// script submissions. Concurrent submitters race through a compare-and-set on
// the project row; the loser rereads and retries within a bounded budget.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cadpipe/internal/artifacts"
	"cadpipe/internal/ledger"
	"cadpipe/internal/logging"
	"cadpipe/internal/metrics"
	"cadpipe/internal/storage"
)

// ErrVersionConflict is returned when the retry budget is exhausted without
// winning the compare-and-set. The submission failed; nothing was stored.
var ErrVersionConflict = errors.New("version allocation conflict")

// Allocator hands out the next version for a project.
type Allocator struct {
	ledger      *ledger.Store
	store       storage.Store
	scriptExt   string
	retryBudget int
	logger      *slog.Logger
}

// New builds an Allocator. retryBudget is the number of compare-and-set
// attempts before giving up.
func New(ledgerStore *ledger.Store, store storage.Store, scriptExt string, retryBudget int, logger *slog.Logger) *Allocator {
	if retryBudget < 1 {
		retryBudget = 1
	}
	return &Allocator{
		ledger:      ledgerStore,
		store:       store,
		scriptExt:   scriptExt,
		retryBudget: retryBudget,
		logger:      logging.WithComponent(logger, "allocator"),
	}
}

// Allocate reserves the next version number for projectID. The returned
// version is committed in the ledger before any upload happens, so two
// submitters can never both hold the same number.
func (a *Allocator) Allocate(ctx context.Context, projectID string) (int, error) {
	if err := artifacts.ValidateProjectID(projectID); err != nil {
		return 0, err
	}
	if err := a.ledger.EnsureProject(ctx, projectID, "", ""); err != nil {
		return 0, err
	}

	for attempt := 1; attempt <= a.retryBudget; attempt++ {
		project, err := a.ledger.GetProject(ctx, projectID)
		if err != nil {
			return 0, err
		}

		highest, err := a.highestStoredVersion(ctx, projectID)
		if err != nil {
			return 0, fmt.Errorf("scan stored versions: %w", err)
		}
		next := project.CurrentVersion + 1
		if highest >= next {
			// The store knows about versions the ledger missed, which
			// happens after a ledger rebuild. Never reuse those numbers.
			next = highest + 1
		}

		committed, err := a.ledger.CommitVersion(ctx, projectID, next, project.CASToken)
		if err != nil {
			return 0, err
		}
		if committed {
			a.logger.Debug("version allocated",
				logging.Project(projectID),
				logging.Version(next),
				logging.Int("attempt", attempt))
			return next, nil
		}

		metrics.AllocationConflictsTotal.Inc()
		a.logger.Debug("allocation conflict, retrying",
			logging.Project(projectID),
			logging.Int("attempt", attempt))
	}

	return 0, fmt.Errorf("%w: project %s after %d attempts", ErrVersionConflict, projectID, a.retryBudget)
}

// highestStoredVersion scans the input prefix and returns the largest version
// number found, or zero when the project has no stored scripts.
func (a *Allocator) highestStoredVersion(ctx context.Context, projectID string) (int, error) {
	objects, err := a.store.List(ctx, artifacts.InputPrefix(projectID))
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, obj := range objects {
		if version, ok := artifacts.ParseInputVersion(projectID, obj.Key, a.scriptExt); ok && version > highest {
			highest = version
		}
	}
	return highest, nil
}
