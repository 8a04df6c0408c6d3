// Package ledger persists the status of script submissions in SQLite and is
// the single source of truth read by status queries.
//
// It owns the Project version pointer (mutated only through a compare-and-set
// token), the ProcessingRun lifecycle rows, submitted script versions, and
// observed worker artifacts and logs. Every run state transition is a guarded
// UPDATE restricted to non-terminal states, so a run that has been superseded
// or finished can never be flipped by a straggler write.
//
// Treat this package as the single source of truth for run semantics; new
// states or columns go through a migration in migrations/.
package ledger
