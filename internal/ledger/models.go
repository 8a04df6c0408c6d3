package ledger

import (
	"strings"
	"time"

	"cadpipe/internal/artifacts"
)

// RunState represents the lifecycle of a processing run. Values are the wire
// spellings surfaced to clients.
type RunState string

const (
	StatePending    RunState = "Pending"
	StateProcessing RunState = "Processing"
	StateCompleted  RunState = "Completed"
	StateTimedOut   RunState = "TimedOut"
	StateFailed     RunState = "Failed"
	StateSuperseded RunState = "Superseded"
)

var allStates = []RunState{
	StatePending,
	StateProcessing,
	StateCompleted,
	StateTimedOut,
	StateFailed,
	StateSuperseded,
}

// activeStates are the non-terminal states a guarded transition may leave.
var activeStates = []RunState{StatePending, StateProcessing}

// ParseRunState converts a string into a known RunState.
func ParseRunState(value string) (RunState, bool) {
	trimmed := strings.TrimSpace(value)
	for _, state := range allStates {
		if strings.EqualFold(string(state), trimmed) {
			return state, true
		}
	}
	return "", false
}

// IsTerminal reports whether the state permits no further transitions.
func (s RunState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateFailed, StateSuperseded:
		return true
	default:
		return false
	}
}

// Project is the durable record owning the version pointer for one project.
// CurrentVersion moves only through the allocator's compare-and-set.
type Project struct {
	ID             string
	DisplayName    string
	OwnerID        string
	CurrentVersion int
	CASToken       int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Run is the tracked lifecycle of converting one (project, version) pair.
type Run struct {
	ID            string
	ProjectID     string
	Version       int
	State         RunState
	StartedAt     time.Time
	TimeoutAt     time.Time
	LastPollAt    *time.Time
	PollCount     int
	FailureStreak int
	FinishedAt    *time.Time
	Message       string
	// BaselineKeys holds the recognized output keys already present when the
	// run was created. Only keys outside this set count as this run's output.
	BaselineKeys []string
}

// ScriptVersion records one immutable submitted input artifact.
type ScriptVersion struct {
	ProjectID  string
	Version    int
	StorageKey string
	Size       int64
	UploaderID string
	UploadedAt time.Time
}

// OutputArtifact records a worker output observed in the object store. These
// rows are only ever observed, never invented.
type OutputArtifact struct {
	ProjectID    string
	Version      int
	Format       artifacts.Format
	StorageKey   string
	Size         int64
	DiscoveredAt time.Time
}

// LogRecord points at a worker-produced log surfaced to clients.
type LogRecord struct {
	ProjectID  string
	Version    int
	StorageKey string
	Summary    string
	LoggedAt   time.Time
}
