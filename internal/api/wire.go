package api

import "time"

// SubmitResponse acknowledges one accepted script submission.
type SubmitResponse struct {
	Project    string `json:"project"`
	Version    int    `json:"version"`
	StorageKey string `json:"storageKey"`
	RunID      string `json:"runId"`
	State      string `json:"state"`
}

// StatusResponse describes the latest run of a project.
type StatusResponse struct {
	Project          string     `json:"project"`
	Version          int        `json:"version"`
	RunID            string     `json:"runId"`
	State            string     `json:"state"`
	SubmittedAt      time.Time  `json:"submittedAt"`
	TimeoutAt        time.Time  `json:"timeoutAt"`
	LastCheckedAt    *time.Time `json:"lastCheckedAt,omitempty"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	PollCount        int        `json:"pollCount"`
	Message          string     `json:"message,omitempty"`
	AvailableFormats []string   `json:"availableFormats"`
}

// DownloadResponse carries one issued download link.
type DownloadResponse struct {
	Project   string    `json:"project"`
	Format    string    `json:"format"`
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RunSummary is one row of a project's run history.
type RunSummary struct {
	RunID         string     `json:"runId"`
	Project       string     `json:"project"`
	Version       int        `json:"version"`
	State         string     `json:"state"`
	StartedAt     time.Time  `json:"startedAt"`
	TimeoutAt     time.Time  `json:"timeoutAt"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	PollCount     int        `json:"pollCount"`
	Message       string     `json:"message,omitempty"`
}

// ScriptSummary is one row of a project's submission history.
type ScriptSummary struct {
	Project    string    `json:"project"`
	Version    int       `json:"version"`
	StorageKey string    `json:"storageKey"`
	Size       int64     `json:"size"`
	UploaderID string    `json:"uploaderId,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// LogSummary points at one worker log object.
type LogSummary struct {
	Project    string    `json:"project"`
	Version    int       `json:"version"`
	StorageKey string    `json:"storageKey"`
	LoggedAt   time.Time `json:"loggedAt"`
}

// RunListResponse wraps a run history listing.
type RunListResponse struct {
	Runs []RunSummary `json:"runs"`
}

// ScriptListResponse wraps a submission history listing.
type ScriptListResponse struct {
	Scripts []ScriptSummary `json:"scripts"`
}

// LogListResponse wraps a worker log listing.
type LogListResponse struct {
	Logs []LogSummary `json:"logs"`
}

// DaemonStatus reports the daemon process state.
type DaemonStatus struct {
	Running      bool      `json:"running"`
	PID          int       `json:"pid"`
	StartedAt    time.Time `json:"startedAt"`
	LedgerPath   string    `json:"ledgerPath"`
	LockFilePath string    `json:"lockFilePath"`
	Bucket       string    `json:"bucket,omitempty"`
	ActiveRuns   int       `json:"activeRuns"`
	Projects     int       `json:"projects"`
}
