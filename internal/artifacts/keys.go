package artifacts

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// logTimeLayout matches the worker's log file timestamps.
const logTimeLayout = "20060102_150405"

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ErrInvalidProjectID rejects ids that would corrupt the key hierarchy.
var ErrInvalidProjectID = errors.New("invalid project id")

// ValidateProjectID checks an id against the key-safe pattern.
func ValidateProjectID(id string) error {
	if !projectIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidProjectID, id)
	}
	return nil
}

// InputKey builds the key of one submitted script version.
// Shape: input/{project}/{project}_v{n}.{ext}
func InputKey(project string, version int, ext string) string {
	return fmt.Sprintf("input/%s/%s_v%d.%s", project, project, version, ext)
}

// InputPrefix is the listing prefix for a project's submitted scripts.
func InputPrefix(project string) string {
	return "input/" + project + "/"
}

// OutputPrefix is the listing prefix for a project's worker outputs.
func OutputPrefix(project string) string {
	return "output/" + project + "/"
}

// LogPrefix is the listing prefix for a project's worker logs.
func LogPrefix(project string) string {
	return "logs/" + project + "/"
}

// ProcessedKey builds the idempotent completion marker key for a version.
// Shape: processed/{project}/{project}_v{n}.done
func ProcessedKey(project string, version int) string {
	return fmt.Sprintf("processed/%s/%s_v%d.done", project, project, version)
}

// ParseInputVersion extracts the version number from an input script key.
// Returns false for keys outside the convention.
func ParseInputVersion(project, key, ext string) (int, bool) {
	prefix := InputPrefix(project) + project + "_v"
	suffix := "." + ext
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
		return 0, false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix)
	version, err := strconv.Atoi(middle)
	if err != nil || version <= 0 {
		return 0, false
	}
	return version, true
}

// ParseLogTimestamp extracts the worker timestamp from a log key.
// Shape: logs/{project}/{project}_info_{YYYYMMDD_HHMMSS}.log
func ParseLogTimestamp(project, key string) (time.Time, bool) {
	prefix := LogPrefix(project) + project + "_info_"
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ".log") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".log")
	ts, err := time.Parse(logTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
