package media

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a stream session.
// Transitions are forward-only: starting -> running -> stopped|failed.
type Status string

const (
	StatusStarting Status = "starting" // Process spawned, artifact not yet confirmed
	StatusRunning  Status = "running"  // Output artifact confirmed on disk
	StatusStopped  Status = "stopped"  // Terminated deliberately or exited cleanly
	StatusFailed   Status = "failed"   // Spawn error after registration or nonzero exit
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// StreamSession is the pure state record for one shared live transcode.
// It carries no OS resources; process handles live in the manager's
// side table keyed by the same id.
type StreamSession struct {
	ID            string    `json:"id"`
	SourceURI     string    `json:"sourceUri"`
	Status        Status    `json:"status"`
	StartedAt     time.Time `json:"startedAt"`
	OutputLocator string    `json:"outputLocator"` // HLS playlist path, set once confirmed on disk
	ViewerCount   int       `json:"viewerCount"`
}

// RecordingJob is the state record for one exclusive capture. Recordings
// have no viewer concept: a second start for the same id is rejected.
type RecordingJob struct {
	ID         string        `json:"id"`
	SourceURI  string        `json:"sourceUri"`
	OutputPath string        `json:"outputPath"`
	Duration   time.Duration `json:"duration"` // 0 means open-ended
	StartedAt  time.Time     `json:"startedAt"`
}

// Errors surfaced synchronously to callers. Post-spawn failures are never
// returned from unrelated calls; they are visible only through session
// state and lifecycle events.
var (
	// ErrSpawn means the external binary could not be started at all.
	// Nothing was registered.
	ErrSpawn = errors.New("failed to spawn media process")

	// ErrStartupTimeout means the process started but the output artifact
	// did not appear within the startup grace period. The process is left
	// running and the session stays registered; it may still become
	// running later or be force-stopped via Release.
	ErrStartupTimeout = errors.New("stream startup not confirmed within grace period")

	// ErrRecordingExists rejects a second start for an in-flight recording id.
	ErrRecordingExists = errors.New("recording already in progress for this id")

	// ErrTimeout is returned by snapshot when the hard deadline elapses.
	ErrTimeout = errors.New("operation timed out")

	// ErrShutdown rejects new work after Shutdown has begun.
	ErrShutdown = errors.New("media manager is shut down")
)
