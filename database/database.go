package database

import (
	"time"
)

// RecordingStatus represents the current state of a recording
type RecordingStatus string

const (
	StatusRecording RecordingStatus = "recording" // Recording is in progress
	StatusReady     RecordingStatus = "ready"     // Recording finished and the file is usable
	StatusUploading RecordingStatus = "uploading" // Recording is being uploaded to cloud storage
	StatusUploaded  RecordingStatus = "uploaded"  // Recording has been uploaded to R2
	StatusFailed    RecordingStatus = "failed"    // Recording failed
)

// RecordingRecord represents the metadata for a recorded video file
type RecordingRecord struct {
	ID           string          `json:"id"`           // Recording identifier (camera name or caller-supplied)
	CameraName   string          `json:"cameraName"`   // Name of the camera that produced this recording
	SourceURI    string          `json:"sourceUri"`    // RTSP source the recording was captured from
	CreatedAt    time.Time       `json:"createdAt"`    // When the recording started
	FinishedAt   *time.Time      `json:"finishedAt"`   // When the recording finished (nil if still recording)
	UploadedAt   *time.Time      `json:"uploadedAt"`   // When the file was uploaded to R2
	Status       RecordingStatus `json:"status"`       // Current status
	Duration     float64         `json:"duration"`     // Requested duration in seconds (0 = unbounded)
	Size         int64           `json:"size"`         // File size in bytes
	LocalPath    string          `json:"localPath"`    // Path to the local MP4 file
	R2Path       string          `json:"r2Path"`       // R2 object key
	R2URL        string          `json:"r2Url"`        // Public R2 URL
	ErrorMessage string          `json:"errorMessage"` // Error message if the recording failed
}

// LifecycleEvent is a persisted copy of a process lifecycle notification.
type LifecycleEvent struct {
	EventID    string    `json:"eventId"`    // Unique event identifier
	Type       string    `json:"type"`       // Event type (stream_started, recording_finished, ...)
	SessionID  string    `json:"sessionId"`  // Stream or recording identifier
	SourceURI  string    `json:"sourceUri"`  // Media source the event relates to
	OutputPath string    `json:"outputPath"` // Artifact path, if any
	ExitCode   int       `json:"exitCode"`   // Process exit code for terminal events
	Error      string    `json:"error"`      // Error description for failure events
	At         time.Time `json:"at"`         // When the event occurred
}

// Database defines the interface for database operations
type Database interface {
	// Recording operations
	CreateRecording(rec RecordingRecord) error
	GetRecording(id string) (*RecordingRecord, error)
	UpdateRecording(rec RecordingRecord) error
	ListRecordings(limit, offset int) ([]RecordingRecord, error)
	DeleteRecording(id string) error

	// Status operations
	GetRecordingsByStatus(status RecordingStatus, limit, offset int) ([]RecordingRecord, error)
	UpdateRecordingStatus(id string, status RecordingStatus, errorMsg string) error

	// R2 storage operations
	UpdateRecordingR2(id, r2Path, r2URL string) error

	// Lifecycle event operations
	InsertEvent(ev LifecycleEvent) error
	ListEvents(sessionID string, limit int) ([]LifecycleEvent, error)
	DeleteEventsBefore(cutoff time.Time) (int64, error)

	// Retention operations
	ListRecordingsBefore(cutoff time.Time) ([]RecordingRecord, error)

	// Helper operations
	Close() error
}
