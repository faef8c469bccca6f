package service

import (
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tdjunwei/cctv-monitor-api/database"
	"github.com/tdjunwei/cctv-monitor-api/media"
	"github.com/tdjunwei/cctv-monitor-api/storage"
)

// Recorder consumes process lifecycle events, persists them to the
// database, and uploads finished recordings to R2 when configured.
type Recorder struct {
	db   database.Database
	r2   *storage.R2Storage // nil when R2 upload is disabled
	done chan struct{}
}

// NewRecorder creates a Recorder. Pass a nil r2 to skip uploads.
func NewRecorder(db database.Database, r2 *storage.R2Storage) *Recorder {
	return &Recorder{
		db:   db,
		r2:   r2,
		done: make(chan struct{}),
	}
}

// Start consumes events until the channel is closed. Use Done to wait
// for the consumer to drain after unsubscribing.
func (r *Recorder) Start(events <-chan media.Event) {
	go func() {
		defer close(r.done)
		for ev := range events {
			r.handle(ev)
		}
		log.Printf("[Recorder] Event channel closed, consumer stopped")
	}()
}

// Done is closed once the event channel has been drained.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) handle(ev media.Event) {
	r.persistEvent(ev)

	switch ev.Type {
	case media.EventRecordingFinished:
		r.handleRecordingFinished(ev)
	case media.EventRecordingErrored:
		r.handleRecordingErrored(ev)
	}
}

// persistEvent stores every lifecycle event for later inspection
func (r *Recorder) persistEvent(ev media.Event) {
	err := r.db.InsertEvent(database.LifecycleEvent{
		EventID:    ev.EventID,
		Type:       string(ev.Type),
		SessionID:  ev.ID,
		SourceURI:  ev.SourceURI,
		OutputPath: ev.OutputPath,
		ExitCode:   ev.ExitCode,
		Error:      ev.Error,
		At:         ev.At,
	})
	if err != nil {
		log.Printf("[Recorder] Failed to persist %s event for %s: %v", ev.Type, ev.ID, err)
	}
}

// handleRecordingFinished registers the finished file and uploads it
func (r *Recorder) handleRecordingFinished(ev media.Event) {
	rec := database.RecordingRecord{
		ID:         uuid.NewString(),
		CameraName: ev.ID,
		SourceURI:  ev.SourceURI,
		CreatedAt:  ev.At,
		FinishedAt: &ev.At,
		Status:     database.StatusReady,
		LocalPath:  ev.OutputPath,
	}

	if info, err := os.Stat(ev.OutputPath); err == nil {
		rec.Size = info.Size()
	} else {
		log.Printf("[Recorder] Recording %s finished but file %s is missing: %v", ev.ID, ev.OutputPath, err)
		rec.Status = database.StatusFailed
		rec.ErrorMessage = "output file missing after process exit"
	}

	if err := r.db.CreateRecording(rec); err != nil {
		log.Printf("[Recorder] Failed to register recording for %s: %v", ev.ID, err)
		return
	}

	log.Printf("[Recorder] ✅ Registered recording %s for camera %s (%d bytes)", rec.ID, ev.ID, rec.Size)

	if r.r2 != nil && rec.Status == database.StatusReady {
		r.upload(rec)
	}
}

// handleRecordingErrored records the failure so operators can see it
func (r *Recorder) handleRecordingErrored(ev media.Event) {
	now := ev.At
	rec := database.RecordingRecord{
		ID:           uuid.NewString(),
		CameraName:   ev.ID,
		SourceURI:    ev.SourceURI,
		CreatedAt:    ev.At,
		FinishedAt:   &now,
		Status:       database.StatusFailed,
		LocalPath:    ev.OutputPath,
		ErrorMessage: ev.Error,
	}

	if err := r.db.CreateRecording(rec); err != nil {
		log.Printf("[Recorder] Failed to register failed recording for %s: %v", ev.ID, err)
		return
	}

	log.Printf("[Recorder] ❌ Recording for camera %s failed: %s", ev.ID, ev.Error)
}

// upload pushes the recording to R2 and stores the resulting key and URL
func (r *Recorder) upload(rec database.RecordingRecord) {
	if err := r.db.UpdateRecordingStatus(rec.ID, database.StatusUploading, ""); err != nil {
		log.Printf("[Recorder] Failed to mark recording %s as uploading: %v", rec.ID, err)
	}

	start := time.Now()
	key, url, err := r.r2.UploadRecording(rec.LocalPath, rec.CameraName)
	if err != nil {
		log.Printf("[Recorder] Upload failed for recording %s: %v", rec.ID, err)
		if dbErr := r.db.UpdateRecordingStatus(rec.ID, database.StatusReady, err.Error()); dbErr != nil {
			log.Printf("[Recorder] Failed to reset recording %s status: %v", rec.ID, dbErr)
		}
		return
	}

	if err := r.db.UpdateRecordingR2(rec.ID, key, url); err != nil {
		log.Printf("[Recorder] Failed to store R2 info for recording %s: %v", rec.ID, err)
		return
	}

	log.Printf("[Recorder] ✅ Uploaded recording %s in %v: %s", rec.ID, time.Since(start), url)
}
