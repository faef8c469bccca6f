package cron

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tdjunwei/cctv-monitor-api/config"
	"github.com/tdjunwei/cctv-monitor-api/database"
)

// CleanupCron removes recordings, snapshots, and lifecycle events older
// than the configured retention window.
type CleanupCron struct {
	cron      *cron.Cron
	db        database.Database
	cfg       *config.Config
	isRunning bool
}

// NewCleanupCron creates a new retention cleanup cron job
func NewCleanupCron(db database.Database, cfg *config.Config) *CleanupCron {
	return &CleanupCron{
		cron:      cron.New(),
		db:        db,
		cfg:       cfg,
		isRunning: false,
	}
}

// Start schedules the cleanup job and runs one sweep immediately
func (cc *CleanupCron) Start() error {
	if cc.isRunning {
		log.Println("[CleanupCron] Already running")
		return nil
	}

	log.Printf("[CleanupCron] Starting retention cleanup, retention: %d days", cc.cfg.RetentionDays)

	// Daily at 03:30, offset from other maintenance tasks
	_, err := cc.cron.AddFunc("30 3 * * *", func() {
		RunCleanup(cc.db, cc.cfg)
	})
	if err != nil {
		return err
	}

	// Run once at startup
	go RunCleanup(cc.db, cc.cfg)

	cc.cron.Start()
	cc.isRunning = true
	return nil
}

// Stop stops the cron scheduler
func (cc *CleanupCron) Stop() {
	if !cc.isRunning {
		return
	}
	cc.cron.Stop()
	cc.isRunning = false
	log.Println("[CleanupCron] Stopped")
}

// RunCleanup performs a single retention sweep
func RunCleanup(db database.Database, cfg *config.Config) {
	cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays)
	log.Printf("[CleanupCron] 🧹 Cleaning up artifacts created before %s", cutoff.Format("2006-01-02"))

	removed := 0

	recs, err := db.ListRecordingsBefore(cutoff)
	if err != nil {
		log.Printf("[CleanupCron] Failed to query old recordings: %v", err)
	} else {
		for _, rec := range recs {
			if rec.LocalPath != "" {
				if _, err := os.Stat(rec.LocalPath); err == nil {
					if err := os.Remove(rec.LocalPath); err != nil {
						log.Printf("[CleanupCron] Failed to delete %s: %v", rec.LocalPath, err)
						continue
					}
				}
			}
			if err := db.DeleteRecording(rec.ID); err != nil {
				log.Printf("[CleanupCron] Failed to delete recording row %s: %v", rec.ID, err)
				continue
			}
			removed++
		}
	}

	// Sweep orphaned stream directories left behind by unclean shutdowns
	streamsDir := filepath.Join(cfg.StoragePath, "streams")
	entries, err := os.ReadDir(streamsDir)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				dir := filepath.Join(streamsDir, entry.Name())
				if err := os.RemoveAll(dir); err != nil {
					log.Printf("[CleanupCron] Failed to remove stale stream dir %s: %v", dir, err)
				} else {
					log.Printf("[CleanupCron] Removed stale stream dir %s", dir)
				}
			}
		}
	}

	// Old snapshots
	snapshotsDir := filepath.Join(cfg.StoragePath, "snapshots")
	if snaps, err := filepath.Glob(filepath.Join(snapshotsDir, "*")); err == nil {
		for _, snap := range snaps {
			info, err := os.Stat(snap)
			if err != nil || info.IsDir() {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(snap); err != nil {
					log.Printf("[CleanupCron] Failed to delete snapshot %s: %v", snap, err)
				}
			}
		}
	}

	if n, err := db.DeleteEventsBefore(cutoff); err != nil {
		log.Printf("[CleanupCron] Failed to delete old events: %v", err)
	} else if n > 0 {
		log.Printf("[CleanupCron] Deleted %d old lifecycle events", n)
	}

	log.Printf("[CleanupCron] Cleanup completed, removed %d recordings", removed)
}
