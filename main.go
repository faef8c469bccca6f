package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tdjunwei/cctv-monitor-api/api"
	"github.com/tdjunwei/cctv-monitor-api/config"
	"github.com/tdjunwei/cctv-monitor-api/cron"
	"github.com/tdjunwei/cctv-monitor-api/database"
	"github.com/tdjunwei/cctv-monitor-api/media"
	"github.com/tdjunwei/cctv-monitor-api/metrics"
	"github.com/tdjunwei/cctv-monitor-api/monitoring"
	"github.com/tdjunwei/cctv-monitor-api/service"
	"github.com/tdjunwei/cctv-monitor-api/signaling"
	"github.com/tdjunwei/cctv-monitor-api/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load config
	cfg := config.LoadConfig()

	// Ensure all required directories exist
	config.EnsurePaths(cfg)

	// Initialize database
	db, err := database.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize SQLite database:", err)
	}
	defer db.Close()

	// Initialize R2 storage when enabled
	var r2Storage *storage.R2Storage
	if cfg.R2Enabled {
		r2Storage, err = storage.NewR2Storage(storage.R2Config{
			AccessKey: cfg.R2AccessKey,
			SecretKey: cfg.R2SecretKey,
			AccountID: cfg.R2AccountID,
			Bucket:    cfg.R2Bucket,
			Endpoint:  cfg.R2Endpoint,
			Region:    cfg.R2Region,
			BaseURL:   cfg.R2BaseURL,
		})
		if err != nil {
			log.Fatal("Failed to initialize R2 storage:", err)
		}
	}

	// Media process manager
	ops := metrics.NewOperationMetrics()
	manager := media.NewManager(media.Config{
		FFmpegPath:     cfg.FFmpegPath,
		StoragePath:    cfg.StoragePath,
		HardwareAccel:  cfg.HardwareAccel,
		Codec:          cfg.Codec,
		StartupTimeout: time.Duration(cfg.StartupTimeoutSec) * time.Second,
		StopGrace:      time.Duration(cfg.StopGraceSec) * time.Second,
		CleanupDelay:   time.Duration(cfg.CleanupDelaySec) * time.Second,
	}, ops)

	// Lifecycle event consumer: persists events, uploads recordings
	recorder := service.NewRecorder(db, r2Storage)
	subToken, events := manager.Notifier().Subscribe()
	recorder.Start(events)

	// Retention cleanup
	cleanup := cron.NewCleanupCron(db, &cfg)
	if err := cleanup.Start(); err != nil {
		log.Fatal("Failed to start cleanup cron:", err)
	}

	// Resource monitoring
	monitor, err := monitoring.NewMonitor(cfg.StoragePath)
	if err != nil {
		log.Printf("Resource monitoring unavailable: %v", err)
	} else {
		monitor.Start(60 * time.Second)
	}

	// Hardware button triggers over serial
	var buttons *signaling.ButtonSignal
	if cfg.SerialEnabled {
		trigger := signaling.NewButtonTrigger(&cfg, manager)
		buttons, err = signaling.NewButtonSignal(cfg.SerialPort, cfg.SerialBaud, trigger.HandleSignal)
		if err != nil {
			log.Printf("Failed to create button signal reader: %v", err)
		} else if err := buttons.Connect(); err != nil {
			log.Printf("Failed to connect to serial port %s: %v", cfg.SerialPort, err)
		} else {
			log.Printf("Listening for button signals on %s", cfg.SerialPort)
		}
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down", sig)

		cleanup.Stop()
		if buttons != nil {
			buttons.Close()
		}

		manager.Shutdown()
		manager.Notifier().Unsubscribe(subToken)
		<-recorder.Done()

		db.Close()
		os.Exit(0)
	}()

	// Start web server (blocks)
	server := api.NewServer(&cfg, db, manager, monitor, ops)
	server.Start()
}
