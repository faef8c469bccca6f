package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
)

// CameraConfig holds the connection settings for a single RTSP camera.
type CameraConfig struct {
	ButtonNo string `json:"button_no"` // Hardware button mapping (optional)
	Name     string `json:"name"`      // Unique camera name (used as stream/recording id)
	IP       string `json:"ip"`        // Camera IP address
	Port     string `json:"port"`      // RTSP port (typically 554)
	Path     string `json:"path"`      // RTSP URL path
	Username string `json:"username"`  // RTSP authentication username
	Password string `json:"password"`  // RTSP authentication password
	Enabled  bool   `json:"enabled"`   // Whether this camera may be used
}

// RTSPURL constructs the full RTSP address for the camera.
func (c CameraConfig) RTSPURL() string {
	return fmt.Sprintf("rtsp://%s:%s@%s:%s%s", c.Username, c.Password, c.IP, c.Port, c.Path)
}

// Config contains all configuration for the application.
type Config struct {
	// Server Configuration
	ServerPort string
	BaseURL    string

	// Storage Configuration
	StoragePath  string
	DatabasePath string

	// Media Process Configuration
	FFmpegPath         string
	HardwareAccel      string // "", "nvidia", "intel", "amd"
	Codec              string // "h264" or "hevc"
	StartupTimeoutSec  int    // grace period for stream startup confirmation
	StopGraceSec       int    // polite-signal window before force kill
	CleanupDelaySec    int    // delay before removing dead stream artifacts
	ProbeTimeoutSec    int    // default probe deadline
	SnapshotTimeoutSec int    // default snapshot deadline
	RetentionDays      int    // artifacts older than this are swept

	// R2 Storage Configuration
	R2AccessKey string
	R2SecretKey string
	R2AccountID string
	R2Bucket    string
	R2Region    string
	R2Endpoint  string
	R2BaseURL   string
	R2Enabled   bool

	// Serial Trigger Configuration
	SerialEnabled bool
	SerialPort    string
	SerialBaud    int

	// Camera Configuration
	Cameras        []CameraConfig
	CameraByButton map[string]*CameraConfig
}

// LoadConfig loads configuration from environment variables. Cameras come
// from the CAMERAS_CONFIG variable as a JSON array.
func LoadConfig() Config {
	cfg := Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		BaseURL:            getEnv("BASE_URL", "http://localhost:8080"),
		StoragePath:        getEnv("STORAGE_PATH", "./data/media"),
		DatabasePath:       getEnv("DATABASE_PATH", "./data/cctv.db"),
		FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		HardwareAccel:      getEnv("HARDWARE_ACCEL", ""),
		Codec:              getEnv("CODEC", "h264"),
		StartupTimeoutSec:  getEnvInt("STARTUP_TIMEOUT_SEC", 15),
		StopGraceSec:       getEnvInt("STOP_GRACE_SEC", 5),
		CleanupDelaySec:    getEnvInt("CLEANUP_DELAY_SEC", 30),
		ProbeTimeoutSec:    getEnvInt("PROBE_TIMEOUT_SEC", 15),
		SnapshotTimeoutSec: getEnvInt("SNAPSHOT_TIMEOUT_SEC", 20),
		RetentionDays:      getEnvInt("RETENTION_DAYS", 14),

		R2AccessKey: getEnv("R2_ACCESS_KEY", ""),
		R2SecretKey: getEnv("R2_SECRET_KEY", ""),
		R2AccountID: getEnv("R2_ACCOUNT_ID", ""),
		R2Bucket:    getEnv("R2_BUCKET", ""),
		R2Region:    getEnv("R2_REGION", "auto"),
		R2Endpoint:  getEnv("R2_ENDPOINT", ""),
		R2BaseURL:   getEnv("R2_BASE_URL", ""),
		R2Enabled:   getEnv("R2_ENABLED", "false") == "true",

		SerialEnabled: getEnv("SERIAL_ENABLED", "false") == "true",
		SerialPort:    getEnv("SERIAL_PORT", "/dev/ttyUSB0"),
		SerialBaud:    getEnvInt("SERIAL_BAUD", 9600),
	}

	if camerasJSON := getEnv("CAMERAS_CONFIG", ""); camerasJSON != "" {
		var cams []CameraConfig
		if err := json.Unmarshal([]byte(camerasJSON), &cams); err != nil {
			log.Printf("Warning: Failed to parse CAMERAS_CONFIG: %v", err)
		} else {
			cfg.Cameras = cams
		}
	}
	cfg.BuildCameraLookup()

	log.Printf("Loaded configuration with %d cameras", len(cfg.Cameras))
	for i, camera := range cfg.Cameras {
		log.Printf("Camera %d: %s @ %s:%s%s (Enabled: %v)",
			i+1, camera.Name, camera.IP, camera.Port, camera.Path, camera.Enabled)
	}
	log.Printf("Storage Path: %s", cfg.StoragePath)
	log.Printf("Server running on port %s with base URL %s", cfg.ServerPort, cfg.BaseURL)
	log.Printf("R2 Storage Enabled: %v", cfg.R2Enabled)

	return cfg
}

// FindCamera returns the enabled camera with the given name, or nil.
func (cfg *Config) FindCamera(name string) *CameraConfig {
	for i := range cfg.Cameras {
		if cfg.Cameras[i].Name == name && cfg.Cameras[i].Enabled {
			return &cfg.Cameras[i]
		}
	}
	return nil
}

// BuildCameraLookup constructs the CameraByButton map for quick lookup.
// Call this whenever cfg.Cameras may have changed.
func (cfg *Config) BuildCameraLookup() {
	if cfg.CameraByButton == nil {
		cfg.CameraByButton = make(map[string]*CameraConfig)
	}
	for k := range cfg.CameraByButton {
		delete(cfg.CameraByButton, k)
	}
	for i := range cfg.Cameras {
		cam := &cfg.Cameras[i]
		if cam.ButtonNo != "" {
			cfg.CameraByButton[cam.ButtonNo] = cam
		}
	}
}

// EnsurePaths creates the directories the application writes into.
func EnsurePaths(cfg Config) {
	paths := []string{
		filepath.Dir(cfg.DatabasePath),
		cfg.StoragePath,
		filepath.Join(cfg.StoragePath, "streams"),
		filepath.Join(cfg.StoragePath, "recordings"),
		filepath.Join(cfg.StoragePath, "snapshots"),
	}
	for _, p := range paths {
		if err := os.MkdirAll(p, 0755); err != nil {
			log.Printf("Failed to create directory %s: %v", p, err)
		}
	}
}

// getEnv returns environment variable or fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt returns an integer environment variable or fallback value.
func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid value %q for %s, using %d", value, key, fallback)
		return fallback
	}
	return n
}
