package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tdjunwei/cctv-monitor-api/media"
)

// streamRequest carries optional output tuning for a live stream
type streamRequest struct {
	Resolution string `json:"resolution"` // e.g. "1280x720"
	Bitrate    string `json:"bitrate"`    // e.g. "2800k"
	FrameRate  int    `json:"frameRate"`
}

// recordingRequest carries optional parameters for a capture
type recordingRequest struct {
	DurationSec int    `json:"durationSec"` // 0 records until stopped
	OutputPath  string `json:"outputPath"`  // empty picks a timestamped file
}

func (s *Server) listCameras(c *gin.Context) {
	cameras := make([]gin.H, 0, len(s.config.Cameras))
	for _, cam := range s.config.Cameras {
		cameras = append(cameras, gin.H{
			"name":    cam.Name,
			"ip":      cam.IP,
			"port":    cam.Port,
			"path":    cam.Path,
			"enabled": cam.Enabled,
		})
	}
	c.JSON(http.StatusOK, gin.H{"cameras": cameras})
}

// startStream attaches a viewer to the camera's live stream, starting
// the transcode if this is the first viewer.
func (s *Server) startStream(c *gin.Context) {
	cameraName := c.Param("camera")

	camera := s.config.FindCamera(cameraName)
	if camera == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Camera not found"})
		return
	}

	var req streamRequest
	// Body is optional
	_ = c.ShouldBindJSON(&req)

	opts := media.StreamOptions{
		Resolution: req.Resolution,
		Bitrate:    req.Bitrate,
		FrameRate:  req.FrameRate,
	}

	locator, err := s.manager.Acquire(cameraName, camera.RTSPURL(), opts)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrStartupTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Stream did not start within the grace period"})
		case errors.Is(err, media.ErrShutdown):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is shutting down"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to start stream: %v", err)})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "streaming",
		"hlsUrl": fmt.Sprintf("%s/streams/%s/%s", s.config.BaseURL, cameraName, filepath.Base(locator)),
	})
}

// stopStream detaches one viewer from the camera's live stream
func (s *Server) stopStream(c *gin.Context) {
	cameraName := c.Param("camera")

	terminated := s.manager.Release(cameraName)
	c.JSON(http.StatusOK, gin.H{
		"status":     "released",
		"terminated": terminated,
	})
}

func (s *Server) listStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"streams": s.manager.ListActiveSessions()})
}

func (s *Server) getStream(c *gin.Context) {
	cameraName := c.Param("camera")

	session, ok := s.manager.GetSession(cameraName)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// startRecording begins an exclusive capture for the camera
func (s *Server) startRecording(c *gin.Context) {
	cameraName := c.Param("camera")

	camera := s.config.FindCamera(cameraName)
	if camera == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Camera not found"})
		return
	}

	var req recordingRequest
	_ = c.ShouldBindJSON(&req)

	outputPath, err := s.manager.StartRecording(cameraName, camera.RTSPURL(), req.OutputPath,
		time.Duration(req.DurationSec)*time.Second)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrRecordingExists):
			c.JSON(http.StatusConflict, gin.H{"error": "Recording already in progress for this camera"})
		case errors.Is(err, media.ErrShutdown):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is shutting down"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to start recording: %v", err)})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "recording",
		"outputPath": outputPath,
	})
}

func (s *Server) stopRecording(c *gin.Context) {
	cameraName := c.Param("camera")

	if !s.manager.StopRecording(cameraName) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active recording for this camera"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
}

func (s *Server) listActiveRecordings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"recordings": s.manager.ListRecordings()})
}

func (s *Server) listRecordingHistory(c *gin.Context) {
	limit, offset := paginationParams(c)

	recs, err := s.db.ListRecordings(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to list recordings: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": recs})
}

// probeCamera checks whether the camera's RTSP source is reachable
func (s *Server) probeCamera(c *gin.Context) {
	cameraName := c.Param("camera")

	camera := s.config.FindCamera(cameraName)
	if camera == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Camera not found"})
		return
	}

	timeout := time.Duration(s.config.ProbeTimeoutSec) * time.Second
	accessible := s.manager.Probe(camera.RTSPURL(), timeout)

	c.JSON(http.StatusOK, gin.H{
		"camera":     cameraName,
		"accessible": accessible,
	})
}

// snapshotCamera grabs a single frame from the camera
func (s *Server) snapshotCamera(c *gin.Context) {
	cameraName := c.Param("camera")

	camera := s.config.FindCamera(cameraName)
	if camera == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Camera not found"})
		return
	}

	outputPath := filepath.Join(s.config.StoragePath, "snapshots",
		fmt.Sprintf("%s_%s.jpg", cameraName, time.Now().Format("20060102_150405")))

	timeout := time.Duration(s.config.SnapshotTimeoutSec) * time.Second
	path, err := s.manager.Snapshot(camera.RTSPURL(), outputPath, timeout)
	if err != nil {
		if errors.Is(err, media.ErrTimeout) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Snapshot timed out"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to take snapshot: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"camera":      cameraName,
		"path":        path,
		"snapshotUrl": fmt.Sprintf("%s/snapshots/%s", s.config.BaseURL, filepath.Base(path)),
	})
}

func (s *Server) listEvents(c *gin.Context) {
	sessionID := c.Query("session")
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.db.ListEvents(sessionID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to list events: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// getSystemHealth reports database, media and system status
func (s *Server) getSystemHealth(c *gin.Context) {
	startTime := time.Now()

	healthResponse := gin.H{
		"status":    "healthy",
		"timestamp": startTime.UTC().Format(time.RFC3339),
	}

	// Database connectivity check
	if _, err := s.db.ListRecordings(1, 0); err != nil {
		healthResponse["status"] = "unhealthy"
		healthResponse["database"] = gin.H{
			"status": "failed",
			"error":  err.Error(),
		}
		c.JSON(http.StatusServiceUnavailable, healthResponse)
		return
	}
	healthResponse["database"] = gin.H{"status": "connected"}

	healthResponse["media"] = gin.H{
		"active_streams":    len(s.manager.ListActiveSessions()),
		"active_recordings": len(s.manager.ListRecordings()),
	}

	if s.metrics != nil {
		healthResponse["operations"] = s.metrics.Snapshot()
	}

	if s.monitor != nil {
		healthResponse["resources"] = s.monitor.Snapshot()
	}

	healthResponse["system"] = gin.H{
		"goroutines": runtime.NumGoroutine(),
		"go_version": runtime.Version(),
	}

	healthResponse["response_time_ms"] = time.Since(startTime).Milliseconds()
	c.JSON(http.StatusOK, healthResponse)
}

func paginationParams(c *gin.Context) (int, int) {
	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
