package api

import (
	"fmt"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/tdjunwei/cctv-monitor-api/config"
	"github.com/tdjunwei/cctv-monitor-api/database"
	"github.com/tdjunwei/cctv-monitor-api/media"
	"github.com/tdjunwei/cctv-monitor-api/metrics"
	"github.com/tdjunwei/cctv-monitor-api/monitoring"
)

type Server struct {
	config  *config.Config
	db      database.Database
	manager *media.Manager
	monitor *monitoring.Monitor
	metrics *metrics.OperationMetrics
}

func NewServer(cfg *config.Config, db database.Database, manager *media.Manager, monitor *monitoring.Monitor, ops *metrics.OperationMetrics) *Server {
	return &Server{
		config:  cfg,
		db:      db,
		manager: manager,
		monitor: monitor,
		metrics: ops,
	}
}

func (s *Server) Start() {
	r := gin.Default()
	s.setupCORS(r)
	s.setupRoutes(r)
	portAddr := ":" + s.config.ServerPort
	fmt.Printf("Starting API server on %s\n", portAddr)
	r.Run(portAddr)
}

func (s *Server) setupCORS(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})
}

func (s *Server) setupRoutes(r *gin.Engine) {
	// Serve HLS playlists and segments straight from disk
	r.Static("/streams", filepath.Join(s.config.StoragePath, "streams"))
	r.Static("/snapshots", filepath.Join(s.config.StoragePath, "snapshots"))

	// API routes
	api := r.Group("/api")
	{
		api.GET("/cameras", s.listCameras)

		api.POST("/streams/:camera/start", s.startStream)
		api.POST("/streams/:camera/stop", s.stopStream)
		api.GET("/streams", s.listStreams)
		api.GET("/streams/:camera", s.getStream)

		api.POST("/recordings/:camera/start", s.startRecording)
		api.POST("/recordings/:camera/stop", s.stopRecording)
		api.GET("/recordings", s.listActiveRecordings)
		api.GET("/recordings/history", s.listRecordingHistory)

		api.POST("/cameras/:camera/probe", s.probeCamera)
		api.POST("/cameras/:camera/snapshot", s.snapshotCamera)

		api.GET("/events", s.listEvents)
		api.GET("/system_health", s.getSystemHealth)
	}
}

// SetupTestRouter builds a router without starting the listener
func (s *Server) SetupTestRouter() *gin.Engine {
	r := gin.New()
	s.setupCORS(r)
	s.setupRoutes(r)
	return r
}
