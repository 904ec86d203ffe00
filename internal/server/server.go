// Package server provides the HTTP surface of the migration service.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Satyacharanv/CodeConversionAI/internal/metrics"
	"github.com/Satyacharanv/CodeConversionAI/internal/service"
)

// Options configures a Server.
type Options struct {
	Service        *service.MigrationService
	Metrics        *metrics.Collector
	Logger         *slog.Logger
	MaxUploadBytes int64
	Version        string
}

// Server routes HTTP requests to the migration service.
type Server struct {
	router         *gin.Engine
	svc            *service.MigrationService
	metrics        *metrics.Collector
	logger         *slog.Logger
	maxUploadBytes int64
	version        string
	upgrader       websocket.Upgrader
}

// New creates a server with all routes registered.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:         gin.New(),
		svc:            opts.Service,
		metrics:        opts.Metrics,
		logger:         logger,
		maxUploadBytes: opts.MaxUploadBytes,
		version:        opts.Version,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is open for every route
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(s.logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	api.POST("/upload_files", s.handleUpload)
	api.GET("/download/*path", s.handleDownload)
	api.GET("/download_project_zip/:filename", s.handleProjectZip)
	api.GET("/jobs", s.handleListJobs)
	api.GET("/jobs/:id", s.handleGetJob)
	api.GET("/jobs/:id/events", s.handleJobEvents)
	api.GET("/stats", s.handleStats)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
