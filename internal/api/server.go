package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JakubPetorvec/PVFSWeight/internal/analysis"
	"github.com/JakubPetorvec/PVFSWeight/internal/collector"
	"github.com/JakubPetorvec/PVFSWeight/internal/db"
	"github.com/JakubPetorvec/PVFSWeight/internal/dgt4"
	"github.com/JakubPetorvec/PVFSWeight/internal/logger"
	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

// Backend is the part of collector.Manager the API drives.
type Backend interface {
	Devices() []collector.DeviceStatus
	Connect(ctx context.Context, name string) error
	Disconnect(name string) error
	Zero(ctx context.Context, name string) error
	UpdateAddress(ctx context.Context, name, address string) error

	Snapshot() *model.AggregatedSnapshot
	Subscribe(fn func(*model.AggregatedSnapshot)) func()

	Samples() []model.RecordedSample
	AppendSample() model.RecordedSample
	ClearSamples()
	Recording() bool
	StartRecording(ctx context.Context) error
	StopRecording()
	SessionID() string

	Analyze() analysis.Report
	AnalysisOptions() analysis.Options
}

// SessionStore serves persisted recordings. db.DB implements it.
type SessionStore interface {
	ListSessions(ctx context.Context) ([]db.Session, error)
	GetSession(ctx context.Context, id string) (db.Session, error)
	SessionSamples(ctx context.Context, id string) ([]model.RecordedSample, error)
}

// Server bundles router and dependencies for the REST API.
type Server struct {
	listen   string
	backend  Backend
	sessions SessionStore
	hub      *WSHub
	engine   *gin.Engine
}

// New constructs a server with routes and middleware. sessions may be nil.
func New(listen string, backend Backend, sessions SessionStore) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	engine.Use(corsMiddleware())

	s := &Server{
		listen:   listen,
		backend:  backend,
		sessions: sessions,
		hub:      NewWSHub(),
		engine:   engine,
	}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Hub exposes the websocket hub.
func (s *Server) Hub() *WSHub {
	return s.hub
}

// Run starts the HTTP server and blocks until shutdown. Snapshots are pushed
// to websocket clients while it runs.
func (s *Server) Run(ctx context.Context) error {
	unsubscribe := s.backend.Subscribe(s.broadcastSnapshot)
	defer unsubscribe()
	defer s.hub.CloseAll()

	srv := &http.Server{
		Addr:    s.listen,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening on %s", s.listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) broadcastSnapshot(snap *model.AggregatedSnapshot) {
	if s.hub.Len() == 0 {
		return
	}
	s.hub.Broadcast(WSMessage{Type: "snapshot", Data: newSnapshotView(snap)})
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api")
	api.GET("/devices", s.handleListDevices)
	api.POST("/devices/:name/connect", s.handleConnect)
	api.POST("/devices/:name/disconnect", s.handleDisconnect)
	api.POST("/devices/:name/zero", s.handleZero)
	api.PUT("/devices/:name/address", s.handleUpdateAddress)

	api.GET("/snapshot", s.handleSnapshot)

	api.GET("/samples", s.handleListSamples)
	api.POST("/samples", s.handleAppendSample)
	api.DELETE("/samples", s.handleClearSamples)
	api.GET("/recording", s.handleRecordingStatus)
	api.POST("/recording/start", s.handleStartRecording)
	api.POST("/recording/stop", s.handleStopRecording)

	api.GET("/analysis", s.handleAnalysis)
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	api.GET("/sessions/:id/report", s.handleSessionReport)

	api.GET("/ws", s.handleWS)
}

// statusFor maps device and session errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, collector.ErrUnknownDevice), errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dgt4.ErrNotConnected), errors.Is(err, collector.ErrConnectAborted):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("api %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
