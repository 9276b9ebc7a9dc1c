// Package api exposes the controller over HTTP: the current dispatch
// command, the full horizon schedule, service status and a manual trigger.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/mfallas/mpcdispatch/core/controller"
	"github.com/mfallas/mpcdispatch/core/model"
	"github.com/mfallas/mpcdispatch/infra/logger"
)

// Dispatcher is the controller surface the API consumes.
type Dispatcher interface {
	Snapshot() controller.Snapshot
	RunCycle(ctx context.Context) (model.DispatchCommand, error)
}

// Server serves the dispatch API.
type Server struct {
	addr    string
	ctrl    Dispatcher
	log     logger.Logger
	started time.Time
	srv     *http.Server
}

// NewServer creates the API server. Gin runs in release mode unless
// APP_ENV selects a dev logger elsewhere.
func NewServer(addr string, ctrl Dispatcher, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		addr:    addr,
		ctrl:    ctrl,
		log:     log,
		started: time.Now(),
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", s.root)
	router.GET("/health", s.health)
	mpc := router.Group("/api/mpc")
	{
		mpc.GET("/current_dispatch", s.currentDispatch)
		mpc.GET("/full_schedule", s.fullSchedule)
		mpc.GET("/status", s.status)
		mpc.POST("/trigger", s.trigger)
	}

	s.srv = &http.Server{
		Addr:    addr,
		Handler: cors.Default().Handler(router),
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
	}()
	s.log.Infof("api listening on %s", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "mpcdispatch",
		"status":  "running",
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// currentDispatch returns the latest first-step command, or 404 before the
// first cycle completes.
func (s *Server) currentDispatch(c *gin.Context) {
	snap := s.ctrl.Snapshot()
	if snap.Command == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no dispatch command yet"})
		return
	}
	c.JSON(http.StatusOK, snap.Command)
}

// fullSchedule returns the latest full-horizon schedule, or 404 before the
// first successful cycle.
func (s *Server) fullSchedule(c *gin.Context) {
	snap := s.ctrl.Snapshot()
	if snap.Schedule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no schedule yet"})
		return
	}
	c.JSON(http.StatusOK, snap.Schedule)
}

func (s *Server) status(c *gin.Context) {
	snap := s.ctrl.Snapshot()
	resp := gin.H{
		"uptime_seconds":          time.Since(s.started).Seconds(),
		"optimization_count":      snap.State.OptimizationCount,
		"current_soc":             snap.State.CurrentSoC,
		"last_optimization_time":  snap.State.LastOptimizationTime,
		"last_battery_command_kw": snap.State.LastBatteryCommandKW,
	}
	if snap.Command != nil {
		resp["last_command"] = snap.Command
	}
	c.JSON(http.StatusOK, resp)
}

// trigger runs one cycle immediately. A cycle already in flight yields 409;
// the manual request is dropped, not queued.
func (s *Server) trigger(c *gin.Context) {
	cmd, err := s.ctrl.RunCycle(c.Request.Context())
	if err != nil {
		if errors.Is(err, controller.ErrCycleInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cmd)
}
