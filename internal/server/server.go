// Package server exposes a read-only status API over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/henrisama/dexscreener/internal/blacklist"
	"github.com/henrisama/dexscreener/internal/logger"
	"github.com/henrisama/dexscreener/internal/models"
	"github.com/henrisama/dexscreener/internal/observability"
)

// Positions lists ledger records.
type Positions interface {
	ListOpen(ctx context.Context) ([]models.Position, error)
	ListAll(ctx context.Context) ([]models.Position, error)
}

// Blacklist exposes the current blacklist contents.
type Blacklist interface {
	Snapshot() blacklist.Snapshot
}

// Server serves /healthz, /positions, /blacklist and /metrics.
type Server struct {
	addr      string
	positions Positions
	blacklist Blacklist
	started   time.Time
}

func New(addr string, positions Positions, bl Blacklist) *Server {
	return &Server{
		addr:      addr,
		positions: positions,
		blacklist: bl,
		started:   time.Now(),
	}
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", s.health)
	router.GET("/positions", s.listPositions)
	router.GET("/blacklist", s.getBlacklist)
	router.GET("/metrics", gin.WrapH(observability.Handler()))
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Status API listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) listPositions(c *gin.Context) {
	var (
		positions []models.Position
		err       error
	)
	if c.Query("all") == "true" {
		positions, err = s.positions.ListAll(c.Request.Context())
	} else {
		positions, err = s.positions.ListOpen(c.Request.Context())
	}
	if err != nil {
		logger.Warn("Failed to list positions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list positions"})
		return
	}
	if positions == nil {
		positions = []models.Position{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(positions), "positions": positions})
}

func (s *Server) getBlacklist(c *gin.Context) {
	c.JSON(http.StatusOK, s.blacklist.Snapshot())
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
