// Package server exposes the nesting engine, comparator, telemetry and
// reporter over HTTP.
package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/piwi3910/GangNest/internal/engine"
	"github.com/piwi3910/GangNest/internal/model"
	"github.com/piwi3910/GangNest/internal/report"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const apiPath = "/api"

// Recorder accepts fire-and-forget run snapshots.
type Recorder interface {
	Record(ctx context.Context, runContext string, sheetWidth float64, images []model.ImageRef, result model.NestingResult)
}

var log = logrus.WithField("component", "server")

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	Config     model.AppConfig
	Engine     *engine.Engine
	Comparator *engine.Comparator
	Recorder   Recorder
	Reporter   *report.Reporter

	healthy atomic.Bool
}

func New(cfg model.AppConfig, e *engine.Engine, c *engine.Comparator, rec Recorder, rp *report.Reporter) *Server {
	s := &Server{Config: cfg, Engine: e, Comparator: c, Recorder: rec, Reporter: rp}
	s.healthy.Store(true)
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), requestLogger(), gin.Recovery())

	api := r.Group(apiPath)
	api.GET("/health", s.handleHealth)
	api.GET("/strategies", s.handleStrategies)
	api.POST("/nesting", s.handleNesting)
	api.POST("/nesting-telemetry", s.handleTelemetry)
	api.POST("/compare", s.handleCompare)
	api.GET("/report", s.handleReport)
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server stopped")
	case <-ctx.Done():
	}

	s.healthy.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

const requestIDHeader = "X-Request-ID"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"elapsed":    time.Since(start),
		})
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}
