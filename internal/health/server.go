// Package health exposes the HTTP health and metrics endpoints for container
// probes and scraping.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/sirupsen/logrus"

	"tg_guard_bot/internal/logging"
)

const (
	storePingTimeout   = 2 * time.Second
	readHeaderTimeout  = 2 * time.Second
	healthListenPrefix = ":"
)

// StoreChecker is the registry backend's liveness probe.
type StoreChecker interface {
	Ping(ctx context.Context) error
}

// Server hosts the health endpoint and owns the underlying HTTP server.
type Server struct {
	server       *http.Server
	logger       *logrus.Entry
	storeChecker StoreChecker
	metricSets   []*metrics.Set
	started      time.Time
}

type response struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
	Uptime string `json:"uptime,omitempty"`
}

// NewServer constructs a server exposing GET /healthz and GET /metrics on the
// provided port. Process metrics are always included in /metrics; sets add
// the bot's own counters.
func NewServer(port int, storeChecker StoreChecker, logger *logrus.Entry, sets ...*metrics.Set) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger:       logging.Component(logger, "health"),
		storeChecker: storeChecker,
		started:      time.Now(),
	}
	for _, set := range sets {
		if set != nil {
			srv.metricSets = append(srv.metricSets, set)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/metrics", srv.handleMetrics)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", healthListenPrefix, port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe starts the health server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("event", "health_stopped").Info("health server stopped")
			return nil
		}

		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok"}
	storeStatus := "ok"

	ctx := r.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if s.storeChecker == nil {
		storeStatus = "error"
		s.logger.WithField("event", "health_store_missing").Warn("store checker is not configured for health endpoint")
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
		err := s.storeChecker.Ping(pingCtx)
		cancel()

		if err != nil {
			storeStatus = "error"
			s.logger.WithFields(logging.Fields{
				"event": "health_store_error",
			}).WithError(err).Warn("store ping failed during health check")
		}
	}

	if storeStatus != "ok" {
		resp.Status = "degraded"
		resp.Store = "error"
	}
	if r.URL.Query().Get("verbose") != "" {
		resp.Uptime = time.Since(s.started).Truncate(time.Second).String()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.writeMetrics(w)
}

func (s *Server) writeMetrics(w io.Writer) {
	metrics.WriteProcessMetrics(w)
	for _, set := range s.metricSets {
		set.WritePrometheus(w)
	}
}
