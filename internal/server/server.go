// Package server exposes the pipeline over an HTTP JSON API: one
// submission endpoint, read-only drift and history queries, and the
// administrative layer interface.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftgate/driftgate/internal/engine"
	"github.com/driftgate/driftgate/internal/model"
	"github.com/driftgate/driftgate/internal/ratelimit"
	"github.com/driftgate/driftgate/internal/registry"
)

// Config carries what the server needs beyond the engine itself.
type Config struct {
	LayersPath   string             // watched for hot reload; empty disables
	Limiter      *ratelimit.Limiter // nil disables rate limiting
	Logger       *slog.Logger
	PersistDepth func() float64 // async writer queue depth; nil reports 0
}

// Server owns the HTTP surface. All domain state lives in the engine;
// the server only translates requests and status codes.
type Server struct {
	engine  *engine.Engine
	router  *gin.Engine
	logger  *slog.Logger
	metrics *metrics
	limiter *ratelimit.Limiter

	reloadMu   sync.Mutex
	layersPath string
}

// New builds the router. Gin runs in release mode; the daemon's own
// logs come from slog, not gin's request dump.
func New(eng *engine.Engine, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	persistDepth := cfg.PersistDepth
	if persistDepth == nil {
		persistDepth = func() float64 { return 0 }
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:     eng,
		logger:     logger,
		limiter:    cfg.Limiter,
		layersPath: cfg.LayersPath,
	}
	s.metrics = newMetrics(
		func() float64 { return float64(eng.Registry().Len()) },
		persistDepth,
	)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.POST("/observations", s.handleSubmit)

		subjects := v1.Group("/subjects/:id")
		{
			subjects.GET("/drift", s.handleDrift)
			subjects.GET("/drift/history", s.handleDriftHistory)
			subjects.GET("/observations", s.handleObservations)
			subjects.GET("/reports", s.handleReports)
		}

		admin := v1.Group("/admin/layers")
		{
			admin.GET("", s.handleListLayers)
			admin.POST("", s.handleRegisterLayer)
			admin.DELETE("/:name", s.handleDeregisterLayer)
		}
	}

	s.router = router
	return s
}

// Handler returns the http.Handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

type submitRequest struct {
	SubjectID string        `json:"subject_id"`
	Timestamp int64         `json:"timestamp"`
	Payload   model.Payload `json:"payload"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if s.limiter != nil {
		if res := s.limiter.Allow(req.SubjectID, time.Now()); res.Exceeded {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": res.Reason})
			return
		}
	}

	start := time.Now()
	report, err := s.engine.Submit(c.Request.Context(), req.SubjectID, req.Timestamp, req.Payload)
	switch {
	case model.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, model.ErrPersistenceDegraded):
		// The decision stands; only durability failed. The report is
		// returned and the condition is logged and counted.
		s.logger.Warn("persistence degraded", "subject_id", req.SubjectID, "error", err)
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.metrics.evalSeconds.Observe(time.Since(start).Seconds())
	s.metrics.observations.WithLabelValues(string(report.Decision)).Inc()
	s.metrics.driftScore.WithLabelValues(req.SubjectID).Set(report.Drift.Score)

	c.JSON(http.StatusOK, report)
}

func (s *Server) handleDrift(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Drift(c.Param("id")))
}

func (s *Server) handleDriftHistory(c *gin.Context) {
	st := s.engine.Store()
	if st == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence is disabled"})
		return
	}

	from := queryInt64(c, "from", 0)
	to := queryInt64(c, "to", 0)
	limit := int(queryInt64(c, "limit", 100))
	offset := int(queryInt64(c, "offset", 0))

	hist, err := st.DriftHistory(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	total := len(hist)
	if offset > total {
		offset = total
	}
	hist = hist[offset:]
	if limit > 0 && len(hist) > limit {
		hist = hist[:limit]
	}

	c.JSON(http.StatusOK, gin.H{"total": total, "snapshots": hist})
}

func (s *Server) handleObservations(c *gin.Context) {
	st := s.engine.Store()
	if st == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence is disabled"})
		return
	}

	afterSeq := uint64(queryInt64(c, "after_seq", 0))
	limit := int(queryInt64(c, "limit", 100))

	obs, err := st.Observations(c.Request.Context(), c.Param("id"), afterSeq, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"observations": obs})
}

func (s *Server) handleReports(c *gin.Context) {
	st := s.engine.Store()
	if st == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence is disabled"})
		return
	}

	afterSeq := uint64(queryInt64(c, "after_seq", 0))
	limit := int(queryInt64(c, "limit", 100))

	reports, err := st.Reports(c.Request.Context(), c.Param("id"), afterSeq, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (s *Server) handleListLayers(c *gin.Context) {
	reg := s.engine.Registry()
	c.JSON(http.StatusOK, gin.H{
		"policy_hash": reg.Hash(),
		"layers":      reg.Definitions(),
	})
}

func (s *Server) handleRegisterLayer(c *gin.Context) {
	var def registry.LayerDef
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid layer definition: " + err.Error()})
		return
	}

	err := s.engine.Registry().Register(c.Request.Context(), def)
	switch {
	case err == nil:
		s.logger.Info("layer registered", "layer", def.Name, "policy_hash", s.engine.PolicyHash())
		c.JSON(http.StatusCreated, gin.H{"policy_hash": s.engine.PolicyHash()})
	case errors.Is(err, model.ErrDuplicateLayer):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleDeregisterLayer(c *gin.Context) {
	name := c.Param("name")
	err := s.engine.Registry().Deregister(c.Request.Context(), name)
	switch {
	case err == nil:
		s.logger.Info("layer deregistered", "layer", name, "policy_hash", s.engine.PolicyHash())
		c.JSON(http.StatusOK, gin.H{"policy_hash": s.engine.PolicyHash()})
	case errors.Is(err, model.ErrUnknownLayer):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"policy_hash": s.engine.PolicyHash(),
		"layers":      s.engine.Registry().Len(),
	})
}

// ReloadLayers re-reads the layer file and swaps the registry's layer
// set in one step. Invalid files leave the running set untouched.
func (s *Server) ReloadLayers() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	defs, hash, err := registry.LoadLayers(s.layersPath)
	if err != nil {
		return err
	}
	if err := s.engine.Registry().Replace(context.Background(), defs); err != nil {
		return err
	}
	s.logger.Info("layer configuration reloaded",
		"path", s.layersPath, "file_hash", hash, "policy_hash", s.engine.PolicyHash())
	return nil
}

func queryInt64(c *gin.Context, name string, def int64) int64 {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}
