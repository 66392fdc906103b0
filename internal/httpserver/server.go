// Package httpserver serves the read-only run query API.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tinytelemetry/jitlens/internal/model"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = "127.0.0.1:3000"

// Options configures optional parts of the server.
type Options struct {
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
	// Middleware runs before every handler.
	Middleware []gin.HandlerFunc
}

// Server provides the HTTP API over persisted runs.
type Server struct {
	addr      string
	store     model.ReadAPI
	opts      Options
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	log       logrus.FieldLogger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, store model.ReadAPI, opts Options) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		store:     store,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		log:       logrus.WithField("component", "httpserver"),
	}
}

// Handler builds the gin router with every API route.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.opts.Middleware...)

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/schema", s.handleSchema)
	api.POST("/query", s.handleQuery)

	api.GET("/runs", s.handleRuns)
	api.GET("/runs/latest", s.handleLatestRun)
	run := api.Group("/runs/:id", s.loadRun)
	run.GET("", s.handleRun)
	run.GET("/events", s.handleEvents)
	run.GET("/codecache", s.handleCodeCache)
	run.GET("/diagnostics", s.handleDiagnostics)
	run.GET("/classes", s.handleClasses)

	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("httpserver: serve failed")
		}
	}()
	s.log.WithField("addr", ln.Addr().String()).Info("httpserver: listening")
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func (s *Server) handleHealth(c *gin.Context) {
	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).String(),
		"run_count": counts["runs"],
	})
}

func (s *Server) handleRuns(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		s.log.WithError(err).Warn("httpserver: list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []model.RunSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleLatestRun(c *gin.Context) {
	run, err := s.store.LatestRun()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read latest run"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runs recorded"})
		return
	}
	c.JSON(http.StatusOK, run)
}

const runKey = "run"

// loadRun resolves :id and aborts with 404 for unknown runs.
func (s *Server) loadRun(c *gin.Context) {
	id := c.Param("id")
	run, err := s.store.Run(id)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to read run"})
		return
	}
	if run == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("run %q not found", id)})
		return
	}
	c.Set(runKey, run)
	c.Next()
}

func (s *Server) handleRun(c *gin.Context) {
	run := c.MustGet(runKey).(*model.RunSummary)
	counts, err := s.store.EventCountsByKind(run.RunID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "event_counts": counts})
}

func (s *Server) handleEvents(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	opts := model.EventQueryOpts{Kind: c.Query("kind"), Class: c.Query("class"), Limit: limit}
	if opts.Kind != "" {
		if _, known := model.ParseEventType(opts.Kind); !known {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown event kind %q", opts.Kind)})
			return
		}
	}

	events, err := s.store.RunEvents(c.Param("id"), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read events"})
		return
	}
	if events == nil {
		events = []model.EventRow{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) handleCodeCache(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	rows, err := s.store.RunCodeCacheEvents(c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read code cache events"})
		return
	}
	if rows == nil {
		rows = []model.CodeCacheRow{}
	}
	c.JSON(http.StatusOK, gin.H{"code_cache_events": rows, "count": len(rows)})
}

func (s *Server) handleDiagnostics(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	rows, err := s.store.RunDiagnostics(c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read diagnostics"})
		return
	}
	if rows == nil {
		rows = []model.DiagnosticRow{}
	}
	c.JSON(http.StatusOK, gin.H{"diagnostics": rows, "count": len(rows)})
}

func (s *Server) handleClasses(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	rows, err := s.store.RunClassStats(c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read class stats"})
		return
	}
	if rows == nil {
		rows = []model.ClassStatRow{}
	}
	c.JSON(http.StatusOK, gin.H{"classes": rows, "count": len(rows)})
}

func (s *Server) handleSchema(c *gin.Context) {
	description := s.store.GetSchemaDescription()

	tables, err := s.store.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range tables {
		tableName := fmt.Sprintf("%v", row["table_name"])
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read table row counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": description,
		"tables":      schema,
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.store.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var columns []string
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}
