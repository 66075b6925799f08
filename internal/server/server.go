package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/airspacelab/vectorsim/internal/auth"
	"github.com/airspacelab/vectorsim/internal/decision"
	"github.com/airspacelab/vectorsim/internal/monitor"
	"github.com/airspacelab/vectorsim/internal/patterns"
	"github.com/airspacelab/vectorsim/internal/reports"
	"github.com/airspacelab/vectorsim/internal/safety"
	"github.com/airspacelab/vectorsim/internal/stream"
	"github.com/airspacelab/vectorsim/pkg/events"
)

// Config holds HTTP server configuration.
type Config struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxHeaderBytes  int
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// ReportCache is the read side of the shared report/metrics cache. An
// API instance consults it before its local components so several
// instances can serve the same snapshots.
type ReportCache interface {
	LatestReport(ctx context.Context, reportType string) (reports.AnalysisReport, bool, error)
	MetricsSummary(ctx context.Context) (map[string]float64, bool, error)
}

// ViolationArchive loads violations that have aged out of the
// analyzer's in-memory window.
type ViolationArchive interface {
	ViolationsSince(ctx context.Context, cutoff time.Time, limit int) ([]safety.ViolationReport, error)
}

// Deps are the analysis components the API exposes. Any of them may be
// nil; the corresponding endpoints answer 503 so a partially degraded
// system still serves what it has.
type Deps struct {
	Auth     *auth.Service
	Bus      *events.Bus
	Tracker  *decision.Tracker
	Safety   *safety.Analyzer
	Patterns *patterns.Analyzer
	Reports  *reports.Generator
	Monitor  *monitor.Monitor
	Stream   *stream.Hub
	Cache    ReportCache
	Archive  ViolationArchive
}

// Server is the operator-facing REST and websocket API.
type Server struct {
	router      *gin.Engine
	deps        Deps
	rateLimiter *rateLimiter
	httpSrv     *http.Server
	started     time.Time
}

// New builds the server and registers all routes.
func New(cfg Config, deps Deps) *Server {
	limit := cfg.RateLimitMax
	if limit <= 0 {
		limit = 100
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}

	s := &Server{
		router: gin.New(),
		deps:   deps,
		rateLimiter: &rateLimiter{
			requests: make(map[string][]time.Time),
			limit:    limit,
			window:   window,
		},
		started: time.Now(),
	}
	s.router.Use(gin.Recovery())
	s.setupRoutes()

	s.httpSrv = &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.rateLimitMiddleware())
	s.router.Use(s.tracingMiddleware())

	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/auth/login", s.login)

		viewer := s.guard(auth.RoleViewer)
		operator := s.guard(auth.RoleOperator)
		admin := s.guard(auth.RoleAdmin)

		v1.GET("/reports", viewer, s.listReports)
		v1.GET("/reports/:id", viewer, s.getReport)
		v1.POST("/reports/daily", operator, s.generateDaily)
		v1.POST("/reports/performance", operator, s.generatePerformance)
		v1.POST("/reports/safety", operator, s.generateSafety)

		v1.GET("/alerts", viewer, s.listAlerts)
		v1.POST("/alerts/:id/acknowledge", operator, s.acknowledgeAlert)
		v1.POST("/alerts/:id/resolve", operator, s.resolveAlert)

		v1.GET("/violations", viewer, s.listViolations)
		v1.GET("/violations/aircraft/:id", viewer, s.violationsByAircraft)
		v1.GET("/violations/patterns", viewer, s.violationPatterns)
		v1.GET("/safety/metrics", viewer, s.safetyMetrics)

		v1.GET("/patterns/summary", viewer, s.patternSummary)
		v1.GET("/patterns/anomalies", viewer, s.detectAnomalies)
		v1.GET("/trends", viewer, s.performanceTrends)

		v1.GET("/decisions", viewer, s.listDecisions)
		v1.GET("/decisions/statistics", viewer, s.decisionStatistics)

		v1.GET("/monitor/health", viewer, s.systemHealth)
		v1.GET("/monitor/metrics", viewer, s.currentMetrics)

		v1.POST("/commands", admin, s.submitCommand)

		if s.deps.Stream != nil {
			v1.GET("/ws", viewer, s.deps.Stream.HandleWS)
		}
	}
}

// guard returns the auth middleware for a role, or a pass-through when
// no auth service is configured (local development).
func (s *Server) guard(role string) gin.HandlerFunc {
	if s.deps.Auth == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return s.deps.Auth.Middleware(role)
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Middleware

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !s.rateLimiter.Allow(ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// Handlers

func (s *Server) healthCheck(c *gin.Context) {
	components := gin.H{
		"bus":      s.deps.Bus != nil,
		"tracker":  s.deps.Tracker != nil,
		"safety":   s.deps.Safety != nil,
		"patterns": s.deps.Patterns != nil,
		"reports":  s.deps.Reports != nil,
		"monitor":  s.deps.Monitor != nil,
		"stream":   s.deps.Stream != nil,
		"cache":    s.deps.Cache != nil,
		"archive":  s.deps.Archive != nil,
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": time.Since(s.started).Seconds(),
		"components":     components,
	})
}

type loginRequest struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	if s.deps.Auth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auth disabled"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	token, err := s.deps.Auth.Login(req.Name, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) listReports(c *gin.Context) {
	if c.Query("latest") == "true" {
		s.latestReport(c)
		return
	}
	if s.deps.Reports == nil {
		componentUnavailable(c, "reports")
		return
	}
	reportType := c.Query("type")
	limit := intQuery(c, "limit", 20)
	c.JSON(http.StatusOK, gin.H{"reports": s.deps.Reports.Reports(reportType, limit)})
}

// latestReport serves the most recent report of a type, preferring the
// shared cache. A cache miss or error degrades to the local generator.
func (s *Server) latestReport(c *gin.Context) {
	reportType := c.Query("type")
	if reportType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required with latest=true"})
		return
	}

	if s.deps.Cache != nil {
		report, ok, err := s.deps.Cache.LatestReport(c.Request.Context(), reportType)
		if err == nil && ok {
			c.JSON(http.StatusOK, report)
			return
		}
	}

	if s.deps.Reports == nil {
		componentUnavailable(c, "reports")
		return
	}
	latest := s.deps.Reports.Reports(reportType, 1)
	if len(latest) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report of that type"})
		return
	}
	c.JSON(http.StatusOK, latest[0])
}

func (s *Server) getReport(c *gin.Context) {
	if s.deps.Reports == nil {
		componentUnavailable(c, "reports")
		return
	}
	report, ok := s.deps.Reports.ReportByID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) generateDaily(c *gin.Context) {
	if s.deps.Reports == nil {
		componentUnavailable(c, "reports")
		return
	}
	var date time.Time
	if d := c.Query("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
			return
		}
		date = parsed
	}
	c.JSON(http.StatusCreated, s.deps.Reports.GenerateDailySummary(date))
}

func (s *Server) generatePerformance(c *gin.Context) {
	if s.deps.Reports == nil {
		componentUnavailable(c, "reports")
		return
	}
	episodes := intQuery(c, "episodes", 0)
	c.JSON(http.StatusCreated, s.deps.Reports.GeneratePerformanceAnalysis(episodes))
}

func (s *Server) generateSafety(c *gin.Context) {
	if s.deps.Reports == nil {
		componentUnavailable(c, "reports")
		return
	}
	hours := floatQuery(c, "hours", 0)
	c.JSON(http.StatusCreated, s.deps.Reports.GenerateSafetyAssessment(hours))
}

func (s *Server) listAlerts(c *gin.Context) {
	if s.deps.Reports == nil {
		componentUnavailable(c, "reports")
		return
	}
	if c.Query("all") == "true" {
		c.JSON(http.StatusOK, gin.H{"alerts": s.deps.Reports.AllAlerts()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": s.deps.Reports.ActiveAlerts()})
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	if s.deps.Reports == nil {
		componentUnavailable(c, "reports")
		return
	}
	if !s.deps.Reports.AcknowledgeAlert(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "alert acknowledged"})
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) resolveAlert(c *gin.Context) {
	if s.deps.Reports == nil {
		componentUnavailable(c, "reports")
		return
	}
	var req resolveRequest
	_ = c.ShouldBindJSON(&req)
	if !s.deps.Reports.ResolveAlert(c.Param("id"), req.Notes) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "alert resolved"})
}

func (s *Server) listViolations(c *gin.Context) {
	if s.deps.Safety == nil && s.deps.Archive == nil {
		componentUnavailable(c, "safety")
		return
	}
	limit := intQuery(c, "limit", 50)

	var violations []safety.ViolationReport
	if s.deps.Safety != nil {
		violations = s.deps.Safety.History(limit)
	}

	// The in-memory window is bounded; when it cannot fill the request,
	// the archive holds what was evicted.
	if len(violations) < limit && s.deps.Archive != nil {
		hours := floatQuery(c, "hours", 24)
		cutoff := time.Now().Add(-time.Duration(hours * float64(time.Hour)))
		archived, err := s.deps.Archive.ViolationsSince(c.Request.Context(), cutoff, limit)
		if err == nil && len(archived) > len(violations) {
			violations = archived
		}
	}

	c.JSON(http.StatusOK, gin.H{"violations": violations})
}

func (s *Server) violationsByAircraft(c *gin.Context) {
	if s.deps.Safety == nil {
		componentUnavailable(c, "safety")
		return
	}
	c.JSON(http.StatusOK, gin.H{"violations": s.deps.Safety.ByAircraft(c.Param("id"))})
}

func (s *Server) violationPatterns(c *gin.Context) {
	if s.deps.Safety == nil {
		componentUnavailable(c, "safety")
		return
	}
	c.JSON(http.StatusOK, s.deps.Safety.ViolationPatterns())
}

func (s *Server) safetyMetrics(c *gin.Context) {
	if s.deps.Safety == nil {
		componentUnavailable(c, "safety")
		return
	}
	hours := floatQuery(c, "hours", 24)
	end := time.Now()
	start := end.Add(-time.Duration(hours * float64(time.Hour)))
	c.JSON(http.StatusOK, s.deps.Safety.CalculateMetrics(start, end))
}

func (s *Server) patternSummary(c *gin.Context) {
	if s.deps.Patterns == nil {
		componentUnavailable(c, "patterns")
		return
	}
	c.JSON(http.StatusOK, s.deps.Patterns.PatternSummary())
}

func (s *Server) detectAnomalies(c *gin.Context) {
	if s.deps.Patterns == nil {
		componentUnavailable(c, "patterns")
		return
	}
	metric := c.DefaultQuery("metric", "mean_reward")
	lookback := intQuery(c, "lookback", 50)
	c.JSON(http.StatusOK, gin.H{"anomalies": s.deps.Patterns.DetectAnomalies(metric, lookback)})
}

func (s *Server) performanceTrends(c *gin.Context) {
	if s.deps.Patterns == nil {
		componentUnavailable(c, "patterns")
		return
	}
	episodes := intQuery(c, "episodes", 50)
	trends, err := s.deps.Patterns.PerformanceTrends(episodes)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trends": trends})
}

func (s *Server) listDecisions(c *gin.Context) {
	if s.deps.Tracker == nil {
		componentUnavailable(c, "tracker")
		return
	}
	limit := intQuery(c, "limit", 20)
	c.JSON(http.StatusOK, gin.H{"decisions": s.deps.Tracker.History(limit)})
}

func (s *Server) decisionStatistics(c *gin.Context) {
	if s.deps.Tracker == nil {
		componentUnavailable(c, "tracker")
		return
	}
	c.JSON(http.StatusOK, s.deps.Tracker.Statistics())
}

func (s *Server) systemHealth(c *gin.Context) {
	if s.deps.Monitor == nil {
		componentUnavailable(c, "monitor")
		return
	}
	c.JSON(http.StatusOK, s.deps.Monitor.CollectHealth())
}

func (s *Server) currentMetrics(c *gin.Context) {
	if s.deps.Cache != nil {
		summary, ok, err := s.deps.Cache.MetricsSummary(c.Request.Context())
		if err == nil && ok {
			c.JSON(http.StatusOK, gin.H{"metrics": summary, "source": "cache"})
			return
		}
	}

	if s.deps.Monitor == nil {
		componentUnavailable(c, "monitor")
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": s.deps.Monitor.Current(), "source": "live"})
}

type commandRequest struct {
	Target  string         `json:"target" binding:"required"` // "training" or "scenario"
	Command string         `json:"command" binding:"required"`
	Args    map[string]any `json:"args"`
}

func (s *Server) submitCommand(c *gin.Context) {
	if s.deps.Bus == nil {
		componentUnavailable(c, "bus")
		return
	}

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	var eventType string
	switch req.Target {
	case "training":
		eventType = events.TrainingCommand
	case "scenario":
		eventType = events.ScenarioCommand
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command target"})
		return
	}

	event, err := events.New(eventType, events.CommandPayload{
		Command: req.Command,
		Args:    req.Args,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode command"})
		return
	}

	s.deps.Bus.PublishAsync(event)
	c.JSON(http.StatusAccepted, gin.H{"message": "command submitted", "event_id": event.ID})
}

func componentUnavailable(c *gin.Context, name string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": name + " component unavailable"})
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func floatQuery(c *gin.Context, name string, def float64) float64 {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// rateLimiter is a sliding-window per-client limiter.
type rateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func (rl *rateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	valid := make([]time.Time, 0)
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}
