// Package api is the HTTP/WebSocket façade the dashboard UI and the CLI talk
// to. It is a thin layer: validation and status mapping here, semantics in
// the store, rule engine, enforcer and notifier.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"loupe/internal/backup"
	"loupe/internal/config"
	"loupe/internal/daylog"
	"loupe/internal/focus"
	"loupe/internal/logging"
	"loupe/internal/notify"
	"loupe/internal/observability"
	"loupe/internal/rules"
	"loupe/internal/store"
)

// MonitorControl is the slice of the monitor loop the façade drives.
// Satisfied by *monitor.Loop.
type MonitorControl interface {
	Pause()
	Resume()
	Paused() bool
	RequestDBClose(timeout time.Duration) bool
}

// Autostart abstracts the login-item backend so tests can stub the registry.
type Autostart struct {
	Enabled func() (bool, error)
	Enable  func() error
	Disable func() error
}

// Options wires the façade's collaborators. Monitor, Daylog, Autostart,
// Shutdown and Metrics are optional; a nil Monitor reports monitoring as
// stopped.
type Options struct {
	Addr     string
	Store    *store.Store
	Engine   *rules.Engine
	Enforcer *focus.Enforcer
	Notifier *notify.Notifier
	Backups  *backup.Manager
	Monitor  MonitorControl
	Daylog   *daylog.Generator
	Paths    config.Paths
	Logger   logging.Logger
	Metrics  *observability.MetricsCollector

	Autostart Autostart
	// Shutdown requests a graceful process exit; used by /api/system/exit
	// and the restore flow.
	Shutdown func()
}

// Server is the loopback HTTP façade.
type Server struct {
	addr      string
	store     *store.Store
	engine    *rules.Engine
	enforcer  *focus.Enforcer
	notifier  *notify.Notifier
	backups   *backup.Manager
	monitor   MonitorControl
	daylog    *daylog.Generator
	paths     config.Paths
	logger    logging.Logger
	metrics   *observability.MetricsCollector
	autostart Autostart
	shutdown  func()

	hub     *Hub
	router  *gin.Engine
	httpSrv *http.Server
}

// NewServer builds the façade. Non-loopback listen addresses are refused;
// the API has no authentication and must never face the network.
func NewServer(opts Options) (*Server, error) {
	host, _, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid api address %q: %w", opts.Addr, err)
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		return nil, fmt.Errorf("api address %q is not loopback", opts.Addr)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &observability.MetricsCollector{}
	}

	s := &Server{
		addr:      opts.Addr,
		store:     opts.Store,
		engine:    opts.Engine,
		enforcer:  opts.Enforcer,
		notifier:  opts.Notifier,
		backups:   opts.Backups,
		monitor:   opts.Monitor,
		daylog:    opts.Daylog,
		paths:     opts.Paths,
		logger:    logging.OrNop(opts.Logger),
		metrics:   metrics,
		autostart: opts.Autostart,
		shutdown:  opts.Shutdown,
		hub:       NewHub(logging.OrNop(opts.Logger), metrics),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(s.requestLogger())
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	s.router = engine
	s.setupRoutes()
	return s, nil
}

// Hub returns the activity broadcast hub, for the monitor's publish hook.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/ws/activity", s.hub.handleClient)

	api := s.router.Group("/api")

	api.GET("/health", s.handleHealth)

	dashboard := api.Group("/dashboard")
	{
		dashboard.GET("/daily", s.handleDailyDashboard)
		dashboard.GET("/period", s.handlePeriodDashboard)
		dashboard.GET("/hourly", s.handleHourlyDashboard)
	}
	api.GET("/timeline", s.handleTimeline)

	tags := api.Group("/tags")
	{
		tags.GET("", s.handleListTags)
		tags.POST("", s.handleCreateTag)
		tags.PUT("/:id", s.handleUpdateTag)
		tags.DELETE("/:id", s.handleDeleteTag)
	}

	ruleRoutes := api.Group("/rules")
	{
		ruleRoutes.GET("", s.handleListRules)
		ruleRoutes.POST("", s.handleCreateRule)
		ruleRoutes.PUT("/:id", s.handleUpdateRule)
		ruleRoutes.DELETE("/:id", s.handleDeleteRule)
	}

	reclassify := api.Group("/reclassify")
	{
		reclassify.POST("/untagged", s.handleReclassify(store.ReclassifyUntagged))
		reclassify.POST("/all", s.handleReclassify(store.ReclassifyAll))
	}

	settings := api.Group("/settings")
	{
		settings.GET("", s.handleGetSettings)
		settings.PUT("", s.handlePutSettings)
		settings.GET("/autostart", s.handleGetAutostart)
		settings.PUT("/autostart", s.handlePutAutostart)
	}

	focusRoutes := api.Group("/focus")
	{
		focusRoutes.GET("", s.handleListFocus)
		focusRoutes.GET("/status", s.handleFocusStatus)
		focusRoutes.PUT("/:tag_id", s.handlePutFocus)
		focusRoutes.POST("/emergency-reset", s.handleEmergencyReset)
	}

	activities := api.Group("/activities")
	{
		activities.GET("/unclassified", s.handleUnclassified)
		activities.DELETE("", s.handleDeleteActivities)
	}

	media := api.Group("/media")
	{
		media.GET("/:kind", s.handleListMedia)
		media.POST("/:kind", s.handleUploadMedia)
		media.DELETE("/:kind/:id", s.handleDeleteMedia)
		media.PUT("/:kind/:id/select", s.handleSelectMedia)
	}

	data := api.Group("/data")
	{
		data.POST("/db/backup", s.handleBackup)
		data.POST("/db/restore", s.handleRestore)
		data.GET("/rules/export", s.handleExportRules)
		data.POST("/rules/import", s.handleImportRules)
	}

	monitorRoutes := api.Group("/monitor")
	{
		monitorRoutes.POST("/pause", s.handlePause)
		monitorRoutes.POST("/resume", s.handleResume)
	}

	api.POST("/system/exit", s.handleExit)
}

// Run serves until ctx is cancelled, then drains connections for up to 10
// seconds.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listener on %s: %w", s.addr, err)
	}

	s.httpSrv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // backups can be slow to stream
	}

	errc := make(chan error, 1)
	go func() { errc <- s.httpSrv.Serve(listener) }()
	s.logger.Info("api listening on http://%s", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.hub.CloseAll()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	}
}

// requestLogger logs one line per request at debug, errors at warn.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		if status >= 500 {
			s.logger.Warn("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
			return
		}
		s.logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
	}
}

// reloadSnapshots refreshes every cached view of tags and rules after a
// mutation. Reload failures are surfaced: a stale snapshot silently applying
// old rules is worse than a failed write.
func (s *Server) reloadSnapshots(ctx context.Context) error {
	if err := s.engine.Reload(ctx); err != nil {
		return fmt.Errorf("reloading rule engine: %w", err)
	}
	if err := s.enforcer.Reload(ctx); err != nil {
		return fmt.Errorf("reloading focus enforcer: %w", err)
	}
	if err := s.notifier.Reload(ctx); err != nil {
		return fmt.Errorf("reloading notifier: %w", err)
	}
	return nil
}

func jsonError(c *gin.Context, status int, format string, args ...any) {
	c.JSON(status, gin.H{"error": fmt.Sprintf(format, args...)})
}

func (s *Server) handleHealth(c *gin.Context) {
	monitoring := s.monitor != nil && !s.monitor.Paused()
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"monitoring": monitoring,
	})
}

func (s *Server) handlePause(c *gin.Context) {
	if s.monitor == nil {
		jsonError(c, http.StatusServiceUnavailable, "monitor is not running")
		return
	}
	s.monitor.Pause()
	c.JSON(http.StatusOK, gin.H{"monitoring": false})
}

func (s *Server) handleResume(c *gin.Context) {
	if s.monitor == nil {
		jsonError(c, http.StatusServiceUnavailable, "monitor is not running")
		return
	}
	s.monitor.Resume()
	c.JSON(http.StatusOK, gin.H{"monitoring": true})
}

func (s *Server) handleExit(c *gin.Context) {
	if s.shutdown == nil {
		jsonError(c, http.StatusServiceUnavailable, "shutdown is not wired")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "exiting"})
	go func() {
		time.Sleep(500 * time.Millisecond)
		s.shutdown()
	}()
}
