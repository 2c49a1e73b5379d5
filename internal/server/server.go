// Package server wires the claim engine together and serves the HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/tmorrow/claimcore/internal/audit"
	"github.com/tmorrow/claimcore/internal/claims"
	"github.com/tmorrow/claimcore/internal/config"
	"github.com/tmorrow/claimcore/internal/fraud"
	"github.com/tmorrow/claimcore/internal/health"
	"github.com/tmorrow/claimcore/internal/logging"
	"github.com/tmorrow/claimcore/internal/metrics"
	"github.com/tmorrow/claimcore/internal/ratelimit"
	"github.com/tmorrow/claimcore/internal/realtime"
	"github.com/tmorrow/claimcore/internal/receipts"
	"github.com/tmorrow/claimcore/internal/rules"
	"github.com/tmorrow/claimcore/internal/security"
	"github.com/tmorrow/claimcore/internal/validation"
)

// reconcileInterval is how often the count aggregator re-derives its cache.
const reconcileInterval = time.Minute

// Server wraps the HTTP server and dependencies.
type Server struct {
	cfg *config.Config

	claimStore   claims.Store
	claimService *claims.Service
	aggregator   *claims.Aggregator
	catalog      rules.Catalog
	fraudStore   fraud.Store
	auditLog     audit.Logger
	receiptStore receipts.Store
	realtimeHub  *realtime.Hub
	healthReg    *health.Registry
	rateLimiter  *ratelimit.Limiter

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres when DATABASE_URL is set, in-memory otherwise.
	var evalStore rules.EvaluationStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		s.db = db
		s.claimStore = claims.NewPostgresStore(db)
		s.catalog = rules.NewPostgresCatalog(db)
		s.fraudStore = fraud.NewPostgresStore(db)
		s.auditLog = audit.NewPostgresLogger(db)
		s.receiptStore = receipts.NewPostgresStore(db)
		evalStore = rules.NewPostgresEvaluationStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.claimStore = claims.NewMemoryStore()
		s.catalog = rules.NewMemoryCatalog()
		s.fraudStore = fraud.NewMemoryStore()
		s.auditLog = audit.NewMemoryLogger()
		s.receiptStore = receipts.NewMemoryStore()
		evalStore = rules.NewMemoryEvaluationStore()
		s.logger.Info("using in-memory storage (set DATABASE_URL for persistence)")
	}

	if cfg.SeedDefaultRules {
		if err := rules.Seed(ctx, s.catalog); err != nil {
			return nil, fmt.Errorf("seed rule catalog: %w", err)
		}
	}

	// Score provider: external service when configured, heuristic otherwise.
	var provider fraud.ScoreProvider
	if cfg.RiskScoreURL != "" {
		provider = fraud.NewHTTPProvider(cfg.RiskScoreURL, cfg.RiskScoreTimeout)
		s.logger.Info("using external risk score provider", "url", cfg.RiskScoreURL)
	} else {
		provider = fraud.NewStaticProvider()
	}

	evaluator := rules.NewEvaluator(s.catalog, evalStore)
	scorer := fraud.NewScorer(provider, s.claimStore, s.catalog, s.fraudStore, fraud.Options{
		WindowDays: cfg.DuplicateWindowDays,
		Tolerance:  cfg.DuplicateTolerance,
	})

	s.realtimeHub = realtime.NewHub(s.logger)
	s.aggregator = claims.NewAggregator(s.claimStore)

	s.claimService = claims.NewService(s.claimStore, s.receiptStore, evaluator, scorer).
		WithAuditLogger(s.auditLog).
		WithNotifier(s.realtimeHub).
		WithAggregator(s.aggregator).
		WithMaxReceiptSize(cfg.MaxReceiptSize)

	s.registerHealthChecks()

	gin.SetMode(ginMode(cfg))
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func ginMode(cfg *config.Config) string {
	if cfg.IsDevelopment() {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		db := s.db
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	agg := s.aggregator
	s.healthReg.Register("claim_counts", func(ctx context.Context) health.Status {
		if err := agg.HealthCheck(ctx); err != nil {
			return health.Status{Name: "claim_counts", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "claim_counts", Healthy: true}
	})
}

func maskDSN(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		return "***" + dsn[i:]
	}
	return "***"
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		ctx = audit.WithRequestID(ctx, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time claim events
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	// V1 API group. JSON bodies are size-capped; the claim intake route is
	// exempt because receipt uploads are bounded separately.
	v1 := s.router.Group("/v1")
	v1.Use(s.bodySizeLimitMiddleware())

	claimsHandler := claims.NewHandler(s.claimService, s.auditLog, s.receiptStore)
	claimsHandler.RegisterRoutes(v1)

	rulesHandler := rules.NewHandler(s.catalog)
	rulesHandler.RegisterRoutes(v1)

	fraudHandler := fraud.NewHandler(s.fraudStore)
	fraudHandler.RegisterRoutes(v1)

	// ADMIN ROUTES (shared secret)
	admin := v1.Group("")
	admin.Use(s.adminAuthMiddleware())
	rulesHandler.RegisterAdminRoutes(admin)
}

// bodySizeLimitMiddleware applies the standard JSON request cap everywhere
// except the multipart intake endpoint.
func (s *Server) bodySizeLimitMiddleware() gin.HandlerFunc {
	limit := validation.RequestSizeMiddleware(validation.MaxRequestSize)
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && c.FullPath() == "/v1/userform" {
			maxForm := s.cfg.MaxReceiptSize*8 + validation.MaxRequestSize
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxForm)
			c.Next()
			return
		}
		limit(c)
	}
}

// adminAuthMiddleware guards mutation routes with the shared admin secret.
// In development with no secret configured the guard is open.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsDevelopment() {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin routes are disabled",
			})
			return
		}

		got := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin credentials",
			})
			return
		}
		c.Next()
	}
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start count reconciler
	go s.aggregator.RunReconciler(runCtx, reconcileInterval)

	// DB pool stats for Prometheus
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, reconciler)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
