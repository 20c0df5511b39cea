package status

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jthatch/proxy-verify/internal/aggregator"
	"github.com/jthatch/proxy-verify/internal/config"
	"github.com/jthatch/proxy-verify/internal/dispatcher"
	"github.com/jthatch/proxy-verify/internal/metrics"
)

// Server exposes live run progress over HTTP. It only reads aggregator
// snapshots and dispatcher state; it never influences scheduling.
type Server struct {
	config      *config.Config
	agg         *aggregator.Aggregator
	disp        *dispatcher.Dispatcher
	metrics     *metrics.Collector
	router      *gin.Engine
	httpServer  *http.Server
	rateLimiter *RateLimiter
}

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rps := float64(requestsPerMinute) / 60.0
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    requestsPerMinute / 10, // Allow bursts
	}
}

func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = limiter

	return limiter
}

func NewServer(cfg *config.Config, agg *aggregator.Aggregator, disp *dispatcher.Dispatcher, metricsCollector *metrics.Collector) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:      cfg,
		agg:         agg,
		disp:        disp,
		metrics:     metricsCollector,
		router:      router,
		rateLimiter: NewRateLimiter(cfg.Status.RateLimitPerMinute),
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	s.router.GET("/health", s.handleHealth)

	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	observed := s.router.Group("/")
	if s.config.Status.EnableIPRateLimit {
		observed.Use(s.rateLimitMiddleware())
	}

	observed.GET("/progress", s.handleProgress)
	observed.GET("/verified", s.handleVerified)
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Status.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Infof("Starting status server on %s", s.config.Status.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Shutting down status server...")
	return s.httpServer.Shutdown(ctx)
}

// Middleware

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   statusCode,
			"duration": duration.Milliseconds(),
			"ip":       c.ClientIP(),
		}).Debug("Status API request")
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start).Seconds()
		statusCode := strconv.Itoa(c.Writer.Status())

		if s.metrics != nil {
			s.metrics.RecordAPIRequest(method, path, statusCode)
			s.metrics.RecordAPIDuration(method, path, duration)
		}
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := s.rateLimiter.GetLimiter(ip)

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleProgress(c *gin.Context) {
	snap := s.agg.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"state":           s.disp.State().String(),
		"total":           snap.Total,
		"completed":       snap.Completed,
		"success":         snap.Success,
		"failure":         snap.Failure,
		"body_matches":    snap.BodyMatches,
		"mean_latency_ms": snap.MeanLatencyMs,
		"updated":         snap.Updated.Format(time.RFC3339),
	})
}

func (s *Server) handleVerified(c *gin.Context) {
	snap := s.agg.Snapshot()

	format := c.Query("format")
	acceptHeader := c.GetHeader("Accept")
	wantsJSON := format == "json" || strings.Contains(acceptHeader, "application/json")

	if wantsJSON {
		c.JSON(http.StatusOK, gin.H{
			"total":    snap.Total,
			"success":  snap.Success,
			"verified": snap.Verified,
		})
		return
	}

	// Plain text format (one per line)
	var result strings.Builder
	for _, addr := range snap.Verified {
		result.WriteString(addr)
		result.WriteString("\n")
	}
	c.String(http.StatusOK, result.String())
}
