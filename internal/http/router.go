package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/config"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/repository"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/service"
)

// RateLimiter 简单的内存速率限制器
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int           // 最大请求数
	window   time.Duration // 时间窗口
}

// NewRateLimiter 创建速率限制器
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)

	// 清理过期请求
	var valid []time.Time
	for _, t := range rl.requests[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	// 检查是否超过限制
	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	// 记录新请求
	rl.requests[key] = append(valid, now)
	return true
}

// RateLimitMiddleware 速率限制中间件
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 使用用户 ID 或 IP 作为限制 key
		key := c.GetString("userID")
		if key == "" {
			key = c.ClientIP()
		}

		if !rl.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

type Server struct {
	router  *gin.Engine
	handler *Handler
	cfg     *config.Config
	db      *pgxpool.Pool
}

// 全局速率限制器: 每用户每分钟最多 30 次请求
var userRateLimiter = NewRateLimiter(30, time.Minute)

func NewServer(cfg *config.Config, db *pgxpool.Pool, setupService *service.SetupService, batchService *service.BatchService, logRepo *repository.LogRepository) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	handler := NewHandler(setupService, batchService, logRepo)

	s := &Server{
		router:  router,
		handler: handler,
		cfg:     cfg,
		db:      db,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check, pings the database
	s.router.GET("/health", func(c *gin.Context) {
		if err := s.db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "degraded",
				"service": "setup-service",
				"error":   "database unreachable",
			})
			return
		}
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "setup-service",
		})
	})

	// Internal API - called by the orchestration dashboard backend
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		// Account setup
		internal.POST("/setup/credentials", s.handler.SetupCredentials)
		internal.POST("/setup/sms", s.handler.SetupSMS)

		// Manual warmup trigger
		internal.POST("/engagement", s.handler.Engagement)
	}

	// Dashboard read API - requires JWT authentication
	user := s.router.Group("/api/v1")
	user.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	user.Use(RateLimitMiddleware(userRateLimiter)) // 用户 API 速率限制
	{
		user.GET("/accounts", s.handler.ListAccounts)
		user.GET("/accounts/:id", s.handler.GetAccount)
		user.GET("/accounts/:id/logs", s.handler.GetAccountLogs)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
