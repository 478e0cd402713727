package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/interfaces/http/handlers"
	"github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Server HTTP服务器
type Server struct {
	server *http.Server
	router *gin.Engine
	logger *zap.Logger
}

// Config HTTP服务器配置
type Config struct {
	Addr       string
	Mode       string // local, production
	UserHeader string
}

// RequestRecorder observes finished requests.
type RequestRecorder interface {
	RecordRequest(status int, d time.Duration)
}

// Handlers groups the route handlers of the gateway.
type Handlers struct {
	Chat          *handlers.ChatHandler
	Conversations *handlers.ConversationHandler
	Models        *handlers.ModelHandler
	Features      *handlers.FeatureHandler
	// Metrics serves GET /metrics; nil disables the route.
	Metrics http.Handler
}

// NewServer 创建HTTP服务器
func NewServer(cfg Config, h Handlers, recorder RequestRecorder, logger *zap.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.UserHeader == "" {
		cfg.UserHeader = "X-User-ID"
	}

	router := gin.New()
	router.Use(requestID())
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger, recorder))

	setupRoutes(router, cfg, h)

	return &Server{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router: router,
		logger: logger,
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func setupRoutes(router *gin.Engine, cfg Config, h Handlers) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	// 公开读取
	public := router.Group("/api")
	{
		public.GET("/features", h.Features.List)
		public.GET("/features/:id", h.Features.Show)
	}

	api := router.Group("/api", requireUser(cfg.UserHeader))
	{
		api.POST("/chat", h.Chat.Chat)
		api.POST("/chat/stream", h.Chat.Stream)
		api.POST("/chat/stream-with-files", h.Chat.StreamWithFiles)

		api.GET("/conversations", h.Conversations.List)
		api.POST("/conversations", h.Conversations.Create)
		api.GET("/conversations/:id", h.Conversations.Show)
		api.PUT("/conversations/:id", h.Conversations.Update)
		api.DELETE("/conversations/:id", h.Conversations.Delete)

		api.GET("/ai-models", h.Models.List)

		api.POST("/features", h.Features.Create)
		api.POST("/features/reorder", h.Features.Reorder)
		api.PUT("/features/:id", h.Features.Update)
		api.DELETE("/features/:id", h.Features.Delete)
		api.POST("/features/:id/prompts", h.Features.CreatePrompt)
		api.PUT("/feature-prompts/:id", h.Features.UpdatePrompt)
		api.DELETE("/feature-prompts/:id", h.Features.DeletePrompt)
	}
}

// requestID 为每个请求分配关联 ID
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(service.WithTraceID(c.Request.Context(), id))
		c.Next()
	}
}

// requireUser reads the requester id set by the fronting auth proxy.
func requireUser(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(header))
		if userID == "" {
			err := errors.NewUnauthorizedError("Unauthenticated.")
			c.AbortWithStatusJSON(errors.HTTPStatus(err), gin.H{"success": false, "error": errors.PublicMessage(err)})
			return
		}
		c.Set(handlers.ContextUserIDKey, userID)
		c.Next()
	}
}

// ginLogger Gin日志中间件
func ginLogger(logger *zap.Logger, recorder RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		if recorder != nil {
			recorder.RecordRequest(statusCode, latency)
		}

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}
