package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/docintake/api/handlers"
	"github.com/BaSui01/docintake/config"
	"github.com/BaSui01/docintake/internal/metrics"
	"github.com/BaSui01/docintake/internal/server"
	"github.com/BaSui01/docintake/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 docintake 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	app       *app
	telemetry *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler *handlers.HealthHandler
	batchHandler  *handlers.BatchHandler
	streamHandler *handlers.StreamHandler
	schemaHandler *handlers.SchemaHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 后台任务生命周期
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		telemetry: providers,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start(ctx context.Context) error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("docintake", s.logger)

	// 2. 装配编排器及其依赖
	a, err := newApp(ctx, s.cfg, s.metricsCollector, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	s.app = a

	// 3. 初始化 Handlers
	s.initHandlers()

	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel
	s.startPoolMetrics(bgCtx)

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("max_concurrent_docs", s.cfg.Batch.MaxConcurrentDocs),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.app.db != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.app.db.Ping))
	}
	if s.app.redis != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.app.redis.Ping))
	}

	s.batchHandler = handlers.NewBatchHandler(s.app.orchestrator, s.cfg.Server.MaxUploadBytes, s.logger)
	s.streamHandler = handlers.NewStreamHandler(s.app.orchestrator, handlers.StreamConfig{
		OriginPatterns:  s.cfg.Server.CORSAllowedOrigins,
		MaxMessageBytes: s.cfg.Server.MaxUploadBytes,
	}, s.logger)
	if s.app.schemas != nil {
		s.schemaHandler = handlers.NewSchemaHandler(s.app.schemas, s.app.validator, s.logger)
	}

	s.logger.Info("Handlers initialized", zap.Bool("schemas_api", s.schemaHandler != nil))
}

// startPoolMetrics 周期性上报数据库连接池状态
func (s *Server) startPoolMetrics(ctx context.Context) {
	if s.app.db == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := s.app.db.Stats()
				s.metricsCollector.RecordDBConnections(s.cfg.Database.Driver, st.OpenConnections, st.Idle)
			}
		}
	}()
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// 无需认证的路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 批处理
	mux.HandleFunc("/api/v1/batches", s.batchHandler.HandleBatch)
	mux.HandleFunc("/api/v1/batches/stream", s.streamHandler.HandleStream)
	mux.HandleFunc("/api/v1/process", s.batchHandler.HandleProcess)
	if s.schemaHandler != nil {
		mux.HandleFunc("/api/v1/schemas", s.schemaHandler.HandleSchemas)
	}
	return mux
}

func (s *Server) startHTTPServer(ctx context.Context) error {
	auth := s.cfg.Auth
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		MetricsMiddleware(s.metricsCollector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	}
	if len(auth.APIKeys) > 0 {
		middlewares = append(middlewares, APIKeyAuth(auth.APIKeys, publicPaths, s.logger))
	}
	if auth.JWTEnabled() {
		middlewares = append(middlewares, JWTAuth(auth, publicPaths, s.logger))
	}
	middlewares = append(middlewares, AnonymousUser(auth.AnonymousUserID))

	handler := Chain(s.routes(), middlewares...)

	s.httpManager = server.NewManager(handler, server.ConfigFrom(s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started",
		zap.String("addr", s.httpManager.Addr()),
		zap.Bool("api_key_auth", len(auth.APIKeys) > 0),
		zap.Bool("jwt_auth", auth.JWTEnabled()),
	)
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	cfg := server.ConfigFrom(s.cfg.Server, s.cfg.Server.MetricsPort)
	cfg.MaxConnections = 0
	s.metricsManager = server.NewManager(mux, cfg, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown(ctx)
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务。顺序：停止接收请求，排空持久化，关闭连接，刷新遥测。
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.bgCancel != nil {
		s.bgCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()

	if s.app != nil {
		if err := s.app.Close(ctx); err != nil {
			s.logger.Error("pipeline shutdown error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
