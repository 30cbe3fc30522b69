package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/docintake/config"
	internalcache "github.com/BaSui01/docintake/internal/cache"
	"github.com/BaSui01/docintake/internal/database"
	"github.com/BaSui01/docintake/internal/document"
	"github.com/BaSui01/docintake/internal/metrics"
	"github.com/BaSui01/docintake/internal/persist"
	"github.com/BaSui01/docintake/internal/tlsutil"
	"github.com/BaSui01/docintake/llm/batch"
	"github.com/BaSui01/docintake/llm/cache"
	"github.com/BaSui01/docintake/llm/extract"
	"github.com/BaSui01/docintake/llm/quota"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// app 持有 serve、warm、run 共用的组件。基础设施不可用时降级运行：
// 缓存回落到本地存储，配额关闭，持久化关闭，Schema 只能内联提供。
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector *metrics.Collector

	redis     *internalcache.Manager
	db        *database.PoolManager
	schemas   *database.SchemaStore
	validator *extract.Validator
	sink      *persist.DeferredSink

	orchestrator *batch.Orchestrator
}

// newApp 按配置构造组件图。collector 为 nil 时不记录指标。
func newApp(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, collector: collector}

	if needsRedis(cfg) {
		rm, err := internalcache.NewManager(internalcache.ConfigFrom(cfg.Redis), logger)
		if err != nil {
			logger.Warn("redis unavailable, running degraded", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			a.redis = rm
		}
	}

	if cfg.Database.Driver != "" {
		pm, err := database.Open(cfg.Database, logger)
		if err != nil {
			logger.Warn("database unavailable, stored schemas disabled", zap.Error(err))
		} else {
			a.db = pm
			a.schemas = database.NewSchemaStore(pm.DB(), logger)
		}
	}

	validator, err := extract.NewValidator()
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init validator: %w", err)
	}
	a.validator = validator

	stageCache, err := a.stageCache()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.sink = a.persistence(ctx)

	clientOpts, err := a.clientOptions()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	deps := batch.Dependencies{
		Capability: extract.NewClient(cfg.LLM, logger, clientOpts...),
		Loader:     document.NewLoader(logger, document.WithPDFTextExtractor(document.PDFText{MaxPages: cfg.Batch.PageCeiling})),
		Cache:      stageCache,
		Quota:      a.quota(),
		Validator:  validator,
	}
	// 接口字段只在实现非 nil 时赋值，避免带类型的 nil
	if a.schemas != nil {
		deps.Schemas = a.schemas
	}
	if a.sink != nil {
		deps.Sink = a.sink
	}

	orcOpts := []batch.Option{batch.WithModels(batch.ModelsFrom(cfg.LLM))}
	if collector != nil {
		orcOpts = append(orcOpts, batch.WithObserver(collector))
	}
	orc, err := batch.NewOrchestrator(deps, cfg.Batch, logger, orcOpts...)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.orchestrator = orc
	return a, nil
}

// clientOptions LLM 客户端的传输、栅格化与指标选项
func (a *app) clientOptions() ([]extract.ClientOption, error) {
	lc := a.cfg.LLM
	hc, err := tlsutil.HTTPClient(lc.TLS, lc.Timeout)
	if err != nil {
		return nil, fmt.Errorf("llm tls: %w", err)
	}
	opts := []extract.ClientOption{extract.WithHTTPClient(hc)}

	if lc.PDFRasterizer != "" {
		if path, err := exec.LookPath(lc.PDFRasterizer); err != nil {
			a.logger.Warn("pdf rasterizer not found, scanned pdfs will be unreadable",
				zap.String("command", lc.PDFRasterizer), zap.Error(err))
		} else {
			opts = append(opts, extract.WithRasterizer(document.NewRasterizer(document.RasterizerConfig{
				Command:  path,
				DPI:      lc.RasterDPI,
				MaxPages: lc.RasterMaxPages,
			}, a.logger)))
		}
	}
	if a.collector != nil {
		opts = append(opts, extract.WithCallObserver(a.collector))
	}
	return opts, nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Quota.Backend == "redis" || cfg.Cache.Backend == "redis" || cfg.Cache.Backend == "multilevel" || cfg.Cache.Backend == ""
}

// stageCache 构造阶段缓存；redis 后端不可用时回落到 multilevel（内存 + 文件）
func (a *app) stageCache() (*cache.StageCache, error) {
	cc := a.cfg.Cache
	if cc.Backend == "redis" && a.redis == nil {
		a.logger.Warn("cache backend redis unavailable, falling back to memory+file")
		cc.Backend = "multilevel"
	}
	store, err := cache.NewStore(cc, a.redis, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init cache store: %w", err)
	}

	var opts []cache.StageOption
	if a.collector != nil {
		opts = append(opts, cache.WithObserver(a.collector))
	}
	return cache.NewStageCache(store, cc.Versions, a.logger, opts...), nil
}

// quota 构造配额管理器；账本无法构造时关闭配额
func (a *app) quota() *quota.Manager {
	rdb := a.redisClient()
	var db *gorm.DB
	if a.db != nil {
		db = a.db.DB()
	}

	ledger, err := quota.NewLedger(a.cfg.Quota.Backend, a.cfg.Quota.KeyPrefix, rdb, db)
	if err != nil {
		a.logger.Warn("quota ledger unavailable, quota disabled", zap.String("backend", a.cfg.Quota.Backend), zap.Error(err))
		return nil
	}
	if ledger == nil {
		a.logger.Info("quota disabled by configuration")
		return nil
	}

	var opts []quota.Option
	if a.collector != nil {
		opts = append(opts, quota.WithObserver(a.collector))
	}
	return quota.NewManager(ledger, a.cfg.Quota, a.logger, opts...)
}

// persistence 构造延迟持久化；缺少后端的写入目标被跳过
func (a *app) persistence(ctx context.Context) *persist.DeferredSink {
	pc := a.cfg.Persistence
	if !pc.Enabled {
		return nil
	}

	var tx persist.Transactor
	if a.db != nil {
		tx = a.db
	} else if slices.Contains(pc.Writers, "database") {
		a.logger.Warn("database writer skipped, no database connection")
		pc.Writers = slices.DeleteFunc(slices.Clone(pc.Writers), func(w string) bool { return w == "database" })
	}

	writers, err := persist.NewWriters(ctx, pc, tx, a.logger)
	if err != nil {
		a.logger.Warn("persistence disabled", zap.Error(err))
		return nil
	}
	if len(writers) == 0 {
		return nil
	}

	var opts []persist.SinkOption
	if a.collector != nil {
		opts = append(opts, persist.WithObserver(a.collector))
	}
	return persist.NewDeferredSink(writers, pc, a.logger, opts...)
}

func (a *app) redisClient() *redis.Client {
	if a.redis == nil {
		return nil
	}
	return a.redis.Client()
}

// Close 先排空持久化队列，再关闭连接
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("persistence: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
