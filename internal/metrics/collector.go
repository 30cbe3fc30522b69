// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec
	llmCircuitChanges  *prometheus.CounterVec

	// 批处理指标
	batchesTotal    *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
	batchFiles      *prometheus.HistogramVec
	filesTotal      *prometheus.CounterVec
	fileDuration    *prometheus.HistogramVec
	leaderFallbacks prometheus.Counter
	refundedPages   prometheus.Counter
	filesInFlight   prometheus.Gauge

	// 配额指标
	quotaDecisions *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheErrors *prometheus.CounterVec

	// 持久化指标
	persistWrites *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith 创建指标收集器并注册到 reg
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}
	factory := promauto.With(reg)

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// LLM 指标
	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"operation", "model", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation", "model"},
	)

	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"operation", "model", "type"}, // type: prompt, completion
	)

	c.llmCircuitChanges = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_circuit_transitions_total",
			Help:      "LLM upstream circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)

	// 批处理指标
	c.batchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of batches by strategy and outcome",
		},
		[]string{"strategy", "status"},
	)

	c.batchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Batch wall time in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"strategy"},
	)

	c.batchFiles = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_files",
			Help:      "Number of files per batch",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"strategy"},
	)

	c.filesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Total number of processed files",
		},
		[]string{"workflow", "status"},
	)

	c.fileDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Per-file pipeline duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"workflow"},
	)

	c.leaderFallbacks = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leader_fallbacks_total",
		Help:      "Batches whose leader failed to produce a shared context",
	})

	c.refundedPages = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refunded_pages_total",
		Help:      "Pages refunded for failed files",
	})

	c.filesInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "files_in_flight",
		Help:      "Files currently holding a concurrency permit",
	})

	// 配额指标
	c.quotaDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Quota admission decisions",
		},
		[]string{"result"},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.cacheErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Cache backend errors swallowed as misses or dropped writes",
		},
		[]string{"cache_type", "op"},
	)

	// 持久化指标
	c.persistWrites = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_writes_total",
			Help:      "Deferred persistence writes by writer and outcome",
		},
		[]string{"writer", "status"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 LLM 指标记录
// =============================================================================

// RecordLLMCall 记录一次模型调用，operation 为 classify/extract/represent/synthesize
func (c *Collector) RecordLLMCall(operation, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(operation, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(operation, model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(operation, model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(operation, model, "completion").Add(float64(completionTokens))
}

// RecordCircuitState 记录熔断器状态变化
func (c *Collector) RecordCircuitState(from, to string) {
	c.llmCircuitChanges.WithLabelValues(from, to).Inc()
	if to == "open" {
		c.logger.Warn("llm circuit opened")
	}
}

// =============================================================================
// 📦 批处理指标记录
// =============================================================================

// RecordBatch 记录批次完成
func (c *Collector) RecordBatch(strategy, status string, files int, duration time.Duration) {
	c.batchesTotal.WithLabelValues(strategy, status).Inc()
	c.batchDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	c.batchFiles.WithLabelValues(strategy).Observe(float64(files))
}

// RecordFile 记录单文件完成
func (c *Collector) RecordFile(workflow, status string, duration time.Duration) {
	if workflow == "" {
		workflow = "none"
	}
	c.filesTotal.WithLabelValues(workflow, status).Inc()
	c.fileDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordLeaderFallback 记录领头文件回退
func (c *Collector) RecordLeaderFallback() {
	c.leaderFallbacks.Inc()
}

// RecordRefund 记录退还页数
func (c *Collector) RecordRefund(pages int) {
	if pages > 0 {
		c.refundedPages.Add(float64(pages))
	}
}

// AddInFlight 调整在途文件数
func (c *Collector) AddInFlight(delta int) {
	c.filesInFlight.Add(float64(delta))
}

// RecordQuotaDecision 记录配额决策：granted/denied/fail_open
func (c *Collector) RecordQuotaDecision(result string) {
	c.quotaDecisions.WithLabelValues(result).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordCacheError 记录缓存后端错误
func (c *Collector) RecordCacheError(cacheType, op string) {
	c.cacheErrors.WithLabelValues(cacheType, op).Inc()
}

// =============================================================================
// 🗄️ 持久化与数据库指标记录
// =============================================================================

// RecordPersist 记录延迟写入结果
func (c *Collector) RecordPersist(writer, status string) {
	c.persistWrites.WithLabelValues(writer, status).Inc()
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
