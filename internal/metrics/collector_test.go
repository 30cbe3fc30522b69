package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.llmRequestsTotal)
	assert.NotNil(t, collector.batchesTotal)
	assert.NotNil(t, collector.quotaDecisions)
	assert.NotNil(t, collector.persistWrites)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("POST", "/api/v1/batch", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("POST", "/api/v1/batch", 201, 50*time.Millisecond, 512, 1024)
	collector.RecordHTTPRequest("POST", "/api/v1/batch", 429, 5*time.Millisecond, 512, 64)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/batch", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/batch", "4xx")))
}

func TestCollector_RecordLLMCall(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordLLMCall("extract", "gpt-4o-mini", "success", 500*time.Millisecond, 100, 50)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("extract", "gpt-4o-mini", "success")))
	assert.Equal(t, 100.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("extract", "gpt-4o-mini", "prompt")))
	assert.Equal(t, 50.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("extract", "gpt-4o-mini", "completion")))
}

func TestCollector_RecordCircuitState(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCircuitState("closed", "open")
	collector.RecordCircuitState("open", "half_open")
	collector.RecordCircuitState("closed", "open")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.llmCircuitChanges.WithLabelValues("closed", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.llmCircuitChanges.WithLabelValues("open", "half_open")))
}

func TestCollector_BatchMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordBatch("leader_follower", "partial", 5, 3*time.Second)
	collector.RecordFile("balanced", "success", time.Second)
	collector.RecordFile("", "failed", time.Millisecond)
	collector.RecordLeaderFallback()
	collector.RecordRefund(3)
	collector.RecordRefund(0)
	collector.AddInFlight(2)
	collector.AddInFlight(-1)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.batchesTotal.WithLabelValues("leader_follower", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.filesTotal.WithLabelValues("balanced", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.filesTotal.WithLabelValues("none", "failed")), "空工作流归为 none")
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.leaderFallbacks))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.refundedPages))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.filesInFlight))
}

func TestCollector_QuotaAndPersist(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordQuotaDecision("granted")
	collector.RecordQuotaDecision("fail_open")
	collector.RecordQuotaDecision("fail_open")
	collector.RecordPersist("database", "written")
	collector.RecordPersist("mongo", "dropped")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.quotaDecisions.WithLabelValues("fail_open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.persistWrites.WithLabelValues("mongo", "dropped")))
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCacheHit("extraction")
	collector.RecordCacheMiss("extraction")
	collector.RecordCacheError("classification", "get")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheHits.WithLabelValues("extraction")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheMisses.WithLabelValues("extraction")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheErrors.WithLabelValues("classification", "get")))
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/health", 200, 100*time.Millisecond, 0, 2)
			collector.RecordLLMCall("classify", "gpt-4o-mini", "success", 500*time.Millisecond, 100, 5)
			collector.AddInFlight(1)
			collector.AddInFlight(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.filesInFlight))
}

func TestCollector_CustomRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollectorWith(registry, "docintake", nil)

	collector.RecordLeaderFallback()

	expected := `
# HELP docintake_leader_fallbacks_total Batches whose leader failed to produce a shared context
# TYPE docintake_leader_fallbacks_total counter
docintake_leader_fallbacks_total 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "docintake_leader_fallbacks_total"))

	// 同一 registry 重复注册会 panic
	assert.Panics(t, func() { NewCollectorWith(registry, "docintake", nil) })
}

func TestStatusCode(t *testing.T) {
	cases := map[int]string{200: "2xx", 302: "3xx", 404: "4xx", 503: "5xx", 0: "unknown"}
	for code, want := range cases {
		assert.Equal(t, want, statusCode(code))
	}
}
