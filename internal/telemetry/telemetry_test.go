package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/docintake/config"
	"github.com/BaSui01/docintake/internal/document"
	"github.com/BaSui01/docintake/llm/batch"
	"github.com/BaSui01/docintake/llm/cache"
	"github.com/BaSui01/docintake/testutil/fixtures"
	"github.com/BaSui01/docintake/testutil/mocks"
)

// restoreGlobals 在测试结束时恢复全局 Provider
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func initInMemory(t *testing.T, cfg config.TelemetryConfig) *tracetest.InMemoryExporter {
	t.Helper()
	restoreGlobals(t)
	exp := tracetest.NewInMemoryExporter()
	p, err := Init(cfg, zaptest.NewLogger(t), WithSpanExporter(exp), WithMetricReader(sdkmetric.NewManualReader()))
	require.NoError(t, err)
	require.NotNil(t, p.tp)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return exp
}

func TestInit_DisabledLeavesGlobalsUntouched(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	p, err := Init(config.DefaultTelemetryConfig(), nil)
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.Equal(t, before, otel.GetTracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))

	var nilProviders *Providers
	assert.NoError(t, nilProviders.Shutdown(context.Background()))
}

func TestInit_ExportsBatchSpans(t *testing.T) {
	exp := initInMemory(t, config.TelemetryConfig{Enabled: true, SampleRate: 1})

	schemas := mocks.NewMockSchemaStore().Put(fixtures.PublicDetails("pub-invoice", fixtures.InvoiceSchema()))
	orc, err := batch.NewOrchestrator(batch.Dependencies{
		Capability: mocks.NewMockCapability(),
		Loader:     document.NewLoader(zap.NewNop()),
		Schemas:    schemas,
		Cache:      cache.NewStageCache(cache.NewMemoryStore(100, 0), config.DefaultCacheConfig().Versions, zap.NewNop()),
	}, config.DefaultBatchConfig(), zap.NewNop())
	require.NoError(t, err)

	_, err = orc.Process(context.Background(), batch.Request{
		Files: []batch.File{
			{Filename: "a.md", Content: []byte(fixtures.InvoiceText("A-1"))},
			{Filename: "b.md", Content: []byte(fixtures.InvoiceText("A-2"))},
		},
		DocumentType: "invoice",
	})
	require.NoError(t, err)

	spans := exp.GetSpans()
	var root tracetest.SpanStub
	files := 0
	for _, s := range spans {
		if s.Name == "batch.Process" {
			root = s
		}
	}
	require.Equal(t, "batch.Process", root.Name)
	for _, s := range spans {
		if s.Name != "batch.File" {
			continue
		}
		files++
		assert.Equal(t, root.SpanContext.SpanID(), s.Parent.SpanID(), "文件 span 挂在批次 span 下")
	}
	assert.Equal(t, 2, files)

	name, ok := root.Resource.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, DefaultServiceName, name.AsString())
}

func TestInit_ZeroSampleRateDropsRootSpans(t *testing.T) {
	exp := initInMemory(t, config.TelemetryConfig{Enabled: true, ServiceName: "docintake-worker", SampleRate: 0})

	_, span := otel.Tracer("test").Start(context.Background(), "batch.Process")
	span.End()
	assert.False(t, span.SpanContext().IsSampled())
	assert.Empty(t, exp.GetSpans())
}

func TestSampler(t *testing.T) {
	assert.Contains(t, Sampler(1.5).Description(), "ParentBased{root:AlwaysOnSampler,")
	assert.Contains(t, Sampler(-1).Description(), "ParentBased{root:AlwaysOffSampler,")
	assert.Contains(t, Sampler(0.25).Description(), "ParentBased{root:TraceIDRatioBased{0.25},")
}

func TestResource(t *testing.T) {
	Version = "v1.2.3"
	t.Cleanup(func() { Version = "" })

	res, err := Resource(context.Background(), config.TelemetryConfig{ServiceName: "docintake-api"})
	require.NoError(t, err)

	name, _ := res.Set().Value(semconv.ServiceNameKey)
	version, _ := res.Set().Value(semconv.ServiceVersionKey)
	assert.Equal(t, "docintake-api", name.AsString())
	assert.Equal(t, "v1.2.3", version.AsString())
}

func TestBuildVersion(t *testing.T) {
	assert.Equal(t, "dev", BuildVersion(), "测试二进制的模块版本为 (devel)")

	Version = "v2.0.0"
	t.Cleanup(func() { Version = "" })
	assert.Equal(t, "v2.0.0", BuildVersion())
}
