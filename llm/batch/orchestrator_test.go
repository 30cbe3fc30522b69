package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/docintake/config"
	"github.com/BaSui01/docintake/internal/document"
	"github.com/BaSui01/docintake/llm/cache"
	"github.com/BaSui01/docintake/llm/extract"
	"github.com/BaSui01/docintake/llm/quota"
	"github.com/BaSui01/docintake/testutil"
	"github.com/BaSui01/docintake/testutil/fixtures"
	"github.com/BaSui01/docintake/testutil/mocks"
	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 🧪 测试桩
// =============================================================================

// countingStore 统计每个命名空间的写入次数
type countingStore struct {
	cache.Store
	mu   sync.Mutex
	sets map[cache.Stage]int
}

func newCountingStore() *countingStore {
	return &countingStore{Store: cache.NewMemoryStore(1000, 0), sets: map[cache.Stage]int{}}
}

func (s *countingStore) Set(ctx context.Context, ns cache.Stage, key string, v []byte) error {
	s.mu.Lock()
	s.sets[ns]++
	s.mu.Unlock()
	return s.Store.Set(ctx, ns, key, v)
}

func (s *countingStore) Sets(ns cache.Stage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[ns]
}

type recordingSink struct {
	mu      sync.Mutex
	results []*Result
	metas   []Meta
}

func (s *recordingSink) Enqueue(_ context.Context, r *Result, m Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	s.metas = append(s.metas, m)
}

func (s *recordingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

type brokenLedger struct{}

func (brokenLedger) Reserve(context.Context, quota.Account, int, int) (bool, error) {
	return false, errors.New("connection refused")
}
func (brokenLedger) Refund(context.Context, quota.Account, int) error { return errors.New("down") }
func (brokenLedger) Usage(context.Context, quota.Account) (int, error) {
	return 0, errors.New("down")
}

type inflightObserver struct {
	mu        sync.Mutex
	current   int
	max       int
	fallbacks int
	refunds   int
}

func (o *inflightObserver) RecordBatch(string, string, int, time.Duration) {}
func (o *inflightObserver) RecordFile(string, string, time.Duration)       {}
func (o *inflightObserver) RecordLeaderFallback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks++
}
func (o *inflightObserver) RecordRefund(pages int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refunds += pages
}
func (o *inflightObserver) AddInFlight(delta int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current += delta
	if o.current > o.max {
		o.max = o.current
	}
}

type harness struct {
	orc     *Orchestrator
	cap     *mocks.MockCapability
	schemas *mocks.MockSchemaStore
	store   *countingStore
	ledger  quota.Ledger
	quota   *quota.Manager
	sink    *recordingSink
	obs     *inflightObserver
}

type harnessOption func(*config.BatchConfig, *config.QuotaConfig, *harness)

func withLedger(l quota.Ledger) harnessOption {
	return func(_ *config.BatchConfig, _ *config.QuotaConfig, h *harness) { h.ledger = l }
}

func withLimit(pages int) harnessOption {
	return func(_ *config.BatchConfig, q *config.QuotaConfig, _ *harness) { q.MonthlyPageLimit = pages }
}

func withBatchConfig(fn func(*config.BatchConfig)) harnessOption {
	return func(b *config.BatchConfig, _ *config.QuotaConfig, _ *harness) { fn(b) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		cap: mocks.NewMockCapability().WithFields(map[string]any{
			"invoice_number": "A-1",
			"total":          480.0,
			"vendor":         "Acme",
		}),
		schemas: mocks.NewMockSchemaStore(),
		store:   newCountingStore(),
		ledger:  quota.NewMemoryLedger(),
		sink:    &recordingSink{},
		obs:     &inflightObserver{},
	}
	bcfg := config.DefaultBatchConfig()
	qcfg := config.DefaultQuotaConfig()
	qcfg.MonthlyPageLimit = 100
	for _, opt := range opts {
		opt(&bcfg, &qcfg, h)
	}

	h.schemas.Put(fixtures.TenantDetails("s1", "t1", "", fixtures.InvoiceSchema()))
	h.schemas.Put(fixtures.PublicDetails("pub-invoice", fixtures.InvoiceSchema()))
	h.schemas.Put(fixtures.PublicDetails("pub-claim", fixtures.ClaimSchema()))

	h.quota = quota.NewManager(h.ledger, qcfg, zap.NewNop())
	orc, err := NewOrchestrator(Dependencies{
		Capability: h.cap,
		Loader:     document.NewLoader(zap.NewNop()),
		Schemas:    h.schemas,
		Cache:      cache.NewStageCache(h.store, config.DefaultCacheConfig().Versions, zap.NewNop()),
		Quota:      h.quota,
		Sink:       h.sink,
	}, bcfg, testutil.TestLogger(t), WithObserver(h.obs), WithModels(ModelsFrom(config.DefaultLLMConfig())))
	require.NoError(t, err)
	h.orc = orc
	return h
}

func (h *harness) usage(t *testing.T, user string) int {
	t.Helper()
	n, err := h.quota.Usage(context.Background(), user)
	require.NoError(t, err)
	return n
}

func textFiles(ext string, names ...string) []File {
	files := make([]File, len(names))
	for i, n := range names {
		files[i] = File{Filename: n + ext, Content: []byte(fixtures.InvoiceText(n))}
	}
	return files
}

// =============================================================================
// 🚪 准入
// =============================================================================

func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	_, err := NewOrchestrator(Dependencies{}, config.DefaultBatchConfig(), nil)
	assert.Error(t, err)

	_, err = NewOrchestrator(Dependencies{Capability: mocks.NewMockCapability()}, config.DefaultBatchConfig(), nil)
	assert.Error(t, err)
}

func TestProcess_EmptyBatch(t *testing.T) {
	h := newHarness(t)
	_, err := h.orc.Process(context.Background(), Request{UserID: "u1"})
	assert.True(t, types.IsErrorCode(err, types.ErrEmptyBatch))
	assert.True(t, types.IsAdmissionError(err))
}

func TestProcess_InvalidRequest(t *testing.T) {
	h := newHarness(t)

	_, err := h.orc.Process(context.Background(), Request{Files: []File{{Content: []byte("x")}}})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = h.orc.Process(context.Background(), Request{Files: textFiles(".md", "a"), Workflow: "turbo"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestProcess_InvalidInlineSchemaRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.orc.Process(context.Background(), Request{
		Files:        textFiles(".md", "a"),
		InlineSchema: []byte(`{"fields":[]}`),
		UserID:       "u1",
	})
	assert.True(t, types.IsErrorCode(err, types.ErrSchemaInvalid))
	assert.Zero(t, h.usage(t, "u1"))
	assert.Zero(t, h.cap.CallCount(""))
}

func TestProcess_PageCeilingRejectsBeforeWork(t *testing.T) {
	h := newHarness(t, withBatchConfig(func(c *config.BatchConfig) { c.PageCeiling = 2 }))

	_, err := h.orc.Process(context.Background(), Request{
		Files:  textFiles(".md", "a", "b", "c"),
		UserID: "u1",
	})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrPageLimitExceeded))
	assert.Zero(t, h.cap.CallCount(""), "no worker may run")
	assert.Zero(t, h.usage(t, "u1"), "no quota mutation")
	assert.Zero(t, h.sink.Count())
}

func TestProcess_QuotaDenied(t *testing.T) {
	h := newHarness(t, withLimit(5))
	acct := quota.AccountFor("u1", time.Now())
	ok, err := h.ledger.Reserve(context.Background(), acct, 5, 5)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.orc.Process(context.Background(), Request{
		Files:  textFiles(".md", "a"),
		UserID: "u1",
	})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrQuotaExceeded))
	assert.Zero(t, h.cap.CallCount(""), "zero files processed")
	assert.Zero(t, h.sink.Count(), "zero persistence writes enqueued")
	assert.Equal(t, 5, h.usage(t, "u1"))
}

func TestProcess_QuotaBackendFailsOpen(t *testing.T) {
	h := newHarness(t, withLedger(brokenLedger{}))
	h.cap.FailExtractFor("b.md", nil)

	res, err := h.orc.Process(context.Background(), Request{
		Files:        textFiles(".md", "a", "b"),
		DocumentType: "invoice",
		UserID:       "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)
	assert.Zero(t, res.RefundedPages, "unaccounted reservation has nothing to refund")
}

// =============================================================================
// 🔀 调度策略
// =============================================================================

func TestProcess_OptimisticSharesPrompt(t *testing.T) {
	h := newHarness(t)
	files := make([]File, 5)
	for i := range files {
		files[i] = File{Filename: "same.txt", Content: []byte(fixtures.InvoiceText("A-1"))}
	}

	res, err := h.orc.Process(context.Background(), Request{
		Files:        files,
		DocumentType: "invoice",
		SchemaID:     "s1",
		TenantID:     "t1",
		UserID:       "u1",
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyOptimistic, res.Strategy)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 5, res.Successful)
	assert.Nil(t, res.LeaderIndex)
	for _, oc := range res.Results {
		assert.Equal(t, "invoice", oc.DocumentType)
		assert.Equal(t, WorkflowBasic, oc.Workflow)
		assert.Equal(t, "s1", oc.SchemaID)
	}

	assert.Zero(t, h.cap.CallCount(mocks.OpClassify), "type known up front")
	assert.Equal(t, 1, h.cap.CallCount(mocks.OpSynthesize))
	assert.Equal(t, 1, h.store.Sets(cache.StagePrompt), "single prompt-synthesis cache write")
	assert.Equal(t, 5, h.usage(t, "u1"))
}

func TestProcess_OptimisticFromLearnedSchemaType(t *testing.T) {
	h := newHarness(t)
	h.schemas.Put(fixtures.TenantDetails("s2", "t1", "invoice", fixtures.InvoiceSchema()))

	res, err := h.orc.Process(context.Background(), Request{
		Files:    textFiles(".md", "a", "b"),
		SchemaID: "s2",
		TenantID: "t1",
	})
	require.NoError(t, err)
	assert.Equal(t, StrategyOptimistic, res.Strategy)
	assert.Equal(t, "invoice", res.DocumentType)
	assert.Zero(t, h.cap.CallCount(mocks.OpClassify))
}

func TestProcess_OptimisticSchemaMissingFailsEachFile(t *testing.T) {
	h := newHarness(t)

	res, err := h.orc.Process(context.Background(), Request{
		Files:        textFiles(".md", "a", "b"),
		DocumentType: "invoice",
		SchemaID:     "missing",
		UserID:       "u1",
	})
	require.NoError(t, err, "schema errors are per-file")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Len(t, res.Errors, 2)
	for _, oc := range res.Results {
		assert.Equal(t, types.ErrSchemaNotFound, oc.ErrorCode)
	}
	assert.Zero(t, h.usage(t, "u1"), "failed pages refunded")
}

type eventLog struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (l *eventLog) record(ev ProgressEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ProgressEvent(nil), l.events...)
}

func TestProcess_LeaderCompletesBeforeFollowers(t *testing.T) {
	h := newHarness(t)
	h.cap.WithDelay(5 * time.Millisecond)
	log := &eventLog{}

	files := append(textFiles(".txt", "fixed"), textFiles(".md", "a", "b", "c", "d")...)
	res, err := h.orc.Process(context.Background(), Request{
		Files:    files,
		SchemaID: "s1",
		TenantID: "t1",
		UserID:   "u1",
		Progress: log.record,
	})
	require.NoError(t, err)
	assert.Equal(t, StrategyLeaderFollower, res.Strategy)
	require.NotNil(t, res.LeaderIndex)
	assert.Equal(t, 1, *res.LeaderIndex, ".txt has a fixed workflow and cannot lead")

	events := log.snapshot()
	leaderDone := -1
	for i, ev := range events {
		if ev.Type == EventFileFinished && ev.Index == 1 {
			leaderDone = i
			break
		}
	}
	require.GreaterOrEqual(t, leaderDone, 0)
	for i, ev := range events {
		if ev.Type == EventFileStarted && ev.Index != 1 {
			assert.Greater(t, i, leaderDone, "follower %d started before leader finished", ev.Index)
		}
	}

	assert.Equal(t, 1, h.cap.CallCount(mocks.OpClassify), "followers reuse the leader's type")
	assert.Equal(t, 1, h.cap.CallCount(mocks.OpSynthesize))
	assert.Equal(t, "invoice", res.DocumentType)
	assert.Equal(t, []string{"s1=invoice"}, h.schemas.Updates, "learned type written back")
}

func TestProcess_SlowProgressDoesNotHoldSlots(t *testing.T) {
	h := newHarness(t, withBatchConfig(func(c *config.BatchConfig) { c.MaxConcurrentDocs = 1 }))

	release := make(chan struct{})
	first := make(chan struct{})
	var once sync.Once
	log := &eventLog{}
	stalled := func(ev ProgressEvent) {
		once.Do(func() { close(first) })
		<-release
		log.record(ev)
	}

	slowDone := make(chan *Result, 1)
	go func() {
		res, err := h.orc.Process(context.Background(), Request{
			Files:        textFiles(".md", "a", "b"),
			DocumentType: "invoice",
			UserID:       "u1",
			Progress:     stalled,
		})
		assert.NoError(t, err)
		slowDone <- res
	}()
	<-first

	// 回调阻塞期间，唯一的并发槽位仍可被其他批次使用
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	other, err := h.orc.Process(ctx, Request{
		Files:        textFiles(".md", "c"),
		DocumentType: "invoice",
		UserID:       "u2",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, other.Status)

	select {
	case <-slowDone:
		t.Fatal("Process returned before its progress events were delivered")
	default:
	}
	close(release)
	res := <-slowDone
	assert.Equal(t, StatusCompleted, res.Status)

	events := log.snapshot()
	require.Len(t, events, 4)
	for _, idx := range []int{0, 1} {
		started, finished := -1, -1
		for i, ev := range events {
			if ev.Index != idx {
				continue
			}
			assert.Equal(t, res.BatchID, ev.BatchID)
			switch ev.Type {
			case EventFileStarted:
				started = i
			case EventFileFinished:
				finished = i
				require.NotNil(t, ev.Outcome)
				assert.Equal(t, FileSuccess, ev.Outcome.Status)
			}
		}
		assert.Less(t, started, finished, "file %d", idx)
	}
}

func TestProcess_ProgressPanicIsContained(t *testing.T) {
	h := newHarness(t)
	calls := 0
	res, err := h.orc.Process(context.Background(), Request{
		Files:        textFiles(".md", "a", "b"),
		DocumentType: "invoice",
		Progress: func(ProgressEvent) {
			calls++
			panic("listener bug")
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 4, calls, "后续事件照常投递")
}

func TestProcess_LeaderFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.cap.WithClassifyError(types.NewError(types.ErrUpstreamError, "classifier down"))

	res, err := h.orc.Process(context.Background(), Request{
		Files:  textFiles(".md", "a", "b", "c"),
		UserID: "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, h.cap.CallCount(mocks.OpClassify), "each follower classifies on its own")
	assert.Equal(t, int64(1), h.orc.Stats().LeaderFallbacks)
	assert.Equal(t, 1, h.obs.fallbacks)
	assert.Equal(t, 3, res.RefundedPages)
	assert.Zero(t, h.usage(t, "u1"))
	for _, oc := range res.Results {
		assert.Contains(t, oc.Error, "classifier down")
	}
}

func TestProcess_LeaderExtractionFailureStillShares(t *testing.T) {
	h := newHarness(t)
	h.cap.FailExtractFor("a.md", nil)

	res, err := h.orc.Process(context.Background(), Request{
		Files:    textFiles(".md", "a", "b", "c"),
		SchemaID: "s1",
		TenantID: "t1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 1, h.cap.CallCount(mocks.OpClassify))
	assert.Zero(t, h.orc.Stats().LeaderFallbacks)
}

// =============================================================================
// ⚙️ 流水线
// =============================================================================

func TestProcess_PartialFailureIsolated(t *testing.T) {
	h := newHarness(t)
	h.cap.FailExtractFor("b.md", errors.New("model exploded: <<secret payload>>"))

	res, err := h.orc.Process(context.Background(), Request{
		Files:        textFiles(".md", "a", "b", "c"),
		DocumentType: "invoice",
		UserID:       "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, StatusPartial, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "b.md", res.Errors[0].Filename)

	want := types.ConformRecord(fixtures.InvoiceSchema(), map[string]any{
		"invoice_number": "A-1", "total": 480.0, "vendor": "Acme",
	})
	for _, i := range []int{0, 2} {
		oc := res.Results[i]
		assert.Equal(t, FileSuccess, oc.Status)
		assert.Empty(t, oc.Error)
		testutil.AssertRecordsEqual(t, want, oc.Fields)
	}
	assert.Nil(t, res.Results[1].Fields)
	assert.Equal(t, 1, res.RefundedPages)
	assert.Equal(t, 2, h.usage(t, "u1"))
}

func TestProcess_IdempotentWithWarmCache(t *testing.T) {
	h := newHarness(t)
	req := Request{
		Files: []File{
			{Filename: "a.md", Content: []byte(fixtures.InvoiceText("A-1"))},
			{Filename: "scan.png", Content: []byte("\x89PNG\r\n\x1a\n")},
		},
		SchemaID: "s1",
		TenantID: "t1",
	}

	first, err := h.orc.Process(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, first.Status)
	h.cap.Reset()

	second, err := h.orc.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, h.cap.CallCount(""), "warm cache needs no capability calls")
	for i := range first.Results {
		testutil.AssertRecordsEqual(t, first.Results[i].Fields, second.Results[i].Fields)
	}
}

func TestProcess_ExplicitTypeNormalized(t *testing.T) {
	h := newHarness(t)

	res, err := h.orc.Process(context.Background(), Request{
		Files:        textFiles(".md", "a"),
		DocumentType: "  Invoice ",
		UserID:       "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, StrategyOptimistic, res.Strategy)
	assert.Equal(t, "invoice", res.DocumentType)
	assert.Equal(t, "pub-invoice", res.SchemaID, "公共 Schema 按规范化后的类型查找")
	assert.Equal(t, "invoice", res.Results[0].DocumentType)

	res, err = h.orc.Process(context.Background(), Request{
		Files:        textFiles(".md", "b"),
		DocumentType: "invoice",
		UserID:       "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pub-invoice", res.SchemaID)
	assert.Equal(t, 1, h.cap.CallCount(mocks.OpSynthesize), "两种写法共用同一个提示词缓存")
	assert.Equal(t, 1, h.store.Sets(cache.StagePrompt))
}

func TestProcess_WorkflowRule(t *testing.T) {
	h := newHarness(t)
	res, err := h.orc.Process(context.Background(), Request{
		Files: []File{
			{Filename: "photo.jpg", Content: []byte{0xff, 0xd8, 0xff}},
			{Filename: "notes.txt", Content: []byte(fixtures.InvoiceText("A-1"))},
			{Filename: "short.md", Content: []byte("tiny")},
			{Filename: "long.md", Content: []byte(fixtures.InvoiceText("A-2"))},
			{Filename: "scan.pdf", Content: fixtures.ScannedPDF(1)},
		},
		DocumentType: "invoice",
		Workflow:     WorkflowBalanced,
	})
	require.NoError(t, err)

	got := map[string]Workflow{}
	for _, oc := range res.Results {
		got[oc.Filename] = oc.Workflow
	}
	assert.Equal(t, map[string]Workflow{
		"photo.jpg": WorkflowBalanced,
		"notes.txt": WorkflowBasic,
		"short.md":  WorkflowBasic,
		"long.md":   WorkflowBalanced,
		"scan.pdf":  WorkflowBalanced,
	}, got)
	assert.Len(t, h.cap.CallsFor("long.md"), 2, "representation then extraction")
	assert.Len(t, h.cap.CallsFor("notes.txt"), 1, "extraction only")
}

func TestProcess_ShortTextClassifiedGenericWithoutCall(t *testing.T) {
	h := newHarness(t)
	res, err := h.orc.Process(context.Background(), Request{
		Files: []File{{Filename: "short.md", Content: []byte("hello")}},
	})
	require.NoError(t, err)
	assert.Zero(t, h.cap.CallCount(mocks.OpClassify))
	assert.Equal(t, extract.GenericType, res.Results[0].DocumentType)
	assert.Equal(t, "pub-claim", res.Results[0].SchemaID, "generic falls back to the public claim schema")
}

func TestProcess_ReceiptMapsToInvoiceSchema(t *testing.T) {
	h := newHarness(t)
	h.cap.WithDocumentType("receipt")

	res, err := h.orc.Process(context.Background(), Request{Files: textFiles(".md", "a")})
	require.NoError(t, err)
	assert.Equal(t, "receipt", res.Results[0].DocumentType)
	assert.Equal(t, "pub-invoice", res.Results[0].SchemaID)
}

func TestProcess_NoSchemaAnywhere(t *testing.T) {
	h := newHarness(t)
	h.schemas = mocks.NewMockSchemaStore()
	h.orc.deps.Schemas = h.schemas

	res, err := h.orc.Process(context.Background(), Request{Files: textFiles(".md", "a")})
	require.NoError(t, err)
	assert.Equal(t, types.ErrSchemaNotFound, res.Results[0].ErrorCode)
}

func TestProcess_InlineSchema(t *testing.T) {
	h := newHarness(t)
	res, err := h.orc.Process(context.Background(), Request{
		Files:        textFiles(".md", "a"),
		InlineSchema: []byte(fixtures.InvoiceSchemaJSON()),
	})
	require.NoError(t, err)
	assert.Equal(t, StrategyOptimistic, res.Strategy, "inline schema carries its document type")
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, res.Results[0].SchemaID)
}

func TestProcess_PromptSynthesisFallback(t *testing.T) {
	h := newHarness(t)
	h.cap.WithSynthesisError(errors.New("prompt model unavailable"))

	var prompts []string
	var mu sync.Mutex
	h.cap.WithFieldsFunc(func(req extract.FieldsRequest) (map[string]any, error) {
		mu.Lock()
		prompts = append(prompts, req.SystemPrompt)
		mu.Unlock()
		return map[string]any{"invoice_number": "A-1"}, nil
	})

	res, err := h.orc.Process(context.Background(), Request{
		Files:        textFiles(".md", "a"),
		DocumentType: "invoice",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{extract.FallbackSystemPrompt}, prompts)
	assert.Zero(t, h.store.Sets(cache.StagePrompt), "fallback prompt is not cached")
}

func TestProcess_RequiredFieldMissing(t *testing.T) {
	h := newHarness(t)
	h.cap.WithFields(map[string]any{"total": 1})

	res, err := h.orc.Process(context.Background(), Request{
		Files:        textFiles(".md", "a"),
		DocumentType: "invoice",
	})
	require.NoError(t, err)
	assert.Equal(t, types.ErrRecordInvalid, res.Results[0].ErrorCode)
	assert.Zero(t, h.store.Sets(cache.StageExtraction), "invalid records are not cached")
}

func TestProcess_ErrorMessageTruncated(t *testing.T) {
	h := newHarness(t, withBatchConfig(func(c *config.BatchConfig) { c.ErrorMessageLimit = 40 }))
	h.cap.FailExtractFor("a.md", errors.New(strings.Repeat("e", 1000)))

	res, err := h.orc.Process(context.Background(), Request{Files: textFiles(".md", "a"), DocumentType: "invoice"})
	require.NoError(t, err)
	assert.Len(t, []rune(res.Results[0].Error), 40)
	assert.Equal(t, res.Results[0].Error, res.Errors[0].Error)
}

func TestProcess_PanicIsolated(t *testing.T) {
	h := newHarness(t)
	h.cap.WithFieldsFunc(func(req extract.FieldsRequest) (map[string]any, error) {
		if req.Filename == "b.md" {
			panic("boom")
		}
		return map[string]any{"invoice_number": "A-1"}, nil
	})

	res, err := h.orc.Process(context.Background(), Request{Files: textFiles(".md", "a", "b"), DocumentType: "invoice"})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Contains(t, res.Results[1].Error, "boom")
}

func TestProcess_UnreadableFile(t *testing.T) {
	h := newHarness(t)
	res, err := h.orc.Process(context.Background(), Request{
		Files:        []File{{Filename: "a.exe", Content: []byte("MZ")}, textFiles(".md", "b")[0]},
		DocumentType: "invoice",
	})
	require.NoError(t, err)
	assert.Equal(t, types.ErrUnsupportedFile, res.Results[0].ErrorCode)
	assert.Equal(t, FileSuccess, res.Results[1].Status)
}

func TestProcess_ConcurrencyBounded(t *testing.T) {
	h := newHarness(t, withBatchConfig(func(c *config.BatchConfig) { c.MaxConcurrentDocs = 2 }))
	h.cap.WithDelay(10 * time.Millisecond)

	res, err := h.orc.Process(context.Background(), Request{
		Files:        textFiles(".md", "a", "b", "c", "d", "e", "f"),
		DocumentType: "invoice",
	})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Successful)
	assert.LessOrEqual(t, h.obs.max, 2)
	assert.Zero(t, h.obs.current, "every slot released")
}

func TestProcess_CancelledContext(t *testing.T) {
	h := newHarness(t)
	res, err := h.orc.Process(testutil.CancelledContext(), Request{
		Files:        textFiles(".md", "a", "b"),
		DocumentType: "invoice",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Zero(t, h.cap.CallCount(mocks.OpExtract))
}

func TestProcess_EnqueuesPersistence(t *testing.T) {
	h := newHarness(t)
	res, err := h.orc.Process(context.Background(), Request{
		Files:        textFiles(".md", "a"),
		DocumentType: "invoice",
		UserID:       "u1",
		TenantID:     "t1",
	})
	require.NoError(t, err)

	require.Equal(t, 1, h.sink.Count())
	assert.Same(t, res, h.sink.results[0])
	assert.Equal(t, "u1", h.sink.metas[0].UserID)
	assert.Equal(t, res.BatchID, h.sink.metas[0].BatchID)
	assert.NotEmpty(t, res.Results[0].ContentHash)
}

func TestParseWorkflow(t *testing.T) {
	wf, err := ParseWorkflow("")
	require.NoError(t, err)
	assert.Equal(t, WorkflowAuto, wf)

	wf, err = ParseWorkflow("balanced")
	require.NoError(t, err)
	assert.Equal(t, WorkflowBalanced, wf)

	_, err = ParseWorkflow("fast")
	assert.Error(t, err)
}
