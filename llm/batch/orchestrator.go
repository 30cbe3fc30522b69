package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/docintake/config"
	"github.com/BaSui01/docintake/internal/document"
	"github.com/BaSui01/docintake/llm/cache"
	"github.com/BaSui01/docintake/llm/extract"
	"github.com/BaSui01/docintake/llm/quota"
	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 🎯 批处理编排器
// =============================================================================

// Loader 物化文件内容
type Loader interface {
	Load(ctx context.Context, filename string, content []byte) (*document.Document, error)
}

// Models 参与缓存键的模型标识
type Models struct {
	Classifier string
	Vision     string
	Extraction string
	Prompt     string
}

// ModelsFrom 从 LLM 配置取模型标识
func ModelsFrom(cfg config.LLMConfig) Models {
	return Models{
		Classifier: cfg.ClassifierModel,
		Vision:     cfg.VisionModel,
		Extraction: cfg.ExtractionModel,
		Prompt:     cfg.PromptModel,
	}
}

// Dependencies 编排器依赖。Capability 与 Loader 必填，其余可为 nil。
type Dependencies struct {
	Capability extract.Capability
	Loader     Loader
	Schemas    SchemaStore
	Cache      *cache.StageCache
	Quota      *quota.Manager
	Sink       Sink
	Validator  *extract.Validator
}

// Option 编排器选项
type Option func(*Orchestrator)

// WithObserver 设置指标接收方
func WithObserver(o Observer) Option {
	return func(orc *Orchestrator) { orc.observer = o }
}

// WithTracer 替换 tracer
func WithTracer(t trace.Tracer) Option {
	return func(orc *Orchestrator) { orc.tracer = t }
}

// WithModels 设置缓存键使用的模型标识
func WithModels(m Models) Option {
	return func(orc *Orchestrator) { orc.models = m }
}

// Orchestrator 调度批次内的文件流水线。
// 信号量为进程级共享，所有批次共同受其约束。
type Orchestrator struct {
	cfg    config.BatchConfig
	deps   Dependencies
	sem    *semaphore.Weighted
	models Models

	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger

	// 运行统计
	batches   atomic.Int64
	files     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	fallbacks atomic.Int64
}

// Stats 编排器运行统计
type Stats struct {
	Batches         int64 `json:"batches"`
	Files           int64 `json:"files"`
	Succeeded       int64 `json:"succeeded"`
	Failed          int64 `json:"failed"`
	LeaderFallbacks int64 `json:"leader_fallbacks"`
}

// NewOrchestrator 创建编排器
func NewOrchestrator(deps Dependencies, cfg config.BatchConfig, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if deps.Capability == nil {
		return nil, errors.New("batch: capability is required")
	}
	if deps.Loader == nil {
		return nil, errors.New("batch: loader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	def := config.DefaultBatchConfig()
	if cfg.MaxConcurrentDocs <= 0 {
		cfg.MaxConcurrentDocs = def.MaxConcurrentDocs
	}
	if cfg.ErrorMessageLimit <= 0 {
		cfg.ErrorMessageLimit = def.ErrorMessageLimit
	}
	if cfg.ClassifySnippetChars <= 0 {
		cfg.ClassifySnippetChars = def.ClassifySnippetChars
	}
	if cfg.ShortTextThreshold < 0 {
		cfg.ShortTextThreshold = def.ShortTextThreshold
	}
	if deps.Validator == nil {
		v, err := extract.NewValidator()
		if err != nil {
			return nil, fmt.Errorf("batch: validator: %w", err)
		}
		deps.Validator = v
	}

	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentDocs)),
		logger: logger.With(zap.String("component", "batch_orchestrator")),
		tracer: otel.Tracer("github.com/BaSui01/docintake/llm/batch"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Stats 返回运行统计
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Batches:         o.batches.Load(),
		Files:           o.files.Load(),
		Succeeded:       o.succeeded.Load(),
		Failed:          o.failed.Load(),
		LeaderFallbacks: o.fallbacks.Load(),
	}
}

// loaded 预加载的文件
type loaded struct {
	index int
	file  File
	doc   *document.Document
	err   error
	pages int
}

// batchRun 单个批次的只读上下文
type batchRun struct {
	id       string
	req      Request
	inline   *types.Schema
	files    []loaded
	progress *progressPump
}

// Process 处理一个批次。
// 只有准入错误（空批次、页数超限、配额不足、请求非法）以 error 返回，
// 单文件错误只出现在 Result 中。
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	run := &batchRun{id: uuid.NewString(), req: req}
	if req.Progress != nil {
		run.progress = newProgressPump(req.Progress)
		defer run.progress.close()
	}

	ctx, span := o.tracer.Start(ctx, "batch.Process", trace.WithAttributes(
		attribute.String("batch.id", run.id),
		attribute.Int("batch.files", len(req.Files)),
	))
	defer span.End()
	ctx = types.WithBatchID(ctx, run.id)

	logger := o.logger.With(
		zap.String("batch_id", run.id),
		zap.String("user_id", req.UserID),
	)

	// ---- 准入 ----
	if err := o.admit(&run.req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(req.InlineSchema) > 0 {
		s, err := o.deps.Validator.ParseSchemaDocument(req.InlineSchema)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		run.inline = s
	}

	run.files = o.loadAll(ctx, run.req.Files)
	totalPages := 0
	for _, f := range run.files {
		totalPages += f.pages
	}
	span.SetAttributes(attribute.Int("batch.pages", totalPages))

	if o.cfg.PageCeiling > 0 && totalPages > o.cfg.PageCeiling {
		err := types.Errorf(types.ErrPageLimitExceeded,
			"batch has %d pages, limit is %d", totalPages, o.cfg.PageCeiling)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var reservation *quota.Reservation
	if o.deps.Quota != nil {
		r, err := o.deps.Quota.Reserve(ctx, req.UserID, totalPages)
		if err != nil {
			logger.Info("batch rejected by quota", zap.Int("pages", totalPages), zap.Error(err))
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		reservation = r
	}

	// ---- 调度 ----
	o.batches.Add(1)
	strategy, shared, sharedErr := o.decide(ctx, run)
	span.SetAttributes(attribute.String("batch.strategy", string(strategy)))
	logger.Info("batch started",
		zap.Int("files", len(run.files)),
		zap.Int("pages", totalPages),
		zap.String("strategy", string(strategy)),
	)

	outcomes := make([]Outcome, len(run.files))
	var leader *int
	switch strategy {
	case StrategyOptimistic:
		o.runOptimistic(ctx, run, shared, sharedErr, outcomes)
	default:
		idx := o.runLeaderFollower(ctx, run, outcomes)
		leader = &idx
	}

	// ---- 汇总 ----
	result := o.aggregate(run, strategy, outcomes)
	result.LeaderIndex = leader
	result.TotalPages = totalPages
	if shared != nil {
		result.DocumentType = shared.DocumentType
		result.SchemaID = shared.SchemaID
	} else if leader != nil {
		result.DocumentType = outcomes[*leader].DocumentType
		result.SchemaID = outcomes[*leader].SchemaID
	}

	if reservation != nil {
		refund := 0
		for _, oc := range result.Results {
			if !oc.Succeeded() {
				refund += oc.Pages
			}
		}
		if refund > 0 {
			o.deps.Quota.Refund(ctx, reservation, refund)
			if reservation.Accounted {
				result.RefundedPages = refund
				if o.observer != nil {
					o.observer.RecordRefund(refund)
				}
			}
		}
	}

	elapsed := time.Since(start)
	result.DurationMS = elapsed.Milliseconds()

	if o.deps.Sink != nil {
		o.deps.Sink.Enqueue(ctx, result, Meta{
			BatchID:   run.id,
			UserID:    req.UserID,
			TenantID:  req.TenantID,
			SchemaID:  result.SchemaID,
			CreatedAt: start,
		})
	}

	if o.observer != nil {
		o.observer.RecordBatch(string(strategy), string(result.Status), result.Total, elapsed)
	}
	span.SetAttributes(
		attribute.String("batch.status", string(result.Status)),
		attribute.Int("batch.failed", result.Failed),
	)
	logger.Info("batch finished",
		zap.String("status", string(result.Status)),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
		zap.Int("refunded_pages", result.RefundedPages),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

func (o *Orchestrator) admit(req *Request) error {
	if len(req.Files) == 0 {
		return types.NewError(types.ErrEmptyBatch, "batch contains no files")
	}
	for i, f := range req.Files {
		if f.Filename == "" {
			return types.Errorf(types.ErrInvalidRequest, "file %d has no filename", i)
		}
	}
	wf, err := ParseWorkflow(string(req.Workflow))
	if err != nil {
		return err
	}
	req.Workflow = wf
	return nil
}

// loadAll 并行物化所有文件。加载失败不影响准入，记为单文件错误且按 1 页计。
func (o *Orchestrator) loadAll(ctx context.Context, files []File) []loaded {
	out := make([]loaded, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentDocs)

	for i, f := range files {
		g.Go(func() error {
			doc, err := o.deps.Loader.Load(gctx, f.Filename, f.Content)
			l := loaded{index: i, file: f, doc: doc, err: err, pages: 1}
			if err == nil && doc.Pages > 0 {
				l.pages = doc.Pages
			}
			out[i] = l
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// emit 投递进度事件，不阻塞调用方
func (run *batchRun) emit(ev ProgressEvent) {
	if run.progress == nil {
		return
	}
	ev.BatchID = run.id
	ev.At = time.Now()
	run.progress.push(ev)
}

// progressPump 由单个协程按顺序调用进度回调。
// 工作协程只入队，回调阻塞时并发槽位照常释放；close 等待队列投递完毕。
type progressPump struct {
	fn     ProgressFunc
	mu     sync.Mutex
	queue  []ProgressEvent
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newProgressPump(fn ProgressFunc) *progressPump {
	p := &progressPump{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *progressPump) push(ev ProgressEvent) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, ev)
	p.mu.Unlock()
	p.signal()
}

func (p *progressPump) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *progressPump) loop() {
	defer close(p.done)
	for {
		p.mu.Lock()
		pending, closed := p.queue, p.closed
		p.queue = nil
		p.mu.Unlock()

		for _, ev := range pending {
			p.deliver(ev)
		}
		if len(pending) > 0 {
			continue
		}
		if closed {
			return
		}
		<-p.wake
	}
}

// deliver 回调 panic 不影响后续事件
func (p *progressPump) deliver(ev ProgressEvent) {
	defer func() { _ = recover() }()
	p.fn(ev)
}

func (p *progressPump) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()
	<-p.done
}

// =============================================================================
// 🔀 调度策略
// =============================================================================

// decide 选择调度策略。类型已知时预先构建共享上下文。
func (o *Orchestrator) decide(ctx context.Context, run *batchRun) (Strategy, *SharedContext, error) {
	req := run.req
	docType := normalizeType(req.DocumentType)

	var details *types.SchemaDetails
	if docType == "" && run.inline == nil && req.SchemaID != "" && o.deps.Schemas != nil {
		d, err := o.deps.Schemas.GetSchemaDetails(ctx, req.SchemaID, req.TenantID)
		if err != nil {
			o.logger.Debug("schema details unavailable, type unknown",
				zap.String("schema_id", req.SchemaID),
				zap.Error(err),
			)
		} else if d != nil && d.DocumentType != "" {
			details = d
			docType = normalizeType(d.DocumentType)
		}
	}
	if docType == "" && run.inline != nil {
		docType = normalizeType(run.inline.DocumentType)
	}
	if docType == "" {
		return StrategyLeaderFollower, nil, nil
	}

	shared, err := o.buildShared(ctx, run, docType, details)
	return StrategyOptimistic, shared, err
}

func (o *Orchestrator) buildShared(ctx context.Context, run *batchRun, docType string, details *types.SchemaDetails) (*SharedContext, error) {
	var (
		schema   *types.Schema
		schemaID string
		err      error
	)
	if details != nil && details.Schema != nil {
		schema, schemaID = details.Schema, details.ID
	} else {
		schema, schemaID, err = o.resolveSchema(ctx, run, docType)
		if err != nil {
			return nil, err
		}
	}

	prompt := o.systemPrompt(ctx, docType, schema)
	wf := run.req.Workflow
	if wf == WorkflowAuto {
		wf = ""
	}
	return &SharedContext{
		DocumentType: docType,
		Schema:       schema,
		SchemaID:     schemaID,
		SystemPrompt: prompt,
		Workflow:     wf,
	}, nil
}

// runOptimistic 策略 A：所有文件共享同一上下文并行执行
func (o *Orchestrator) runOptimistic(ctx context.Context, run *batchRun, shared *SharedContext, sharedErr error, outcomes []Outcome) {
	var wg sync.WaitGroup
	for i := range run.files {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if sharedErr != nil {
				outcomes[i] = o.failEarly(run, i, sharedErr)
				return
			}
			outcomes[i], _ = o.worker(ctx, run, i, shared)
		}(i)
	}
	wg.Wait()
}

// leaderResult 领头文件通过一次性通道交付的结果
type leaderResult struct {
	outcome Outcome
	shared  *SharedContext
}

// runLeaderFollower 策略 B：领头文件单独执行，完成后跟随者并行复用其上下文
func (o *Orchestrator) runLeaderFollower(ctx context.Context, run *batchRun, outcomes []Outcome) int {
	leader := o.pickLeader(run)

	done := make(chan leaderResult, 1)
	go func() {
		outcome, shared := o.worker(ctx, run, leader, nil)
		done <- leaderResult{outcome: outcome, shared: shared}
	}()
	lr := <-done
	outcomes[leader] = lr.outcome
	run.emit(ProgressEvent{Type: EventLeaderDone, Index: leader, Filename: lr.outcome.Filename})

	if lr.shared == nil {
		o.fallbacks.Add(1)
		if o.observer != nil {
			o.observer.RecordLeaderFallback()
		}
		if len(run.files) > 1 {
			o.logger.Warn("leader produced no shared context, followers run independently",
				zap.String("batch_id", run.id),
				zap.String("leader", lr.outcome.Filename),
				zap.String("error", lr.outcome.Error),
			)
		}
	} else {
		o.learnDocumentType(ctx, run, lr.shared)
	}

	var wg sync.WaitGroup
	for i := range run.files {
		if i == leader {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], _ = o.worker(ctx, run, i, lr.shared)
		}(i)
	}
	wg.Wait()
	return leader
}

// pickLeader 选择提交顺序中第一个工作流未被文件规则固定的文件，全部固定时取第一个
func (o *Orchestrator) pickLeader(run *batchRun) int {
	for _, f := range run.files {
		if f.err != nil {
			continue
		}
		if _, fixed := o.fixedWorkflow(f.doc); !fixed {
			return f.index
		}
	}
	return 0
}

// learnDocumentType 领头文件分类出具体类型时，回写到租户自有且尚无类型的 Schema
func (o *Orchestrator) learnDocumentType(ctx context.Context, run *batchRun, shared *SharedContext) {
	req := run.req
	if o.deps.Schemas == nil || req.SchemaID == "" || run.inline != nil {
		return
	}
	if shared.DocumentType == "" || shared.DocumentType == extract.GenericType {
		return
	}

	details, err := o.deps.Schemas.GetSchemaDetails(ctx, req.SchemaID, req.TenantID)
	if err != nil || !details.TenantOwned() || details.DocumentType != "" {
		return
	}
	if err := o.deps.Schemas.UpdateDocumentType(ctx, req.SchemaID, req.TenantID, shared.DocumentType); err != nil {
		o.logger.Warn("failed to store learned document type",
			zap.String("schema_id", req.SchemaID),
			zap.Error(err),
		)
		return
	}
	o.logger.Info("learned document type for schema",
		zap.String("schema_id", req.SchemaID),
		zap.String("document_type", shared.DocumentType),
	)
}
