package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/docintake/internal/document"
	"github.com/BaSui01/docintake/llm/cache"
	"github.com/BaSui01/docintake/llm/extract"
	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// ⚙️ 单文件流水线
// =============================================================================

// fileState 单个文件在流水线中的中间状态
type fileState struct {
	l        loaded
	workflow Workflow
	docType  string
	schema   *types.Schema
	schemaID string
	prompt   string
	timings  map[string]float64
}

func (s *fileState) time(stage string, start time.Time) {
	s.timings[stage] = float64(time.Since(start).Microseconds()) / 1000
}

// worker 获取并发槽位后执行流水线。
// 返回的 SharedContext 仅在类型、Schema 与提示词都已确定时非 nil。
func (o *Orchestrator) worker(ctx context.Context, run *batchRun, idx int, shared *SharedContext) (out Outcome, produced *SharedContext) {
	l := run.files[idx]
	start := time.Now()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return o.finish(run, &fileState{l: l}, start, fmt.Errorf("not started: %w", err)), nil
	}
	defer o.sem.Release(1)

	if o.observer != nil {
		o.observer.AddInFlight(1)
		defer o.observer.AddInFlight(-1)
	}

	run.emit(ProgressEvent{Type: EventFileStarted, Index: idx, Filename: l.file.Filename})

	ctx, span := o.tracer.Start(ctx, "batch.File", trace.WithAttributes(
		attribute.Int("file.index", idx),
		attribute.String("file.name", l.file.Filename),
	))
	defer span.End()

	if o.cfg.FileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.FileTimeout)
		defer cancel()
	}

	st := &fileState{l: l, timings: make(map[string]float64)}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("file pipeline panicked",
					zap.String("filename", l.file.Filename),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				err = fmt.Errorf("internal error: %v", r)
			}
		}()
		var fields *types.Record
		fields, produced, err = o.pipeline(ctx, run, st, shared)
		out.Fields = fields
	}()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("file.workflow", string(st.workflow)))

	fields := out.Fields
	out = o.finish(run, st, start, err)
	if err == nil {
		out.Fields = fields
	}
	run.emit(ProgressEvent{Type: EventFileFinished, Index: idx, Filename: l.file.Filename, Outcome: &out})
	return out, produced
}

// failEarly 共享上下文构建失败时直接记录失败，不进入流水线
func (o *Orchestrator) failEarly(run *batchRun, idx int, err error) Outcome {
	l := run.files[idx]
	out := o.finish(run, &fileState{l: l}, time.Now(), err)
	run.emit(ProgressEvent{Type: EventFileFinished, Index: idx, Filename: l.file.Filename, Outcome: &out})
	return out
}

func (o *Orchestrator) finish(run *batchRun, st *fileState, start time.Time, err error) Outcome {
	d := time.Since(start)
	out := Outcome{
		Index:        st.l.index,
		Filename:     st.l.file.Filename,
		Status:       FileSuccess,
		Workflow:     st.workflow,
		DocumentType: st.docType,
		SchemaID:     st.schemaID,
		Pages:        st.l.pages,
		Duration:     d,
		DurationMS:   d.Milliseconds(),
		Timings:      st.timings,
		ContentHash:  types.SHA256Hex(st.l.file.Content),
	}
	if err != nil {
		out.Status = FileFailed
		out.Error = truncate(err.Error(), o.cfg.ErrorMessageLimit)
		out.ErrorCode = types.GetErrorCode(err)
		if out.ErrorCode == "" && errors.Is(err, context.DeadlineExceeded) {
			out.ErrorCode = types.ErrUpstreamTimeout
		}
		o.failed.Add(1)
		o.logger.Warn("file failed",
			zap.String("batch_id", run.id),
			zap.String("filename", out.Filename),
			zap.Error(err),
		)
	} else {
		o.succeeded.Add(1)
	}
	o.files.Add(1)
	if o.observer != nil {
		o.observer.RecordFile(string(out.Workflow), string(out.Status), d)
	}
	return out
}

// pipeline 分类 → 表示生成（仅 balanced）→ 字段抽取
func (o *Orchestrator) pipeline(ctx context.Context, run *batchRun, st *fileState, shared *SharedContext) (*types.Record, *SharedContext, error) {
	if st.l.err != nil {
		return nil, nil, st.l.err
	}
	doc := st.l.doc
	text := extract.NormalizeText(doc.Text)

	preferred := run.req.Workflow
	if shared != nil && shared.Workflow != "" {
		preferred = shared.Workflow
	}
	st.workflow = o.decideWorkflow(doc, preferred)

	// 分类
	if shared != nil && shared.DocumentType != "" {
		st.docType = shared.DocumentType
	} else {
		t0 := time.Now()
		dt, err := o.classify(ctx, run, text)
		st.time("classify", t0)
		if err != nil {
			return nil, nil, fmt.Errorf("classification failed: %w", err)
		}
		st.docType = dt
	}

	// Schema 与提示词
	if shared != nil && shared.Schema != nil {
		st.schema, st.schemaID = shared.Schema, shared.SchemaID
	} else {
		s, id, err := o.resolveSchema(ctx, run, st.docType)
		if err != nil {
			return nil, nil, err
		}
		st.schema, st.schemaID = s, id
	}
	if shared != nil && shared.SystemPrompt != "" {
		st.prompt = shared.SystemPrompt
	} else {
		t0 := time.Now()
		st.prompt = o.systemPrompt(ctx, st.docType, st.schema)
		st.time("prompt", t0)
	}

	var produced *SharedContext
	if shared == nil {
		produced = &SharedContext{
			DocumentType: st.docType,
			Schema:       st.schema,
			SchemaID:     st.schemaID,
			SystemPrompt: st.prompt,
		}
	}

	// 表示生成
	content := text
	var hints *extract.StructureHints
	if st.workflow == WorkflowBalanced {
		t0 := time.Now()
		rep, err := o.represent(ctx, doc, text, st.schema)
		st.time("representation", t0)
		if err != nil {
			return nil, produced, fmt.Errorf("representation failed: %w", err)
		}
		if strings.TrimSpace(rep.Markdown) != "" {
			content = rep.Markdown
		}
		hints = &rep.Hints
	}

	// 字段抽取
	t0 := time.Now()
	rec, err := o.extract(ctx, st, content, hints)
	st.time("extraction", t0)
	if err != nil {
		return nil, produced, err
	}
	return rec, produced, nil
}

// =============================================================================
// 🧭 工作流规则
// =============================================================================

// fixedWorkflow 文件本地规则：图片、.txt、短文本与无文本文件走固定路径
func (o *Orchestrator) fixedWorkflow(doc *document.Document) (Workflow, bool) {
	if doc == nil {
		return "", false
	}
	if doc.Kind == document.KindImage {
		return WorkflowBalanced, true
	}
	if strings.EqualFold(filepath.Ext(doc.Filename), ".txt") {
		return WorkflowBasic, true
	}
	trimmed := strings.TrimSpace(doc.Text)
	if trimmed == "" {
		return WorkflowBalanced, true
	}
	if utf8.RuneCountInString(trimmed) < o.cfg.ShortTextThreshold {
		return WorkflowBasic, true
	}
	return "", false
}

func (o *Orchestrator) decideWorkflow(doc *document.Document, preferred Workflow) Workflow {
	if wf, fixed := o.fixedWorkflow(doc); fixed {
		return wf
	}
	if preferred == WorkflowBasic || preferred == WorkflowBalanced {
		return preferred
	}
	if doc.Kind == document.KindPDF {
		return WorkflowBalanced
	}
	return WorkflowBasic
}

// =============================================================================
// 🔍 各阶段（均先查缓存）
// =============================================================================

func (o *Orchestrator) classify(ctx context.Context, run *batchRun, text string) (string, error) {
	snippet := extract.Snippet(text, o.cfg.ClassifySnippetChars)
	if utf8.RuneCountInString(strings.TrimSpace(snippet)) < o.cfg.ShortTextThreshold {
		return extract.GenericType, nil
	}

	schemaRef := run.req.SchemaID
	if run.inline != nil {
		schemaRef = run.inline.Digest()
	}
	key := o.deps.Cache.Key(cache.StageClassification, []byte(snippet), map[string]any{
		"schema_id": schemaRef,
		"model":     o.models.Classifier,
	})

	var cached struct {
		DocumentType string `json:"document_type"`
	}
	if o.deps.Cache.Lookup(ctx, cache.StageClassification, key, &cached) && cached.DocumentType != "" {
		return cached.DocumentType, nil
	}

	dt, err := o.deps.Capability.Classify(ctx, snippet)
	if err != nil {
		return "", err
	}
	dt = normalizeType(dt)
	if dt == "" {
		dt = extract.GenericType
	}
	cached.DocumentType = dt
	o.deps.Cache.Put(ctx, cache.StageClassification, key, cached)
	return dt, nil
}

// normalizeType 文档类型统一为去空白的小写形式
func normalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// systemPrompt 读取或合成提示词。合成失败时使用固定兜底提示词且不缓存。
func (o *Orchestrator) systemPrompt(ctx context.Context, docType string, schema *types.Schema) string {
	key := o.deps.Cache.Key(cache.StagePrompt, []byte(docType), map[string]any{
		"schema": schema.Digest(),
		"model":  o.models.Prompt,
	})

	var cached struct {
		SystemPrompt string `json:"system_prompt"`
	}
	if o.deps.Cache.Lookup(ctx, cache.StagePrompt, key, &cached) && cached.SystemPrompt != "" {
		return cached.SystemPrompt
	}

	prompt, err := o.deps.Capability.SynthesizePrompt(ctx, docType, schema)
	if err != nil || strings.TrimSpace(prompt) == "" {
		o.logger.Warn("prompt synthesis failed, using fallback prompt",
			zap.String("document_type", docType),
			zap.Error(err),
		)
		return extract.FallbackSystemPrompt
	}
	cached.SystemPrompt = prompt
	o.deps.Cache.Put(ctx, cache.StagePrompt, key, cached)
	return prompt
}

func (o *Orchestrator) represent(ctx context.Context, doc *document.Document, text string, schema *types.Schema) (*extract.Representation, error) {
	key := o.deps.Cache.Key(cache.StageRepresentation, doc.Content, map[string]any{
		"model":      o.models.Vision,
		"media_type": doc.MediaType,
	})

	var rep extract.Representation
	if o.deps.Cache.Lookup(ctx, cache.StageRepresentation, key, &rep) {
		return &rep, nil
	}

	got, err := o.deps.Capability.GenerateRepresentation(ctx, extract.File{
		Filename:  doc.Filename,
		MediaType: doc.MediaType,
		Content:   doc.Content,
		Text:      text,
	}, schema)
	if err != nil {
		return nil, err
	}
	o.deps.Cache.Put(ctx, cache.StageRepresentation, key, got)
	return got, nil
}

func (o *Orchestrator) extract(ctx context.Context, st *fileState, content string, hints *extract.StructureHints) (*types.Record, error) {
	key := o.deps.Cache.Key(cache.StageExtraction, []byte(content), map[string]any{
		"schema":        st.schema.Digest(),
		"document_type": st.docType,
		"hints":         hints,
		"model":         o.models.Extraction,
	})

	var raw map[string]any
	if o.deps.Cache.Lookup(ctx, cache.StageExtraction, key, &raw) {
		rec := types.ConformRecord(st.schema, raw)
		if err := o.deps.Validator.ValidateRecord(st.schema, rec); err == nil {
			return rec, nil
		}
	}

	raw, err := o.deps.Capability.ExtractFields(ctx, extract.FieldsRequest{
		Filename:     st.l.file.Filename,
		Content:      content,
		DocumentType: st.docType,
		Schema:       st.schema,
		SystemPrompt: st.prompt,
		Hints:        hints,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	rec := types.ConformRecord(st.schema, raw)
	if err := o.deps.Validator.ValidateRecord(st.schema, rec); err != nil {
		return nil, err
	}
	o.deps.Cache.Put(ctx, cache.StageExtraction, key, raw)
	return rec, nil
}

// =============================================================================
// 📚 Schema 解析
// =============================================================================

// 公共 Schema 查询时的类型映射
var publicTypeAliases = map[string]string{
	"receipt": "invoice",
}

// fallbackPublicType 找不到对应类型时使用的公共 Schema
const fallbackPublicType = "claim"

// resolveSchema 依次尝试：内联 Schema、Schema ID、类型对应的公共 Schema、claim 公共 Schema
func (o *Orchestrator) resolveSchema(ctx context.Context, run *batchRun, docType string) (*types.Schema, string, error) {
	if run.inline != nil {
		return run.inline, "", nil
	}
	if o.deps.Schemas == nil {
		return nil, "", types.NewError(types.ErrSchemaNotFound, "no schema supplied and no schema store configured")
	}

	req := run.req
	if req.SchemaID != "" {
		s, err := o.deps.Schemas.GetSchemaContent(ctx, req.SchemaID, req.TenantID)
		if err != nil {
			if _, ok := types.AsError(err); ok {
				return nil, "", err
			}
			return nil, "", types.Errorf(types.ErrSchemaNotFound, "schema %s not available", req.SchemaID).WithCause(err)
		}
		return s, req.SchemaID, nil
	}

	lookup := docType
	if alias, ok := publicTypeAliases[lookup]; ok {
		lookup = alias
	}
	for _, t := range []string{lookup, fallbackPublicType} {
		if t == "" {
			continue
		}
		d, err := o.deps.Schemas.FindPublicSchema(ctx, t)
		if err == nil && d != nil && d.Schema != nil {
			return d.Schema, d.ID, nil
		}
	}
	return nil, "", types.Errorf(types.ErrSchemaNotFound, "no schema found for document type %q", docType)
}

// =============================================================================
// 📊 汇总
// =============================================================================

func (o *Orchestrator) aggregate(run *batchRun, strategy Strategy, outcomes []Outcome) *Result {
	r := &Result{
		BatchID:  run.id,
		Strategy: strategy,
		Total:    len(outcomes),
		Results:  outcomes,
		Errors:   []FileError{},
	}
	for _, oc := range outcomes {
		if oc.Succeeded() {
			r.Successful++
			continue
		}
		r.Failed++
		r.Errors = append(r.Errors, FileError{Filename: oc.Filename, Error: oc.Error})
	}

	switch {
	case r.Failed == 0:
		r.Status = StatusCompleted
	case r.Successful == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
	return r
}

// truncate 截断到 limit 个字符
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
