package persist

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/docintake/llm/batch"
	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 📦 持久化任务
// =============================================================================

// Summary 批次级汇总
type Summary struct {
	Strategy      string
	Status        string
	DocumentType  string
	Total         int
	Successful    int
	Failed        int
	TotalPages    int
	RefundedPages int
	DurationMS    int64
}

// Entry 单个文件的持久化记录
type Entry struct {
	DocumentID   string
	BatchID      string
	Index        int
	UserID       string
	TenantID     string
	SchemaID     string
	Filename     string
	ContentHash  string
	DocumentType string
	Workflow     string
	Status       string
	Pages        int
	ErrorCode    string
	Error        string
	Fields       *types.Record
	Timings      map[string]float64
	DurationMS   int64
	CreatedAt    time.Time
}

// Succeeded 是否成功
func (e *Entry) Succeeded() bool {
	return e.Status == string(batch.FileSuccess)
}

// Job 一次批次的全部持久化数据。
// 文档 ID 在构造时生成，重试时保持不变，写入方据此做幂等。
type Job struct {
	Meta    batch.Meta
	Summary Summary
	Entries []Entry
}

// NewJob 由批次结果构造持久化任务
func NewJob(r *batch.Result, meta batch.Meta) *Job {
	if meta.BatchID == "" {
		meta.BatchID = r.BatchID
	}
	if meta.SchemaID == "" {
		meta.SchemaID = r.SchemaID
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	job := &Job{
		Meta: meta,
		Summary: Summary{
			Strategy:      string(r.Strategy),
			Status:        string(r.Status),
			DocumentType:  r.DocumentType,
			Total:         r.Total,
			Successful:    r.Successful,
			Failed:        r.Failed,
			TotalPages:    r.TotalPages,
			RefundedPages: r.RefundedPages,
			DurationMS:    r.DurationMS,
		},
		Entries: make([]Entry, 0, len(r.Results)),
	}

	for _, o := range r.Results {
		schemaID := o.SchemaID
		if schemaID == "" {
			schemaID = meta.SchemaID
		}
		docType := o.DocumentType
		if docType == "" {
			docType = r.DocumentType
		}
		job.Entries = append(job.Entries, Entry{
			DocumentID:   uuid.NewString(),
			BatchID:      meta.BatchID,
			Index:        o.Index,
			UserID:       meta.UserID,
			TenantID:     meta.TenantID,
			SchemaID:     schemaID,
			Filename:     o.Filename,
			ContentHash:  o.ContentHash,
			DocumentType: docType,
			Workflow:     string(o.Workflow),
			Status:       string(o.Status),
			Pages:        o.Pages,
			ErrorCode:    string(o.ErrorCode),
			Error:        o.Error,
			Fields:       o.Fields,
			Timings:      o.Timings,
			DurationMS:   o.DurationMS,
			CreatedAt:    meta.CreatedAt,
		})
	}
	return job
}

// Writer 持久化目标。Write 必须幂等，同一 Job 可能被重试。
type Writer interface {
	Name() string
	Write(ctx context.Context, job *Job) error
}
