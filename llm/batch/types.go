package batch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BaSui01/docintake/types"
)

// Workflow 单文件流水线路径
type Workflow string

const (
	// WorkflowAuto 由文件本地规则决定
	WorkflowAuto Workflow = "auto"
	// WorkflowBasic 直接从文本抽取
	WorkflowBasic Workflow = "basic"
	// WorkflowBalanced 先生成 Markdown 表示，再从表示抽取
	WorkflowBalanced Workflow = "balanced"
)

// ParseWorkflow 解析工作流名称，空串视为 auto
func ParseWorkflow(s string) (Workflow, error) {
	switch Workflow(s) {
	case "", WorkflowAuto:
		return WorkflowAuto, nil
	case WorkflowBasic, WorkflowBalanced:
		return Workflow(s), nil
	}
	return "", types.Errorf(types.ErrInvalidRequest, "unknown workflow %q", s)
}

// Strategy 批次调度策略
type Strategy string

const (
	// StrategyOptimistic 类型已知，所有文件立即并行
	StrategyOptimistic Strategy = "optimistic_parallel"
	// StrategyLeaderFollower 先由领头文件计算共享上下文
	StrategyLeaderFollower Strategy = "leader_follower"
)

// FileStatus 单文件结果状态
type FileStatus string

const (
	FileSuccess FileStatus = "success"
	FileFailed  FileStatus = "failed"
)

// Status 批次汇总状态
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// File 上传的单个文件
type File struct {
	Filename string
	Content  []byte
}

// Request 一次批处理请求
type Request struct {
	Files []File

	// DocumentType 调用方显式给出的文档类型
	DocumentType string
	// SchemaID 引用已存储的 Schema
	SchemaID string
	// InlineSchema 内联 Schema 文档，优先于 SchemaID
	InlineSchema json.RawMessage
	// Workflow 偏好的工作流，文件本地规则优先
	Workflow Workflow

	UserID   string
	TenantID string

	// Progress 逐文件进度回调，会被并发调用
	Progress ProgressFunc
}

// SharedContext 每批计算一次、之后只读的共享上下文
type SharedContext struct {
	DocumentType string
	Schema       *types.Schema
	SchemaID     string
	SystemPrompt string
	Workflow     Workflow
}

// Outcome 单文件结果
type Outcome struct {
	Index        int                `json:"index"`
	Filename     string             `json:"filename"`
	Status       FileStatus         `json:"status"`
	Fields       *types.Record      `json:"extracted_data,omitempty"`
	Error        string             `json:"error,omitempty"`
	ErrorCode    types.ErrorCode    `json:"error_code,omitempty"`
	Workflow     Workflow           `json:"workflow_used,omitempty"`
	DocumentType string             `json:"document_type,omitempty"`
	Pages        int                `json:"pages"`
	Duration     time.Duration      `json:"-"`
	DurationMS   int64              `json:"duration_ms"`
	Timings      map[string]float64 `json:"timings_ms,omitempty"`
	ContentHash  string             `json:"content_hash,omitempty"`
	SchemaID     string             `json:"schema_id,omitempty"`
}

// Succeeded 是否成功
func (o *Outcome) Succeeded() bool {
	return o.Status == FileSuccess
}

// FileError 汇总中的单文件错误
type FileError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// Result 批次汇总结果
type Result struct {
	BatchID       string      `json:"batch_id"`
	Status        Status      `json:"status"`
	Strategy      Strategy    `json:"strategy"`
	DocumentType  string      `json:"document_type,omitempty"`
	SchemaID      string      `json:"schema_id,omitempty"`
	Total         int         `json:"total"`
	Successful    int         `json:"successful"`
	Failed        int         `json:"failed"`
	TotalPages    int         `json:"total_pages"`
	RefundedPages int         `json:"refunded_pages"`
	Results       []Outcome   `json:"results"`
	Errors        []FileError `json:"errors"`
	DurationMS    int64       `json:"duration_ms"`
	LeaderIndex   *int        `json:"leader_index,omitempty"`
}

// Meta 交给持久化的批次元信息
type Meta struct {
	BatchID   string
	UserID    string
	TenantID  string
	SchemaID  string
	CreatedAt time.Time
}

// EventType 进度事件类型
type EventType string

const (
	EventFileStarted  EventType = "file_started"
	EventFileFinished EventType = "file_finished"
	EventLeaderDone   EventType = "leader_done"
)

// ProgressEvent 进度事件
type ProgressEvent struct {
	Type     EventType `json:"type"`
	BatchID  string    `json:"batch_id"`
	Index    int       `json:"index"`
	Filename string    `json:"filename"`
	Outcome  *Outcome  `json:"outcome,omitempty"`
	At       time.Time `json:"at"`
}

// ProgressFunc 进度回调
type ProgressFunc func(ProgressEvent)

// SchemaStore Schema 存储
type SchemaStore interface {
	GetSchemaContent(ctx context.Context, id, tenantID string) (*types.Schema, error)
	GetSchemaDetails(ctx context.Context, id, tenantID string) (*types.SchemaDetails, error)
	FindPublicSchema(ctx context.Context, documentType string) (*types.SchemaDetails, error)
	UpdateDocumentType(ctx context.Context, id, tenantID, documentType string) error
}

// Sink 延迟持久化，Enqueue 必须立即返回
type Sink interface {
	Enqueue(ctx context.Context, result *Result, meta Meta)
}

// Observer 批处理指标
type Observer interface {
	RecordBatch(strategy, status string, files int, duration time.Duration)
	RecordFile(workflow, status string, duration time.Duration)
	RecordLeaderFallback()
	RecordRefund(pages int)
	AddInFlight(delta int)
}
