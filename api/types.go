package api

import (
	"encoding/json"

	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 📦 批处理
// =============================================================================

// 批处理与单文件端点的 multipart 字段名
const (
	FormFiles        = "files"
	FormFile         = "file"
	FormDocumentType = "document_type"
	FormSchemaID     = "schema_id"
	FormSchema       = "schema"
	FormWorkflow     = "workflow"
)

// HeaderUserID 与 HeaderTenantID 供网关在未启用 JWT 时透传身份
const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
)

// =============================================================================
// 📡 WebSocket 流式批处理
// =============================================================================

// StreamFile WebSocket 请求中的单个文件
type StreamFile struct {
	Filename string `json:"filename"`
	// Content 为标准 base64 编码的文件内容
	Content []byte `json:"content"`
}

// StreamRequest WebSocket 连接建立后客户端发送的第一条消息
type StreamRequest struct {
	Files        []StreamFile    `json:"files"`
	DocumentType string          `json:"document_type,omitempty"`
	SchemaID     string          `json:"schema_id,omitempty"`
	Schema       json.RawMessage `json:"schema,omitempty"`
	Workflow     string          `json:"workflow,omitempty"`
}

// 服务端消息类型
const (
	StreamEventProgress = "progress"
	StreamEventResult   = "result"
	StreamEventError    = "error"
)

// StreamMessage 服务端推送的消息
type StreamMessage struct {
	Type     string       `json:"type"`
	Progress any          `json:"progress,omitempty"`
	Result   any          `json:"result,omitempty"`
	Error    *StreamError `json:"error,omitempty"`
}

// StreamError 流式错误
type StreamError struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

// =============================================================================
// 📋 Schema
// =============================================================================

// CreateSchemaRequest 创建租户 Schema
type CreateSchemaRequest struct {
	Name         string          `json:"name"`
	DocumentType string          `json:"document_type,omitempty"`
	Content      json.RawMessage `json:"content"`
}

// SchemaSummary Schema 列表项
type SchemaSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	DocumentType string   `json:"document_type,omitempty"`
	IsPublic     bool     `json:"is_public"`
	Fields       []string `json:"fields"`
}
