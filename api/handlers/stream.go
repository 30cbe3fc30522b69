package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/docintake/api"
	"github.com/BaSui01/docintake/llm/batch"
	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 📡 WebSocket 流式批处理
// =============================================================================

// StreamConfig 流式处理器配置
type StreamConfig struct {
	// OriginPatterns 允许的跨域来源，空则只接受同源
	OriginPatterns []string
	// MaxMessageBytes 首条请求消息上限
	MaxMessageBytes int64
	// WriteTimeout 单条消息写超时
	WriteTimeout time.Duration
}

// DefaultStreamConfig 返回默认配置
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxMessageBytes: 64 << 20,
		WriteTimeout:    10 * time.Second,
	}
}

// StreamHandler 通过 WebSocket 推送逐文件进度
type StreamHandler struct {
	processor Processor
	cfg       StreamConfig
	logger    *zap.Logger
}

// NewStreamHandler 创建流式处理器
func NewStreamHandler(processor Processor, cfg StreamConfig, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultStreamConfig()
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &StreamHandler{
		processor: processor,
		cfg:       cfg,
		logger:    logger.With(zap.String("handler", "stream")),
	}
}

// streamConn 串行化写操作，WebSocket 不支持并发写
type streamConn struct {
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

func (s *streamConn) send(ctx context.Context, msg api.StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal stream message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// HandleStream 处理 GET /api/v1/batches/stream
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket upgrade rejected", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	ctx := r.Context()
	sc := &streamConn{conn: conn, timeout: h.cfg.WriteTimeout}

	req, err := h.readRequest(ctx, conn)
	if err != nil {
		h.fail(ctx, sc, err)
		return
	}
	// 之后不再读取请求；对端断开或关闭时 ctx 取消，批次随之中止
	ctx = conn.CloseRead(ctx)
	userID, tenantID := Identity(r)
	req.UserID = userID
	req.TenantID = tenantID

	req.Progress = func(ev batch.ProgressEvent) {
		if err := sc.send(ctx, api.StreamMessage{Type: api.StreamEventProgress, Progress: ev}); err != nil {
			h.logger.Debug("progress event not delivered",
				zap.String("batch_id", ev.BatchID),
				zap.Int("index", ev.Index),
				zap.Error(err),
			)
		}
	}

	result, err := h.processor.Process(ctx, *req)
	if err != nil {
		h.fail(ctx, sc, err)
		return
	}

	if err := sc.send(ctx, api.StreamMessage{Type: api.StreamEventResult, Result: result}); err != nil {
		h.logger.Warn("stream result not delivered", zap.String("batch_id", result.BatchID), zap.Error(err))
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *StreamHandler) readRequest(ctx context.Context, conn *websocket.Conn) (*batch.Request, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "cannot read stream request").WithCause(err)
	}

	var msg api.StreamRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "stream request is not valid JSON").WithCause(err)
	}

	workflow, err := batch.ParseWorkflow(strings.TrimSpace(msg.Workflow))
	if err != nil {
		return nil, err
	}

	files := make([]batch.File, 0, len(msg.Files))
	for _, f := range msg.Files {
		files = append(files, batch.File{Filename: f.Filename, Content: f.Content})
	}
	return &batch.Request{
		Files:        files,
		DocumentType: strings.TrimSpace(msg.DocumentType),
		SchemaID:     strings.TrimSpace(msg.SchemaID),
		InlineSchema: msg.Schema,
		Workflow:     workflow,
	}, nil
}

// fail 推送错误消息并以对应状态关闭连接
func (h *StreamHandler) fail(ctx context.Context, sc *streamConn, err error) {
	apiErr, ok := types.AsError(err)
	if !ok {
		apiErr = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}

	status := websocket.StatusPolicyViolation
	if types.StatusFor(apiErr.Code) >= http.StatusInternalServerError {
		status = websocket.StatusInternalError
		h.logger.Error("stream batch failed", zap.String("code", string(apiErr.Code)), zap.Error(err))
	}

	msg := api.StreamMessage{
		Type:  api.StreamEventError,
		Error: &api.StreamError{Code: apiErr.Code, Message: apiErr.Message},
	}
	if err := sc.send(ctx, msg); err != nil {
		h.logger.Debug("stream error not delivered", zap.Error(err))
		return
	}
	sc.conn.Close(status, string(apiErr.Code))
}
