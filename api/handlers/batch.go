package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/docintake/api"
	"github.com/BaSui01/docintake/internal/export"
	"github.com/BaSui01/docintake/internal/pool"
	"github.com/BaSui01/docintake/llm/batch"
	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 📦 批处理 Handler
// =============================================================================

// Processor 处理一个批次
type Processor interface {
	Process(ctx context.Context, req batch.Request) (*batch.Result, error)
}

// BatchHandler 批处理 HTTP 处理器
type BatchHandler struct {
	processor Processor
	maxUpload int64
	logger    *zap.Logger
}

// NewBatchHandler 创建批处理处理器。maxUpload 为单次请求体上限（字节）。
func NewBatchHandler(processor Processor, maxUpload int64, logger *zap.Logger) *BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxUpload <= 0 {
		maxUpload = 64 << 20
	}
	return &BatchHandler{
		processor: processor,
		maxUpload: maxUpload,
		logger:    logger.With(zap.String("handler", "batch")),
	}
}

// HandleBatch 处理 POST /api/v1/batches
func (h *BatchHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	req, err := h.parseForm(w, r, api.FormFiles)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	result, err := h.processor.Process(r.Context(), *req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	if format == export.FormatJSON {
		WriteSuccess(w, r, result)
		return
	}
	h.writeExport(w, r, format, result)
}

// HandleProcess 处理 POST /api/v1/process，单文件即单元素批次
func (h *BatchHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	req, err := h.parseForm(w, r, api.FormFile)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if len(req.Files) != 1 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "exactly one file is required", h.logger)
		return
	}

	result, err := h.processor.Process(r.Context(), *req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if len(result.Results) == 0 {
		WriteError(w, r, types.NewError(types.ErrInternalError, "batch produced no outcome"), h.logger)
		return
	}

	out := result.Results[0]
	if !out.Succeeded() {
		code := out.ErrorCode
		if code == "" {
			code = types.ErrCapabilityFailed
		}
		WriteError(w, r, types.NewError(code, out.Error), h.logger)
		return
	}
	WriteSuccess(w, r, out)
}

func (h *BatchHandler) writeExport(w http.ResponseWriter, r *http.Request, format export.Format, result *batch.Result) {
	// 先写入缓冲区，编码失败时仍可返回错误响应
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	if err := export.Write(buf, format, result); err != nil {
		WriteError(w, r, types.NewError(types.ErrInternalError, "export failed").WithCause(err), h.logger)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="batch-%s%s"`, result.BatchID, format.Extension()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("export write interrupted", zap.String("batch_id", result.BatchID), zap.Error(err))
	}
}

// parseForm 读取 multipart 表单并构造批次请求
func (h *BatchHandler) parseForm(w http.ResponseWriter, r *http.Request, field string) (*batch.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, types.Errorf(types.ErrInvalidRequest, "upload exceeds %d bytes", h.maxUpload).
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		return nil, types.NewError(types.ErrInvalidRequest, "expected multipart/form-data body").WithCause(err)
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, types.Errorf(types.ErrEmptyBatch, "no files in form field %q", field)
	}

	files := make([]batch.File, 0, len(headers))
	for _, fh := range headers {
		content, err := readPart(fh)
		if err != nil {
			return nil, types.Errorf(types.ErrInvalidRequest, "cannot read %s", fh.Filename).WithCause(err)
		}
		files = append(files, batch.File{Filename: fh.Filename, Content: content})
	}

	workflow, err := batch.ParseWorkflow(strings.TrimSpace(r.FormValue(api.FormWorkflow)))
	if err != nil {
		return nil, err
	}

	userID, tenantID := Identity(r)
	req := &batch.Request{
		Files:        files,
		DocumentType: strings.TrimSpace(r.FormValue(api.FormDocumentType)),
		SchemaID:     strings.TrimSpace(r.FormValue(api.FormSchemaID)),
		Workflow:     workflow,
		UserID:       userID,
		TenantID:     tenantID,
	}
	if raw := strings.TrimSpace(r.FormValue(api.FormSchema)); raw != "" {
		req.InlineSchema = json.RawMessage(raw)
	}
	return req, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
