package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/docintake/api"
	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 📋 Schema Handler
// =============================================================================

// SchemaRepository Schema 的列表与创建
type SchemaRepository interface {
	List(ctx context.Context, tenantID string) ([]*types.SchemaDetails, error)
	Create(ctx context.Context, d *types.SchemaDetails) (*types.SchemaDetails, error)
}

// SchemaParser 校验 Schema 文档
type SchemaParser interface {
	ParseSchemaDocument(raw []byte) (*types.Schema, error)
}

// SchemaHandler Schema 管理处理器
type SchemaHandler struct {
	repo   SchemaRepository
	parser SchemaParser
	logger *zap.Logger
}

// NewSchemaHandler 创建 Schema 处理器
func NewSchemaHandler(repo SchemaRepository, parser SchemaParser, logger *zap.Logger) *SchemaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaHandler{repo: repo, parser: parser, logger: logger.With(zap.String("handler", "schemas"))}
}

// HandleSchemas 处理 GET/POST /api/v1/schemas
func (h *SchemaHandler) HandleSchemas(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
	}
}

func (h *SchemaHandler) list(w http.ResponseWriter, r *http.Request) {
	_, tenantID := Identity(r)
	details, err := h.repo.List(r.Context(), tenantID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	out := make([]api.SchemaSummary, 0, len(details))
	for _, d := range details {
		out = append(out, summarize(d))
	}
	WriteSuccess(w, r, out)
}

func (h *SchemaHandler) create(w http.ResponseWriter, r *http.Request) {
	_, tenantID := Identity(r)
	if tenantID == "" {
		WriteErrorMessage(w, r, http.StatusUnauthorized, types.ErrUnauthorized, "tenant is required to create schemas", h.logger)
		return
	}

	var req api.CreateSchemaRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if len(req.Content) == 0 {
		WriteError(w, r, types.NewError(types.ErrSchemaInvalid, "schema content is required"), h.logger)
		return
	}

	var (
		schema *types.Schema
		err    error
	)
	if h.parser != nil {
		schema, err = h.parser.ParseSchemaDocument(req.Content)
	} else {
		schema, err = types.ParseSchema(req.Content)
	}
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	created, err := h.repo.Create(r.Context(), &types.SchemaDetails{
		Name:         strings.TrimSpace(req.Name),
		DocumentType: strings.TrimSpace(req.DocumentType),
		TenantID:     tenantID,
		Schema:       schema,
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	h.logger.Info("schema created",
		zap.String("schema_id", created.ID),
		zap.String("tenant_id", tenantID),
		zap.String("document_type", created.DocumentType),
	)
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      summarize(created),
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

func summarize(d *types.SchemaDetails) api.SchemaSummary {
	s := api.SchemaSummary{
		ID:           d.ID,
		Name:         d.Name,
		DocumentType: d.DocumentType,
		IsPublic:     d.IsPublic,
		Fields:       []string{},
	}
	if d.Schema != nil {
		s.Fields = d.Schema.FieldNames()
	}
	return s
}
