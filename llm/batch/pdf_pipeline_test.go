package batch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
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
	"github.com/BaSui01/docintake/testutil/fixtures"
	"github.com/BaSui01/docintake/testutil/mocks"
	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 🧪 真实客户端 + 真实 PDF 的端到端流水线
// =============================================================================

// chatLLM 按系统提示词区分阶段，记录每次请求的全部文本
type chatLLM struct {
	mu    sync.Mutex
	calls map[string][]string
}

func (l *chatLLM) stage(system string) string {
	switch {
	case strings.HasPrefix(system, "You are a document classification assistant"):
		return "classify"
	case strings.HasPrefix(system, "You are an expert document summarizer"):
		return "represent"
	case strings.HasPrefix(system, "You are an expert Prompt Engineer"):
		return "synthesize"
	}
	return "extract"
}

func (l *chatLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		Messages []struct {
			Content any `json:"content"`
		} `json:"messages"`
	}
	_ = json.Unmarshal(body, &req)

	system, _ := req.Messages[0].Content.(string)
	stage := l.stage(system)

	l.mu.Lock()
	l.calls[stage] = append(l.calls[stage], string(body))
	l.mu.Unlock()

	var content string
	switch stage {
	case "classify":
		content = `{"document_type": "Invoice"}`
	case "represent":
		content = `{"markdown_content": "# Invoice INV-77\n\n| total | 480.00 |"}`
	case "synthesize":
		content = `{"system_prompt": "You extract invoice fields."}`
	default:
		content = `{"invoice_number": "INV-77", "total": 480, "vendor": "Acme"}`
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
		"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
	})
}

func (l *chatLLM) Calls(stage string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls[stage]...)
}

func newClientOrchestrator(t *testing.T) (*Orchestrator, *chatLLM, *quota.Manager) {
	t.Helper()
	llm := &chatLLM{calls: map[string][]string{}}
	srv := httptest.NewServer(llm)
	t.Cleanup(srv.Close)

	lcfg := config.DefaultLLMConfig()
	lcfg.APIKey = "k"
	lcfg.BaseURL = srv.URL
	lcfg.Timeout = 5 * time.Second
	lcfg.MaxRetries = 0
	lcfg.MaxContentTokens = 0

	schemas := mocks.NewMockSchemaStore()
	schemas.Put(fixtures.PublicDetails("pub-invoice", fixtures.InvoiceSchema()))
	schemas.Put(fixtures.PublicDetails("pub-claim", fixtures.ClaimSchema()))

	qcfg := config.DefaultQuotaConfig()
	qcfg.MonthlyPageLimit = 100
	qm := quota.NewManager(quota.NewMemoryLedger(), qcfg, zap.NewNop())

	orc, err := NewOrchestrator(Dependencies{
		Capability: extract.NewClient(lcfg, zap.NewNop()),
		Loader:     document.NewLoader(zap.NewNop()),
		Schemas:    schemas,
		Cache:      cache.NewStageCache(cache.NewMemoryStore(100, 0), config.DefaultCacheConfig().Versions, zap.NewNop()),
		Quota:      qm,
	}, config.DefaultBatchConfig(), zap.NewNop(), WithModels(ModelsFrom(lcfg)))
	require.NoError(t, err)
	return orc, llm, qm
}

func TestProcess_TextPDFReachesEveryStage(t *testing.T) {
	orc, llm, qm := newClientOrchestrator(t)

	pdf := fixtures.TextPDF(
		"ACME SUPPLIES LTD  INVOICE INV-77\nBill to: Northwind Traders, 12 Harbour Road",
		"Line items: 40 boxes of paper\nTotal due: 480.00 EUR",
	)
	res, err := orc.Process(context.Background(), Request{
		Files:  []File{{Filename: "invoice.pdf", Content: pdf}},
		UserID: "u1",
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	oc := res.Results[0]
	require.Equal(t, FileSuccess, oc.Status, oc.Error)
	assert.Equal(t, "invoice", oc.DocumentType)
	assert.Equal(t, "pub-invoice", oc.SchemaID)
	assert.Equal(t, WorkflowBalanced, oc.Workflow)
	assert.Equal(t, 2, oc.Pages)
	assert.Equal(t, 2, res.TotalPages)

	v, ok := oc.Fields.Get("invoice_number")
	require.True(t, ok)
	number, _ := v.Str()
	assert.Equal(t, "INV-77", number)

	// 文本层送达分类与表示生成，抽取基于生成的 Markdown
	require.Len(t, llm.Calls("classify"), 1)
	assert.Contains(t, llm.Calls("classify")[0], "INV-77")
	require.Len(t, llm.Calls("represent"), 1)
	assert.Contains(t, llm.Calls("represent")[0], "Total due: 480.00")
	require.Len(t, llm.Calls("extract"), 1)
	assert.Contains(t, llm.Calls("extract")[0], "| total | 480.00 |")

	used, err := qm.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, used)
}

func TestProcess_ScannedPDFWithoutRasterizerFailsAndRefunds(t *testing.T) {
	orc, llm, qm := newClientOrchestrator(t)

	res, err := orc.Process(context.Background(), Request{
		Files:  []File{{Filename: "scan.pdf", Content: fixtures.ScannedPDF(3)}},
		UserID: "u1",
	})
	require.NoError(t, err)

	oc := res.Results[0]
	assert.Equal(t, FileFailed, oc.Status)
	assert.Equal(t, types.ErrContentUnreadable, oc.ErrorCode)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, res.RefundedPages)
	assert.Empty(t, llm.Calls("extract"), "空文档不进入抽取")

	used, err := qm.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestProcess_ObjectStreamPDFCountsAgainstCeiling(t *testing.T) {
	orc, llm, _ := newClientOrchestrator(t)

	cfg := config.DefaultBatchConfig()
	_, err := orc.Process(context.Background(), Request{
		Files:  []File{{Filename: "big.pdf", Content: fixtures.ObjectStreamPDF(cfg.PageCeiling + 1)}},
		UserID: "u1",
	})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrPageLimitExceeded))
	assert.Empty(t, llm.Calls("classify"))
}
