package extract

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/docintake/config"
	"github.com/BaSui01/docintake/llm/retry"
	"github.com/BaSui01/docintake/llm/tokenizer"
	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 🧪 Client 测试
// =============================================================================

type recordedCall struct {
	Model    string
	Messages []map[string]any
	Format   map[string]string
}

type fakeServer struct {
	mu    sync.Mutex
	calls []recordedCall
	reply func(call recordedCall) (int, string)
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var req struct {
			Model          string            `json:"model"`
			Messages       []map[string]any  `json:"messages"`
			ResponseFormat map[string]string `json:"response_format"`
		}
		assert.NoError(t, json.Unmarshal(body, &req))
		call := recordedCall{Model: req.Model, Messages: req.Messages, Format: req.ResponseFormat}

		f.mu.Lock()
		f.calls = append(f.calls, call)
		f.mu.Unlock()

		status, content := f.reply(call)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 400 {
			_, _ = io.WriteString(w, content)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
		})
	}
}

func (f *fakeServer) Calls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

type callLog struct {
	mu     sync.Mutex
	status []string
}

func (c *callLog) RecordLLMCall(operation, model, status string, _ time.Duration, _, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = append(c.status, operation+":"+status)
}

func newTestClient(t *testing.T, reply func(recordedCall) (int, string), opts ...ClientOption) (*Client, *fakeServer) {
	t.Helper()
	fs := &fakeServer{reply: reply}
	srv := httptest.NewServer(fs.handler(t))
	t.Cleanup(srv.Close)

	cfg := config.DefaultLLMConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL + "/"
	cfg.Timeout = 5 * time.Second
	cfg.MaxContentTokens = 0

	fast := retry.DefaultPolicy()
	fast.MaxRetries = 2
	fast.InitialDelay = time.Millisecond
	fast.MaxDelay = 2 * time.Millisecond
	fast.Jitter = false

	opts = append([]ClientOption{WithRetryPolicy(fast)}, opts...)
	return NewClient(cfg, zap.NewNop(), opts...), fs
}

func testSchema() *types.Schema {
	return &types.Schema{
		Name: "invoice",
		Fields: []types.FieldDescriptor{
			{Name: "invoice_number", Type: types.FieldString, Required: true},
			{Name: "total", Type: types.FieldNumber},
		},
	}
}

func TestClient_Classify(t *testing.T) {
	c, fs := newTestClient(t, func(recordedCall) (int, string) {
		return 200, `{"document_type": " Invoice "}`
	})

	dt, err := c.Classify(context.Background(), "INVOICE #42")
	require.NoError(t, err)
	assert.Equal(t, "invoice", dt)

	calls := fs.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "gpt-4o-mini", calls[0].Model)
	assert.Equal(t, "json_object", calls[0].Format["type"])
	assert.Contains(t, calls[0].Messages[1]["content"], "INVOICE #42")
}

func TestClient_ClassifyEmptyTypeIsGeneric(t *testing.T) {
	c, _ := newTestClient(t, func(recordedCall) (int, string) {
		return 200, `{"document_type": ""}`
	})

	dt, err := c.Classify(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, GenericType, dt)
}

func TestClient_ExtractFields(t *testing.T) {
	c, fs := newTestClient(t, func(recordedCall) (int, string) {
		return 200, "```json\n{\"invoice_number\": \"A-1\", \"total\": 12.5}\n```"
	})

	out, err := c.ExtractFields(context.Background(), FieldsRequest{
		Filename:     "a.txt",
		Content:      "Invoice A-1 total 12.50",
		DocumentType: "invoice",
		Schema:       testSchema(),
		SystemPrompt: "extract invoices",
	})
	require.NoError(t, err)
	assert.Equal(t, "A-1", out["invoice_number"])
	assert.Equal(t, 12.5, out["total"])

	calls := fs.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Messages, 3)
	assert.Equal(t, "extract invoices", calls[0].Messages[0]["content"])
	assert.Contains(t, calls[0].Messages[2]["content"], "JSON Schema:")
	assert.Contains(t, calls[0].Messages[2]["content"], `"additionalProperties":false`)
}

func TestClient_ExtractFieldsUsesFallbackPrompt(t *testing.T) {
	c, fs := newTestClient(t, func(recordedCall) (int, string) {
		return 200, `{}`
	})

	_, err := c.ExtractFields(context.Background(), FieldsRequest{Content: "x", Schema: testSchema()})
	require.NoError(t, err)
	assert.Equal(t, FallbackSystemPrompt, fs.Calls()[0].Messages[0]["content"])
}

func TestClient_ExtractFieldsRequiresSchema(t *testing.T) {
	c, fs := newTestClient(t, func(recordedCall) (int, string) { return 200, `{}` })

	_, err := c.ExtractFields(context.Background(), FieldsRequest{Content: "x"})
	assert.True(t, types.IsErrorCode(err, types.ErrSchemaNotFound))
	assert.Empty(t, fs.Calls())
}

func TestClient_GenerateRepresentationImage(t *testing.T) {
	c, fs := newTestClient(t, func(recordedCall) (int, string) {
		return 200, `{"markdown_content": "# Receipt\n\n| Item | Price |\n|---|---|\n| Tea | 3 |"}`
	})

	rep, err := c.GenerateRepresentation(context.Background(), File{
		Filename:  "r.png",
		MediaType: "image/png",
		Content:   []byte("\x89PNG\r\n\x1a\nfake"),
	}, testSchema())
	require.NoError(t, err)
	assert.True(t, rep.Hints.HasTables)
	assert.Equal(t, []string{"Item", "Price"}, rep.Hints.TableColumns)

	calls := fs.Calls()
	require.Len(t, calls, 1)
	parts, ok := calls[0].Messages[1]["content"].([]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	img := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(img, "data:image/png;base64,"))
}

func TestClient_GenerateRepresentationText(t *testing.T) {
	c, fs := newTestClient(t, func(recordedCall) (int, string) {
		return 200, `{"markdown_content": "## Summary"}`
	})

	rep, err := c.GenerateRepresentation(context.Background(), File{Filename: "a.docx", Text: "hello world"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "## Summary", rep.Markdown)
	assert.Equal(t, 1, rep.Hints.SectionCount)
	assert.Contains(t, fs.Calls()[0].Messages[1]["content"], "hello world")
}

func TestClient_GenerateRepresentationNoInput(t *testing.T) {
	c, fs := newTestClient(t, func(recordedCall) (int, string) { return 200, `{}` })

	rep, err := c.GenerateRepresentation(context.Background(), File{Filename: "scan.pdf", MediaType: "application/pdf", Text: " \n "}, nil)
	assert.Nil(t, rep)
	assert.True(t, types.IsErrorCode(err, types.ErrContentUnreadable))
	assert.Empty(t, fs.Calls(), "无输入时不调用模型")
}

type pageRasterizer struct{ pages int }

func (p pageRasterizer) Rasterize(context.Context, []byte) ([][]byte, error) {
	out := make([][]byte, p.pages)
	for i := range out {
		out[i] = []byte("\xff\xd8\xff\xe0jpeg")
	}
	return out, nil
}

func TestClient_GenerateRepresentationPDFRasterized(t *testing.T) {
	c, fs := newTestClient(t, func(recordedCall) (int, string) {
		return 200, `{"markdown_content": "text"}`
	}, WithRasterizer(pageRasterizer{pages: 3}))

	_, err := c.GenerateRepresentation(context.Background(), File{Filename: "a.pdf", Content: []byte("%PDF-1.7")}, nil)
	require.NoError(t, err)

	parts := fs.Calls()[0].Messages[1]["content"].([]any)
	assert.Len(t, parts, 4, "一段指令加三页图片")
}

func TestClient_SynthesizePrompt(t *testing.T) {
	c, fs := newTestClient(t, func(recordedCall) (int, string) {
		return 200, `{"system_prompt": "You extract invoices."}`
	})

	p, err := c.SynthesizePrompt(context.Background(), "invoice", testSchema())
	require.NoError(t, err)
	assert.Equal(t, "You extract invoices.", p)
	assert.Equal(t, "gpt-4o", fs.Calls()[0].Model)
}

func TestClient_SynthesizePromptEmpty(t *testing.T) {
	c, _ := newTestClient(t, func(recordedCall) (int, string) {
		return 200, `{"system_prompt": "  "}`
	})

	_, err := c.SynthesizePrompt(context.Background(), "invoice", testSchema())
	assert.True(t, types.IsErrorCode(err, types.ErrCapabilityFailed))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var n atomic.Int32
	obs := &callLog{}
	c, fs := newTestClient(t, func(recordedCall) (int, string) {
		if n.Add(1) < 3 {
			return 503, `{"error": {"message": "overloaded"}}`
		}
		return 200, `{"document_type": "invoice"}`
	}, WithCallObserver(obs))

	dt, err := c.Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "invoice", dt)
	assert.Len(t, fs.Calls(), 3)
	assert.Equal(t, []string{"classify:ok"}, obs.status)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		code    types.ErrorCode
		retries bool
	}{
		{"rate limit", 429, `{"error": {"message": "slow down"}}`, types.ErrRateLimit, true},
		{"server", 500, `oops`, types.ErrUpstreamError, true},
		{"timeout", 504, `{}`, types.ErrUpstreamTimeout, true},
		{"context", 400, `{"error": {"message": "maximum context length exceeded"}}`, types.ErrContextTooLong, false},
		{"bad request", 422, `{"error": {"message": "bad", "type": "invalid_request_error"}}`, types.ErrCapabilityFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fs := newTestClient(t, func(recordedCall) (int, string) { return tt.status, tt.body })

			_, err := c.Classify(context.Background(), "text")
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			if tt.retries {
				assert.Len(t, fs.Calls(), 3)
			} else {
				assert.Len(t, fs.Calls(), 1)
			}
		})
	}
}

func TestClient_CircuitOpensOnUpstreamOutage(t *testing.T) {
	fs := &fakeServer{reply: func(recordedCall) (int, string) { return 502, `{"error": {"message": "bad gateway"}}` }}
	srv := httptest.NewServer(fs.handler(t))
	t.Cleanup(srv.Close)

	cfg := config.DefaultLLMConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL
	cfg.BreakerThreshold = 2
	cfg.BreakerResetTimeout = time.Hour

	obs := &stateLog{}
	c := NewClient(cfg, zap.NewNop(), WithRetryPolicy(retry.Policy{MaxRetries: 0}), WithCallObserver(obs))

	for range 2 {
		_, err := c.Classify(context.Background(), "text")
		assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	}
	require.Len(t, fs.Calls(), 2)

	_, err := c.Classify(context.Background(), "text")
	assert.Equal(t, types.ErrServiceUnavailable, types.GetErrorCode(err))
	assert.Len(t, fs.Calls(), 2)

	assert.Eventually(t, func() bool { return obs.has("closed->open") }, time.Second, 5*time.Millisecond)
}

type stateLog struct {
	callLog
	states []string
}

func (s *stateLog) RecordCircuitState(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, from+"->"+to)
}

func (s *stateLog) has(transition string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		if st == transition {
			return true
		}
	}
	return false
}

func TestClient_InvalidJSONContent(t *testing.T) {
	obs := &callLog{}
	c, _ := newTestClient(t, func(recordedCall) (int, string) {
		return 200, "not json"
	}, WithCallObserver(obs))

	_, err := c.Classify(context.Background(), "text")
	assert.True(t, types.IsErrorCode(err, types.ErrCapabilityFailed))
	assert.Equal(t, []string{"classify:decode_error"}, obs.status)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`  {"a":1} `))
}

func TestClient_TruncatesContent(t *testing.T) {
	c, fs := newTestClient(t, func(recordedCall) (int, string) { return 200, `{}` },
		WithTokenizer(tokenizer.NewEstimatorTokenizer()))
	c.cfg.MaxContentTokens = 5

	long := strings.Repeat("abcd", 100)
	_, err := c.ExtractFields(context.Background(), FieldsRequest{Content: long, Schema: testSchema()})
	require.NoError(t, err)

	user := fs.Calls()[0].Messages[1]["content"].(string)
	assert.NotContains(t, user, long)
	assert.Contains(t, user, "abcd")
}
