package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/docintake/config"
	"github.com/BaSui01/docintake/internal/tlsutil"
	"github.com/BaSui01/docintake/llm/circuitbreaker"
	"github.com/BaSui01/docintake/llm/retry"
	"github.com/BaSui01/docintake/llm/tokenizer"
	"github.com/BaSui01/docintake/types"
)

// =============================================================================
// 🤖 OpenAI 兼容客户端
// =============================================================================

// Observer 接收每次模型调用的统计
type Observer interface {
	RecordLLMCall(operation, model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// BreakerObserver 可选，接收熔断状态变化
type BreakerObserver interface {
	RecordCircuitState(from, to string)
}

// Rasterizer 将 PDF 渲染为逐页图片（JPEG/PNG 字节）
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([][]byte, error)
}

// Client 通过 OpenAI 兼容的 chat/completions 接口实现 Capability
type Client struct {
	cfg        config.LLMConfig
	http       *http.Client
	limiter    *rate.Limiter
	retryer    *retry.Retryer
	breaker    *circuitbreaker.Breaker
	tokOnce    sync.Once
	tokenizer  tokenizer.Tokenizer
	rasterizer Rasterizer
	observer   Observer
	logger     *zap.Logger
}

// ClientOption 客户端选项
type ClientOption func(*Client)

// WithHTTPClient 替换 HTTP 客户端
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithRasterizer 启用 PDF 视觉路径
func WithRasterizer(r Rasterizer) ClientOption {
	return func(c *Client) { c.rasterizer = r }
}

// WithCallObserver 设置调用统计接收方
func WithCallObserver(o Observer) ClientOption {
	return func(c *Client) { c.observer = o }
}

// WithTokenizer 指定截断内容用的分词器
func WithTokenizer(t tokenizer.Tokenizer) ClientOption {
	return func(c *Client) { c.tokenizer = t }
}

// WithRetryPolicy 替换重试策略
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) {
		if p.ShouldRetry == nil {
			p.ShouldRetry = types.IsRetryable
		}
		c.retryer = retry.New(p, c.logger)
	}
}

// NewClient 创建客户端
func NewClient(cfg config.LLMConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	logger = logger.With(zap.String("component", "llm_client"))
	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.ShouldRetry = types.IsRetryable

	c := &Client{
		cfg:     cfg,
		http:    tlsutil.DefaultHTTPClient(timeout),
		limiter: rate.NewLimiter(limit, burst),
		retryer: retry.New(policy, logger),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.BreakerThreshold > 0 {
		bc := circuitbreaker.Config{
			Threshold:    cfg.BreakerThreshold,
			ResetTimeout: cfg.BreakerResetTimeout,
		}
		if o, ok := c.observer.(BreakerObserver); ok {
			bc.OnStateChange = func(from, to circuitbreaker.State) {
				o.RecordCircuitState(from.String(), to.String())
			}
		}
		c.breaker = circuitbreaker.New(bc, logger)
	}
	return c
}

var _ Capability = (*Client)(nil)

// =============================================================================
// 🎯 Capability 实现
// =============================================================================

// Classify 实现 Capability.Classify
func (c *Client) Classify(ctx context.Context, text string) (string, error) {
	var out struct {
		DocumentType string `json:"document_type"`
	}
	err := c.completeJSON(ctx, "classify", c.cfg.ClassifierModel, []chatMessage{
		{Role: "system", Content: classifySystemPrompt},
		{Role: "user", Content: classifyUserPrompt(text)},
	}, &out)
	if err != nil {
		return "", err
	}

	dt := strings.ToLower(strings.TrimSpace(out.DocumentType))
	if dt == "" {
		dt = GenericType
	}
	return dt, nil
}

// GenerateRepresentation 实现 Capability.GenerateRepresentation。
// 有页面图片时走视觉路径；否则有文本时由文本生成 Markdown；两者皆无时返回 ErrContentUnreadable。
func (c *Client) GenerateRepresentation(ctx context.Context, file File, _ *types.Schema) (*Representation, error) {
	images, err := c.pageImages(ctx, file)
	if err != nil {
		return nil, err
	}

	var messages []chatMessage
	switch {
	case len(images) > 0:
		parts := []contentPart{{Type: "text", Text: representationInstruction(file.Filename)}}
		for _, img := range images {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img}})
		}
		messages = []chatMessage{
			{Role: "system", Content: representationSystemPrompt},
			{Role: "user", Content: parts},
		}
	case strings.TrimSpace(file.Text) != "":
		messages = []chatMessage{
			{Role: "system", Content: representationSystemPrompt},
			{Role: "user", Content: textRepresentationPrompt(file.Filename, c.truncate(NormalizeText(file.Text)))},
		}
	default:
		return nil, types.Errorf(types.ErrContentUnreadable, "%s has no extractable text or page images", file.Filename)
	}

	var out struct {
		Markdown string `json:"markdown_content"`
	}
	if err := c.completeJSON(ctx, "represent", c.cfg.VisionModel, messages, &out); err != nil {
		return nil, err
	}
	return &Representation{Markdown: out.Markdown, Hints: AnalyzeStructure(out.Markdown)}, nil
}

// ExtractFields 实现 Capability.ExtractFields
func (c *Client) ExtractFields(ctx context.Context, req FieldsRequest) (map[string]any, error) {
	if req.Schema == nil {
		return nil, types.NewError(types.ErrSchemaNotFound, "no schema for extraction")
	}
	prompt := req.SystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = FallbackSystemPrompt
	}
	req.Content = c.truncate(req.Content)

	schemaJSON, err := json.Marshal(RecordSchema(req.Schema))
	if err != nil {
		return nil, fmt.Errorf("marshal record schema: %w", err)
	}

	out := map[string]any{}
	err = c.completeJSON(ctx, "extract", c.cfg.ExtractionModel, []chatMessage{
		{Role: "system", Content: prompt},
		{Role: "user", Content: fieldsUserPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."},
		{Role: "system", Content: "JSON Schema:\n" + string(schemaJSON)},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SynthesizePrompt 实现 Capability.SynthesizePrompt
func (c *Client) SynthesizePrompt(ctx context.Context, documentType string, schema *types.Schema) (string, error) {
	var out struct {
		SystemPrompt string `json:"system_prompt"`
	}
	err := c.completeJSON(ctx, "synthesize", c.cfg.PromptModel, []chatMessage{
		{Role: "system", Content: synthesisMetaPrompt},
		{Role: "user", Content: synthesisUserPrompt(documentType, schema)},
	}, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SystemPrompt) == "" {
		return "", types.NewError(types.ErrCapabilityFailed, "prompt synthesis returned an empty prompt")
	}
	return out.SystemPrompt, nil
}

func (c *Client) pageImages(ctx context.Context, file File) ([]string, error) {
	switch {
	case file.IsImage():
		mt := file.MediaType
		if !strings.HasPrefix(mt, "image/") {
			mt = http.DetectContentType(file.Content)
		}
		return []string{dataURL(mt, file.Content)}, nil
	case file.IsPDF() && c.rasterizer != nil:
		pages, err := c.rasterizer.Rasterize(ctx, file.Content)
		if err != nil {
			return nil, types.NewError(types.ErrContentUnreadable, "pdf rasterization failed").WithCause(err)
		}
		out := make([]string, 0, len(pages))
		for _, p := range pages {
			out = append(out, dataURL(http.DetectContentType(p), p))
		}
		return out, nil
	}
	return nil, nil
}

func (c *Client) truncate(s string) string {
	if c.cfg.MaxContentTokens <= 0 {
		return s
	}
	// 编码表按需加载
	c.tokOnce.Do(func() {
		if c.tokenizer == nil {
			c.tokenizer = tokenizer.ForModel(c.cfg.ExtractionModel, c.logger)
		}
	})
	return c.tokenizer.Truncate(s, c.cfg.MaxContentTokens)
}

// =============================================================================
// 🔌 HTTP 传输
// =============================================================================

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// completeJSON 发送请求并把首个候选的 JSON 内容解码到 out，按策略重试
func (c *Client) completeJSON(ctx context.Context, op, model string, messages []chatMessage, out any) error {
	body, err := json.Marshal(chatRequest{
		Model:          model,
		Messages:       messages,
		Temperature:    0,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	// 一次逻辑调用（含重试）只向熔断器报告一次结果
	resp, err := circuitbreaker.Do(ctx, c.breaker, func(ctx context.Context) (*chatResponse, error) {
		return retry.Do(ctx, c.retryer, func(ctx context.Context) (*chatResponse, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return c.post(ctx, body)
		})
	})
	status := "ok"
	defer func() {
		if c.observer != nil {
			pt, ct := 0, 0
			if resp != nil {
				pt, ct = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
			}
			c.observer.RecordLLMCall(op, model, status, time.Since(start), pt, ct)
		}
	}()

	if err != nil {
		status = string(types.GetErrorCode(err))
		if status == "" {
			status = "error"
		}
		c.logger.Warn("llm call failed",
			zap.String("operation", op),
			zap.String("model", model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		if _, ok := types.AsError(err); ok {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return types.NewError(types.ErrUpstreamTimeout, op+" timed out").WithCause(err)
		}
		return types.NewError(types.ErrUpstreamError, op+" failed").WithCause(err)
	}

	if len(resp.Choices) == 0 {
		status = "empty"
		return types.NewError(types.ErrCapabilityFailed, op+": no choices in response")
	}
	content := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		status = "decode_error"
		return types.NewError(types.ErrCapabilityFailed, op+": response is not valid JSON").WithCause(err)
	}

	c.logger.Debug("llm call ok",
		zap.String("operation", op),
		zap.String("model", model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
	)
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) (*chatResponse, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, types.NewError(types.ErrUpstreamTimeout, "llm request timed out").WithCause(err).WithRetryable(true)
		}
		return nil, types.NewError(types.ErrUpstreamError, "llm request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode llm response").WithCause(err).WithRetryable(true)
	}
	return &out, nil
}

// mapHTTPError 将上游状态码映射为错误码
func mapHTTPError(status int, msg string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimit, msg).WithRetryable(true)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrUpstreamError, "llm authentication failed: "+msg).WithHTTPStatus(http.StatusBadGateway)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamTimeout, msg).WithRetryable(true)
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "context"):
		return types.NewError(types.ErrContextTooLong, msg)
	case status >= 500:
		return types.NewError(types.ErrUpstreamError, msg).WithRetryable(true)
	default:
		return types.NewError(types.ErrCapabilityFailed, fmt.Sprintf("status %d: %s", status, msg))
	}
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
