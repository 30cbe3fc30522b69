// MockCapability 抽取能力的测试模拟实现。
//
// 支持固定响应、按文件名注入错误、调用计数与调用顺序记录。
package mocks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/docintake/llm/extract"
	"github.com/BaSui01/docintake/types"
)

// --- MockCapability 结构 ---

// MockCapability 是 extract.Capability 的模拟实现
type MockCapability struct {
	mu sync.Mutex

	// 响应配置
	documentType string
	prompt       string
	markdown     string
	fields       map[string]any
	fieldsFunc   func(req extract.FieldsRequest) (map[string]any, error)

	// 错误注入
	classifyErr  error
	synthesisErr error
	representErr error
	failExtract  map[string]error

	// 行为控制
	delay time.Duration

	// 调用记录
	calls []Call
}

// Call 记录单次调用
type Call struct {
	Op       string
	Filename string
	At       time.Time
}

// 操作名
const (
	OpClassify   = "classify"
	OpRepresent  = "represent"
	OpExtract    = "extract"
	OpSynthesize = "synthesize"
)

// --- 构造函数和 Builder 方法 ---

// NewMockCapability 创建新的 MockCapability
func NewMockCapability() *MockCapability {
	return &MockCapability{
		documentType: "invoice",
		prompt:       "You are an invoice extraction assistant.",
		markdown:     "# Document",
		fields:       map[string]any{},
		failExtract:  map[string]error{},
	}
}

// WithDocumentType 设置分类结果
func (m *MockCapability) WithDocumentType(t string) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documentType = t
	return m
}

// WithPrompt 设置合成的提示词
func (m *MockCapability) WithPrompt(p string) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompt = p
	return m
}

// WithMarkdown 设置表示生成结果
func (m *MockCapability) WithMarkdown(md string) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markdown = md
	return m
}

// WithFields 设置抽取结果
func (m *MockCapability) WithFields(fields map[string]any) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields = fields
	return m
}

// WithFieldsFunc 自定义抽取逻辑
func (m *MockCapability) WithFieldsFunc(fn func(req extract.FieldsRequest) (map[string]any, error)) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fieldsFunc = fn
	return m
}

// WithClassifyError 分类返回错误
func (m *MockCapability) WithClassifyError(err error) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classifyErr = err
	return m
}

// WithSynthesisError 提示词合成返回错误
func (m *MockCapability) WithSynthesisError(err error) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synthesisErr = err
	return m
}

// WithRepresentError 表示生成返回错误
func (m *MockCapability) WithRepresentError(err error) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.representErr = err
	return m
}

// FailExtractFor 指定文件名的抽取返回错误
func (m *MockCapability) FailExtractFor(filename string, err error) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = errors.New("mock extraction failure")
	}
	m.failExtract[filename] = err
	return m
}

// WithDelay 每次调用前等待
func (m *MockCapability) WithDelay(d time.Duration) *MockCapability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// --- Capability 实现 ---

// Classify 实现 extract.Capability
func (m *MockCapability) Classify(ctx context.Context, _ string) (string, error) {
	if err := m.record(ctx, OpClassify, ""); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.documentType, m.classifyErr
}

// GenerateRepresentation 实现 extract.Capability
func (m *MockCapability) GenerateRepresentation(ctx context.Context, file extract.File, _ *types.Schema) (*extract.Representation, error) {
	if err := m.record(ctx, OpRepresent, file.Filename); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.representErr != nil {
		return nil, m.representErr
	}
	return &extract.Representation{Markdown: m.markdown, Hints: extract.AnalyzeStructure(m.markdown)}, nil
}

// ExtractFields 实现 extract.Capability
func (m *MockCapability) ExtractFields(ctx context.Context, req extract.FieldsRequest) (map[string]any, error) {
	if err := m.record(ctx, OpExtract, req.Filename); err != nil {
		return nil, err
	}
	m.mu.Lock()
	fn := m.fieldsFunc
	failErr := m.failExtract[req.Filename]
	fields := make(map[string]any, len(m.fields))
	for k, v := range m.fields {
		fields[k] = v
	}
	m.mu.Unlock()

	if failErr != nil {
		return nil, failErr
	}
	if fn != nil {
		return fn(req)
	}
	return fields, nil
}

// SynthesizePrompt 实现 extract.Capability
func (m *MockCapability) SynthesizePrompt(ctx context.Context, _ string, _ *types.Schema) (string, error) {
	if err := m.record(ctx, OpSynthesize, ""); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompt, m.synthesisErr
}

var _ extract.Capability = (*MockCapability)(nil)

// --- 调用记录 ---

func (m *MockCapability) record(ctx context.Context, op, filename string) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: op, Filename: filename, At: time.Now()})
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Calls 返回调用记录副本
func (m *MockCapability) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount 返回指定操作的调用次数，op 为空时返回总次数
func (m *MockCapability) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op == "" {
		return len(m.calls)
	}
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset 清空调用记录
func (m *MockCapability) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// CallsFor 返回某个文件的调用记录
func (m *MockCapability) CallsFor(filename string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if strings.EqualFold(c.Filename, filename) {
			out = append(out, c)
		}
	}
	return out
}
