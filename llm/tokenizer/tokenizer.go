package tokenizer

import (
	"sync"

	"go.uber.org/zap"
)

// Tokenizer 统一的 token 计数与截断接口
type Tokenizer interface {
	// CountTokens 返回文本的 token 数
	CountTokens(text string) int

	// Truncate 将文本截断到不超过 maxTokens 个 token，maxTokens <= 0 时原样返回
	Truncate(text string, maxTokens int) string

	// Name 分词器名称
	Name() string
}

var (
	cacheMu sync.Mutex
	cached  = make(map[string]Tokenizer)
)

// ForModel 返回模型对应的分词器。
// tiktoken 编码表加载失败（例如离线环境）时回落到字符估算器，只告警一次。
func ForModel(model string, logger *zap.Logger) Tokenizer {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if t, ok := cached[model]; ok {
		return t
	}

	var t Tokenizer
	tk := NewTiktokenTokenizer(model)
	if err := tk.init(); err != nil {
		if logger != nil {
			logger.Warn("tiktoken unavailable, using estimator",
				zap.String("model", model),
				zap.Error(err),
			)
		}
		t = NewEstimatorTokenizer()
	} else {
		t = tk
	}
	cached[model] = t
	return t
}
