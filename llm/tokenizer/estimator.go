package tokenizer

// EstimatorTokenizer 基于字符数的估算器，区分 CJK 与 ASCII。
// CJK 约 1.5 字符/token，其余约 4 字符/token。
type EstimatorTokenizer struct{}

// NewEstimatorTokenizer 创建估算器
func NewEstimatorTokenizer() *EstimatorTokenizer {
	return &EstimatorTokenizer{}
}

func runeCost(r rune) float64 {
	if isCJK(r) {
		return 1 / 1.5
	}
	return 1 / 4.0
}

func (e *EstimatorTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	var total float64
	for _, r := range text {
		total += runeCost(r)
	}
	if n := int(total); n > 0 {
		return n
	}
	return 1
}

func (e *EstimatorTokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	var total float64
	for i, r := range text {
		total += runeCost(r)
		if total > float64(maxTokens) {
			return text[:i]
		}
	}
	return text
}

func (e *EstimatorTokenizer) Name() string {
	return "estimator"
}

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
