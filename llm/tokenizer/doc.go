// Package tokenizer 提供 token 计数与截断，用于限制提取请求的正文长度。
// 优先使用 tiktoken 精确计数，编码表不可用时回落到 CJK 感知的字符估算器。
package tokenizer
