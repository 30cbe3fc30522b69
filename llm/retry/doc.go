// Package retry 提供指数退避重试，用于 LLM 调用与持久化写入。
package retry
