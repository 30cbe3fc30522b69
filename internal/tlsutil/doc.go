// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package tlsutil 由 config.TLSConfig 构造出站连接的 TLS 设置，
// 供 LLM HTTP 客户端与 Redis 连接使用。默认 TLS 1.2+，TLS 1.2 下仅允许 AEAD 套件。
package tlsutil
