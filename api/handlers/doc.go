// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 docintake HTTP API 的请求处理器实现。

# 核心类型

  - BatchHandler   — multipart 批处理与单文件处理，支持 JSON/CSV/XLSX 输出
  - StreamHandler  — WebSocket 流式批处理，逐文件推送进度
  - SchemaHandler  — 租户 Schema 的列表与创建
  - HealthHandler  — 服务健康检查（/health, /healthz, /ready, /version）
  - Response       — 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter — 包装 http.ResponseWriter 以捕获状态码与响应大小

# 错误映射

准入错误（空批次、页数超限、配额不足、Schema 非法）通过 WriteError
按 types.ErrorCode 映射为 4xx；非 *types.Error 一律按 500 处理，
原始消息只写入日志。单文件失败不影响批次响应状态码，只出现在结果中；
单文件端点例外，失败文件的错误码直接决定响应状态。
*/
package handlers
