// Package api 定义 docintake HTTP API 的传输层类型。
//
// # 端点
//
//   - POST /api/v1/batches：multipart 上传多个文件（字段 files），可选
//     document_type、schema_id、schema（内联 JSON Schema）与 workflow；
//     ?format=json|csv|xlsx 选择响应格式
//   - POST /api/v1/process：multipart 上传单个文件（字段 file）
//   - GET  /api/v1/batches/stream：WebSocket，首条消息为 StreamRequest，
//     之后服务端逐文件推送 progress，最后推送 result 或 error
//   - GET/POST /api/v1/schemas：列出当前租户可见的 Schema，或创建租户 Schema
//   - /health、/healthz、/ready、/version
//
// # 身份
//
// 启用 JWT 时从令牌的 sub 与 tenant_id 声明取得用户与租户；
// 否则读取网关透传的 X-User-ID 与 X-Tenant-ID 请求头。
package api
