// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 docintake 服务端程序入口。

# 概述

cmd/docintake 是批量文档抽取服务的可执行入口，提供 HTTP API、
离线目录处理、提示词缓存预热、数据库迁移、健康检查和版本查询等子命令。
程序支持 YAML 配置文件加载、结构化日志（zap）、Prometheus 指标采集
与 OpenTelemetry 链路追踪。

# 核心类型

  - Server     — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - app        — serve、run、warm 共用的组件图（缓存、配额、持久化、编排器）

# 主要能力

  - 子命令：serve、run、warm、migrate、version、health
  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、Metrics、
    RequestLogger、CORS、RateLimiter（基于 IP）、APIKeyAuth、JWTAuth、AnonymousUser
  - 降级运行：Redis 不可用时缓存回落到内存与文件、配额关闭；
    数据库不可用时仅支持内联 Schema，且跳过数据库写入目标
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 排空持久化 → 关闭连接 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
