// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 docintake 服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、internal、api 等上层模块
提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，区分批次准入错误、单文件错误与服务错误
  - Schema            — 有序字段描述集合，身份由规范化 JSON 的摘要决定
  - SchemaDetails     — Schema 存储中的完整行（租户、公开标记、已学习的文档类型）
  - Value / Record    — 带标签的值与有序记录，承载按 Schema 抽取的动态字段

# 主要能力

  - Context 传播：WithTraceID / WithTenantID / WithUserID / WithRequestID / WithBatchID
  - 错误工具链：AsError / IsErrorCode / IsRetryable / IsAdmissionError / StatusFor
  - 规范化 JSON：CanonicalJSON（键排序、紧凑分隔符）与 SHA256Hex
  - 记录构建：ConformRecord 按字段类型强制转换 LLM 原始输出
*/
package types
