// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 extract 定义抽取能力接口，并提供基于 OpenAI 兼容接口的实现。

# 概述

Capability 的四个操作（分类、表示生成、字段抽取、提示词合成）对相同输入
幂等，批处理编排器依赖这一点在其前面叠加阶段缓存。Client 以 JSON 对象
模式调用 chat/completions，按 rate.Limiter 限速，按 types.IsRetryable
重试，并把 HTTP 状态映射为 types.Error。

# 核心类型

  - Capability：抽取能力接口。
  - Client：OpenAI 兼容实现，可选 Rasterizer 启用 PDF 视觉路径。
  - StructureHints：从 Markdown 表示分析出的表格与章节信息。
  - Validator：基于 JSON Schema 校验内联 Schema 文档与抽取记录。
*/
package extract
