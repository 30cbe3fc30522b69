// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 batch 编排一批文档的结构化抽取：准入、调度、单文件流水线与结果汇总。

# 概述

Orchestrator.Process 接收一个 Request（文件列表、可选的文档类型、Schema ID
或内联 Schema、工作流偏好），依次完成：

 1. 准入：空批次、缺少文件名、非法工作流、非法内联 Schema 直接拒绝；
    统计总页数，超过 PageCeiling 拒绝；向配额账本预留页数。
 2. 调度：类型已知时走乐观并行策略，预先构建共享上下文后所有文件并行；
    类型未知时走领头/跟随策略，领头文件先完成分类、Schema 解析与提示词合成，
    跟随者复用其结果。领头失败时跟随者各自独立完成。
 3. 单文件流水线：分类 → 表示生成（仅 balanced）→ 字段抽取，每一阶段先查缓存。
 4. 汇总：completed / partial / failed，失败文件的页数退还配额，
    结果交给 Sink 异步持久化。

准入错误通过 Process 的 error 返回；单文件错误只出现在 Result.Results 与
Result.Errors 中，不影响同批次的其他文件。

# 并发

所有文件共享一个容量为 MaxConcurrentDocs 的信号量。单个文件的 panic
被恢复并记为该文件失败。

# 核心类型

  - Orchestrator：批处理编排器。
  - Request / Result / Outcome：输入、批次结果、单文件结果。
  - SharedContext：同批次文件共享的类型、Schema 与系统提示词。
  - SchemaStore / Sink / Observer：Schema 存储、持久化与指标的外部依赖。
*/
package batch
