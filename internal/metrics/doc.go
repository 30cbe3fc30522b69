// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、模型调用、
批处理、配额、阶段缓存、延迟持久化与数据库连接。

# 概述

Collector 通过 promauto 注册全部指标，按 namespace 隔离。它同时实现
batch.Observer、quota.Observer、cache.Observer、extract.Observer 与
persist.Observer，由启动代码一次构造后注入各组件。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 模型调用：按 operation/model 统计调用次数、耗时与 Token 用量。
  - 批处理：批次数、批次耗时与文件数、单文件结果、领头回退、退还页数、在途文件数。
  - 配额：granted/denied/fail_open 决策计数。
  - 缓存：按阶段统计命中、未命中与后端错误。
  - 持久化：按写入方统计 written/failed/dropped。
*/
package metrics
