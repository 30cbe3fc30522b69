// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供关系库访问：GORM 连接池管理、表模型与 Schema 存储。

# 核心类型

  - PoolManager：连接池管理器，负责健康检查、统计与带重试的事务。
  - Open / Dialector：按 config.DatabaseConfig 选择 postgres、mysql 或纯 Go sqlite 方言。
  - SchemaRow / BatchRow / DocumentRow / ExtractionLogRow：迁移文件对应的表模型。
  - SchemaStore：batch.SchemaStore 的 GORM 实现，按租户隔离，公共模板对所有租户可见。

# 事务重试

WithTransactionRetry 使用 llm/retry 的指数退避，仅对死锁、序列化失败、
连接中断与锁超时重试。
*/
package database
