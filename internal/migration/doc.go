// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 docintake 的关系库结构，支持 PostgreSQL、MySQL 与 SQLite，
基于 golang-migrate 实现。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌：

  - 000001_init_schema：schemas、batches、documents、extraction_logs、usage_counters 表。
  - 000002_public_templates：内置公共 Schema 模板（invoice、claim、bank_statement、
    purchase_order、resume）。

SQLite 使用纯 Go 的 modernc.org/sqlite 驱动，无需 CGO。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/Steps/Goto/Force/Version/Status/Info。
  - CLI：docintake migrate 子命令的格式化输出层。
  - NewMigratorFromConfig：由 config.DatabaseConfig 构造。
*/
package migration
