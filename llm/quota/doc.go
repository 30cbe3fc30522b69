// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 quota 实现按用户、按自然月计费周期的页数配额。

# 概述

批处理开始前按总页数预留，失败文件的页数在聚合后退还。
计数的封顶加法在后端原子完成：Redis 使用 Lua 脚本，关系库使用
带条件的 UPDATE 并检查影响行数。

# 核心类型

  - Ledger：计数后端接口（Reserve / Refund / Usage）。
  - RedisLedger、GormLedger、MemoryLedger：三种后端实现。
  - Manager：月度上限、调用超时、故障放行与退还上限。
  - Reservation：一次预留，Accounted 为 false 时退还为空操作。
*/
package quota
