// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理进程内共享的 Redis 连接，供阶段缓存与配额账本复用。

# 概述

Manager 负责连接生命周期：初始化时 Ping 校验连通性，后台定时健康检查，
Close 时停止检查并释放连接池。需要 Lua 脚本等原子操作的组件通过
Client 直接获取底层 go-redis 客户端。

# 核心类型

  - Manager：连接管理器，提供 Get/Set/Delete/Ping 字节级读写与 Client 访问。
  - Config：连接配置，可由 config.RedisConfig 通过 ConfigFrom 构造。
  - PoolStats：连接池统计信息。

# 主要能力

  - 错误语义：ErrCacheMiss 表示键不存在，ErrClosed 表示管理器已关闭。
  - 健康检查：后台定时 Ping，失败时通过 zap 日志告警。
*/
package cache
