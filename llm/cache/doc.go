// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供提取流水线各阶段共用的内容寻址缓存。

# 概述

每个昂贵操作（分类、表示生成、字段提取、提示词合成）在执行前先查缓存。
缓存键由 DeriveKey 计算：对 [stage, version, sha256(content), params]
的规范化 JSON 取 sha256，跨进程稳定且与参数键顺序无关。
每个阶段有独立命名空间与逻辑版本，提升版本即可整体淘汰该阶段的旧条目。

# 核心接口

  - Store：按命名空间隔离的字节级键值存储。
  - MemoryStore：本地 LRU，支持可选 TTL。
  - RedisStore：基于 internal/cache.Manager 的共享 Redis 存储。
  - FileStore：<dir>/<namespace>/<key>.json，临时文件加原子重命名。
  - MultiLevelStore：L1 本地 LRU + 任意 L2，L2 命中时回填 L1。
  - StageCache：带阶段版本的 JSON 读写，失败一律降级为未命中。

# 使用方式

	store, _ := cache.NewStore(cfg.Cache, redisManager, logger)
	sc := cache.NewStageCache(store, cfg.Cache.Versions, logger)
	key := sc.Key(cache.StageClassification, snippet, map[string]any{"schema_id": id})
	var docType string
	if !sc.Lookup(ctx, cache.StageClassification, key, &docType) {
		docType = classify(snippet)
		sc.Put(ctx, cache.StageClassification, key, docType)
	}
*/
package cache
