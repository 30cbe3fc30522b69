// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 docintake 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup 防止泄漏
  - 断言工具: AssertRecordsEqual（键顺序敏感）/ AssertNoError
  - 异步断言: AssertEventuallyTrue，超时轮询等待条件满足
  - 数据工具: MustJSON
  - 日志辅助: TestLogger 将 zap 输出接入 t.Log

# 子包

  - testutil/mocks: MockCapability（抽取能力）与 MockSchemaStore（Schema 存储），
    支持 Builder 模式、错误注入与调用记录
  - testutil/fixtures: 测试数据工厂，提供样例 Schema、上传文件与 PDF 构造

# 使用示例

	ctx := testutil.TestContext(t)
	capability := mocks.NewMockCapability().WithDocumentType("invoice")
	dt, err := capability.Classify(ctx, "INVOICE #1")
	testutil.AssertNoError(t, err)
*/
package testutil
