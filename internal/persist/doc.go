// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package persist 在响应返回之后异步落盘批次结果。

DeferredSink 实现 batch.Sink：Enqueue 同步构造 Job 后立即投递到
goroutine 池，调用方的取消不会传播到写入。每个 Job 依次交给全部
Writer，单次写入受 WriteTimeout 约束并按 MaxAttempts 重试。写入失败
只记录日志与指标，不影响已返回的批次结果。

可用 Writer：

  - database：GormWriter，一个事务内写入 batches / documents / extraction_logs
  - mongo：MongoWriter，按文档 ID upsert 到 documents 集合
  - runlog：RunLogWriter，每个文件一行 JSONL 运行日志
*/
package persist
