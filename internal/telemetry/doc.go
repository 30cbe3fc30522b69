// Package telemetry 封装 OpenTelemetry SDK 初始化，为 docintake 配置
// TracerProvider 与 MeterProvider，并提供构建版本号。
// 未启用时使用 noop 实现，不连接任何外部服务。
package telemetry
