// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 集中配置 TracerProvider、MeterProvider 与 W3C 传播器。
// HTTP 中间件经全局 tracer 为每次调用建 span，调用链上的
// 回退与重试因此可以在 trace 中按提供方展开。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
