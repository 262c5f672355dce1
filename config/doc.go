// Package config 提供 Failover 服务的配置管理功能。
//
// 包含配置加载、默认值与校验。
// 支持从 YAML 文件和环境变量加载配置，
// 路由链可通过 FAILOVER_ROUTE_<CAPABILITY> 环境变量覆盖。
package config
