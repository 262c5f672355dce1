// Package tlsutil 提供集中式 TLS 加固配置，供 failover 的出站 HTTP
// 客户端（提供方集成）与管理面服务器共用：TLS 1.2+，仅 AEAD 密码套件。
package tlsutil
