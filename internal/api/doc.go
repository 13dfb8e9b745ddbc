// Package api 暴露只读的状态查询接口与少量控制接口（立即 tick、暂停、恢复），
// 并在同一端口上提供 Prometheus /metrics。
package api
