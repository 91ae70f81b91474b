// Package proxy 把 Fiber 请求交给 active worker 执行缓存策略，并提供
// 基于 http.Client 的 worker.Network 实现（Upstream）。
package proxy
