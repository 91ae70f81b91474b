// Package worker implements the edge cache worker: the install handler that
// pre-caches the bootstrap and manifest assets, the activate handler that
// garbage-collects caches from previous versions, the fetch interceptor that
// routes each request to one of the cache strategies, and the control-channel
// message handler. Registration drives the lifecycle of successive worker
// versions and tracks which clients each version controls.
//
// Nothing here talks HTTP directly: the network is an injected Network and
// the cache is an injected cache.Storage, so every strategy can be exercised
// with fakes.
package worker
