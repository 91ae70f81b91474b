// Package server hosts the Fiber HTTP service for folio-edge: the middleware
// chain (recover, request ID, client cookie), the shared upstream http.Client
// and the glue that turns [Worker] configuration into a worker.Config.
// Diagnostics under `/-/` are registered by the routes subpackage; every other
// path goes to the injected ProxyHandler.
package server
