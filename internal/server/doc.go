// Package server hosts the Fiber HTTP service that exposes the fetch
// orchestrator to local consumers: request-id middleware, JSON error
// rendering, the /api handlers, and the shared upstream HTTP client factory.
// Diagnostics endpoints live in the routes subpackage so they can depend on
// the reachability monitor and cache without widening AppOptions.
package server
