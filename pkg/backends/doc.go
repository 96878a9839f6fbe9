// Package backends owns the lifecycle of upstream MCP server
// connections: the pending-config registry, lazy open-on-demand with a
// bounded timeout and a global concurrency cap, per-backend
// serialization of open/close transitions, idle reaping of unused
// sessions, and watchdog reconnection of pinned backends.
//
// The Manager is the only component that holds transport resources.
// Everything else addresses a backend by name and receives a Session
// handle. A backend whose open fails always has its pending config
// restored before the error propagates, so it stays retryable.
package backends
