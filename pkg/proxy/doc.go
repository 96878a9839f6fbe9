// Package proxy exposes the single aggregated MCP surface. It fronts
// every declared backend behind one server, namespacing tools and
// prompts as "backend::name", routing resources by their raw URIs,
// enforcing the document's per-tool enable/disable policy, opening
// lazy backends on demand, and emitting list_changed notifications
// when membership changes. The admin HTTP surface for runtime backend
// management lives here too.
package proxy
