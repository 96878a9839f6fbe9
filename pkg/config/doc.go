// Package config owns the declarative document that drives mcpmux: the
// set of declared backends, their launch or URL settings, and the
// per-tool enable/stale policy discovered over time. The document is
// simultaneously the startup cache, the user-edited policy file, and
// the discovered-tool inventory; it is the only durable state the
// proxy keeps.
//
// Loading and saving go through Store, which writes atomically (temp
// sibling plus rename) so an interrupted save can never leave a
// half-serialized file behind. Merging freshly discovered tool lists
// into the document is pure and preserves every user decision; see
// MergeDiscovered.
package config
