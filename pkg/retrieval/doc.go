// Package retrieval is the pluggable extension point that can re-rank
// or truncate the aggregated tool list before it reaches the
// downstream client. The default is a passthrough that preserves the
// caller's ordering. A TF-IDF keyword retriever is provided for setups
// with large tool inventories, along with per-session monotonic tool
// set tracking and the keyword matcher used for trigger-based backend
// activation.
package retrieval
