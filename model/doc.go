// Package model defines the shared value types of cstcache: the parser-facing
// syntax tree input, edit descriptions for incremental re-parses, cache keys,
// tier levels, and aggregated cache statistics.
//
// The package is intentionally dependency-free so that every other package
// can import it without cycles.
package model
