// Package cache provides a generic in-memory key/value store with per-entry
// TTL, an approximate LRU eviction policy, and a background sweep that
// bounds memory even for keys that are never read again.
//
// Lookups never fail: absence (including lazy expiry) is reported as a
// missing value, not an error. Stop must be called when the owning service
// shuts down so the sweep goroutine does not leak.
package cache
