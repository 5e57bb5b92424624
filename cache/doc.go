// Package cache provides expiring in-memory sets with concurrent access.
// This package implements:
// - Thread-safe TTL set on sync.Map
// - Background expiration
package cache
