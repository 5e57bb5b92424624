// Package monitoring provides metrics and observability.
// This package implements:
// - Prometheus metrics for wire traffic, membership, queries and solving
// - A /metrics and /health HTTP server
package monitoring
