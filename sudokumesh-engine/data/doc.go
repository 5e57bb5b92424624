// Package data provides Arrow export of node state.
// This package implements:
// - Arrow schemas for the stats ledger and the overlay topology
// - Snapshot to Arrow conversion and back
// - IPC stream serialization for downloads
package data
