// Package core provides the bounded worker pool that runs remote solve
// attempts, so a burst of solve requests cannot spawn unbounded goroutines.
package core
