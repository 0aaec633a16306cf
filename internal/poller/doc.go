// Package poller implements the status poller.
//
// The poller:
//   - Samples a fixed set of sources on an interval
//   - Runs samples concurrently with a bounded number in flight
//   - Keeps the latest snapshot for health endpoints
//   - Hands every snapshot to a handler, typically a logger
package poller
