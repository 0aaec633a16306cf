// Package router implements the inbound message router.
//
// The router:
//   - Accepts raw frames from the session without blocking it
//   - Decodes them as chat frames
//   - Sorts them into private, group and system queues
//   - Counts parse errors and frames dropped after shutdown
package router
