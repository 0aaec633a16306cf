// Package journal batches connection state transitions into Postgres.
//
// Rows go to im_connection_transitions through COPY, flushed when a batch
// fills, on a timer, and once more on Stop. The journal is append-only.
package journal
