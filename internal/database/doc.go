// Package database provides the PostgreSQL connection pool and the tables the
// IM client persists to:
//   - im_session_tokens: the current session token per client instance
//   - im_connection_transitions: the connection state journal
package database
