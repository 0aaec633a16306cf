// Package connection implements the connection layer of an IM session.
//
// It has three parts:
//   - StateMachine: the lifecycle state (disconnected, connecting, connected,
//     reconnecting, closed) with an enforced transition table and metadata
//   - Transport: one websocket connection attempt reporting open, close,
//     error and message events through Hooks; it never reconnects by itself
//   - BuildURL: renders the socket address from an Endpoint and query params
//
// Reconnect policy lives in package reconnect and is driven by package
// session, which owns a fresh Transport per attempt.
package connection
