// Package model defines the chat frames exchanged over the session socket.
//
// Conventions:
//   - Frames are JSON objects with camelCase keys
//   - IDs are integers; 0 means "absent"
//   - ReceivedAt is stamped locally, never sent
package model
