// Package api is the HTTP client for the IM server's session token endpoints.
//
// Endpoints (GET, JSON envelope {flag, data, message}):
//   - /im/checkWsTokenExpiry?wsToken=  data: minutes of validity left
//   - /im/renewWsToken?oldToken=       data: the replacement token
//   - /im/heartbeat?wsToken=           data: the same or a rotated token
package api
