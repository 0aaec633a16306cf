// Package reconnect decides whether and when a dropped session is retried.
//
// Strategy is pure policy: exponential backoff, short-session penalty,
// jitter and the duplicate-login heuristic. Manager turns a Strategy decision
// into a single pending "reconnect" timer.
package reconnect
