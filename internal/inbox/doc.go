// Package inbox provides an unbounded FIFO queue used wherever a producer
// must never block on a slow consumer: the session event loop, inbound
// socket payloads and outbound notifications.
package inbox
