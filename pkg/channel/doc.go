// Package channel keeps a client synchronized with a backend over a
// resilient real-time link. It owns a single primary websocket
// connection, detects silent link death with heartbeats, falls back to
// adaptive HTTP polling when the socket is unavailable, and fans inbound
// envelopes out to topic subscribers through one dispatcher regardless of
// which transport delivered them.
//
// One Manager serves one logical session. Consumers subscribe and send
// through the Manager and render connection badges from OnStateChange and
// Snapshot; they never touch timers or sockets themselves.
package channel
