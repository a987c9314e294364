// Package signaling implements the relay's routing core and its WebSocket
// transport: room joins, host/guest role enforcement, stale connection
// replacement, broadcast and targeted delivery of opaque negotiation
// payloads, and the liveness heartbeat.
package signaling
