// Package network owns the client-side network channel.
//
// Ownership boundary:
// - connection lifecycle (connect, close, reconnect)
// - header/body framing state machines over one TCP stream
// - ordered outbound queue with at most one in-flight write
// - heartbeat accounting and miss notifications
// - named channel registry (Manager)
//
// Protocol details (header layout, packet encoding, heartbeat packets and
// miss policy) are supplied by a Helper; see internal/protocol/session for
// the default one.
package network
