// Package session is the default protocol half of a network channel.
//
// Ownership boundary:
// - frame header decode and limits for inbound traffic
// - well-known packets (heartbeat, error report, message) and their TLV bodies
// - heartbeat miss policy
// - reconnect backoff
package session
