// Package protocol owns the wire contract for netchan channels.
//
// Ownership boundary:
// - packet: ids, headers, decoder registry
// - frame: fixed header and body limits
// - tlv: body field encoding
// - session: default channel helper and well-known packets
package protocol
