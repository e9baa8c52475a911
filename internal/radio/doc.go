// Package radio owns the packet radio boundary.
//
// Ownership boundary:
// - Transport interface used by the node runtime
// - UDP broadcast transport standing in for a packet radio
// - in-memory Hub for multi-node tests
// - transmit retry/backoff primitives
//
// A radio delivers whole frames, never more than MTU bytes, best effort.
// The Hub never delivers a port's own transmissions. A UDP broadcast may
// loop back; the mesh layer drops those by sender id.
package radio
