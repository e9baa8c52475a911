// Package protocol ties the wire codecs together: it maps a frame payload
// type to the object record, detail packet, invite token or control message
// it carries.
package protocol
