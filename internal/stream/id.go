// Package stream implements the remote (client) stream abstraction
// (spec.md 3, 4.C): the rstream itself, and the per-(device,stream)
// dev_stream adapter the mixer pulls converted frames through.
package stream

// ID packs a 32-bit stream identifier: the high 16 bits are the owning
// client's id, the low 16 bits are that client's per-connection stream
// index (spec.md 3: "unique 32-bit id (high 16 bits = client id, low 16
// bits = per-client stream index)").
type ID uint32

// NewID builds a stream ID from a client id and a per-client index.
func NewID(clientID, streamIdx uint16) ID {
	return ID(uint32(clientID)<<16 | uint32(streamIdx))
}

// ClientID extracts the owning client id.
func (id ID) ClientID() uint16 {
	return uint16(uint32(id) >> 16)
}

// StreamIndex extracts the per-client stream index.
func (id ID) StreamIndex() uint16 {
	return uint16(uint32(id) & 0xFFFF)
}
