// Package control implements the client-facing control socket (spec.md 4.C,
// 6): handshake, the fixed-layout message protocol, and shm fd passing.
package control

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gen2brain/crasd/internal/audioformat"
	"github.com/gen2brain/crasd/internal/iodev"
	"github.com/gen2brain/crasd/internal/stream"
)

// MsgType tags the fixed-layout messages exchanged after the handshake
// (spec.md 6).
type MsgType uint32

const (
	MsgClientConnected MsgType = iota + 1
	MsgConnectStream
	MsgDisconnectStream
	MsgSwitchStreamType
	MsgSetSystemVolume
	MsgSetNodeAttr
	MsgSelectNode
	MsgStreamConnected
	MsgStreamReattach
	MsgNodeStateChanged
)

// headerSize is the 2-field header's wire size: length:u32, id:u32
// (spec.md 6).
const headerSize = 8

func writeFrame(w io.Writer, msgType MsgType, body []byte) error {
	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(body)+headerSize))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(msgType))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("control: write header: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	if err != nil {
		err = fmt.Errorf("control: write body: %w", err)
	}
	return err
}

func readFrame(r io.Reader) (MsgType, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(hdr[0:4])
	msgType := MsgType(binary.BigEndian.Uint32(hdr[4:8]))
	if length < headerSize {
		return 0, nil, fmt.Errorf("control: invalid frame length %d", length)
	}
	body := make([]byte, length-headerSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return msgType, body, nil
}

// ClientConnected is the server's first message to a newly-accepted
// connection, naming the server-assigned client id (spec.md 4.C: "low 16
// bits zero of the stream-id high half").
type ClientConnected struct {
	ClientID uint16
}

func (m ClientConnected) encode() []byte {
	body := make([]byte, 2)
	binary.BigEndian.PutUint16(body, m.ClientID)
	return body
}

func decodeClientConnected(body []byte) (ClientConnected, error) {
	if len(body) < 2 {
		return ClientConnected{}, fmt.Errorf("control: short CLIENT_CONNECTED body")
	}
	return ClientConnected{ClientID: binary.BigEndian.Uint16(body)}, nil
}

// FlagOpusPayload marks a CONNECT_STREAM request's ring as carrying Opus
// packets rather than raw PCM (SPEC_FULL domain stack). Only meaningful
// alongside stream.ClientTypeVOIP.
const FlagOpusPayload uint32 = 1 << 0

// ConnectStream is the client's stream-creation request (spec.md 4.C).
type ConnectStream struct {
	Direction         iodev.Direction
	ClientType        stream.ClientType
	StreamID          uint32
	BufferFrames      uint32
	CallbackThreshold uint32
	Flags             uint32
	Effects           uint32
	Format            audioformat.Format
	DeviceID          uint32 // stream.NoDevice if unpinned
}

const connectStreamBodySize = 1 + 1 + 4 + 4 + 4 + 4 + 4 + formatWireSize + 4

const formatWireSize = 4 + 1 + 1 + audioformat.MaxChannels // Rate, Channels, Sample, Layout

func encodeFormat(dst []byte, f audioformat.Format) {
	binary.BigEndian.PutUint32(dst[0:4], f.Rate)
	dst[4] = f.Channels
	dst[5] = byte(f.Sample)
	for i, v := range f.Layout {
		dst[6+i] = byte(v)
	}
}

func decodeFormat(src []byte) audioformat.Format {
	f := audioformat.Format{
		Rate:     binary.BigEndian.Uint32(src[0:4]),
		Channels: src[4],
		Sample:   audioformat.SampleFormat(src[5]),
	}
	for i := range f.Layout {
		f.Layout[i] = int8(src[6+i])
	}
	return f
}

func (m ConnectStream) encode() []byte {
	body := make([]byte, connectStreamBodySize)
	body[0] = byte(m.Direction)
	body[1] = byte(m.ClientType)
	binary.BigEndian.PutUint32(body[2:6], m.StreamID)
	binary.BigEndian.PutUint32(body[6:10], m.BufferFrames)
	binary.BigEndian.PutUint32(body[10:14], m.CallbackThreshold)
	binary.BigEndian.PutUint32(body[14:18], m.Flags)
	binary.BigEndian.PutUint32(body[18:22], m.Effects)
	encodeFormat(body[22:22+formatWireSize], m.Format)
	binary.BigEndian.PutUint32(body[22+formatWireSize:], m.DeviceID)
	return body
}

func decodeConnectStream(body []byte) (ConnectStream, error) {
	if len(body) < connectStreamBodySize {
		return ConnectStream{}, fmt.Errorf("control: short CONNECT_STREAM body")
	}
	return ConnectStream{
		Direction:         iodev.Direction(body[0]),
		ClientType:        stream.ClientType(body[1]),
		StreamID:          binary.BigEndian.Uint32(body[2:6]),
		BufferFrames:      binary.BigEndian.Uint32(body[6:10]),
		CallbackThreshold: binary.BigEndian.Uint32(body[10:14]),
		Flags:             binary.BigEndian.Uint32(body[14:18]),
		Effects:           binary.BigEndian.Uint32(body[18:22]),
		Format:            decodeFormat(body[22 : 22+formatWireSize]),
		DeviceID:          binary.BigEndian.Uint32(body[22+formatWireSize:]),
	}, nil
}

// DisconnectStream asks the server to tear down an existing stream.
type DisconnectStream struct {
	StreamID uint32
}

func (m DisconnectStream) encode() []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, m.StreamID)
	return body
}

func decodeDisconnectStream(body []byte) (DisconnectStream, error) {
	if len(body) < 4 {
		return DisconnectStream{}, fmt.Errorf("control: short DISCONNECT_STREAM body")
	}
	return DisconnectStream{StreamID: binary.BigEndian.Uint32(body)}, nil
}

// SwitchStreamType reclassifies an existing stream's client type, used by
// clients that renegotiate their role after connecting (e.g. a generic
// client promoted to VOIP once a call starts).
type SwitchStreamType struct {
	StreamID   uint32
	ClientType stream.ClientType
}

func (m SwitchStreamType) encode() []byte {
	body := make([]byte, 5)
	binary.BigEndian.PutUint32(body[0:4], m.StreamID)
	body[4] = byte(m.ClientType)
	return body
}

func decodeSwitchStreamType(body []byte) (SwitchStreamType, error) {
	if len(body) < 5 {
		return SwitchStreamType{}, fmt.Errorf("control: short SWITCH_STREAM_TYPE body")
	}
	return SwitchStreamType{
		StreamID:   binary.BigEndian.Uint32(body[0:4]),
		ClientType: stream.ClientType(body[4]),
	}, nil
}

// SetSystemVolume sets the system-wide volume step (0..100).
type SetSystemVolume struct {
	Volume int32
}

func (m SetSystemVolume) encode() []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, uint32(m.Volume))
	return body
}

func decodeSetSystemVolume(body []byte) (SetSystemVolume, error) {
	if len(body) < 4 {
		return SetSystemVolume{}, fmt.Errorf("control: short SET_SYSTEM_VOLUME body")
	}
	return SetSystemVolume{Volume: int32(binary.BigEndian.Uint32(body))}, nil
}

// NodeAttr names which field of a node SetNodeAttr mutates.
type NodeAttr uint8

const (
	NodeAttrVolume NodeAttr = iota
	NodeAttrMute
	NodeAttrPlugged
)

// SetNodeAttr mutates one attribute of a node by its stable id.
type SetNodeAttr struct {
	NodeID uint64
	Attr   NodeAttr
	Value  int32
}

func (m SetNodeAttr) encode() []byte {
	body := make([]byte, 13)
	binary.BigEndian.PutUint64(body[0:8], m.NodeID)
	body[8] = byte(m.Attr)
	binary.BigEndian.PutUint32(body[9:13], uint32(m.Value))
	return body
}

func decodeSetNodeAttr(body []byte) (SetNodeAttr, error) {
	if len(body) < 13 {
		return SetNodeAttr{}, fmt.Errorf("control: short SET_NODE_ATTR body")
	}
	return SetNodeAttr{
		NodeID: binary.BigEndian.Uint64(body[0:8]),
		Attr:   NodeAttr(body[8]),
		Value:  int32(binary.BigEndian.Uint32(body[9:13])),
	}, nil
}

// SelectNode makes a node the active node for its device's direction.
type SelectNode struct {
	Direction iodev.Direction
	NodeID    uint64
}

func (m SelectNode) encode() []byte {
	body := make([]byte, 9)
	body[0] = byte(m.Direction)
	binary.BigEndian.PutUint64(body[1:9], m.NodeID)
	return body
}

func decodeSelectNode(body []byte) (SelectNode, error) {
	if len(body) < 9 {
		return SelectNode{}, fmt.Errorf("control: short SELECT_NODE body")
	}
	return SelectNode{
		Direction: iodev.Direction(body[0]),
		NodeID:    binary.BigEndian.Uint64(body[1:9]),
	}, nil
}

// StreamConnected is the server's reply to CONNECT_STREAM (spec.md 4.C,
// 8). Err is 0 on success or a negative errno-style code; the shm fd (on
// success) travels as SCM_RIGHTS ancillary data alongside this frame, not
// in the body.
type StreamConnected struct {
	Err            int32
	StreamID       uint32
	Format         audioformat.Format
	UsedSizeFrames uint32
	FrameBytes     uint32
}

const streamConnectedBodySize = 4 + 4 + formatWireSize + 4 + 4

func (m StreamConnected) encode() []byte {
	body := make([]byte, streamConnectedBodySize)
	binary.BigEndian.PutUint32(body[0:4], uint32(m.Err))
	binary.BigEndian.PutUint32(body[4:8], m.StreamID)
	encodeFormat(body[8:8+formatWireSize], m.Format)
	binary.BigEndian.PutUint32(body[8+formatWireSize:12+formatWireSize], m.UsedSizeFrames)
	binary.BigEndian.PutUint32(body[12+formatWireSize:], m.FrameBytes)
	return body
}

func decodeStreamConnected(body []byte) (StreamConnected, error) {
	if len(body) < streamConnectedBodySize {
		return StreamConnected{}, fmt.Errorf("control: short STREAM_CONNECTED body")
	}
	return StreamConnected{
		Err:            int32(binary.BigEndian.Uint32(body[0:4])),
		StreamID:       binary.BigEndian.Uint32(body[4:8]),
		Format:         decodeFormat(body[8 : 8+formatWireSize]),
		UsedSizeFrames: binary.BigEndian.Uint32(body[8+formatWireSize : 12+formatWireSize]),
		FrameBytes:     binary.BigEndian.Uint32(body[12+formatWireSize:]),
	}, nil
}

// StreamReattach notifies a client that its stream moved to a different
// device (spec.md 4.E hot-plug routing).
type StreamReattach struct {
	StreamID uint32
	DeviceID uint32
}

func (m StreamReattach) encode() []byte {
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body[0:4], m.StreamID)
	binary.BigEndian.PutUint32(body[4:8], m.DeviceID)
	return body
}

func decodeStreamReattach(body []byte) (StreamReattach, error) {
	if len(body) < 8 {
		return StreamReattach{}, fmt.Errorf("control: short STREAM_REATTACH body")
	}
	return StreamReattach{
		StreamID: binary.BigEndian.Uint32(body[0:4]),
		DeviceID: binary.BigEndian.Uint32(body[4:8]),
	}, nil
}

// NodeStateChanged is a state-change notification for a node (plugged,
// volume, active-node changes).
type NodeStateChanged struct {
	NodeID  uint64
	Plugged bool
	Volume  int32
}

func (m NodeStateChanged) encode() []byte {
	body := make([]byte, 13)
	binary.BigEndian.PutUint64(body[0:8], m.NodeID)
	if m.Plugged {
		body[8] = 1
	}
	binary.BigEndian.PutUint32(body[9:13], uint32(m.Volume))
	return body
}

func decodeNodeStateChanged(body []byte) (NodeStateChanged, error) {
	if len(body) < 13 {
		return NodeStateChanged{}, fmt.Errorf("control: short NODE_STATE_CHANGED body")
	}
	return NodeStateChanged{
		NodeID:  binary.BigEndian.Uint64(body[0:8]),
		Plugged: body[8] != 0,
		Volume:  int32(binary.BigEndian.Uint32(body[9:13])),
	}, nil
}
