package l2cap

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Fixed LE channel identifiers carried by the simulated link.
const (
	ChannelATT      uint16 = 0x0004 // Attribute Protocol
	ChannelLESignal uint16 = 0x0005 // LE L2CAP signaling
)

// HeaderLen is the basic frame header: length (2 bytes) + channel ID (2 bytes).
const HeaderLen = 4

// Packet is a basic L2CAP frame: [Length: 2][Channel ID: 2][Payload: N], little-endian.
type Packet struct {
	ChannelID uint16
	Payload   []byte
}

// Encode serializes the frame.
func (p *Packet) Encode() []byte {
	buf := make([]byte, HeaderLen+len(p.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(p.Payload)))
	binary.LittleEndian.PutUint16(buf[2:4], p.ChannelID)
	copy(buf[4:], p.Payload)
	return buf
}

// Decode parses one complete frame.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("l2cap: packet too short (need at least %d bytes, got %d)", HeaderLen, len(data))
	}

	length := binary.LittleEndian.Uint16(data[0:2])
	if len(data) < HeaderLen+int(length) {
		return nil, fmt.Errorf("l2cap: incomplete packet (claimed length %d, got %d)", length, len(data)-HeaderLen)
	}

	payload := make([]byte, length)
	copy(payload, data[4:4+int(length)])

	return &Packet{
		ChannelID: binary.LittleEndian.Uint16(data[2:4]),
		Payload:   payload,
	}, nil
}

// ReadPacket reads exactly one frame from a byte stream.
func ReadPacket(r io.Reader) (*Packet, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint16(hdr[0:2])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("l2cap: short payload: %w", err)
	}
	return &Packet{
		ChannelID: binary.LittleEndian.Uint16(hdr[2:4]),
		Payload:   payload,
	}, nil
}

// NewATTPacket wraps an ATT PDU.
func NewATTPacket(payload []byte) *Packet {
	return &Packet{ChannelID: ChannelATT, Payload: payload}
}

// NewSignalingPacket wraps an LE signaling command.
func NewSignalingPacket(payload []byte) *Packet {
	return &Packet{ChannelID: ChannelLESignal, Payload: payload}
}
