package l2cap

import (
	"encoding/binary"
	"fmt"
	"io"
)

// L2CAP Channel IDs
const (
	ChannelATT      uint16 = 0x0004 // Attribute Protocol
	ChannelLESignal uint16 = 0x0005 // LE L2CAP Signaling
)

// HeaderLen is Length (2 bytes) + Channel ID (2 bytes)
const HeaderLen = 4

// Packet is one basic L2CAP frame
// Format: [Length: 2 bytes LE] [Channel ID: 2 bytes LE] [Payload: N bytes]
type Packet struct {
	ChannelID uint16
	Payload   []byte
}

// NewATTPacket wraps an ATT PDU for the ATT channel
func NewATTPacket(payload []byte) *Packet {
	return &Packet{ChannelID: ChannelATT, Payload: payload}
}

// Encode serializes the frame
func (p *Packet) Encode() []byte {
	buf := make([]byte, HeaderLen+len(p.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(p.Payload)))
	binary.LittleEndian.PutUint16(buf[2:4], p.ChannelID)
	copy(buf[HeaderLen:], p.Payload)
	return buf
}

// Decode parses one complete frame from data
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("l2cap: packet too short (need at least %d bytes, got %d)", HeaderLen, len(data))
	}

	length := int(binary.LittleEndian.Uint16(data[0:2]))
	if len(data) < HeaderLen+length {
		return nil, fmt.Errorf("l2cap: incomplete packet (claimed length %d, got %d)", length, len(data)-HeaderLen)
	}

	payload := make([]byte, length)
	copy(payload, data[HeaderLen:HeaderLen+length])
	return &Packet{
		ChannelID: binary.LittleEndian.Uint16(data[2:4]),
		Payload:   payload,
	}, nil
}

// ReadPacket reads exactly one frame from a stream
func ReadPacket(r io.Reader) (*Packet, error) {
	header := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint16(header[0:2])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("l2cap: truncated payload: %w", err)
	}

	return &Packet{
		ChannelID: binary.LittleEndian.Uint16(header[2:4]),
		Payload:   payload,
	}, nil
}
