package fts

import (
	"encoding/binary"
	"fmt"
)

// Command is a single-byte request written to the CommandOut characteristic
type Command byte

// Command values are ordinal+1. Zero is reserved and never sent.
const (
	CommandGetFile Command = iota + 1
	CommandGetFileInfo
	CommandGetFilesystemInfo
)

func (c Command) String() string {
	switch c {
	case CommandGetFile:
		return "GetFile"
	case CommandGetFileInfo:
		return "GetFileInfo"
	case CommandGetFilesystemInfo:
		return "GetFilesystemInfo"
	default:
		return fmt.Sprintf("Command(%d)", byte(c))
	}
}

// Valid reports whether c may be sent to the recorder
func (c Command) Valid() bool {
	return c >= CommandGetFile && c <= CommandGetFilesystemInfo
}

// EncodeCommand returns the wire byte for c
func EncodeCommand(c Command) ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCommand, byte(c))
	}
	return []byte{byte(c)}, nil
}

// DecodeCommand parses a command write. Used on the recorder side.
func DecodeCommand(data []byte) (Command, error) {
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: command write of %d bytes", ErrInvalidCommand, len(data))
	}
	c := Command(data[0])
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidCommand, data[0])
	}
	return c, nil
}

// Length-bearing notifications are [tag][4 length bytes, most significant first]
const (
	LengthPayloadSize = 5
	StatusTagOK       = 0x01
)

// DecodeLength extracts the 32-bit length from a filesystem-info or file-info
// notification: the tag byte is dropped, the remaining four bytes are reversed
// and read as little-endian.
func DecodeLength(payload []byte) (uint32, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	field := payload[1:]
	if len(field) != 4 {
		return 0, fmt.Errorf("%w: expected 4 length bytes after tag, got %d", ErrMalformedPayload, len(field))
	}

	var reversed [4]byte
	for i, b := range field {
		reversed[len(field)-1-i] = b
	}
	return binary.LittleEndian.Uint32(reversed[:]), nil
}

// EncodeLength builds a length-bearing notification the way the firmware does
func EncodeLength(tag byte, n uint32) []byte {
	buf := make([]byte, LengthPayloadSize)
	buf[0] = tag
	binary.BigEndian.PutUint32(buf[1:], n)
	return buf
}
