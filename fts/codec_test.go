package fts

import (
	"errors"
	"math/rand"
	"testing"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		cmd  Command
		want byte
	}{
		{CommandGetFile, 1},
		{CommandGetFileInfo, 2},
		{CommandGetFilesystemInfo, 3},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			b, err := EncodeCommand(tt.cmd)
			if err != nil {
				t.Fatalf("EncodeCommand failed: %v", err)
			}
			if len(b) != 1 || b[0] != tt.want {
				t.Errorf("Expected [%d], got %v", tt.want, b)
			}
		})
	}

	for _, bad := range []Command{0, 4, 0xFF} {
		if _, err := EncodeCommand(bad); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("Expected ErrInvalidCommand for %d, got %v", bad, err)
		}
	}
}

func TestDecodeCommand(t *testing.T) {
	c, err := DecodeCommand([]byte{2})
	if err != nil || c != CommandGetFileInfo {
		t.Fatalf("Expected GetFileInfo, got %v (%v)", c, err)
	}
	for _, bad := range [][]byte{{}, {0}, {4}, {1, 1}} {
		if _, err := DecodeCommand(bad); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("Expected ErrInvalidCommand for %v, got %v", bad, err)
		}
	}
}

func TestDecodeLength(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    uint32
	}{
		{"five", []byte{0x01, 0x00, 0x00, 0x00, 0x05}, 5},
		{"two hundred fifty six", []byte{0x01, 0x00, 0x00, 0x01, 0x00}, 256},
		{"mixed bytes", []byte{0x01, 0x12, 0x34, 0x56, 0x78}, 0x12345678},
		{"max", []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF}, 0xFFFFFFFF},
		{"tag is ignored", []byte{0x7F, 0x00, 0x00, 0x00, 0x02}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeLength(tt.payload)
			if err != nil {
				t.Fatalf("DecodeLength failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestDecodeLengthMalformed(t *testing.T) {
	bad := [][]byte{
		{},
		{0x01},
		{0x01, 0x00, 0x00, 0x00},
		{0x01, 0x00, 0x00, 0x00, 0x00, 0x00},
	}
	for _, payload := range bad {
		if _, err := DecodeLength(payload); !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("Expected ErrMalformedPayload for %d bytes, got %v", len(payload), err)
		}
	}
}

// For every [tag, b0, b1, b2, b3] the result is [b3, b2, b1, b0] read little-endian
func TestDecodeLengthReversesField(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		var p [5]byte
		rng.Read(p[:])

		want := uint32(p[4]) | uint32(p[3])<<8 | uint32(p[2])<<16 | uint32(p[1])<<24
		got, err := DecodeLength(p[:])
		if err != nil {
			t.Fatalf("DecodeLength(%v) failed: %v", p, err)
		}
		if got != want {
			t.Fatalf("DecodeLength(%v): expected %d, got %d", p, want, got)
		}
	}
}

func TestEncodeLengthMatchesFirmware(t *testing.T) {
	got := EncodeLength(StatusTagOK, 5)
	want := []byte{0x01, 0x00, 0x00, 0x00, 0x05}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
	n, _ := DecodeLength(EncodeLength(StatusTagOK, 123456))
	if n != 123456 {
		t.Errorf("Expected 123456, got %d", n)
	}
}
