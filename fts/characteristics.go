package fts

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Characteristic identifies one characteristic of the file transfer service
type Characteristic int

const (
	CommandOut           Characteristic = iota // RX on the recorder: commands are written here
	FileDataNotify                             // TX on the recorder: raw file bytes
	FilesystemInfoNotify                       // file count
	FileInfoNotify                             // size of the next file
)

var (
	// ServiceUUID is the recorder's file transfer service
	ServiceUUID = uuid.MustParse("03000001-4202-a882-ec11-b10da4ae3ceb")

	// CCCDUUID is the Client Characteristic Configuration Descriptor
	CCCDUUID = uuid.MustParse("00002902-0000-1000-8000-00805f9b34fb")

	characteristicUUIDs = map[Characteristic]uuid.UUID{
		CommandOut:           uuid.MustParse("03000002-4202-a882-ec11-b10da4ae3ceb"),
		FileDataNotify:       uuid.MustParse("03000003-4202-a882-ec11-b10da4ae3ceb"),
		FileInfoNotify:       uuid.MustParse("03000004-4202-a882-ec11-b10da4ae3ceb"),
		FilesystemInfoNotify: uuid.MustParse("03000005-4202-a882-ec11-b10da4ae3ceb"),
	}
)

// AllCharacteristics lists the characteristics the service must expose
func AllCharacteristics() []Characteristic {
	return []Characteristic{CommandOut, FileDataNotify, FilesystemInfoNotify, FileInfoNotify}
}

func (c Characteristic) String() string {
	switch c {
	case CommandOut:
		return "CommandOut"
	case FileDataNotify:
		return "FileDataNotify"
	case FilesystemInfoNotify:
		return "FilesystemInfoNotify"
	case FileInfoNotify:
		return "FileInfoNotify"
	default:
		return fmt.Sprintf("Characteristic(%d)", int(c))
	}
}

// UUID returns the 128-bit UUID of c, or uuid.Nil for an unknown value
func (c Characteristic) UUID() uuid.UUID {
	return characteristicUUIDs[c]
}

// CharacteristicFromUUID maps a UUID string (any case) back to its identity
func CharacteristicFromUUID(s string) (Characteristic, bool) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	for c, u := range characteristicUUIDs {
		if u == id {
			return c, true
		}
	}
	return 0, false
}

// IsServiceUUID reports whether s names the file transfer service
func IsServiceUUID(s string) bool {
	id, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil && id == ServiceUUID
}

// Surface is what service discovery found on the peer
type Surface struct {
	ServicePresent bool
	present        map[Characteristic]bool
}

// SurfaceFromServices builds a Surface from discovered service UUID -> characteristic UUIDs
func SurfaceFromServices(services map[string][]string) Surface {
	var s Surface
	for serviceUUID, chars := range services {
		if !IsServiceUUID(serviceUUID) {
			continue
		}
		s.ServicePresent = true
		for _, charUUID := range chars {
			if c, ok := CharacteristicFromUUID(charUUID); ok {
				s.Add(c)
			}
		}
	}
	return s
}

// Add marks c as present
func (s *Surface) Add(c Characteristic) {
	if s.present == nil {
		s.present = make(map[Characteristic]bool)
	}
	s.present[c] = true
}

// Has reports whether c was discovered
func (s Surface) Has(c Characteristic) bool {
	return s.present[c]
}

// Check returns ErrServiceNotFound or ErrCharacteristicNotFound when the
// peer lacks part of the file transfer service
func (s Surface) Check() error {
	if !s.ServicePresent {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, ServiceUUID)
	}
	for _, c := range AllCharacteristics() {
		if !s.Has(c) {
			return fmt.Errorf("%w: %s (%s)", ErrCharacteristicNotFound, c, c.UUID())
		}
	}
	return nil
}
