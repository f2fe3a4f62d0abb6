package gatt

import (
	"encoding/binary"
	"errors"
	"sync"
)

// CCCD values written by clients
const (
	CCCDNotificationsDisabled = 0x0000
	CCCDNotificationsEnabled  = 0x0001
	CCCDIndicationsEnabled    = 0x0002
)

// ErrInvalidCCCDLength is returned for a CCCD value that is not 2 bytes
var ErrInvalidCCCDLength = errors.New("gatt: CCCD value must be 2 bytes")

// CCCDManager tracks which characteristic values one connection has
// subscribed to. State is per connection and cleared when it closes.
type CCCDManager struct {
	mu       sync.RWMutex
	notify   map[uint16]bool // value handle -> notifications on
	indicate map[uint16]bool
}

// NewCCCDManager creates an empty subscription table
func NewCCCDManager() *CCCDManager {
	return &CCCDManager{
		notify:   make(map[uint16]bool),
		indicate: make(map[uint16]bool),
	}
}

// SetSubscription applies a raw CCCD write for the characteristic at valueHandle
func (cm *CCCDManager) SetSubscription(valueHandle uint16, cccdValue []byte) error {
	notify, indicate, err := DecodeCCCDValue(cccdValue)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	setOrDelete(cm.notify, valueHandle, notify)
	setOrDelete(cm.indicate, valueHandle, indicate)
	return nil
}

func setOrDelete(m map[uint16]bool, handle uint16, on bool) {
	if on {
		m[handle] = true
	} else {
		delete(m, handle)
	}
}

// IsNotifyEnabled reports whether notifications are on for valueHandle
func (cm *CCCDManager) IsNotifyEnabled(valueHandle uint16) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.notify[valueHandle]
}

// IsSubscribed reports whether notifications or indications are on
func (cm *CCCDManager) IsSubscribed(valueHandle uint16) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.notify[valueHandle] || cm.indicate[valueHandle]
}

// Count returns the number of subscribed characteristics
func (cm *CCCDManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	n := len(cm.notify)
	for h := range cm.indicate {
		if !cm.notify[h] {
			n++
		}
	}
	return n
}

// Clear drops every subscription (connection closed)
func (cm *CCCDManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.notify = make(map[uint16]bool)
	cm.indicate = make(map[uint16]bool)
}

// EncodeCCCDValue converts subscription flags to the 2-byte little-endian value
func EncodeCCCDValue(notifyEnabled, indicateEnabled bool) []byte {
	var value uint16
	if notifyEnabled {
		value |= CCCDNotificationsEnabled
	}
	if indicateEnabled {
		value |= CCCDIndicationsEnabled
	}

	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, value)
	return buf
}

// DecodeCCCDValue parses the 2-byte little-endian value
func DecodeCCCDValue(cccdValue []byte) (notifyEnabled, indicateEnabled bool, err error) {
	if len(cccdValue) != 2 {
		return false, false, ErrInvalidCCCDLength
	}
	value := binary.LittleEndian.Uint16(cccdValue)
	return value&CCCDNotificationsEnabled != 0, value&CCCDIndicationsEnabled != 0, nil
}
