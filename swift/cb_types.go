package swift

import (
	"errors"
	"fmt"

	"github.com/user/dictofun-sync/wire/att"
)

// CBManagerState matches iOS CoreBluetooth CBManagerState
type CBManagerState int

const (
	CBManagerStateUnknown    CBManagerState = 0
	CBManagerStatePoweredOff CBManagerState = 4
	CBManagerStatePoweredOn  CBManagerState = 5
)

func (s CBManagerState) String() string {
	switch s {
	case CBManagerStatePoweredOff:
		return "poweredOff"
	case CBManagerStatePoweredOn:
		return "poweredOn"
	default:
		return "unknown"
	}
}

// CBPeripheralState matches iOS CoreBluetooth CBPeripheralState
type CBPeripheralState int

const (
	CBPeripheralStateDisconnected  CBPeripheralState = 0
	CBPeripheralStateConnecting    CBPeripheralState = 1
	CBPeripheralStateConnected     CBPeripheralState = 2
	CBPeripheralStateDisconnecting CBPeripheralState = 3
)

func (s CBPeripheralState) String() string {
	switch s {
	case CBPeripheralStateConnecting:
		return "connecting"
	case CBPeripheralStateConnected:
		return "connected"
	case CBPeripheralStateDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// CBATTError is the error CoreBluetooth hands to delegates when the peer
// answers with an ATT Error Response
type CBATTError int

const (
	CBATTErrorInvalidHandle               CBATTError = 0x01
	CBATTErrorReadNotPermitted            CBATTError = 0x02
	CBATTErrorWriteNotPermitted           CBATTError = 0x03
	CBATTErrorRequestNotSupported         CBATTError = 0x06
	CBATTErrorAttributeNotFound           CBATTError = 0x0A
	CBATTErrorInvalidAttributeValueLength CBATTError = 0x0D
	CBATTErrorUnlikelyError               CBATTError = 0x0E
)

func (e CBATTError) Error() string {
	if name, ok := att.ErrorNames[uint8(e)]; ok {
		return "CBATTError: " + name
	}
	return fmt.Sprintf("CBATTError(0x%02X)", int(e))
}

// CBError matches the CoreBluetooth CBError codes used here
type CBError int

const (
	CBErrorUnknown                CBError = 0
	CBErrorNotConnected           CBError = 3
	CBErrorConnectionTimeout      CBError = 6
	CBErrorPeripheralDisconnected CBError = 7
	CBErrorConnectionFailed       CBError = 10
	CBErrorOperationNotSupported  CBError = 13
)

func (e CBError) Error() string {
	switch e {
	case CBErrorNotConnected:
		return "CBError: not connected"
	case CBErrorConnectionTimeout:
		return "CBError: connection timeout"
	case CBErrorPeripheralDisconnected:
		return "CBError: peripheral disconnected"
	case CBErrorConnectionFailed:
		return "CBError: connection failed"
	case CBErrorOperationNotSupported:
		return "CBError: operation not supported"
	default:
		return "CBError: unknown"
	}
}

// toCBError converts a radio error the way CoreBluetooth reports it
func toCBError(err error) error {
	if err == nil {
		return nil
	}
	var attErr *att.Error
	if errors.As(err, &attErr) {
		return CBATTError(attErr.Code)
	}
	return fmt.Errorf("%w: %v", CBErrorUnknown, err)
}
