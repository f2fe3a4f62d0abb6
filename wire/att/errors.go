package att

import "fmt"

// ATT error codes
const (
	ErrInvalidHandle               = 0x01
	ErrWriteNotPermitted           = 0x03
	ErrInvalidPDU                  = 0x04
	ErrRequestNotSupported         = 0x06
	ErrInvalidAttributeValueLength = 0x0D
	ErrUnlikelyError               = 0x0E
	ErrCCCDImproperlyConfigured    = 0xFD
)

// ErrorNames maps error codes to human-readable names
var ErrorNames = map[uint8]string{
	ErrInvalidHandle:               "Invalid Handle",
	ErrWriteNotPermitted:           "Write Not Permitted",
	ErrInvalidPDU:                  "Invalid PDU",
	ErrRequestNotSupported:         "Request Not Supported",
	ErrInvalidAttributeValueLength: "Invalid Attribute Value Length",
	ErrUnlikelyError:               "Unlikely Error",
	ErrCCCDImproperlyConfigured:    "CCCD Improperly Configured",
}

// Error is an Error Response received from the peer
type Error struct {
	RequestOpcode uint8
	Handle        uint16
	Code          uint8
}

func (e *Error) Error() string {
	name, ok := ErrorNames[e.Code]
	if !ok {
		name = "Unknown Error"
	}
	return fmt.Sprintf("att: %s (0x%02X) for opcode 0x%02X on handle 0x%04X", name, e.Code, e.RequestOpcode, e.Handle)
}

// AsError converts an ErrorResponse PDU into an error value
func AsError(resp *ErrorResponse) *Error {
	return &Error{RequestOpcode: resp.RequestOpcode, Handle: resp.Handle, Code: resp.ErrorCode}
}
