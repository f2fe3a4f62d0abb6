package att

// ATT opcodes used by the file transfer service
const (
	OpErrorResponse           = 0x01
	OpExchangeMTURequest      = 0x02
	OpExchangeMTUResponse     = 0x03
	OpWriteRequest            = 0x12
	OpWriteResponse           = 0x13
	OpHandleValueNotification = 0x1B
	OpWriteCommand            = 0x52
)

// OpcodeNames maps opcodes to human-readable names
var OpcodeNames = map[uint8]string{
	OpErrorResponse:           "Error Response",
	OpExchangeMTURequest:      "Exchange MTU Request",
	OpExchangeMTUResponse:     "Exchange MTU Response",
	OpWriteRequest:            "Write Request",
	OpWriteResponse:           "Write Response",
	OpHandleValueNotification: "Handle Value Notification",
	OpWriteCommand:            "Write Command",
}

// GetResponseOpcode returns the response expected for a request, or 0
func GetResponseOpcode(request uint8) uint8 {
	switch request {
	case OpExchangeMTURequest:
		return OpExchangeMTUResponse
	case OpWriteRequest:
		return OpWriteResponse
	default:
		return 0
	}
}

// IsResponse reports whether opcode completes a pending request
func IsResponse(opcode uint8) bool {
	switch opcode {
	case OpErrorResponse, OpExchangeMTUResponse, OpWriteResponse:
		return true
	}
	return false
}

// MTU bounds
const (
	DefaultMTU = 23
	MaxMTU     = 517

	// NotificationOverhead is opcode + handle
	NotificationOverhead = 3
)
