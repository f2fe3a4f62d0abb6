package att

import (
	"encoding/binary"
	"fmt"
)

// ExchangeMTURequest (0x02)
type ExchangeMTURequest struct {
	ClientRxMTU uint16
}

// ExchangeMTUResponse (0x03)
type ExchangeMTUResponse struct {
	ServerRxMTU uint16
}

// ErrorResponse (0x01)
type ErrorResponse struct {
	RequestOpcode uint8
	Handle        uint16
	ErrorCode     uint8
}

// WriteRequest (0x12)
type WriteRequest struct {
	Handle uint16
	Value  []byte
}

// WriteResponse (0x13), empty on success
type WriteResponse struct{}

// WriteCommand (0x52), no response
type WriteCommand struct {
	Handle uint16
	Value  []byte
}

// HandleValueNotification (0x1B), no confirmation
type HandleValueNotification struct {
	Handle uint16
	Value  []byte
}

// EncodePacket serializes one of the PDU structs above
func EncodePacket(packet interface{}) ([]byte, error) {
	switch p := packet.(type) {
	case *ExchangeMTURequest:
		buf := []byte{OpExchangeMTURequest, 0, 0}
		binary.LittleEndian.PutUint16(buf[1:], p.ClientRxMTU)
		return buf, nil
	case *ExchangeMTUResponse:
		buf := []byte{OpExchangeMTUResponse, 0, 0}
		binary.LittleEndian.PutUint16(buf[1:], p.ServerRxMTU)
		return buf, nil
	case *ErrorResponse:
		buf := []byte{OpErrorResponse, p.RequestOpcode, 0, 0, p.ErrorCode}
		binary.LittleEndian.PutUint16(buf[2:4], p.Handle)
		return buf, nil
	case *WriteRequest:
		return encodeHandleValue(OpWriteRequest, p.Handle, p.Value), nil
	case *WriteResponse:
		return []byte{OpWriteResponse}, nil
	case *WriteCommand:
		return encodeHandleValue(OpWriteCommand, p.Handle, p.Value), nil
	case *HandleValueNotification:
		return encodeHandleValue(OpHandleValueNotification, p.Handle, p.Value), nil
	default:
		return nil, fmt.Errorf("att: cannot encode %T", packet)
	}
}

func encodeHandleValue(opcode uint8, handle uint16, value []byte) []byte {
	buf := make([]byte, 3+len(value))
	buf[0] = opcode
	binary.LittleEndian.PutUint16(buf[1:3], handle)
	copy(buf[3:], value)
	return buf
}

// DecodePacket parses an ATT PDU into one of the structs above
func DecodePacket(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("att: empty packet")
	}

	opcode := data[0]
	body := data[1:]
	switch opcode {
	case OpExchangeMTURequest, OpExchangeMTUResponse:
		if len(body) != 2 {
			return nil, fmt.Errorf("att: %s needs 2 bytes, got %d", OpcodeNames[opcode], len(body))
		}
		mtu := binary.LittleEndian.Uint16(body)
		if opcode == OpExchangeMTURequest {
			return &ExchangeMTURequest{ClientRxMTU: mtu}, nil
		}
		return &ExchangeMTUResponse{ServerRxMTU: mtu}, nil
	case OpErrorResponse:
		if len(body) != 4 {
			return nil, fmt.Errorf("att: Error Response needs 4 bytes, got %d", len(body))
		}
		return &ErrorResponse{
			RequestOpcode: body[0],
			Handle:        binary.LittleEndian.Uint16(body[1:3]),
			ErrorCode:     body[3],
		}, nil
	case OpWriteResponse:
		return &WriteResponse{}, nil
	case OpWriteRequest, OpWriteCommand, OpHandleValueNotification:
		if len(body) < 2 {
			return nil, fmt.Errorf("att: %s missing handle", OpcodeNames[opcode])
		}
		handle := binary.LittleEndian.Uint16(body[0:2])
		value := make([]byte, len(body)-2)
		copy(value, body[2:])
		switch opcode {
		case OpWriteRequest:
			return &WriteRequest{Handle: handle, Value: value}, nil
		case OpWriteCommand:
			return &WriteCommand{Handle: handle, Value: value}, nil
		default:
			return &HandleValueNotification{Handle: handle, Value: value}, nil
		}
	default:
		return nil, fmt.Errorf("att: unsupported opcode 0x%02X", opcode)
	}
}

// Opcode returns the opcode of an encoded-able PDU struct
func Opcode(packet interface{}) uint8 {
	switch packet.(type) {
	case *ExchangeMTURequest:
		return OpExchangeMTURequest
	case *ExchangeMTUResponse:
		return OpExchangeMTUResponse
	case *ErrorResponse:
		return OpErrorResponse
	case *WriteRequest:
		return OpWriteRequest
	case *WriteResponse:
		return OpWriteResponse
	case *WriteCommand:
		return OpWriteCommand
	case *HandleValueNotification:
		return OpHandleValueNotification
	default:
		return 0
	}
}
