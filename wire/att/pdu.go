package att

import (
	"encoding/binary"
	"fmt"
)

// PDU is any ATT protocol data unit handled by this package.
type PDU interface {
	Opcode() uint8
}

// ErrorResponse (0x01)
type ErrorResponse struct {
	RequestOpcode uint8
	Handle        uint16
	ErrorCode     uint8
}

// ExchangeMTURequest (0x02)
type ExchangeMTURequest struct {
	ClientRxMTU uint16
}

// ExchangeMTUResponse (0x03)
type ExchangeMTUResponse struct {
	ServerRxMTU uint16
}

// FindInformationRequest (0x04)
type FindInformationRequest struct {
	StartHandle uint16
	EndHandle   uint16
}

// FindInformationResponse (0x05). Format 0x01 carries 16-bit UUIDs, 0x02 128-bit.
type FindInformationResponse struct {
	Format uint8
	Data   []byte
}

// ReadByTypeRequest (0x08)
type ReadByTypeRequest struct {
	StartHandle uint16
	EndHandle   uint16
	Type        []byte
}

// ReadByTypeResponse (0x09)
type ReadByTypeResponse struct {
	Length        uint8
	AttributeData []byte
}

// ReadRequest (0x0A)
type ReadRequest struct {
	Handle uint16
}

// ReadResponse (0x0B)
type ReadResponse struct {
	Value []byte
}

// ReadBlobRequest (0x0C)
type ReadBlobRequest struct {
	Handle uint16
	Offset uint16
}

// ReadBlobResponse (0x0D)
type ReadBlobResponse struct {
	Value []byte
}

// ReadByGroupTypeRequest (0x10)
type ReadByGroupTypeRequest struct {
	StartHandle uint16
	EndHandle   uint16
	Type        []byte
}

// ReadByGroupTypeResponse (0x11)
type ReadByGroupTypeResponse struct {
	Length        uint8
	AttributeData []byte
}

// WriteRequest (0x12)
type WriteRequest struct {
	Handle uint16
	Value  []byte
}

// WriteResponse (0x13)
type WriteResponse struct{}

// WriteCommand (0x52)
type WriteCommand struct {
	Handle uint16
	Value  []byte
}

// PrepareWriteRequest (0x16)
type PrepareWriteRequest struct {
	Handle uint16
	Offset uint16
	Value  []byte
}

// PrepareWriteResponse (0x17) echoes the request.
type PrepareWriteResponse struct {
	Handle uint16
	Offset uint16
	Value  []byte
}

// ExecuteWriteRequest (0x18)
type ExecuteWriteRequest struct {
	Flags uint8
}

// ExecuteWriteResponse (0x19)
type ExecuteWriteResponse struct{}

// HandleValueNotification (0x1B)
type HandleValueNotification struct {
	Handle uint16
	Value  []byte
}

// HandleValueIndication (0x1D)
type HandleValueIndication struct {
	Handle uint16
	Value  []byte
}

// HandleValueConfirmation (0x1E)
type HandleValueConfirmation struct{}

func (*ErrorResponse) Opcode() uint8           { return OpErrorResponse }
func (*ExchangeMTURequest) Opcode() uint8      { return OpExchangeMTURequest }
func (*ExchangeMTUResponse) Opcode() uint8     { return OpExchangeMTUResponse }
func (*FindInformationRequest) Opcode() uint8  { return OpFindInformationRequest }
func (*FindInformationResponse) Opcode() uint8 { return OpFindInformationResponse }
func (*ReadByTypeRequest) Opcode() uint8       { return OpReadByTypeRequest }
func (*ReadByTypeResponse) Opcode() uint8      { return OpReadByTypeResponse }
func (*ReadRequest) Opcode() uint8             { return OpReadRequest }
func (*ReadResponse) Opcode() uint8            { return OpReadResponse }
func (*ReadBlobRequest) Opcode() uint8         { return OpReadBlobRequest }
func (*ReadBlobResponse) Opcode() uint8        { return OpReadBlobResponse }
func (*ReadByGroupTypeRequest) Opcode() uint8  { return OpReadByGroupTypeRequest }
func (*ReadByGroupTypeResponse) Opcode() uint8 { return OpReadByGroupTypeResponse }
func (*WriteRequest) Opcode() uint8            { return OpWriteRequest }
func (*WriteResponse) Opcode() uint8           { return OpWriteResponse }
func (*WriteCommand) Opcode() uint8            { return OpWriteCommand }
func (*PrepareWriteRequest) Opcode() uint8     { return OpPrepareWriteRequest }
func (*PrepareWriteResponse) Opcode() uint8    { return OpPrepareWriteResponse }
func (*ExecuteWriteRequest) Opcode() uint8     { return OpExecuteWriteRequest }
func (*ExecuteWriteResponse) Opcode() uint8    { return OpExecuteWriteResponse }
func (*HandleValueNotification) Opcode() uint8 { return OpHandleValueNotification }
func (*HandleValueIndication) Opcode() uint8   { return OpHandleValueIndication }
func (*HandleValueConfirmation) Opcode() uint8 { return OpHandleValueConfirmation }

// encoder appends little-endian fields after the opcode byte.
type encoder struct {
	buf []byte
}

func newEncoder(op uint8, size int) *encoder {
	e := &encoder{buf: make([]byte, 1, 1+size)}
	e.buf[0] = op
	return e
}

func (e *encoder) u8(v uint8) *encoder {
	e.buf = append(e.buf, v)
	return e
}

func (e *encoder) u16(v uint16) *encoder {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
	return e
}

func (e *encoder) bytes(v []byte) *encoder {
	e.buf = append(e.buf, v...)
	return e
}

// Encode serializes a PDU.
func Encode(pdu PDU) ([]byte, error) {
	switch p := pdu.(type) {
	case *ErrorResponse:
		return newEncoder(OpErrorResponse, 4).u8(p.RequestOpcode).u16(p.Handle).u8(p.ErrorCode).buf, nil
	case *ExchangeMTURequest:
		return newEncoder(OpExchangeMTURequest, 2).u16(p.ClientRxMTU).buf, nil
	case *ExchangeMTUResponse:
		return newEncoder(OpExchangeMTUResponse, 2).u16(p.ServerRxMTU).buf, nil
	case *FindInformationRequest:
		return newEncoder(OpFindInformationRequest, 4).u16(p.StartHandle).u16(p.EndHandle).buf, nil
	case *FindInformationResponse:
		return newEncoder(OpFindInformationResponse, 1+len(p.Data)).u8(p.Format).bytes(p.Data).buf, nil
	case *ReadByTypeRequest:
		if err := checkUUIDLen(p.Type); err != nil {
			return nil, err
		}
		return newEncoder(OpReadByTypeRequest, 4+len(p.Type)).u16(p.StartHandle).u16(p.EndHandle).bytes(p.Type).buf, nil
	case *ReadByTypeResponse:
		return newEncoder(OpReadByTypeResponse, 1+len(p.AttributeData)).u8(p.Length).bytes(p.AttributeData).buf, nil
	case *ReadRequest:
		return newEncoder(OpReadRequest, 2).u16(p.Handle).buf, nil
	case *ReadResponse:
		return newEncoder(OpReadResponse, len(p.Value)).bytes(p.Value).buf, nil
	case *ReadBlobRequest:
		return newEncoder(OpReadBlobRequest, 4).u16(p.Handle).u16(p.Offset).buf, nil
	case *ReadBlobResponse:
		return newEncoder(OpReadBlobResponse, len(p.Value)).bytes(p.Value).buf, nil
	case *ReadByGroupTypeRequest:
		if err := checkUUIDLen(p.Type); err != nil {
			return nil, err
		}
		return newEncoder(OpReadByGroupTypeRequest, 4+len(p.Type)).u16(p.StartHandle).u16(p.EndHandle).bytes(p.Type).buf, nil
	case *ReadByGroupTypeResponse:
		return newEncoder(OpReadByGroupTypeResponse, 1+len(p.AttributeData)).u8(p.Length).bytes(p.AttributeData).buf, nil
	case *WriteRequest:
		return newEncoder(OpWriteRequest, 2+len(p.Value)).u16(p.Handle).bytes(p.Value).buf, nil
	case *WriteResponse:
		return []byte{OpWriteResponse}, nil
	case *WriteCommand:
		return newEncoder(OpWriteCommand, 2+len(p.Value)).u16(p.Handle).bytes(p.Value).buf, nil
	case *PrepareWriteRequest:
		return newEncoder(OpPrepareWriteRequest, 4+len(p.Value)).u16(p.Handle).u16(p.Offset).bytes(p.Value).buf, nil
	case *PrepareWriteResponse:
		return newEncoder(OpPrepareWriteResponse, 4+len(p.Value)).u16(p.Handle).u16(p.Offset).bytes(p.Value).buf, nil
	case *ExecuteWriteRequest:
		if p.Flags > ExecuteWriteCommit {
			return nil, fmt.Errorf("att: invalid execute write flags 0x%02X", p.Flags)
		}
		return newEncoder(OpExecuteWriteRequest, 1).u8(p.Flags).buf, nil
	case *ExecuteWriteResponse:
		return []byte{OpExecuteWriteResponse}, nil
	case *HandleValueNotification:
		return newEncoder(OpHandleValueNotification, 2+len(p.Value)).u16(p.Handle).bytes(p.Value).buf, nil
	case *HandleValueIndication:
		return newEncoder(OpHandleValueIndication, 2+len(p.Value)).u16(p.Handle).bytes(p.Value).buf, nil
	case *HandleValueConfirmation:
		return []byte{OpHandleValueConfirmation}, nil
	default:
		return nil, fmt.Errorf("att: unsupported PDU type %T", pdu)
	}
}

func checkUUIDLen(uuid []byte) error {
	if len(uuid) != 2 && len(uuid) != 16 {
		return fmt.Errorf("att: invalid UUID length %d", len(uuid))
	}
	return nil
}

func need(data []byte, n int, op uint8) error {
	if len(data) < n {
		return fmt.Errorf("att: %s too short: %d bytes, need %d", OpcodeName(op), len(data), n)
	}
	return nil
}

func tail(data []byte, from int) []byte {
	out := make([]byte, len(data)-from)
	copy(out, data[from:])
	return out
}

// Decode parses one ATT PDU. Value slices are copies.
func Decode(data []byte) (PDU, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("att: empty PDU")
	}
	op := data[0]
	le := binary.LittleEndian

	switch op {
	case OpErrorResponse:
		if err := need(data, 5, op); err != nil {
			return nil, err
		}
		return &ErrorResponse{RequestOpcode: data[1], Handle: le.Uint16(data[2:4]), ErrorCode: data[4]}, nil
	case OpExchangeMTURequest:
		if err := need(data, 3, op); err != nil {
			return nil, err
		}
		return &ExchangeMTURequest{ClientRxMTU: le.Uint16(data[1:3])}, nil
	case OpExchangeMTUResponse:
		if err := need(data, 3, op); err != nil {
			return nil, err
		}
		return &ExchangeMTUResponse{ServerRxMTU: le.Uint16(data[1:3])}, nil
	case OpFindInformationRequest:
		if err := need(data, 5, op); err != nil {
			return nil, err
		}
		return &FindInformationRequest{StartHandle: le.Uint16(data[1:3]), EndHandle: le.Uint16(data[3:5])}, nil
	case OpFindInformationResponse:
		if err := need(data, 2, op); err != nil {
			return nil, err
		}
		return &FindInformationResponse{Format: data[1], Data: tail(data, 2)}, nil
	case OpReadByTypeRequest, OpReadByGroupTypeRequest:
		if err := need(data, 7, op); err != nil {
			return nil, err
		}
		uuid := tail(data, 5)
		if err := checkUUIDLen(uuid); err != nil {
			return nil, err
		}
		start, end := le.Uint16(data[1:3]), le.Uint16(data[3:5])
		if op == OpReadByTypeRequest {
			return &ReadByTypeRequest{StartHandle: start, EndHandle: end, Type: uuid}, nil
		}
		return &ReadByGroupTypeRequest{StartHandle: start, EndHandle: end, Type: uuid}, nil
	case OpReadByTypeResponse:
		if err := need(data, 2, op); err != nil {
			return nil, err
		}
		return &ReadByTypeResponse{Length: data[1], AttributeData: tail(data, 2)}, nil
	case OpReadByGroupTypeResponse:
		if err := need(data, 2, op); err != nil {
			return nil, err
		}
		return &ReadByGroupTypeResponse{Length: data[1], AttributeData: tail(data, 2)}, nil
	case OpReadRequest:
		if err := need(data, 3, op); err != nil {
			return nil, err
		}
		return &ReadRequest{Handle: le.Uint16(data[1:3])}, nil
	case OpReadResponse:
		return &ReadResponse{Value: tail(data, 1)}, nil
	case OpReadBlobRequest:
		if err := need(data, 5, op); err != nil {
			return nil, err
		}
		return &ReadBlobRequest{Handle: le.Uint16(data[1:3]), Offset: le.Uint16(data[3:5])}, nil
	case OpReadBlobResponse:
		return &ReadBlobResponse{Value: tail(data, 1)}, nil
	case OpWriteRequest, OpWriteCommand, OpHandleValueNotification, OpHandleValueIndication:
		if err := need(data, 3, op); err != nil {
			return nil, err
		}
		handle, value := le.Uint16(data[1:3]), tail(data, 3)
		switch op {
		case OpWriteRequest:
			return &WriteRequest{Handle: handle, Value: value}, nil
		case OpWriteCommand:
			return &WriteCommand{Handle: handle, Value: value}, nil
		case OpHandleValueNotification:
			return &HandleValueNotification{Handle: handle, Value: value}, nil
		default:
			return &HandleValueIndication{Handle: handle, Value: value}, nil
		}
	case OpWriteResponse:
		return &WriteResponse{}, nil
	case OpPrepareWriteRequest, OpPrepareWriteResponse:
		if err := need(data, 5, op); err != nil {
			return nil, err
		}
		handle, offset, value := le.Uint16(data[1:3]), le.Uint16(data[3:5]), tail(data, 5)
		if op == OpPrepareWriteRequest {
			return &PrepareWriteRequest{Handle: handle, Offset: offset, Value: value}, nil
		}
		return &PrepareWriteResponse{Handle: handle, Offset: offset, Value: value}, nil
	case OpExecuteWriteRequest:
		if err := need(data, 2, op); err != nil {
			return nil, err
		}
		if data[1] > ExecuteWriteCommit {
			return nil, fmt.Errorf("att: invalid execute write flags 0x%02X", data[1])
		}
		return &ExecuteWriteRequest{Flags: data[1]}, nil
	case OpExecuteWriteResponse:
		return &ExecuteWriteResponse{}, nil
	case OpHandleValueConfirmation:
		return &HandleValueConfirmation{}, nil
	default:
		return nil, fmt.Errorf("att: unsupported opcode 0x%02X", op)
	}
}
