package att

import "fmt"

// ATT opcodes (Core v5.3 Vol 3, Part F, 3.4)
const (
	OpErrorResponse           = 0x01
	OpExchangeMTURequest      = 0x02
	OpExchangeMTUResponse     = 0x03
	OpFindInformationRequest  = 0x04
	OpFindInformationResponse = 0x05
	OpReadByTypeRequest       = 0x08
	OpReadByTypeResponse      = 0x09
	OpReadRequest             = 0x0A
	OpReadResponse            = 0x0B
	OpReadBlobRequest         = 0x0C
	OpReadBlobResponse        = 0x0D
	OpReadByGroupTypeRequest  = 0x10
	OpReadByGroupTypeResponse = 0x11
	OpWriteRequest            = 0x12
	OpWriteResponse           = 0x13
	OpPrepareWriteRequest     = 0x16
	OpPrepareWriteResponse    = 0x17
	OpExecuteWriteRequest     = 0x18
	OpExecuteWriteResponse    = 0x19
	OpHandleValueNotification = 0x1B
	OpHandleValueIndication   = 0x1D
	OpHandleValueConfirmation = 0x1E
	OpWriteCommand            = 0x52
)

// Execute Write flags
const (
	ExecuteWriteCancel uint8 = 0x00
	ExecuteWriteCommit uint8 = 0x01
)

// MTU bounds for the LE ATT bearer.
const (
	DefaultMTU = 23
	MaxMTU     = 517
)

var opcodeNames = map[uint8]string{
	OpErrorResponse:           "Error Response",
	OpExchangeMTURequest:      "Exchange MTU Request",
	OpExchangeMTUResponse:     "Exchange MTU Response",
	OpFindInformationRequest:  "Find Information Request",
	OpFindInformationResponse: "Find Information Response",
	OpReadByTypeRequest:       "Read By Type Request",
	OpReadByTypeResponse:      "Read By Type Response",
	OpReadRequest:             "Read Request",
	OpReadResponse:            "Read Response",
	OpReadBlobRequest:         "Read Blob Request",
	OpReadBlobResponse:        "Read Blob Response",
	OpReadByGroupTypeRequest:  "Read By Group Type Request",
	OpReadByGroupTypeResponse: "Read By Group Type Response",
	OpWriteRequest:            "Write Request",
	OpWriteResponse:           "Write Response",
	OpPrepareWriteRequest:     "Prepare Write Request",
	OpPrepareWriteResponse:    "Prepare Write Response",
	OpExecuteWriteRequest:     "Execute Write Request",
	OpExecuteWriteResponse:    "Execute Write Response",
	OpHandleValueNotification: "Handle Value Notification",
	OpHandleValueIndication:   "Handle Value Indication",
	OpHandleValueConfirmation: "Handle Value Confirmation",
	OpWriteCommand:            "Write Command",
}

// OpcodeName returns a readable name for logs.
func OpcodeName(op uint8) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Opcode 0x%02X", op)
}

// ResponseOpcode returns the opcode that completes a client request, or 0
// when the PDU expects no response.
func ResponseOpcode(req uint8) uint8 {
	switch req {
	case OpExchangeMTURequest:
		return OpExchangeMTUResponse
	case OpFindInformationRequest:
		return OpFindInformationResponse
	case OpReadByTypeRequest:
		return OpReadByTypeResponse
	case OpReadRequest:
		return OpReadResponse
	case OpReadBlobRequest:
		return OpReadBlobResponse
	case OpReadByGroupTypeRequest:
		return OpReadByGroupTypeResponse
	case OpWriteRequest:
		return OpWriteResponse
	case OpPrepareWriteRequest:
		return OpPrepareWriteResponse
	case OpExecuteWriteRequest:
		return OpExecuteWriteResponse
	case OpHandleValueIndication:
		return OpHandleValueConfirmation
	default:
		return 0
	}
}
