package att

import (
	"errors"
	"fmt"
)

// ATT error codes (Core v5.3 Vol 3, Part F, 3.4.1.1). The GATT server status
// values reported to the application share this numbering.
const (
	ErrSuccess                     = 0x00
	ErrInvalidHandle               = 0x01
	ErrReadNotPermitted            = 0x02
	ErrWriteNotPermitted           = 0x03
	ErrInvalidPDU                  = 0x04
	ErrInsufficientAuthentication  = 0x05
	ErrRequestNotSupported         = 0x06
	ErrInvalidOffset               = 0x07
	ErrPrepareQueueFull            = 0x09
	ErrAttributeNotFound           = 0x0A
	ErrAttributeNotLong            = 0x0B
	ErrInvalidAttributeValueLength = 0x0D
	ErrUnlikelyError               = 0x0E
	ErrInsufficientEncryption      = 0x0F
	ErrUnsupportedGroupType        = 0x10
	ErrInsufficientResources       = 0x11
)

var errorNames = map[uint8]string{
	ErrSuccess:                     "Success",
	ErrInvalidHandle:               "Invalid Handle",
	ErrReadNotPermitted:            "Read Not Permitted",
	ErrWriteNotPermitted:           "Write Not Permitted",
	ErrInvalidPDU:                  "Invalid PDU",
	ErrInsufficientAuthentication:  "Insufficient Authentication",
	ErrRequestNotSupported:         "Request Not Supported",
	ErrInvalidOffset:               "Invalid Offset",
	ErrPrepareQueueFull:            "Prepare Queue Full",
	ErrAttributeNotFound:           "Attribute Not Found",
	ErrAttributeNotLong:            "Attribute Not Long",
	ErrInvalidAttributeValueLength: "Invalid Attribute Value Length",
	ErrUnlikelyError:               "Unlikely Error",
	ErrInsufficientEncryption:      "Insufficient Encryption",
	ErrUnsupportedGroupType:        "Unsupported Group Type",
	ErrInsufficientResources:       "Insufficient Resources",
}

// ErrorName returns a readable name for an error code.
func ErrorName(code uint8) string {
	if name, ok := errorNames[code]; ok {
		return name
	}
	if code >= 0x80 && code <= 0x9F {
		return fmt.Sprintf("Application Error (0x%02X)", code)
	}
	return fmt.Sprintf("Unknown Error (0x%02X)", code)
}

// Error is an ATT Error Response surfaced as a Go error.
type Error struct {
	Code          uint8
	RequestOpcode uint8
	Handle        uint16
}

func (e *Error) Error() string {
	return fmt.Sprintf("att: %s (handle 0x%04X, request %s)", ErrorName(e.Code), e.Handle, OpcodeName(e.RequestOpcode))
}

// NewError creates a new ATT error
func NewError(code uint8, requestOpcode uint8, handle uint16) *Error {
	return &Error{Code: code, RequestOpcode: requestOpcode, Handle: handle}
}

// IsATTError reports whether err wraps an ATT error with the given code.
func IsATTError(err error, code uint8) bool {
	return CodeOf(err) == code && code != ErrSuccess
}

// CodeOf returns the ATT error code wrapped in err, or ErrSuccess.
func CodeOf(err error) uint8 {
	var attErr *Error
	if errors.As(err, &attErr) {
		return attErr.Code
	}
	return ErrSuccess
}
