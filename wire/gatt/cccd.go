package gatt

import (
	"encoding/binary"
	"fmt"
)

// CCCD values written by a client to (un)subscribe.
const (
	CCCDDisabled = 0x0000
	CCCDNotify   = 0x0001
	CCCDIndicate = 0x0002
	CCCDBoth     = 0x0003
)

// EncodeCCCD builds the two-byte descriptor value.
func EncodeCCCD(notify, indicate bool) []byte {
	var v uint16
	if notify {
		v |= CCCDNotify
	}
	if indicate {
		v |= CCCDIndicate
	}
	return binary.LittleEndian.AppendUint16(nil, v)
}

// DecodeCCCD parses a descriptor value. It must be exactly two bytes.
func DecodeCCCD(value []byte) (uint16, error) {
	if len(value) != 2 {
		return 0, fmt.Errorf("gatt: CCCD value must be 2 bytes, got %d", len(value))
	}
	return binary.LittleEndian.Uint16(value), nil
}

// CCCDName describes a descriptor value for logs.
func CCCDName(v uint16) string {
	switch v {
	case CCCDDisabled:
		return "disabled"
	case CCCDNotify:
		return "notify"
	case CCCDIndicate:
		return "indicate"
	case CCCDBoth:
		return "notify+indicate"
	}
	return fmt.Sprintf("unknown(0x%04X)", v)
}
