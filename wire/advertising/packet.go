package advertising

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// AD types used by the payloads this device sends
const (
	ADTypeFlags                        = 0x01
	ADTypeIncomplete16BitServiceUUIDs  = 0x02
	ADTypeComplete16BitServiceUUIDs    = 0x03
	ADTypeIncomplete128BitServiceUUIDs = 0x06
	ADTypeComplete128BitServiceUUIDs   = 0x07
	ADTypeShortenedLocalName           = 0x08
	ADTypeCompleteLocalName            = 0x09
	ADTypeTxPowerLevel                 = 0x0A
	ADTypeServiceData16Bit             = 0x16
	ADTypeAppearance                   = 0x19
	ADTypeManufacturerSpecificData     = 0xFF
)

// Flags AD bits
const (
	FlagLELimitedDiscoverableMode = 0x01
	FlagLEGeneralDiscoverableMode = 0x02
	FlagBREDRNotSupported         = 0x04
)

// MaxAdvertisingDataLen is the legacy advertising / scan response limit.
const MaxAdvertisingDataLen = 31

// ADStructure is one length-type-value element of advertising data.
// The length byte covers the type and data.
type ADStructure struct {
	Type byte
	Data []byte
}

// DecodeADStructures parses a payload and fails on any malformed element.
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	structures, rest := ParseRawPayload(data)
	if len(rest) > 0 {
		return nil, fmt.Errorf("advertising: malformed AD structure at offset %d", len(data)-len(rest))
	}
	return structures, nil
}

// ParseRawPayload parses as many well-formed structures as the payload
// holds and returns the unparsed remainder. A zero length byte ends the
// payload (padding) and is not reported as remainder.
func ParseRawPayload(data []byte) ([]ADStructure, []byte) {
	var structures []ADStructure
	offset := 0
	for offset < len(data) {
		length := int(data[offset])
		if length == 0 {
			return structures, nil
		}
		if offset+1+length > len(data) {
			return structures, data[offset:]
		}
		adData := make([]byte, length-1)
		copy(adData, data[offset+2:offset+1+length])
		structures = append(structures, ADStructure{Type: data[offset+1], Data: adData})
		offset += 1 + length
	}
	return structures, nil
}

// ValidateRaw checks a raw advertising or scan response payload before it
// is handed to the controller.
func ValidateRaw(raw []byte) error {
	if len(raw) > MaxAdvertisingDataLen {
		return fmt.Errorf("advertising: payload is %d bytes, limit %d", len(raw), MaxAdvertisingDataLen)
	}
	return nil
}

// Describe summarises a raw payload for logs, e.g.
// "Flags(06) Manufacturer Specific Data(0x0075, 23 bytes) +1 trailing".
func Describe(raw []byte) string {
	structures, rest := ParseRawPayload(raw)
	parts := make([]string, 0, len(structures)+1)
	for _, s := range structures {
		one := []ADStructure{s}
		if flags, ok := GetFlags(one); ok {
			parts = append(parts, fmt.Sprintf("%s(%02x)", ADTypeName(s.Type), flags))
			continue
		}
		if company, data, ok := GetManufacturerData(one); ok {
			parts = append(parts, fmt.Sprintf("%s(0x%04X, %d bytes)", ADTypeName(s.Type), company, len(data)))
			continue
		}
		if len(s.Data) == 1 {
			parts = append(parts, fmt.Sprintf("%s(%02x)", ADTypeName(s.Type), s.Data[0]))
		} else {
			parts = append(parts, fmt.Sprintf("%s(%d bytes)", ADTypeName(s.Type), len(s.Data)))
		}
	}
	if len(rest) > 0 {
		parts = append(parts, fmt.Sprintf("+%d trailing", len(rest)))
	}
	if len(parts) == 0 {
		return "empty"
	}
	return strings.Join(parts, " ")
}

// GetLocalName returns the complete or shortened local name, if any.
func GetLocalName(structures []ADStructure) string {
	for _, s := range structures {
		if s.Type == ADTypeCompleteLocalName || s.Type == ADTypeShortenedLocalName {
			return string(s.Data)
		}
	}
	return ""
}

// GetFlags returns the flags byte, if present.
func GetFlags(structures []ADStructure) (byte, bool) {
	for _, s := range structures {
		if s.Type == ADTypeFlags && len(s.Data) > 0 {
			return s.Data[0], true
		}
	}
	return 0, false
}

// Get16BitServiceUUIDs collects 16-bit service UUIDs from UUID lists and
// service data.
func Get16BitServiceUUIDs(structures []ADStructure) []uint16 {
	var uuids []uint16
	for _, s := range structures {
		switch s.Type {
		case ADTypeComplete16BitServiceUUIDs, ADTypeIncomplete16BitServiceUUIDs:
			for i := 0; i+2 <= len(s.Data); i += 2 {
				uuids = append(uuids, binary.LittleEndian.Uint16(s.Data[i:i+2]))
			}
		case ADTypeServiceData16Bit:
			if len(s.Data) >= 2 {
				uuids = append(uuids, binary.LittleEndian.Uint16(s.Data[0:2]))
			}
		}
	}
	return uuids
}

// GetManufacturerData returns the company id and payload of the first
// manufacturer data structure.
func GetManufacturerData(structures []ADStructure) (companyID uint16, data []byte, found bool) {
	for _, s := range structures {
		if s.Type == ADTypeManufacturerSpecificData && len(s.Data) >= 2 {
			return binary.LittleEndian.Uint16(s.Data[0:2]), s.Data[2:], true
		}
	}
	return 0, nil, false
}

// ADTypeName returns a readable name for an AD type.
func ADTypeName(adType byte) string {
	switch adType {
	case ADTypeFlags:
		return "Flags"
	case ADTypeIncomplete16BitServiceUUIDs:
		return "Incomplete 16-bit Service UUIDs"
	case ADTypeComplete16BitServiceUUIDs:
		return "Complete 16-bit Service UUIDs"
	case ADTypeIncomplete128BitServiceUUIDs:
		return "Incomplete 128-bit Service UUIDs"
	case ADTypeComplete128BitServiceUUIDs:
		return "Complete 128-bit Service UUIDs"
	case ADTypeShortenedLocalName:
		return "Shortened Local Name"
	case ADTypeCompleteLocalName:
		return "Complete Local Name"
	case ADTypeTxPowerLevel:
		return "Tx Power Level"
	case ADTypeServiceData16Bit:
		return "Service Data"
	case ADTypeAppearance:
		return "Appearance"
	case ADTypeManufacturerSpecificData:
		return "Manufacturer Specific Data"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", adType)
	}
}
