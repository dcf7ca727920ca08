package gatt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// UUID is a Bluetooth UUID in over-the-air (little-endian) byte order.
// It is either 2 or 16 bytes long.
type UUID []byte

// Well-known GATT UUIDs
var (
	UUIDPrimaryService   = UUID16(0x2800)
	UUIDSecondaryService = UUID16(0x2801)
	UUIDInclude          = UUID16(0x2802)
	UUIDCharacteristic   = UUID16(0x2803)

	UUIDCharExtProps               = UUID16(0x2900)
	UUIDCharUserDescription        = UUID16(0x2901)
	UUIDClientCharacteristicConfig = UUID16(0x2902)
	UUIDServerCharacteristicConfig = UUID16(0x2903)
	UUIDCharPresentationFormat     = UUID16(0x2904)
)

// Bluetooth base UUID 00000000-0000-1000-8000-00805F9B34FB, little-endian.
var baseUUID = []byte{
	0xfb, 0x34, 0x9b, 0x5f, 0x80, 0x00, 0x00, 0x80,
	0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// UUID16 creates a 16-bit UUID.
func UUID16(v uint16) UUID {
	return UUID{byte(v), byte(v >> 8)}
}

// UUID128 wraps 16 little-endian bytes. The input is copied.
func UUID128(le []byte) (UUID, error) {
	if len(le) != 16 {
		return nil, fmt.Errorf("gatt: 128-bit UUID needs 16 bytes, got %d", len(le))
	}
	return UUID(append([]byte(nil), le...)), nil
}

// ParseUUID accepts "2A29", "0x2a29" or the canonical 128-bit string form.
func ParseUUID(s string) (UUID, error) {
	s = strings.TrimSpace(s)
	short := strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(short) == 4 {
		var v uint16
		if _, err := fmt.Sscanf(short, "%04x", &v); err != nil {
			return nil, fmt.Errorf("gatt: invalid 16-bit UUID %q: %w", s, err)
		}
		return UUID16(v), nil
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("gatt: invalid UUID %q: %w", s, err)
	}
	return reverse(u[:]), nil
}

// MustParseUUID is ParseUUID for package-level tables; it panics on error.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

func reverse(b []byte) UUID {
	out := make(UUID, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

// Len returns the encoded length (2 or 16).
func (u UUID) Len() int {
	return len(u)
}

// Is16 reports whether u is a 16-bit UUID.
func (u UUID) Is16() bool {
	return len(u) == 2
}

// Short returns the 16-bit value of a 16-bit UUID.
func (u UUID) Short() (uint16, bool) {
	if len(u) != 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(u), true
}

// Valid reports whether u has a legal length.
func (u UUID) Valid() bool {
	return len(u) == 2 || len(u) == 16
}

// Expand returns the 128-bit form, filling 16-bit UUIDs into the base UUID.
func (u UUID) Expand() UUID {
	if len(u) != 2 {
		return append(UUID(nil), u...)
	}
	out := make(UUID, 16)
	copy(out, baseUUID)
	out[12] = u[0]
	out[13] = u[1]
	return out
}

// Equal compares two UUIDs, treating a 16-bit UUID and its base-UUID
// expansion as the same.
func (u UUID) Equal(o UUID) bool {
	if len(u) == len(o) {
		return bytes.Equal(u, o)
	}
	return bytes.Equal(u.Expand(), o.Expand())
}

// String renders 16-bit UUIDs as "0x2A29" and 128-bit UUIDs in canonical
// big-endian form.
func (u UUID) String() string {
	switch len(u) {
	case 2:
		return fmt.Sprintf("0x%04X", binary.LittleEndian.Uint16(u))
	case 16:
		var id uuid.UUID
		copy(id[:], reverse(u))
		return strings.ToUpper(id.String())
	default:
		return fmt.Sprintf("invalid(% x)", []byte(u))
	}
}
