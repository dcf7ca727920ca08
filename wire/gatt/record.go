package gatt

import (
	"fmt"
	"strings"
)

// Characteristic properties
const (
	PropBroadcast                 = 0x01
	PropRead                      = 0x02
	PropWriteWithoutResponse      = 0x04
	PropWrite                     = 0x08
	PropNotify                    = 0x10
	PropIndicate                  = 0x20
	PropAuthenticatedSignedWrites = 0x40
	PropExtendedProperties        = 0x80
)

// Attribute permissions. Server-side only, never transmitted.
const (
	PermRead              uint16 = 0x0001
	PermReadEncrypted     uint16 = 0x0002
	PermReadEncryptedMITM uint16 = 0x0004
	PermWrite             uint16 = 0x0010
	PermWriteEncrypted    uint16 = 0x0020
	PermWriteEncMITM      uint16 = 0x0040
	PermWriteSigned       uint16 = 0x0080
	PermWriteSignedMITM   uint16 = 0x0100

	permAnyRead  = PermRead | PermReadEncrypted | PermReadEncryptedMITM
	permAnyWrite = PermWrite | PermWriteEncrypted | PermWriteEncMITM | PermWriteSigned | PermWriteSignedMITM
)

// RspMode selects who answers reads and writes of an attribute.
type RspMode uint8

const (
	// AutoRsp lets the stack answer from its own copy of the value.
	AutoRsp RspMode = iota
	// RspByApp forwards the request to the application.
	RspByApp
)

// RecordKind says what role a record plays in its service table.
type RecordKind uint8

const (
	KindService RecordKind = iota
	KindCharDecl
	KindCharValue
	KindDescDecl
	KindDescValue
)

func (k RecordKind) String() string {
	switch k {
	case KindService:
		return "service"
	case KindCharDecl:
		return "char-decl"
	case KindCharValue:
		return "char-value"
	case KindDescDecl:
		return "desc-decl"
	case KindDescValue:
		return "desc-value"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// AttributeRecord is one row of a service table. Value is owned by the
// record; its length is the attribute's initial length.
type AttributeRecord struct {
	Kind   RecordKind
	Rsp    RspMode
	UUID   UUID
	Perm   uint16
	MaxLen int
	Value  []byte
}

// Readable reports whether any read permission is set.
func (r AttributeRecord) Readable() bool {
	return r.Perm&permAnyRead != 0
}

// Writable reports whether any write permission is set.
func (r AttributeRecord) Writable() bool {
	return r.Perm&permAnyWrite != 0
}

// ServiceDecl builds a primary service declaration record.
func ServiceDecl(service UUID) AttributeRecord {
	return AttributeRecord{
		Kind:   KindService,
		UUID:   UUIDPrimaryService,
		Perm:   PermRead,
		MaxLen: service.Len(),
		Value:  append([]byte(nil), service...),
	}
}

// CharDecl builds a characteristic declaration holding the properties byte.
// The stack completes it with the value handle and UUID when the table is
// created.
func CharDecl(props uint8) AttributeRecord {
	return AttributeRecord{
		Kind:   KindCharDecl,
		UUID:   UUIDCharacteristic,
		Perm:   PermRead,
		MaxLen: 1,
		Value:  []byte{props},
	}
}

// CharValue builds a characteristic value record.
func CharValue(id UUID, perm uint16, maxLen int, value []byte) AttributeRecord {
	return AttributeRecord{Kind: KindCharValue, UUID: id, Perm: perm, MaxLen: maxLen, Value: append([]byte{}, value...)}
}

// DescDecl builds a descriptor record in declaration position.
func DescDecl(id UUID, perm uint16, maxLen int, value []byte) AttributeRecord {
	return AttributeRecord{Kind: KindDescDecl, UUID: id, Perm: perm, MaxLen: maxLen, Value: append([]byte{}, value...)}
}

// DescValue builds the value record that follows a descriptor declaration.
func DescValue(id UUID, perm uint16, maxLen int, value []byte) AttributeRecord {
	return AttributeRecord{Kind: KindDescValue, UUID: id, Perm: perm, MaxLen: maxLen, Value: append([]byte{}, value...)}
}

// ServiceTable is an ordered list of attribute records for one service.
// Records are addressed by index constants defined next to the table.
type ServiceTable struct {
	Name    string
	Records []AttributeRecord
}

// Len returns the record count.
func (t *ServiceTable) Len() int {
	return len(t.Records)
}

// ServiceUUID returns the UUID carried by the service declaration.
func (t *ServiceTable) ServiceUUID() UUID {
	if len(t.Records) == 0 {
		return nil
	}
	return UUID(t.Records[0].Value)
}

// Validate checks the table's structural invariants.
func (t *ServiceTable) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(t.Records) == 0 {
		return fmt.Errorf("gatt: service table %q is empty", t.Name)
	}
	if first := t.Records[0]; first.Kind != KindService || !first.UUID.Equal(UUIDPrimaryService) {
		add("record 0 is not a primary service declaration")
	} else if !UUID(first.Value).Valid() {
		add("record 0 carries a %d-byte service UUID", len(first.Value))
	}

	for i, r := range t.Records {
		if !r.UUID.Valid() {
			add("record %d: UUID length %d", i, len(r.UUID))
		}
		if len(r.Value) > r.MaxLen {
			add("record %d: value length %d exceeds max %d", i, len(r.Value), r.MaxLen)
		}
		if i > 0 && r.Kind == KindService {
			add("record %d: second service declaration", i)
		}

		var next *AttributeRecord
		if i+1 < len(t.Records) {
			next = &t.Records[i+1]
		}
		switch r.Kind {
		case KindCharDecl:
			if !r.UUID.Equal(UUIDCharacteristic) || len(r.Value) != 1 {
				add("record %d: malformed characteristic declaration", i)
			}
			if next == nil || next.Kind != KindCharValue {
				add("record %d: characteristic declaration not followed by its value", i)
			}
		case KindDescDecl:
			if next == nil || next.Kind != KindDescValue {
				add("record %d: descriptor declaration %s not followed by its value", i, r.UUID)
			}
		case KindCharValue:
			if i == 0 || t.Records[i-1].Kind != KindCharDecl {
				add("record %d: characteristic value without declaration", i)
			}
		case KindDescValue:
			if i == 0 || t.Records[i-1].Kind != KindDescDecl {
				add("record %d: descriptor value without declaration", i)
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("gatt: service table %q invalid: %s", t.Name, strings.Join(problems, "; "))
	}
	return nil
}
