package gatt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/user/gatts-table/wire/att"
)

// Attribute is a live attribute in a server database.
type Attribute struct {
	Handle uint16
	Kind   RecordKind
	Rsp    RspMode
	Type   UUID
	Perm   uint16
	MaxLen int
	Value  []byte
}

// AttributeDatabase holds the attributes of every created service table,
// addressed by handle.
type AttributeDatabase struct {
	mu         sync.RWMutex
	attributes map[uint16]*Attribute
	nextHandle uint16
}

// NewAttributeDatabase creates an empty database. Handles start at 1.
func NewAttributeDatabase() *AttributeDatabase {
	return &AttributeDatabase{
		attributes: make(map[uint16]*Attribute),
		nextHandle: 0x0001,
	}
}

// AddTable validates a service table and assigns consecutive handles to
// its records, in order. Characteristic declarations are expanded to
// properties, value handle and value UUID.
func (db *AttributeDatabase) AddTable(t *ServiceTable) ([]uint16, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if int(db.nextHandle)+t.Len()-1 > 0xFFFF {
		return nil, fmt.Errorf("gatt: no handle space for %d attributes", t.Len())
	}

	handles := make([]uint16, t.Len())
	for i, r := range t.Records {
		h := db.nextHandle
		db.nextHandle++
		handles[i] = h

		value := append([]byte{}, r.Value...)
		maxLen := r.MaxLen
		if r.Kind == KindCharDecl {
			next := t.Records[i+1]
			value = make([]byte, 3+next.UUID.Len())
			value[0] = r.Value[0]
			binary.LittleEndian.PutUint16(value[1:3], h+1)
			copy(value[3:], next.UUID)
			maxLen = len(value)
		}

		db.attributes[h] = &Attribute{
			Handle: h,
			Kind:   r.Kind,
			Rsp:    r.Rsp,
			Type:   append(UUID(nil), r.UUID...),
			Perm:   r.Perm,
			MaxLen: maxLen,
			Value:  value,
		}
	}
	return handles, nil
}

// GetAttribute returns a copy of the attribute at handle.
func (db *AttributeDatabase) GetAttribute(handle uint16) (*Attribute, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	attr, ok := db.attributes[handle]
	if !ok {
		return nil, fmt.Errorf("gatt: invalid handle 0x%04X", handle)
	}
	cp := *attr
	cp.Type = append(UUID(nil), attr.Type...)
	cp.Value = append([]byte{}, attr.Value...)
	return &cp, nil
}

// SetAttributeValue replaces a value, enforcing the declared max length.
func (db *AttributeDatabase) SetAttributeValue(handle uint16, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	attr, ok := db.attributes[handle]
	if !ok {
		return att.NewError(att.ErrInvalidHandle, 0, handle)
	}
	if len(value) > attr.MaxLen {
		return att.NewError(att.ErrInvalidAttributeValueLength, 0, handle)
	}
	attr.Value = append([]byte{}, value...)
	return nil
}

// CheckRead returns the ATT status a client read of handle gets.
func (db *AttributeDatabase) CheckRead(handle uint16) uint8 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	attr, ok := db.attributes[handle]
	if !ok {
		return att.ErrInvalidHandle
	}
	switch {
	case attr.Perm&PermRead != 0:
		return att.ErrSuccess
	case attr.Perm&(PermReadEncrypted|PermReadEncryptedMITM) != 0:
		return att.ErrInsufficientEncryption
	default:
		return att.ErrReadNotPermitted
	}
}

// CheckWrite returns the ATT status a client write of value at offset gets.
func (db *AttributeDatabase) CheckWrite(handle uint16, offset int, value []byte) uint8 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	attr, ok := db.attributes[handle]
	if !ok {
		return att.ErrInvalidHandle
	}
	switch {
	case attr.Perm&PermWrite != 0:
	case attr.Perm&permAnyWrite != 0:
		return att.ErrInsufficientEncryption
	default:
		return att.ErrWriteNotPermitted
	}
	if offset > attr.MaxLen {
		return att.ErrInvalidOffset
	}
	if offset+len(value) > attr.MaxLen {
		return att.ErrInvalidAttributeValueLength
	}
	return att.ErrSuccess
}

// FindAttributesByType returns handles in [start, end] whose type matches.
func (db *AttributeDatabase) FindAttributesByType(start, end uint16, attrType UUID) []uint16 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var handles []uint16
	for h := start; h >= start && h <= end && h < db.nextHandle; h++ {
		if attr, ok := db.attributes[h]; ok && attr.Type.Equal(attrType) {
			handles = append(handles, h)
		}
		if h == 0xFFFF {
			break
		}
	}
	return handles
}

// FindByServiceValue returns the declaration handle of the service whose
// UUID is service.
func (db *AttributeDatabase) FindByServiceValue(service UUID) (uint16, bool) {
	for _, h := range db.FindAttributesByType(1, 0xFFFF, UUIDPrimaryService) {
		attr, err := db.GetAttribute(h)
		if err == nil && bytes.Equal(attr.Value, service) {
			return h, true
		}
	}
	return 0, false
}

// LastHandle returns the highest assigned handle, 0 when empty.
func (db *AttributeDatabase) LastHandle() uint16 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.nextHandle - 1
}

// Count returns the number of attributes.
func (db *AttributeDatabase) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.attributes)
}

// Clear removes every attribute.
func (db *AttributeDatabase) Clear() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.attributes = make(map[uint16]*Attribute)
	db.nextHandle = 0x0001
}
