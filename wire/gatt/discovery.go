package gatt

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/user/gatts-table/wire/att"
)

// DiscoveredService is one primary service and its handle range.
type DiscoveredService struct {
	UUID        UUID
	StartHandle uint16
	EndHandle   uint16
}

// DiscoveredCharacteristic is one characteristic declaration.
type DiscoveredCharacteristic struct {
	UUID              UUID
	Properties        uint8
	ValueHandle       uint16
	DeclarationHandle uint16
}

// DiscoveredDescriptor is one handle/type pair from Find Information.
type DiscoveredDescriptor struct {
	UUID   UUID
	Handle uint16
}

// HandleValue is one entry of a Read By Type response.
type HandleValue struct {
	Handle uint16
	Value  []byte
}

// DiscoverServices lists primary services starting in [start, end]. A
// service ends just before the next one, or at the last handle.
func DiscoverServices(db *AttributeDatabase, start, end uint16) []DiscoveredService {
	all := db.FindAttributesByType(1, 0xFFFF, UUIDPrimaryService)
	last := db.LastHandle()

	var services []DiscoveredService
	for i, h := range all {
		if h < start || h > end {
			continue
		}
		attr, err := db.GetAttribute(h)
		if err != nil {
			continue
		}
		groupEnd := last
		if i+1 < len(all) {
			groupEnd = all[i+1] - 1
		}
		services = append(services, DiscoveredService{UUID: UUID(attr.Value), StartHandle: h, EndHandle: groupEnd})
	}
	return services
}

// ReadByType collects readable attributes of attrType in [start, end].
func ReadByType(db *AttributeDatabase, start, end uint16, attrType UUID) []HandleValue {
	var out []HandleValue
	for _, h := range db.FindAttributesByType(start, end, attrType) {
		if db.CheckRead(h) != att.ErrSuccess {
			break
		}
		attr, err := db.GetAttribute(h)
		if err != nil {
			continue
		}
		out = append(out, HandleValue{Handle: h, Value: attr.Value})
	}
	return out
}

// FindInformation lists every attribute handle and type in [start, end].
func FindInformation(db *AttributeDatabase, start, end uint16) []DiscoveredDescriptor {
	last := db.LastHandle()
	if end > last {
		end = last
	}
	var out []DiscoveredDescriptor
	for h := start; h != 0 && h <= end; h++ {
		attr, err := db.GetAttribute(h)
		if err != nil {
			continue
		}
		out = append(out, DiscoveredDescriptor{UUID: attr.Type, Handle: h})
	}
	return out
}

// BuildReadByGroupTypeResponse encodes the leading run of services sharing
// a UUID length that fits in one PDU.
func BuildReadByGroupTypeResponse(services []DiscoveredService, mtu int) (*att.ReadByGroupTypeResponse, error) {
	if len(services) == 0 {
		return nil, fmt.Errorf("gatt: no services to encode")
	}
	uuidLen := services[0].UUID.Len()
	if uuidLen != 2 && uuidLen != 16 {
		return nil, fmt.Errorf("gatt: invalid UUID length %d", uuidLen)
	}

	length := 4 + uuidLen
	buf := make([]byte, 0, mtu)
	for _, s := range services {
		if s.UUID.Len() != uuidLen || 2+len(buf)+length > mtu {
			break
		}
		buf = binary.LittleEndian.AppendUint16(buf, s.StartHandle)
		buf = binary.LittleEndian.AppendUint16(buf, s.EndHandle)
		buf = append(buf, s.UUID...)
	}
	return &att.ReadByGroupTypeResponse{Length: uint8(length), AttributeData: buf}, nil
}

// BuildReadByTypeResponse encodes the leading run of entries sharing a
// value length. Values longer than the PDU allows are truncated.
func BuildReadByTypeResponse(entries []HandleValue, mtu int) (*att.ReadByTypeResponse, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("gatt: no attributes to encode")
	}
	valueLen := len(entries[0].Value)
	if max := mtu - 4; valueLen > max {
		valueLen = max
	}
	if valueLen > 253 {
		valueLen = 253
	}

	length := 2 + valueLen
	buf := make([]byte, 0, mtu)
	for i, e := range entries {
		if i > 0 && len(e.Value) != len(entries[0].Value) {
			break
		}
		if 2+len(buf)+length > mtu {
			break
		}
		buf = binary.LittleEndian.AppendUint16(buf, e.Handle)
		buf = append(buf, e.Value[:valueLen]...)
	}
	return &att.ReadByTypeResponse{Length: uint8(length), AttributeData: buf}, nil
}

// BuildFindInformationResponse encodes the leading run of entries sharing
// a UUID length.
func BuildFindInformationResponse(entries []DiscoveredDescriptor, mtu int) (*att.FindInformationResponse, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("gatt: no descriptors to encode")
	}
	uuidLen := entries[0].UUID.Len()
	var format uint8
	switch uuidLen {
	case 2:
		format = 0x01
	case 16:
		format = 0x02
	default:
		return nil, fmt.Errorf("gatt: invalid UUID length %d", uuidLen)
	}

	entrySize := 2 + uuidLen
	buf := make([]byte, 0, mtu)
	for _, e := range entries {
		if e.UUID.Len() != uuidLen || 2+len(buf)+entrySize > mtu {
			break
		}
		buf = binary.LittleEndian.AppendUint16(buf, e.Handle)
		buf = append(buf, e.UUID...)
	}
	return &att.FindInformationResponse{Format: format, Data: buf}, nil
}

// ParseReadByGroupTypeResponse decodes service discovery results.
func ParseReadByGroupTypeResponse(resp *att.ReadByGroupTypeResponse) ([]DiscoveredService, error) {
	length := int(resp.Length)
	if length != 6 && length != 20 {
		return nil, fmt.Errorf("gatt: invalid attribute data length %d", length)
	}
	data := resp.AttributeData
	if len(data)%length != 0 {
		return nil, fmt.Errorf("gatt: incomplete service data, %d trailing bytes", len(data)%length)
	}

	var services []DiscoveredService
	for ; len(data) >= length; data = data[length:] {
		services = append(services, DiscoveredService{
			StartHandle: binary.LittleEndian.Uint16(data[0:2]),
			EndHandle:   binary.LittleEndian.Uint16(data[2:4]),
			UUID:        append(UUID(nil), data[4:length]...),
		})
	}
	return services, nil
}

// ParseCharacteristics decodes a Read By Type response to a
// characteristic declaration query.
func ParseCharacteristics(resp *att.ReadByTypeResponse) ([]DiscoveredCharacteristic, error) {
	length := int(resp.Length)
	if length != 7 && length != 21 {
		return nil, fmt.Errorf("gatt: invalid characteristic data length %d", length)
	}
	data := resp.AttributeData
	if len(data)%length != 0 {
		return nil, fmt.Errorf("gatt: incomplete characteristic data, %d trailing bytes", len(data)%length)
	}

	var chars []DiscoveredCharacteristic
	for ; len(data) >= length; data = data[length:] {
		chars = append(chars, DiscoveredCharacteristic{
			DeclarationHandle: binary.LittleEndian.Uint16(data[0:2]),
			Properties:        data[2],
			ValueHandle:       binary.LittleEndian.Uint16(data[3:5]),
			UUID:              append(UUID(nil), data[5:length]...),
		})
	}
	return chars, nil
}

// ParseFindInformationResponse decodes descriptor discovery results.
func ParseFindInformationResponse(resp *att.FindInformationResponse) ([]DiscoveredDescriptor, error) {
	var uuidLen int
	switch resp.Format {
	case 0x01:
		uuidLen = 2
	case 0x02:
		uuidLen = 16
	default:
		return nil, fmt.Errorf("gatt: invalid Find Information format 0x%02X", resp.Format)
	}
	entrySize := 2 + uuidLen
	data := resp.Data
	if len(data)%entrySize != 0 {
		return nil, fmt.Errorf("gatt: incomplete descriptor data, %d trailing bytes", len(data)%entrySize)
	}

	var out []DiscoveredDescriptor
	for ; len(data) >= entrySize; data = data[entrySize:] {
		out = append(out, DiscoveredDescriptor{
			Handle: binary.LittleEndian.Uint16(data[0:2]),
			UUID:   append(UUID(nil), data[2:entrySize]...),
		})
	}
	return out, nil
}

// DiscoveryCache stores what a client learned about a peer's database.
type DiscoveryCache struct {
	Services        []DiscoveredService
	Characteristics map[uint16][]DiscoveredCharacteristic // service start handle
	Descriptors     map[uint16][]DiscoveredDescriptor     // characteristic value handle
}

// NewDiscoveryCache creates an empty cache.
func NewDiscoveryCache() *DiscoveryCache {
	return &DiscoveryCache{
		Characteristics: make(map[uint16][]DiscoveredCharacteristic),
		Descriptors:     make(map[uint16][]DiscoveredDescriptor),
	}
}

// AddService records a service.
func (dc *DiscoveryCache) AddService(s DiscoveredService) {
	dc.Services = append(dc.Services, s)
	sort.Slice(dc.Services, func(i, j int) bool { return dc.Services[i].StartHandle < dc.Services[j].StartHandle })
}

// AddCharacteristic records a characteristic under its service.
func (dc *DiscoveryCache) AddCharacteristic(serviceStart uint16, c DiscoveredCharacteristic) {
	dc.Characteristics[serviceStart] = append(dc.Characteristics[serviceStart], c)
}

// AddDescriptor records a descriptor under its characteristic.
func (dc *DiscoveryCache) AddDescriptor(valueHandle uint16, d DiscoveredDescriptor) {
	dc.Descriptors[valueHandle] = append(dc.Descriptors[valueHandle], d)
}

// FindService looks a service up by UUID.
func (dc *DiscoveryCache) FindService(id UUID) (DiscoveredService, bool) {
	for _, s := range dc.Services {
		if s.UUID.Equal(id) {
			return s, true
		}
	}
	return DiscoveredService{}, false
}

// FindCharacteristic looks a characteristic up by UUID across services.
func (dc *DiscoveryCache) FindCharacteristic(id UUID) (DiscoveredCharacteristic, bool) {
	for _, s := range dc.Services {
		for _, c := range dc.Characteristics[s.StartHandle] {
			if c.UUID.Equal(id) {
				return c, true
			}
		}
	}
	return DiscoveredCharacteristic{}, false
}

// DescriptorHandle returns the first descriptor of type id under the
// characteristic with the given value handle.
func (dc *DiscoveryCache) DescriptorHandle(valueHandle uint16, id UUID) (uint16, bool) {
	for _, d := range dc.Descriptors[valueHandle] {
		if d.UUID.Equal(id) {
			return d.Handle, true
		}
	}
	return 0, false
}

// CharacteristicRange returns the handles after a characteristic's value
// up to the next declaration or the end of its service.
func (dc *DiscoveryCache) CharacteristicRange(serviceStart uint16, c DiscoveredCharacteristic) (uint16, uint16) {
	end := uint16(0xFFFF)
	for _, s := range dc.Services {
		if s.StartHandle == serviceStart {
			end = s.EndHandle
		}
	}
	for _, other := range dc.Characteristics[serviceStart] {
		if other.DeclarationHandle > c.DeclarationHandle && other.DeclarationHandle-1 < end {
			end = other.DeclarationHandle - 1
		}
	}
	return c.ValueHandle + 1, end
}
