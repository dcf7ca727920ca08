package gatts

import (
	"bytes"

	"github.com/user/gatts-table/wire/gatt"
)

// Service A: device information (0x180A).
const (
	IdxDevInfoSvc = iota
	IdxCharManufacturer
	IdxCharValManufacturer
	IdxCharModel
	IdxCharValModel
	IdxCharHardwareRev
	IdxCharValHardwareRev
	IdxCharFirmwareRev
	IdxCharValFirmwareRev
	IdxCharSoftwareRev
	IdxCharValSoftwareRev

	DevInfoNB
)

// Service B: serial data. A is the TX (notify) characteristic, B the RX
// (write without response) characteristic, C flow control.
const (
	IdxDataSvc = iota

	IdxCharA
	IdxCharValA
	IdxCharCfgA
	IdxCharCfgValA
	IdxCharUserA
	IdxCharUserValA

	IdxCharB
	IdxCharValB
	IdxCharCfgB
	IdxCharCfgValB
	IdxCharUserB
	IdxCharUserValB

	IdxCharC
	IdxCharValC
	IdxCharCfgC
	IdxCharCfgValC
	IdxCharUserC
	IdxCharUserValC

	DataNB
)

// Service C: vendor control (0xFEF5).
const (
	IdxCtrlSvc = iota
	IdxCtrlCharA
	IdxCtrlCharValA
	IdxCtrlCharB
	IdxCtrlCharValB
	IdxCtrlCharC
	IdxCtrlCharValC
	IdxCtrlCharD
	IdxCtrlCharValD
	IdxCtrlCharE
	IdxCtrlCharValE
	IdxCtrlCharF
	IdxCtrlCharValF
	IdxCtrlCharCfgF
	IdxCtrlCharCfgValF

	CtrlNB
)

const (
	permRW = gatt.PermRead | gatt.PermWrite

	cfgDeclMaxLen = 2
)

var (
	uuidDeviceInfo = gatt.UUID16(0x180A)
	uuidControl    = gatt.UUID16(0xFEF5)

	// Descriptor value records are addressed through these shadow UUIDs,
	// the byte-swapped forms of 0x2902 and 0x2901.
	uuidCfgValue  = gatt.UUID16(0x0229)
	uuidUserValue = gatt.UUID16(0x0129)
)

// Little-endian 128-bit UUIDs.
var (
	dataServiceUUID = le128(0xB7, 0x5C, 0x49, 0xD2, 0x04, 0xA3, 0x40, 0x71, 0xA0, 0xB5, 0x35, 0x85, 0x3E, 0xB0, 0x83, 0x07)
	dataCharA       = le128(0xB8, 0x5C, 0x49, 0xD2, 0x04, 0xA3, 0x40, 0x71, 0xA0, 0xB5, 0x35, 0x85, 0x3E, 0xB0, 0x83, 0x07)
	dataCharB       = le128(0xBA, 0x5C, 0x49, 0xD2, 0x04, 0xA3, 0x40, 0x71, 0xA0, 0xB5, 0x35, 0x85, 0x3E, 0xB0, 0x83, 0x07)
	dataCharC       = le128(0xB9, 0x5C, 0x49, 0xD2, 0x04, 0xA3, 0x40, 0x71, 0xA0, 0xB5, 0x35, 0x85, 0x3E, 0xB0, 0x83, 0x07)

	ctrlCharA = le128(0x34, 0xCC, 0x54, 0xB9, 0xF9, 0x56, 0xC6, 0x91, 0x21, 0x40, 0xA6, 0x41, 0xA8, 0xCA, 0x82, 0x80)
	ctrlCharB = le128(0x51, 0x86, 0xF0, 0x5A, 0x34, 0x42, 0x04, 0x88, 0x5F, 0x4B, 0xC3, 0x5E, 0xF0, 0x49, 0x42, 0x72)
	ctrlCharC = le128(0xD4, 0x4F, 0x33, 0xFB, 0x92, 0x7C, 0x22, 0xA0, 0xFE, 0x45, 0xA1, 0x47, 0x25, 0xDB, 0x53, 0x6C)
	ctrlCharD = le128(0x31, 0xDA, 0x3F, 0x67, 0x5B, 0x85, 0x83, 0x91, 0xD8, 0x49, 0x0C, 0x00, 0xA3, 0xB9, 0x84, 0x9D)
	ctrlCharE = le128(0xB2, 0x9C, 0x7B, 0xB1, 0xD0, 0x57, 0x16, 0x91, 0xA1, 0x4C, 0x16, 0xD5, 0xE8, 0x71, 0x78, 0x45)
	ctrlCharF = le128(0x88, 0x5C, 0x06, 0x6A, 0xEB, 0xB3, 0x0A, 0x99, 0xF5, 0x46, 0x8C, 0x79, 0x94, 0xDF, 0x78, 0x5F)
)

func le128(b ...byte) gatt.UUID {
	u, err := gatt.UUID128(b)
	if err != nil {
		panic(err)
	}
	return u
}

// DataServiceUUID returns the 128-bit UUID of service B.
func DataServiceUUID() gatt.UUID {
	return append(gatt.UUID(nil), dataServiceUUID...)
}

// ServiceA builds the device information table. Every call returns fresh
// value storage.
func ServiceA(maxLen int) *gatt.ServiceTable {
	info := func(id uint16, value string) []gatt.AttributeRecord {
		return []gatt.AttributeRecord{
			gatt.CharDecl(gatt.PropRead),
			gatt.CharValue(gatt.UUID16(id), permRW, maxLen, []byte(value)),
		}
	}

	records := []gatt.AttributeRecord{gatt.ServiceDecl(uuidDeviceInfo)}
	records = append(records, info(0x2A29, "Samsung SDS")...)
	records = append(records, info(0x2A24, "S-Patch3-Cardio")...)
	records = append(records, info(0x2A27, "S-Patch3-Cardio")...)
	records = append(records, info(0x2A26, "V1.00")...)
	records = append(records, info(0x2A28, "1.2.0")...)
	return &gatt.ServiceTable{Name: "device-info", Records: records}
}

// ServiceB builds the serial data table.
func ServiceB(maxLen int) *gatt.ServiceTable {
	type char struct {
		uuid    gatt.UUID
		props   uint8
		perm    uint16
		cfgPerm uint16
		user    string
	}
	chars := []char{
		{dataCharA, gatt.PropNotify, permRW, permRW, "Server TX Data"},
		{dataCharB, gatt.PropWriteWithoutResponse, gatt.PermWrite, gatt.PermRead, "Server RX Data"},
		{dataCharC, gatt.PropRead | gatt.PropWriteWithoutResponse | gatt.PropNotify, permRW, permRW, "Flow Control"},
	}

	records := []gatt.AttributeRecord{gatt.ServiceDecl(dataServiceUUID)}
	for _, c := range chars {
		records = append(records,
			gatt.CharDecl(c.props),
			gatt.CharValue(c.uuid, c.perm, maxLen, nil),
			gatt.DescDecl(gatt.UUIDClientCharacteristicConfig, c.cfgPerm, cfgDeclMaxLen, []byte{0x00, 0x00}),
			gatt.DescValue(uuidCfgValue, c.cfgPerm, maxLen, nil),
			gatt.DescDecl(gatt.UUIDCharUserDescription, permRW, 1, []byte{gatt.PropRead | gatt.PropWrite}),
			gatt.DescValue(uuidUserValue, permRW, maxLen, []byte(c.user)),
		)
	}
	return &gatt.ServiceTable{Name: "data", Records: records}
}

// ServiceC builds the vendor control table.
func ServiceC(maxLen int) *gatt.ServiceTable {
	var rw uint8 = gatt.PropRead | gatt.PropWrite
	return &gatt.ServiceTable{Name: "control", Records: []gatt.AttributeRecord{
		gatt.ServiceDecl(uuidControl),
		gatt.CharDecl(rw),
		gatt.CharValue(ctrlCharA, permRW, maxLen, nil),
		gatt.CharDecl(rw),
		gatt.CharValue(ctrlCharB, permRW, maxLen, nil),
		gatt.CharDecl(gatt.PropRead),
		gatt.CharValue(ctrlCharC, gatt.PermRead, maxLen, nil),
		gatt.CharDecl(rw),
		gatt.CharValue(ctrlCharD, permRW, maxLen, nil),
		gatt.CharDecl(rw | gatt.PropWriteWithoutResponse),
		gatt.CharValue(ctrlCharE, permRW, maxLen, nil),
		gatt.CharDecl(gatt.PropRead | gatt.PropNotify),
		gatt.CharValue(ctrlCharF, gatt.PermRead, maxLen, []byte{0x00}),
		gatt.DescDecl(gatt.UUIDClientCharacteristicConfig, gatt.PermRead, cfgDeclMaxLen, []byte{0x00, 0x00}),
		gatt.DescValue(gatt.UUIDClientCharacteristicConfig, gatt.PermRead, maxLen, nil),
	}}
}

// Command signatures that arm the background sender when written verbatim.
var (
	signatureStart = []byte{0x55, 0xaa, 0xff, 0xff, 0x0b, 0x04, 0x00, 0x10, 0x01, 0x00, 0x81, 0x44, 0x99, 0xee, 0xee}
	signatureQuery = []byte{0x55, 0xaa, 0xff, 0xff, 0x06, 0x03, 0x00, 0x00, 0x0a, 0x00, 0x44, 0x99, 0xee, 0xee}
)

// StartSignature returns the command that arms the sender.
func StartSignature() []byte {
	return append([]byte(nil), signatureStart...)
}

// IsCommandSignature reports whether value is exactly one of the two
// command signatures.
func IsCommandSignature(value []byte) bool {
	return bytes.Equal(value, signatureStart) || bytes.Equal(value, signatureQuery)
}

// sensorFrames are captured 20-byte ECG frames, cycled by the frames payload.
var sensorFrames = [][]byte{
	{0x55, 0xAA, 0xFF, 0xFF, 0x05, 0x13, 0x01, 0x11, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	{0x8E, 0x03, 0xA1, 0x03, 0xA4, 0x03, 0x8F, 0x03, 0x7F, 0x03, 0x8D, 0x03, 0xAC, 0x03, 0xB4, 0x03, 0x9D, 0x03, 0x89, 0x03},
	{0x8F, 0x03, 0x9A, 0x03, 0xA3, 0x03, 0xA0, 0x03, 0x95, 0x03, 0x8E, 0x03, 0x94, 0x03, 0x9F, 0x03, 0xA2, 0x03, 0x98, 0x03},
	{0x93, 0x03, 0x90, 0x03, 0x9A, 0x03, 0xA5, 0x03, 0xA3, 0x03, 0x97, 0x03, 0x91, 0x03, 0x99, 0x03, 0xAA, 0x03, 0xB0, 0x03},
	{0x55, 0xAA, 0xFF, 0xFF, 0x05, 0x13, 0x01, 0x11, 0x00, 0x01, 0x9C, 0x03, 0x96, 0x03, 0xA4, 0x03, 0xB4, 0x03, 0xB1, 0x03},
	{0xCE, 0x03, 0xCE, 0x03, 0xD3, 0x03, 0xD5, 0x03, 0xD4, 0x03, 0xD4, 0x03, 0xD4, 0x03, 0xD0, 0x03, 0xCB, 0x03, 0xCC, 0x03},
	{0xCB, 0x03, 0xD2, 0x03, 0xD1, 0x03, 0xC8, 0x03, 0xC3, 0x03, 0xC8, 0x03, 0xD2, 0x03, 0xD3, 0x03, 0xC9, 0x03, 0xC0, 0x03},
	{0xCC, 0x03, 0xC0, 0x03, 0xBE, 0x03, 0xC7, 0x03, 0xCF, 0x03, 0xCC, 0x03, 0xC4, 0x03, 0xC1, 0x03, 0xC7, 0x03, 0xCF, 0x03},
}
