package advertising

import (
	"bytes"
	"testing"
)

var rawAdv = []byte{
	0x02, 0x01, 0x06,
	0x1A, 0xFF, 0x75, 0x00, 0x02, 0x15, 0x58, 0x5C, 0xDE, 0x93, 0x1B, 0x01,
	0x42, 0xCC, 0x9A, 0x13, 0x25, 0x00, 0x9B, 0xED, 0xC6, 0x5E, 0x53, 0x48,
	0xAF, 0x22, 0xC5, 0x09,
}

func TestParseRawPayloadLenient(t *testing.T) {
	structures, rest := ParseRawPayload(rawAdv)
	if len(structures) != 2 {
		t.Fatalf("got %d structures, want 2", len(structures))
	}
	if flags, ok := GetFlags(structures); !ok || flags != FlagLEGeneralDiscoverableMode|FlagBREDRNotSupported {
		t.Errorf("flags = 0x%02X, %v", flags, ok)
	}
	company, data, ok := GetManufacturerData(structures)
	if !ok || company != 0x0075 || len(data) != 23 {
		t.Errorf("manufacturer data = 0x%04X, %d bytes, %v", company, len(data), ok)
	}
	if !bytes.Equal(rest, []byte{0x09}) {
		t.Errorf("remainder = % x, want 09", rest)
	}

	if _, err := DecodeADStructures(rawAdv); err == nil {
		t.Error("strict decode should reject the trailing byte")
	}
}

func TestParseRawPayloadPadding(t *testing.T) {
	structures, rest := ParseRawPayload([]byte{0x02, 0x01, 0x06, 0x00, 0x00})
	if len(structures) != 1 || rest != nil {
		t.Errorf("structures = %d, rest = % x", len(structures), rest)
	}
}

func TestDecodeADStructures(t *testing.T) {
	raw := []byte{
		0x02, 0x01, 0x06,
		0x09, 0x09, 'S', '-', 'P', 'A', 'T', 'C', 'H', '3',
		0x05, 0xFF, 0x75, 0x00, 0x02, 0x15,
	}
	out, err := DecodeADStructures(raw)
	if err != nil {
		t.Fatalf("DecodeADStructures: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d structures", len(out))
	}
	if GetLocalName(out) != "S-PATCH3" {
		t.Errorf("local name = %q", GetLocalName(out))
	}
	company, data, ok := GetManufacturerData(out)
	if !ok || company != 0x0075 || !bytes.Equal(data, []byte{0x02, 0x15}) {
		t.Errorf("manufacturer data = 0x%04X % x, %v", company, data, ok)
	}
}

func TestValidateRaw(t *testing.T) {
	if err := ValidateRaw(rawAdv); err != nil {
		t.Errorf("31-byte payload rejected: %v", err)
	}
	if err := ValidateRaw(make([]byte, 32)); err == nil {
		t.Error("32-byte payload accepted")
	}
}

func TestDescribe(t *testing.T) {
	got := Describe(rawAdv)
	want := "Flags(06) Manufacturer Specific Data(0x0075, 23 bytes) +1 trailing"
	if got != want {
		t.Errorf("Describe() = %q, want %q", got, want)
	}
	if Describe(nil) != "empty" {
		t.Error("empty payload not described as empty")
	}
}

func TestGet16BitServiceUUIDs(t *testing.T) {
	structures := []ADStructure{
		{Type: ADTypeComplete16BitServiceUUIDs, Data: []byte{0x0A, 0x18, 0xF5, 0xFE}},
		{Type: ADTypeServiceData16Bit, Data: []byte{0x0A, 0x18, 0x09}},
	}
	got := Get16BitServiceUUIDs(structures)
	want := []uint16{0x180A, 0xFEF5, 0x180A}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("uuid[%d] = 0x%04X, want 0x%04X", i, got[i], want[i])
		}
	}
}
