package gatt

import (
	"strings"
	"testing"
)

func sampleTable() *ServiceTable {
	return &ServiceTable{
		Name: "sample",
		Records: []AttributeRecord{
			ServiceDecl(UUID16(0x180A)),
			CharDecl(PropRead | PropNotify),
			CharValue(UUID16(0x2A29), PermRead|PermWrite, 20, []byte("abc")),
			DescDecl(UUIDClientCharacteristicConfig, PermRead|PermWrite, 2, []byte{0, 0}),
			DescValue(UUID16(0x0229), PermRead|PermWrite, 20, nil),
		},
	}
}

func TestServiceTableValidate(t *testing.T) {
	if err := sampleTable().Validate(); err != nil {
		t.Fatalf("valid table rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ServiceTable)
		want   string
	}{
		{"no service", func(st *ServiceTable) { st.Records = st.Records[1:] }, "record 0"},
		{"dangling char decl", func(st *ServiceTable) { st.Records = st.Records[:2] }, "not followed by its value"},
		{"dangling desc decl", func(st *ServiceTable) { st.Records = st.Records[:4] }, "descriptor declaration"},
		{"value too long", func(st *ServiceTable) { st.Records[2].MaxLen = 2 }, "exceeds max"},
		{"bad uuid", func(st *ServiceTable) { st.Records[2].UUID = UUID{1, 2, 3} }, "UUID length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := sampleTable()
			tt.mutate(st)
			err := st.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestRecordConstructorsCopyValue(t *testing.T) {
	src := []byte("V1.00")
	r := CharValue(UUID16(0x2A26), PermRead, 500, src)
	src[0] = 'X'
	if string(r.Value) != "V1.00" {
		t.Errorf("record aliases caller storage: %q", r.Value)
	}
	if !r.Readable() || r.Writable() {
		t.Error("permission helpers disagree with PermRead")
	}
}

func TestHandleTable(t *testing.T) {
	ht := NewHandleTable(3)
	if ht.Populated() || ht.Handle(1) != 0 {
		t.Fatal("new table should be unset")
	}
	if err := ht.Populate([]uint16{1, 2}); err == nil {
		t.Fatal("short handle list accepted")
	}
	if ht.Populated() {
		t.Fatal("failed populate marked table populated")
	}
	if err := ht.Populate([]uint16{0x28, 0x29, 0x2a}); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if err := ht.Populate([]uint16{1, 2, 3}); err == nil {
		t.Error("second populate accepted")
	}
	if ht.Handle(2) != 0x2a {
		t.Errorf("Handle(2) = 0x%04X", ht.Handle(2))
	}
	if idx, ok := ht.Lookup(0x29); !ok || idx != 1 {
		t.Errorf("Lookup(0x29) = %d, %v", idx, ok)
	}
	if _, ok := ht.Lookup(0x99); ok {
		t.Error("Lookup found unknown handle")
	}
}
