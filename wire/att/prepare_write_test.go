package att

import (
	"bytes"
	"testing"
)

func TestPrepareWriteBufferReassembly(t *testing.T) {
	b := NewPrepareWriteBuffer(MaxPrepareBuffer)
	if b.Active() {
		t.Fatal("new buffer should be inactive")
	}

	fragments := [][]byte{
		bytes.Repeat([]byte{0x01}, 18),
		bytes.Repeat([]byte{0x02}, 18),
		{0x03, 0x04},
	}
	offset := 0
	for _, f := range fragments {
		if status := b.Append(uint16(offset), f); status != ErrSuccess {
			t.Fatalf("Append(%d) status = 0x%02X", offset, status)
		}
		offset += len(f)
	}

	want := bytes.Join(fragments, nil)
	if got := b.Value(); !bytes.Equal(got, want) {
		t.Errorf("Value() = % x, want % x", got, want)
	}
	if b.Len() != 38 || b.Fragments() != 3 {
		t.Errorf("Len() = %d, Fragments() = %d", b.Len(), b.Fragments())
	}

	b.Reset()
	if b.Active() || b.Len() != 0 || b.Value() != nil {
		t.Error("Reset should free the buffer")
	}
}

func TestPrepareWriteBufferOutOfOrder(t *testing.T) {
	b := NewPrepareWriteBuffer(MaxPrepareBuffer)
	if status := b.Append(6, []byte("world")); status != ErrSuccess {
		t.Fatalf("Append(6) status = 0x%02X", status)
	}
	if status := b.Append(0, []byte("hello ")); status != ErrSuccess {
		t.Fatalf("Append(0) status = 0x%02X", status)
	}
	if got := string(b.Value()); got != "hello world" {
		t.Errorf("Value() = %q, want %q", got, "hello world")
	}
	if b.Len() != 11 || b.Fragments() != 2 {
		t.Errorf("Len() = %d, Fragments() = %d", b.Len(), b.Fragments())
	}
}

func TestPrepareWriteBufferBounds(t *testing.T) {
	tests := []struct {
		name   string
		offset uint16
		size   int
		want   uint8
	}{
		{"fits exactly", 1000, 24, ErrSuccess},
		{"offset at limit", 1024, 0, ErrSuccess},
		{"offset beyond limit", 1025, 1, ErrInvalidOffset},
		{"length overflow", 1000, 25, ErrInvalidAttributeValueLength},
		{"first fragment overflow", 0, 1025, ErrInvalidAttributeValueLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewPrepareWriteBuffer(MaxPrepareBuffer)
			if got := b.Append(tt.offset, make([]byte, tt.size)); got != tt.want {
				t.Errorf("Append() = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

func TestPrepareWriteBufferRejectedFragmentLeavesState(t *testing.T) {
	b := NewPrepareWriteBuffer(MaxPrepareBuffer)
	b.Append(0, []byte{0xaa, 0xbb})

	if status := b.Append(1020, make([]byte, 10)); status != ErrInvalidAttributeValueLength {
		t.Fatalf("status = 0x%02X", status)
	}
	if got := b.Value(); !bytes.Equal(got, []byte{0xaa, 0xbb}) {
		t.Errorf("rejected fragment changed buffer: % x", got)
	}
}

func TestSplitLongWrite(t *testing.T) {
	value := make([]byte, 50)
	for i := range value {
		value[i] = byte(i)
	}
	reqs, err := SplitLongWrite(0x20, value, 23)
	if err != nil {
		t.Fatalf("SplitLongWrite: %v", err)
	}
	if len(reqs) != 3 {
		t.Fatalf("got %d fragments, want 3", len(reqs))
	}

	var joined []byte
	for i, r := range reqs {
		if int(r.Offset) != i*18 {
			t.Errorf("fragment %d offset = %d", i, r.Offset)
		}
		joined = append(joined, r.Value...)
	}
	if !bytes.Equal(joined, value) {
		t.Error("fragments do not reassemble to the original value")
	}
}
