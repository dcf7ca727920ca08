package att

import "fmt"

// MaxPrepareBuffer bounds a reassembled long write.
const MaxPrepareBuffer = 1024

// PrepareWriteBuffer reassembles the fragments of one long write. It is
// allocated on the first accepted fragment and released by Reset. It is not
// safe for concurrent use; the owner serialises access.
type PrepareWriteBuffer struct {
	max    int
	buf    []byte
	extent int
	count  int
}

// NewPrepareWriteBuffer returns an empty buffer bounded by max bytes.
func NewPrepareWriteBuffer(max int) *PrepareWriteBuffer {
	if max <= 0 {
		max = MaxPrepareBuffer
	}
	return &PrepareWriteBuffer{max: max}
}

// Check returns the ATT status a fragment would receive without touching
// the buffer.
func (b *PrepareWriteBuffer) Check(offset uint16, value []byte) uint8 {
	if int(offset) > b.max {
		return ErrInvalidOffset
	}
	if int(offset)+len(value) > b.max {
		return ErrInvalidAttributeValueLength
	}
	return ErrSuccess
}

// Append stores a fragment at offset and returns the ATT status. A rejected
// fragment leaves the buffer unchanged.
func (b *PrepareWriteBuffer) Append(offset uint16, value []byte) uint8 {
	if status := b.Check(offset, value); status != ErrSuccess {
		return status
	}
	if b.buf == nil {
		b.buf = make([]byte, b.max)
		b.extent = 0
	}
	copy(b.buf[offset:], value)
	if end := int(offset) + len(value); end > b.extent {
		b.extent = end
	}
	b.count++
	return ErrSuccess
}

// Active reports whether any fragment has been accepted since the last Reset.
func (b *PrepareWriteBuffer) Active() bool {
	return b.buf != nil
}

// Len returns the reassembled length.
func (b *PrepareWriteBuffer) Len() int {
	return b.extent
}

// Fragments returns the number of accepted fragments.
func (b *PrepareWriteBuffer) Fragments() int {
	return b.count
}

// Value returns a copy of the reassembled bytes.
func (b *PrepareWriteBuffer) Value() []byte {
	if b.buf == nil {
		return nil
	}
	out := make([]byte, b.extent)
	copy(out, b.buf[:b.extent])
	return out
}

// Reset frees the storage and rewinds the cursor.
func (b *PrepareWriteBuffer) Reset() {
	b.buf = nil
	b.extent = 0
	b.count = 0
}

// MaxWriteValue is the largest value a single Write Request carries at mtu.
func MaxWriteValue(mtu int) int {
	if mtu < 23 {
		mtu = 23
	}
	return mtu - 3
}

// SplitLongWrite cuts value into Prepare Write requests sized for mtu.
func SplitLongWrite(handle uint16, value []byte, mtu int) ([]*PrepareWriteRequest, error) {
	if mtu < 23 {
		mtu = 23
	}
	chunk := mtu - 5
	if len(value) > 0xFFFF {
		return nil, fmt.Errorf("att: value too long for prepare write: %d bytes", len(value))
	}

	var reqs []*PrepareWriteRequest
	for off := 0; off < len(value); off += chunk {
		end := off + chunk
		if end > len(value) {
			end = len(value)
		}
		part := make([]byte, end-off)
		copy(part, value[off:end])
		reqs = append(reqs, &PrepareWriteRequest{Handle: handle, Offset: uint16(off), Value: part})
	}
	if len(reqs) == 0 {
		reqs = append(reqs, &PrepareWriteRequest{Handle: handle})
	}
	return reqs, nil
}
