package gatt

import (
	"fmt"
	"sync"
)

// HandleTable maps table indices to the attribute handles the stack
// assigned. It starts zeroed and is populated exactly once.
type HandleTable struct {
	mu        sync.RWMutex
	size      int
	handles   []uint16
	populated bool
}

// NewHandleTable creates an unpopulated table for size records.
func NewHandleTable(size int) *HandleTable {
	return &HandleTable{size: size, handles: make([]uint16, size)}
}

// Size returns the expected record count.
func (h *HandleTable) Size() int {
	return h.size
}

// Populate stores the assigned handles. It fails if the count differs from
// the table size or the table was already populated.
func (h *HandleTable) Populate(handles []uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.populated {
		return fmt.Errorf("gatt: handle table already populated")
	}
	if len(handles) != h.size {
		return fmt.Errorf("gatt: handle count %d does not match table size %d", len(handles), h.size)
	}
	copy(h.handles, handles)
	h.populated = true
	return nil
}

// Populated reports whether Populate has succeeded.
func (h *HandleTable) Populated() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.populated
}

// Handle returns the handle for a record index, 0 when unset or out of range.
func (h *HandleTable) Handle(idx int) uint16 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if idx < 0 || idx >= len(h.handles) {
		return 0
	}
	return h.handles[idx]
}

// Lookup finds the record index owning handle.
func (h *HandleTable) Lookup(handle uint16) (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.populated || handle == 0 {
		return 0, false
	}
	for i, v := range h.handles {
		if v == handle {
			return i, true
		}
	}
	return 0, false
}

// Handles returns a copy of all handles.
func (h *HandleTable) Handles() []uint16 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]uint16(nil), h.handles...)
}
