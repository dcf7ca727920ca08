package gatts

import (
	"fmt"
	"sync"

	"github.com/user/gatts-table/stack"
	"github.com/user/gatts-table/wire/att"
	"github.com/user/gatts-table/wire/gatt"
)

// State is the lifecycle phase of a session.
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StateTablesPending
	StateServicesStarted
	StateAdvertising
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateTablesPending:
		return "tables-pending"
	case StateServicesStarted:
		return "services-started"
	case StateAdvertising:
		return "advertising"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Pending advertising configuration
const (
	advConfigFlag     uint8 = 1 << 0
	scanRspConfigFlag uint8 = 1 << 1
)

// service pairs a table definition with the handles the stack assigned to it.
type service struct {
	table   *gatt.ServiceTable
	handles *gatt.HandleTable
	started bool
}

// Session is the per-application server context. The event loop owns every
// field except the subscription and the values exposed through accessors.
type Session struct {
	services []*service // A, B, C in creation order
	sub      Subscription
	prep     *att.PrepareWriteBuffer
	prepMax  int

	advPending uint8

	mu            sync.Mutex
	state         State
	advertising   bool
	peer          stack.BDA
	connID        uint16
	mtu           uint16
	lastCommitted []byte
}

// NewSession builds fresh service tables bounded by the given limits.
func NewSession(charMaxLen, prepareMax int) *Session {
	s := &Session{prepMax: prepareMax}
	for _, t := range []*gatt.ServiceTable{ServiceA(charMaxLen), ServiceB(charMaxLen), ServiceC(charMaxLen)} {
		s.services = append(s.services, &service{table: t, handles: gatt.NewHandleTable(t.Len())})
	}
	return s
}

// Tables returns the service tables in creation order.
func (s *Session) Tables() []*gatt.ServiceTable {
	out := make([]*gatt.ServiceTable, len(s.services))
	for i, svc := range s.services {
		out[i] = svc.table
	}
	return out
}

// DevInfoHandles, DataHandles and ControlHandles return the handle tables
// of services A, B and C.
func (s *Session) DevInfoHandles() *gatt.HandleTable { return s.services[0].handles }
func (s *Session) DataHandles() *gatt.HandleTable    { return s.services[1].handles }
func (s *Session) ControlHandles() *gatt.HandleTable { return s.services[2].handles }

// serviceFor finds the table whose declaration carries id.
func (s *Session) serviceFor(id gatt.UUID) *service {
	for _, svc := range s.services {
		if svc.table.ServiceUUID().Equal(id) {
			return svc
		}
	}
	return nil
}

// Subscription exposes the notification state.
func (s *Session) Subscription() *Subscription {
	return &s.sub
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Advertising reports whether the stack last confirmed advertising started.
func (s *Session) Advertising() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertising
}

// Peer returns the connected peer and connection id.
func (s *Session) Peer() (stack.BDA, uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer, s.connID
}

// MTU returns the last negotiated MTU, 0 before negotiation.
func (s *Session) MTU() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mtu
}

// LastCommitted returns a copy of the value delivered by the last committed
// long write.
func (s *Session) LastCommitted() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.lastCommitted...)
}

// PrepareBuffer returns the active long write buffer, nil when none.
func (s *Session) PrepareBuffer() *att.PrepareWriteBuffer {
	return s.prep
}

// notifyHandle is the value handle the notifier writes to.
func (s *Session) notifyHandle() uint16 {
	return s.DataHandles().Handle(IdxCharValA)
}
