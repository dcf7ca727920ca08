package att

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRequestCancelled is delivered when the link closes with a request in flight.
var ErrRequestCancelled = errors.New("att: request cancelled (connection closed)")

// DefaultTransactionTimeout is the ATT transaction timeout.
const DefaultTransactionTimeout = 30 * time.Second

// RequestTracker enforces the one-outstanding-request rule of an ATT bearer
// and matches responses to the request that produced them.
type RequestTracker struct {
	mu      sync.Mutex
	pending *pendingRequest
	seq     uint64
	timeout time.Duration
}

type pendingRequest struct {
	seq      uint64
	opcode   uint8
	handle   uint16
	response chan Response
	timer    *time.Timer
	sentAt   time.Time
}

// Response is the outcome of a tracked request.
type Response struct {
	PDU   PDU
	Error error
}

// NewRequestTracker creates a tracker. A zero timeout selects the ATT default.
func NewRequestTracker(timeout time.Duration) *RequestTracker {
	if timeout <= 0 {
		timeout = DefaultTransactionTimeout
	}
	return &RequestTracker{timeout: timeout}
}

// Start registers a request and returns the channel its response arrives on.
func (rt *RequestTracker) Start(opcode uint8, handle uint16) (<-chan Response, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending != nil {
		return nil, fmt.Errorf("att: request already pending (%s on handle 0x%04X)",
			OpcodeName(rt.pending.opcode), rt.pending.handle)
	}

	rt.seq++
	p := &pendingRequest{
		seq:      rt.seq,
		opcode:   opcode,
		handle:   handle,
		response: make(chan Response, 1),
		sentAt:   time.Now(),
	}
	seq := p.seq
	p.timer = time.AfterFunc(rt.timeout, func() { rt.expire(seq) })
	rt.pending = p
	return p.response, nil
}

func (rt *RequestTracker) expire(seq uint64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pending == nil || rt.pending.seq != seq {
		return
	}
	rt.finish(Response{Error: fmt.Errorf("att: request timeout (%s, handle 0x%04X)",
		OpcodeName(rt.pending.opcode), rt.pending.handle)})
}

// finish must be called with mu held.
func (rt *RequestTracker) finish(r Response) {
	p := rt.pending
	rt.pending = nil
	p.timer.Stop()
	p.response <- r
	close(p.response)
}

// Complete delivers a response PDU. An Error Response completes the request
// with an *Error.
func (rt *RequestTracker) Complete(pdu PDU) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending == nil {
		return fmt.Errorf("att: no pending request for %s", OpcodeName(pdu.Opcode()))
	}

	if e, ok := pdu.(*ErrorResponse); ok {
		if e.RequestOpcode != rt.pending.opcode {
			return fmt.Errorf("att: error response for %s while %s is pending",
				OpcodeName(e.RequestOpcode), OpcodeName(rt.pending.opcode))
		}
		rt.finish(Response{PDU: pdu, Error: NewError(e.ErrorCode, e.RequestOpcode, e.Handle)})
		return nil
	}

	if want := ResponseOpcode(rt.pending.opcode); pdu.Opcode() != want {
		return fmt.Errorf("att: unexpected %s for %s (expected %s)",
			OpcodeName(pdu.Opcode()), OpcodeName(rt.pending.opcode), OpcodeName(want))
	}
	rt.finish(Response{PDU: pdu})
	return nil
}

// Cancel fails any in-flight request with ErrRequestCancelled.
func (rt *RequestTracker) Cancel() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pending != nil {
		rt.finish(Response{Error: ErrRequestCancelled})
	}
}

// Pending reports the in-flight request, if any.
func (rt *RequestTracker) Pending() (opcode uint8, handle uint16, age time.Duration, ok bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pending == nil {
		return 0, 0, 0, false
	}
	return rt.pending.opcode, rt.pending.handle, time.Since(rt.pending.sentAt), true
}
