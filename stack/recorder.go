package stack

import (
	"fmt"
	"sync"

	"github.com/user/gatts-table/wire/advertising"
	"github.com/user/gatts-table/wire/gatt"
)

// Recorder is a Stack that records every call as a Request. Tests drive the
// registered handlers through Emit.
type Recorder struct {
	mu       sync.Mutex
	requests []Request
	fail     map[string]error

	gattsHandler GATTSHandler
	gapHandler   GAPHandler
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[string]error)}
}

// FailOn makes the named method (e.g. "AppRegister") return err.
func (r *Recorder) FailOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[method] = err
}

func (r *Recorder) record(method string, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[method]; err != nil {
		return err
	}
	r.requests = append(r.requests, req)
	return nil
}

// Requests returns a copy of the recorded calls.
func (r *Recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = nil
}

// Emit delivers ev to the registered GATTS or GAP handler.
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	gatts, gap := r.gattsHandler, r.gapHandler
	r.mu.Unlock()
	switch e := ev.(type) {
	case GATTSEvent:
		if gatts != nil {
			gatts(e)
		}
	case GAPEvent:
		if gap != nil {
			gap(e)
		}
	default:
		panic(fmt.Sprintf("stack: unknown event %T", ev))
	}
}

// Of returns the recorded requests of type T.
func Of[T Request](reqs []Request) []T {
	var out []T
	for _, req := range reqs {
		if t, ok := req.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

func (r *Recorder) RegisterGATTSCallback(h GATTSHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail["RegisterGATTSCallback"]; err != nil {
		return err
	}
	r.gattsHandler = h
	return nil
}

func (r *Recorder) RegisterGAPCallback(h GAPHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail["RegisterGAPCallback"]; err != nil {
		return err
	}
	r.gapHandler = h
	return nil
}

func (r *Recorder) AppRegister(appID uint16) error {
	return r.record("AppRegister", AppRegister{AppID: appID})
}

func (r *Recorder) SetLocalMTU(mtu uint16) error {
	return r.record("SetLocalMTU", SetLocalMTU{MTU: mtu})
}

func (r *Recorder) SetDeviceName(name string) error {
	return r.record("SetDeviceName", SetDeviceName{Name: name})
}

func (r *Recorder) ConfigAdvDataRaw(raw []byte) error {
	return r.record("ConfigAdvDataRaw", ConfigAdvDataRaw{Raw: append([]byte(nil), raw...)})
}

func (r *Recorder) ConfigScanRspDataRaw(raw []byte) error {
	return r.record("ConfigScanRspDataRaw", ConfigScanRspDataRaw{Raw: append([]byte(nil), raw...)})
}

func (r *Recorder) StartAdvertising(params advertising.Params) error {
	return r.record("StartAdvertising", StartAdvertising{Params: params})
}

func (r *Recorder) StopAdvertising() error {
	return r.record("StopAdvertising", StopAdvertising{})
}

func (r *Recorder) CreateAttrTable(gattsIf uint8, table *gatt.ServiceTable, instID uint8) error {
	return r.record("CreateAttrTable", CreateAttrTable{GattsIf: gattsIf, Table: table, InstID: instID})
}

func (r *Recorder) StartService(handle uint16) error {
	return r.record("StartService", StartService{Handle: handle})
}

func (r *Recorder) SendResponse(gattsIf uint8, connID uint16, transID uint32, status Status, rsp *Response) error {
	return r.record("SendResponse", SendResponse{GattsIf: gattsIf, ConnID: connID, TransID: transID, Status: status, Rsp: rsp})
}

func (r *Recorder) SendIndicate(gattsIf uint8, connID uint16, handle uint16, value []byte, needConfirm bool) error {
	return r.record("SendIndicate", SendIndicate{
		GattsIf:     gattsIf,
		ConnID:      connID,
		Handle:      handle,
		Value:       append([]byte(nil), value...),
		NeedConfirm: needConfirm,
	})
}

func (r *Recorder) UpdateConnParams(params ConnParams) error {
	return r.record("UpdateConnParams", UpdateConnParams{Params: params})
}

var _ Stack = (*Recorder)(nil)
