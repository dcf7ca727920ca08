package stack

import (
	"fmt"

	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/wire/advertising"
	"github.com/user/gatts-table/wire/gatt"
	"github.com/user/gatts-table/wire/l2cap"
)

// GATTSHandler receives GATT server events on the stack's event goroutine.
type GATTSHandler func(ev GATTSEvent)

// GAPHandler receives GAP events on the stack's event goroutine.
type GAPHandler func(ev GAPEvent)

// Stack is the BLE host stack as seen by the application. Calls do not block
// on the peer; completion is reported through the registered handlers.
type Stack interface {
	RegisterGATTSCallback(h GATTSHandler) error
	RegisterGAPCallback(h GAPHandler) error
	AppRegister(appID uint16) error
	SetLocalMTU(mtu uint16) error
	SetDeviceName(name string) error
	ConfigAdvDataRaw(raw []byte) error
	ConfigScanRspDataRaw(raw []byte) error
	StartAdvertising(params advertising.Params) error
	StopAdvertising() error
	CreateAttrTable(gattsIf uint8, table *gatt.ServiceTable, instID uint8) error
	StartService(handle uint16) error
	SendResponse(gattsIf uint8, connID uint16, transID uint32, status Status, rsp *Response) error
	SendIndicate(gattsIf uint8, connID uint16, handle uint16, value []byte, needConfirm bool) error
	UpdateConnParams(params ConnParams) error
}

// Response is the attribute value echoed in a write or prepare write response.
type Response struct {
	Handle uint16
	Offset uint16
	Value  []byte
}

// ConnParams is a connection parameter update request for one peer.
type ConnParams struct {
	BDA BDA
	l2cap.ConnectionParameters
}

// Request is a deferred stack call produced by an event handler.
type Request interface {
	Execute(s Stack) error
	String() string
}

type AppRegister struct{ AppID uint16 }
type SetLocalMTU struct{ MTU uint16 }
type SetDeviceName struct{ Name string }
type ConfigAdvDataRaw struct{ Raw []byte }
type ConfigScanRspDataRaw struct{ Raw []byte }
type StartAdvertising struct{ Params advertising.Params }
type StopAdvertising struct{}
type StartService struct{ Handle uint16 }
type UpdateConnParams struct{ Params ConnParams }

type CreateAttrTable struct {
	GattsIf uint8
	Table   *gatt.ServiceTable
	InstID  uint8
}

type SendResponse struct {
	GattsIf uint8
	ConnID  uint16
	TransID uint32
	Status  Status
	Rsp     *Response
}

type SendIndicate struct {
	GattsIf     uint8
	ConnID      uint16
	Handle      uint16
	Value       []byte
	NeedConfirm bool
}

func (r AppRegister) Execute(s Stack) error          { return s.AppRegister(r.AppID) }
func (r SetLocalMTU) Execute(s Stack) error          { return s.SetLocalMTU(r.MTU) }
func (r SetDeviceName) Execute(s Stack) error        { return s.SetDeviceName(r.Name) }
func (r ConfigAdvDataRaw) Execute(s Stack) error     { return s.ConfigAdvDataRaw(r.Raw) }
func (r ConfigScanRspDataRaw) Execute(s Stack) error { return s.ConfigScanRspDataRaw(r.Raw) }
func (r StartAdvertising) Execute(s Stack) error     { return s.StartAdvertising(r.Params) }
func (r StopAdvertising) Execute(s Stack) error      { return s.StopAdvertising() }
func (r StartService) Execute(s Stack) error         { return s.StartService(r.Handle) }
func (r UpdateConnParams) Execute(s Stack) error     { return s.UpdateConnParams(r.Params) }

func (r CreateAttrTable) Execute(s Stack) error {
	return s.CreateAttrTable(r.GattsIf, r.Table, r.InstID)
}

func (r SendResponse) Execute(s Stack) error {
	return s.SendResponse(r.GattsIf, r.ConnID, r.TransID, r.Status, r.Rsp)
}

func (r SendIndicate) Execute(s Stack) error {
	return s.SendIndicate(r.GattsIf, r.ConnID, r.Handle, r.Value, r.NeedConfirm)
}

func (r AppRegister) String() string   { return fmt.Sprintf("AppRegister(0x%02X)", r.AppID) }
func (r SetLocalMTU) String() string   { return fmt.Sprintf("SetLocalMTU(%d)", r.MTU) }
func (r SetDeviceName) String() string { return fmt.Sprintf("SetDeviceName(%q)", r.Name) }
func (r ConfigAdvDataRaw) String() string {
	return fmt.Sprintf("ConfigAdvDataRaw(%s)", advertising.Describe(r.Raw))
}
func (r ConfigScanRspDataRaw) String() string {
	return fmt.Sprintf("ConfigScanRspDataRaw(%s)", advertising.Describe(r.Raw))
}
func (r StartAdvertising) String() string {
	return fmt.Sprintf("StartAdvertising(%s %.1f-%.1fms)", r.Params.Type, r.Params.IntervalMinMs(), r.Params.IntervalMaxMs())
}
func (r StopAdvertising) String() string { return "StopAdvertising()" }
func (r StartService) String() string    { return fmt.Sprintf("StartService(0x%04X)", r.Handle) }
func (r UpdateConnParams) String() string {
	p := r.Params
	return fmt.Sprintf("UpdateConnParams(%s interval=%.2f-%.2fms latency=%d timeout=%dms)",
		p.BDA, p.IntervalMinMs(), p.IntervalMaxMs(), p.Latency, p.TimeoutMs())
}
func (r CreateAttrTable) String() string {
	return fmt.Sprintf("CreateAttrTable(if=%d %s records=%d inst=%d)", r.GattsIf, r.Table.Name, r.Table.Len(), r.InstID)
}
func (r SendResponse) String() string {
	if r.Rsp == nil {
		return fmt.Sprintf("SendResponse(conn=%d trans=%d %s)", r.ConnID, r.TransID, r.Status)
	}
	return fmt.Sprintf("SendResponse(conn=%d trans=%d %s handle=0x%04X offset=%d len=%d)",
		r.ConnID, r.TransID, r.Status, r.Rsp.Handle, r.Rsp.Offset, len(r.Rsp.Value))
}
func (r SendIndicate) String() string {
	kind := "notify"
	if r.NeedConfirm {
		kind = "indicate"
	}
	return fmt.Sprintf("SendIndicate(conn=%d handle=0x%04X %s len=%d)", r.ConnID, r.Handle, kind, len(r.Value))
}

// Execute runs requests in order. Failures are logged and do not stop the
// remaining requests; the first error is returned.
func Execute(s Stack, prefix string, reqs []Request) error {
	var first error
	for _, r := range reqs {
		logger.Debug(prefix, "-> %s", r)
		if err := r.Execute(s); err != nil {
			logger.Warn(prefix, "%s failed: %v", r, err)
			if first == nil {
				first = fmt.Errorf("%s: %w", r, err)
			}
		}
	}
	return first
}
