package gatts

import (
	"encoding/binary"

	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/stack"
	"github.com/user/gatts-table/wire/advertising"
	"github.com/user/gatts-table/wire/att"
	"github.com/user/gatts-table/wire/gatt"
	"github.com/user/gatts-table/wire/l2cap"
)

// Payload sizes pushed on subscription.
const (
	notifyBurstCount = 20
	notifyBurstLen   = 20
	indicateLen      = 15
)

// ProfileConfig carries the values the profile hands to the stack.
type ProfileConfig struct {
	AppID      uint16
	DeviceName string
	RawAdv     []byte
	RawScanRsp []byte
	AdvParams  advertising.Params
	ConnParams l2cap.ConnectionParameters
}

// Profile reacts to the events of one registered application. Each arm
// updates the session and returns the stack calls to make.
type Profile struct {
	cfg     ProfileConfig
	session *Session
	gattsIf uint8
	prefix  string
}

// NewProfile creates an unregistered profile over session.
func NewProfile(cfg ProfileConfig, session *Session, prefix string) *Profile {
	return &Profile{cfg: cfg, session: session, gattsIf: stack.GattIfNone, prefix: prefix}
}

// AppID returns the application id the profile registers with.
func (p *Profile) AppID() uint16 { return p.cfg.AppID }

// Interface returns the gatts_if bound at registration, GattIfNone before.
func (p *Profile) Interface() uint8 { return p.gattsIf }

// Session returns the profile's server context.
func (p *Profile) Session() *Session { return p.session }

// HandleGATTS routes a GATT server event to its arm.
func (p *Profile) HandleGATTS(ev stack.GATTSEvent) []stack.Request {
	switch e := ev.(type) {
	case stack.RegEvent:
		return p.onReg(e)
	case stack.CreateAttrTabEvent:
		return p.onCreateAttrTab(e)
	case stack.WriteEvent:
		if e.IsPrep {
			return p.onPrepareWrite(e)
		}
		return p.onWrite(e)
	case stack.ExecWriteEvent:
		return p.onExecWrite(e)
	case stack.ConnectEvent:
		return p.onConnect(e)
	case stack.DisconnectEvent:
		return p.onDisconnect(e)
	case stack.MTUEvent:
		logger.Info(p.prefix, "MTU exchanged: conn=%d mtu=%d", e.ConnID, e.MTU)
		p.session.mu.Lock()
		p.session.mtu = e.MTU
		p.session.mu.Unlock()
	case stack.ReadEvent:
		logger.Debug(p.prefix, "read: conn=%d handle=%d offset=%d", e.ConnID, e.Handle, e.Offset)
	case stack.ConfEvent:
		logger.Info(p.prefix, "confirm received: status=%s handle=%d", e.Status, e.Handle)
	case stack.StartEvent:
		logger.Info(p.prefix, "service started: status=%s handle=%d", e.Status, e.ServiceHandle)
	case stack.StopEvent, stack.OpenEvent, stack.CloseEvent, stack.UnregEvent:
		logger.Debug(p.prefix, "%s", ev.Name())
	case stack.CongestEvent:
		logger.Debug(p.prefix, "congestion: conn=%d congested=%t", e.ConnID, e.Congested)
	}
	return nil
}

func (p *Profile) onReg(e stack.RegEvent) []stack.Request {
	logger.Info(p.prefix, "registered app 0x%02X as gatts_if %d", e.AppID, e.GattsIf)
	p.session.setState(StateRegistered)
	p.session.advPending |= advConfigFlag | scanRspConfigFlag

	reqs := []stack.Request{
		stack.SetDeviceName{Name: p.cfg.DeviceName},
		stack.ConfigAdvDataRaw{Raw: p.cfg.RawAdv},
		stack.ConfigScanRspDataRaw{Raw: p.cfg.RawScanRsp},
	}
	for _, t := range p.session.Tables() {
		reqs = append(reqs, stack.CreateAttrTable{GattsIf: e.GattsIf, Table: t})
	}
	p.session.setState(StateTablesPending)
	return reqs
}

func (p *Profile) onCreateAttrTab(e stack.CreateAttrTabEvent) []stack.Request {
	if e.Status != stack.StatusOK {
		logger.Error(p.prefix, "create attribute table failed: status=%s", e.Status)
		return nil
	}
	svc := p.session.serviceFor(e.ServiceUUID)
	if svc == nil {
		logger.Error(p.prefix, "attribute table created for unknown service %s", e.ServiceUUID)
		return nil
	}
	if len(e.Handles) != svc.table.Len() {
		logger.Error(p.prefix, "create attribute table abnormally: %s got %d handles, want %d",
			svc.table.Name, len(e.Handles), svc.table.Len())
		return nil
	}
	if err := svc.handles.Populate(e.Handles); err != nil {
		logger.Error(p.prefix, "%s: %v", svc.table.Name, err)
		return nil
	}
	logger.Info(p.prefix, "attribute table %s created: %d handles from 0x%04X", svc.table.Name, len(e.Handles), e.Handles[0])
	svc.started = true

	if p.allStarted() && p.session.State() < StateServicesStarted {
		p.session.setState(StateServicesStarted)
	}
	return []stack.Request{stack.StartService{Handle: e.Handles[0]}}
}

func (p *Profile) allStarted() bool {
	for _, svc := range p.session.services {
		if !svc.started {
			return false
		}
	}
	return true
}

func (p *Profile) onWrite(e stack.WriteEvent) []stack.Request {
	logger.Info(p.prefix, "write: handle=%d len=%d", e.Handle, len(e.Value))
	logger.HexDump(p.prefix, "value", e.Value)

	signature := IsCommandSignature(e.Value)
	if signature {
		logger.Info(p.prefix, "command signature received, sending armed")
		p.session.Subscription().Arm()
	}

	var reqs []stack.Request
	cfgHandle := p.session.DataHandles().Handle(IdxCharCfgA)
	if cfgHandle != 0 && e.Handle == cfgHandle && len(e.Value) == 2 {
		reqs = append(reqs, p.onConfigWrite(e, signature)...)
	}

	if e.NeedRsp {
		reqs = append(reqs, stack.SendResponse{
			GattsIf: e.GattsIf,
			ConnID:  e.ConnID,
			TransID: e.TransID,
			Status:  stack.StatusOK,
		})
	}
	return reqs
}

// onConfigWrite handles a two-byte write to the TX characteristic's
// configuration descriptor. The notification burst only follows when the
// same write carried a command signature; earlier arming does not count.
func (p *Profile) onConfigWrite(e stack.WriteEvent, signature bool) []stack.Request {
	sub := p.session.Subscription()
	valueHandle := p.session.notifyHandle()
	v := binary.LittleEndian.Uint16(e.Value)

	switch v {
	case gatt.CCCDNotify:
		logger.Info(p.prefix, "notify enabled: conn=%d", e.ConnID)
		sub.EnableNotify(e.GattsIf, e.ConnID)
		if !signature {
			return nil
		}
		reqs := make([]stack.Request, 0, notifyBurstCount)
		for n := 0; n < notifyBurstCount; n++ {
			reqs = append(reqs, stack.SendIndicate{
				GattsIf: e.GattsIf,
				ConnID:  e.ConnID,
				Handle:  valueHandle,
				Value:   ramp(notifyBurstLen, 0),
			})
		}
		return reqs

	case gatt.CCCDIndicate:
		logger.Info(p.prefix, "indicate enabled: conn=%d", e.ConnID)
		sub.EnableIndicate(e.GattsIf, e.ConnID)
		return []stack.Request{stack.SendIndicate{
			GattsIf:     e.GattsIf,
			ConnID:      e.ConnID,
			Handle:      valueHandle,
			Value:       ramp(indicateLen, 0),
			NeedConfirm: true,
		}}

	case gatt.CCCDDisabled:
		logger.Info(p.prefix, "notify/indicate disabled")
		sub.Disable()

	default:
		logger.Error(p.prefix, "unknown descriptor value 0x%04X", v)
		logger.HexDump(p.prefix, "descriptor", e.Value)
	}
	return nil
}

func (p *Profile) onPrepareWrite(e stack.WriteEvent) []stack.Request {
	logger.Info(p.prefix, "prepare write: handle=%d offset=%d len=%d", e.Handle, e.Offset, len(e.Value))
	if p.session.prep == nil {
		p.session.prep = att.NewPrepareWriteBuffer(p.session.prepMax)
	}

	status := stack.Status(p.session.prep.Append(e.Offset, e.Value))
	if status != stack.StatusOK {
		logger.Warn(p.prefix, "prepare write rejected: %s", status)
	}
	if !e.NeedRsp {
		return nil
	}
	return []stack.Request{stack.SendResponse{
		GattsIf: e.GattsIf,
		ConnID:  e.ConnID,
		TransID: e.TransID,
		Status:  status,
		Rsp: &stack.Response{
			Handle: e.Handle,
			Offset: e.Offset,
			Value:  append([]byte(nil), e.Value...),
		},
	}}
}

func (p *Profile) onExecWrite(e stack.ExecWriteEvent) []stack.Request {
	buf := p.session.prep
	switch {
	case e.Commit && buf != nil && buf.Active():
		value := buf.Value()
		logger.Info(p.prefix, "long write committed: %d fragments, %d bytes", buf.Fragments(), len(value))
		logger.HexDump(p.prefix, "committed", value)
		p.session.mu.Lock()
		p.session.lastCommitted = value
		p.session.mu.Unlock()
	case e.Commit:
		logger.Info(p.prefix, "execute write with nothing prepared")
	default:
		logger.Info(p.prefix, "prepare write cancelled")
	}
	p.session.prep = nil
	return nil
}

func (p *Profile) onConnect(e stack.ConnectEvent) []stack.Request {
	logger.Info(p.prefix, "connected: conn=%d peer=%s", e.ConnID, e.BDA)
	p.session.mu.Lock()
	p.session.peer = e.BDA
	p.session.connID = e.ConnID
	p.session.advertising = false
	p.session.state = StateConnected
	p.session.mu.Unlock()

	return []stack.Request{stack.UpdateConnParams{Params: stack.ConnParams{
		BDA:                  e.BDA,
		ConnectionParameters: p.cfg.ConnParams,
	}}}
}

func (p *Profile) onDisconnect(e stack.DisconnectEvent) []stack.Request {
	logger.Info(p.prefix, "disconnected: conn=%d reason=0x%02X", e.ConnID, e.Reason)
	p.session.Subscription().Clear()
	p.session.prep = nil
	p.session.mu.Lock()
	p.session.peer = stack.BDA{}
	p.session.connID = 0
	p.session.mtu = 0
	p.session.state = StateDisconnected
	p.session.mu.Unlock()

	return []stack.Request{stack.StartAdvertising{Params: p.cfg.AdvParams}}
}

// ramp returns n bytes of (i+j) % 0xff.
func ramp(n, j int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte((i + j) % 0xff)
	}
	return out
}
