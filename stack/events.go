package stack

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/user/gatts-table/wire/gatt"
)

// GattIfNone addresses every registered profile.
const GattIfNone uint8 = 0xFF

// Status is a GATT status code. Values 0x01..0x11 are ATT error codes.
type Status uint8

const (
	StatusOK                  Status = 0x00
	StatusInvalidHandle       Status = 0x01
	StatusReadNotPermitted    Status = 0x02
	StatusWriteNotPermitted   Status = 0x03
	StatusInvalidPDU          Status = 0x04
	StatusInsufAuthentication Status = 0x05
	StatusRequestNotSupported Status = 0x06
	StatusInvalidOffset       Status = 0x07
	StatusPrepareQueueFull    Status = 0x09
	StatusInvalidAttrLen      Status = 0x0D
	StatusInsufEncryption     Status = 0x0F
	StatusInsufResources      Status = 0x11
	StatusNoResources         Status = 0x80
	StatusInternalError       Status = 0x81
	StatusWrongState          Status = 0x82
	StatusBusy                Status = 0x84
	StatusError               Status = 0x85
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidHandle:
		return "INVALID_HANDLE"
	case StatusReadNotPermitted:
		return "READ_NOT_PERMIT"
	case StatusWriteNotPermitted:
		return "WRITE_NOT_PERMIT"
	case StatusInvalidPDU:
		return "INVALID_PDU"
	case StatusInsufAuthentication:
		return "INSUF_AUTHENTICATION"
	case StatusRequestNotSupported:
		return "REQ_NOT_SUPPORTED"
	case StatusInvalidOffset:
		return "INVALID_OFFSET"
	case StatusPrepareQueueFull:
		return "PREPARE_Q_FULL"
	case StatusInvalidAttrLen:
		return "INVALID_ATTR_LEN"
	case StatusInsufEncryption:
		return "INSUF_ENCRYPTION"
	case StatusInsufResources, StatusNoResources:
		return "NO_RESOURCES"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	case StatusWrongState:
		return "WRONG_STATE"
	case StatusBusy:
		return "BUSY"
	case StatusError:
		return "ERROR"
	}
	return fmt.Sprintf("0x%02X", uint8(s))
}

// BDA is a Bluetooth device address, most significant byte first.
type BDA [6]byte

func (a BDA) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// AddressFor derives a stable locally administered address from a peer id.
func AddressFor(peerID string) BDA {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(peerID))
	var a BDA
	copy(a[:], id[:6])
	a[0] |= 0xC0 // static random
	return a
}

// Event is delivered by the stack. The set is closed: GATTSEvent or GAPEvent.
type Event interface {
	Name() string
}

// GATTSEvent is a GATT server event tagged with its server interface.
type GATTSEvent interface {
	Event
	Interface() uint8
	gatts()
}

// GAPEvent is an advertising or connection event.
type GAPEvent interface {
	Event
	gap()
}

// RegEvent confirms AppRegister.
type RegEvent struct {
	GattsIf uint8
	Status  Status
	AppID   uint16
}

// ReadEvent reports a client read. Auto-response attributes are answered by
// the stack; NeedRsp is set only for application-response attributes.
type ReadEvent struct {
	GattsIf uint8
	ConnID  uint16
	TransID uint32
	BDA     BDA
	Handle  uint16
	Offset  uint16
	IsLong  bool
	NeedRsp bool
}

// WriteEvent reports a write request, write command or prepare write fragment.
type WriteEvent struct {
	GattsIf uint8
	ConnID  uint16
	TransID uint32
	BDA     BDA
	Handle  uint16
	Offset  uint16
	NeedRsp bool
	IsPrep  bool
	Value   []byte
}

// ExecWriteEvent terminates a prepare write sequence.
type ExecWriteEvent struct {
	GattsIf uint8
	ConnID  uint16
	TransID uint32
	BDA     BDA
	Commit  bool
}

// MTUEvent reports the negotiated MTU.
type MTUEvent struct {
	GattsIf uint8
	ConnID  uint16
	MTU     uint16
}

// ConfEvent reports an indication confirmation.
type ConfEvent struct {
	GattsIf uint8
	ConnID  uint16
	Status  Status
	Handle  uint16
}

// StartEvent confirms StartService.
type StartEvent struct {
	GattsIf       uint8
	Status        Status
	ServiceHandle uint16
}

// StopEvent reports a stopped service.
type StopEvent struct {
	GattsIf       uint8
	Status        Status
	ServiceHandle uint16
}

// ConnectEvent reports a new connection.
type ConnectEvent struct {
	GattsIf uint8
	ConnID  uint16
	BDA     BDA
}

// DisconnectEvent reports a dropped connection.
type DisconnectEvent struct {
	GattsIf uint8
	ConnID  uint16
	BDA     BDA
	Reason  uint8
}

// CreateAttrTabEvent confirms CreateAttrTable with the assigned handles.
type CreateAttrTabEvent struct {
	GattsIf     uint8
	Status      Status
	ServiceUUID gatt.UUID
	InstID      uint8
	Handles     []uint16
}

// OpenEvent and CloseEvent report the server side of a connection.
type OpenEvent struct {
	GattsIf uint8
	ConnID  uint16
	BDA     BDA
	Status  Status
}

type CloseEvent struct {
	GattsIf uint8
	ConnID  uint16
	Reason  uint8
}

// CongestEvent reports link congestion changes.
type CongestEvent struct {
	GattsIf   uint8
	ConnID    uint16
	Congested bool
}

// UnregEvent confirms application unregistration.
type UnregEvent struct {
	GattsIf uint8
}

func (e RegEvent) Interface() uint8           { return e.GattsIf }
func (e ReadEvent) Interface() uint8          { return e.GattsIf }
func (e WriteEvent) Interface() uint8         { return e.GattsIf }
func (e ExecWriteEvent) Interface() uint8     { return e.GattsIf }
func (e MTUEvent) Interface() uint8           { return e.GattsIf }
func (e ConfEvent) Interface() uint8          { return e.GattsIf }
func (e StartEvent) Interface() uint8         { return e.GattsIf }
func (e StopEvent) Interface() uint8          { return e.GattsIf }
func (e ConnectEvent) Interface() uint8       { return e.GattsIf }
func (e DisconnectEvent) Interface() uint8    { return e.GattsIf }
func (e CreateAttrTabEvent) Interface() uint8 { return e.GattsIf }
func (e OpenEvent) Interface() uint8          { return e.GattsIf }
func (e CloseEvent) Interface() uint8         { return e.GattsIf }
func (e CongestEvent) Interface() uint8       { return e.GattsIf }
func (e UnregEvent) Interface() uint8         { return e.GattsIf }

func (RegEvent) Name() string           { return "REG" }
func (ReadEvent) Name() string          { return "READ" }
func (WriteEvent) Name() string         { return "WRITE" }
func (ExecWriteEvent) Name() string     { return "EXEC_WRITE" }
func (MTUEvent) Name() string           { return "MTU" }
func (ConfEvent) Name() string          { return "CONF" }
func (StartEvent) Name() string         { return "START" }
func (StopEvent) Name() string          { return "STOP" }
func (ConnectEvent) Name() string       { return "CONNECT" }
func (DisconnectEvent) Name() string    { return "DISCONNECT" }
func (CreateAttrTabEvent) Name() string { return "CREAT_ATTR_TAB" }
func (OpenEvent) Name() string          { return "OPEN" }
func (CloseEvent) Name() string         { return "CLOSE" }
func (CongestEvent) Name() string       { return "CONGEST" }
func (UnregEvent) Name() string         { return "UNREG" }

func (RegEvent) gatts()           {}
func (ReadEvent) gatts()          {}
func (WriteEvent) gatts()         {}
func (ExecWriteEvent) gatts()     {}
func (MTUEvent) gatts()           {}
func (ConfEvent) gatts()          {}
func (StartEvent) gatts()         {}
func (StopEvent) gatts()          {}
func (ConnectEvent) gatts()       {}
func (DisconnectEvent) gatts()    {}
func (CreateAttrTabEvent) gatts() {}
func (OpenEvent) gatts()          {}
func (CloseEvent) gatts()         {}
func (CongestEvent) gatts()       {}
func (UnregEvent) gatts()         {}

// GAP events

type AdvDataRawSetEvent struct{ Status Status }
type ScanRspDataRawSetEvent struct{ Status Status }
type AdvStartEvent struct{ Status Status }
type AdvStopEvent struct{ Status Status }

// UpdateConnParamsEvent reports the parameters in effect after an update.
type UpdateConnParamsEvent struct {
	Status      Status
	BDA         BDA
	IntervalMin uint16
	IntervalMax uint16
	Latency     uint16
	ConnInt     uint16
	Timeout     uint16
}

func (AdvDataRawSetEvent) Name() string     { return "ADV_DATA_RAW_SET_COMPLETE" }
func (ScanRspDataRawSetEvent) Name() string { return "SCAN_RSP_DATA_RAW_SET_COMPLETE" }
func (AdvStartEvent) Name() string          { return "ADV_START_COMPLETE" }
func (AdvStopEvent) Name() string           { return "ADV_STOP_COMPLETE" }
func (UpdateConnParamsEvent) Name() string  { return "UPDATE_CONN_PARAMS" }

func (AdvDataRawSetEvent) gap()     {}
func (ScanRspDataRawSetEvent) gap() {}
func (AdvStartEvent) gap()          {}
func (AdvStopEvent) gap()           {}
func (UpdateConnParamsEvent) gap()  {}
