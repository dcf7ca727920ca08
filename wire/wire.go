package wire

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/stack"
	"github.com/user/gatts-table/util"
	"github.com/user/gatts-table/wire/advertising"
	"github.com/user/gatts-table/wire/att"
	"github.com/user/gatts-table/wire/debug"
	"github.com/user/gatts-table/wire/gatt"
)

// Wire is a simulated BLE host stack serving one attribute database.
// It listens on {dataDir}/sockets/gatts-{deviceID}.sock and speaks
// L2CAP/ATT PDUs to at most one connected central. Events reach the
// registered handlers from a single event-loop goroutine.
//
// While advertising, the raw advertising and scan response payloads are
// published under {dataDir}/{deviceID}/ where Scan finds them.
type Wire struct {
	deviceID string
	prefix   string
	db       *gatt.AttributeDatabase
	queue    *eventQueue

	mu          sync.RWMutex
	listener    net.Listener
	socketPath  string
	started     bool
	stopped     bool
	localMTU    uint16
	deviceName  string
	advData     []byte
	scanRsp     []byte
	advParams   advertising.Params
	advertising bool
	apps        map[uint16]uint8 // app id -> gatts_if
	nextIf      uint8
	owners      []tableOwner
	conn        *Connection
	nextConnID  uint16
	nextTransID uint32
	pending     map[uint32]*pendingResponse
	sigID       uint8
	sigPending  map[uint8]stack.ConnParams

	callbackMu sync.RWMutex
	gattsCb    stack.GATTSHandler
	gapCb      stack.GAPHandler

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Audit logging
	connectionEventLog  *ConnectionEventLogger
	socketHealthMonitor *SocketHealthMonitor

	// Debug logging (binary protocol packets)
	debugLogger *debug.DebugLogger
}

// tableOwner maps a created service table's handle range to its app.
type tableOwner struct {
	first   uint16
	last    uint16
	gattsIf uint8
	started bool
}

// pendingResponse is a request forwarded to the application that waits
// for SendResponse.
type pendingResponse struct {
	opcode uint8
	handle uint16
	offset uint16
	connID uint16
	value  []byte
}

var _ stack.Stack = (*Wire)(nil)

// NewWire creates a stack for deviceID. trace enables the JSONL packet,
// event and connection logs under the device's data directory.
func NewWire(deviceID string, trace bool) *Wire {
	return &Wire{
		deviceID:            deviceID,
		prefix:              logPrefix(deviceID),
		db:                  gatt.NewAttributeDatabase(),
		queue:               newEventQueue(),
		localMTU:            att.DefaultMTU,
		advParams:           advertising.DefaultParams(),
		apps:                make(map[uint16]uint8),
		nextIf:              FirstGattsIf,
		pending:             make(map[uint32]*pendingResponse),
		sigPending:          make(map[uint8]stack.ConnParams),
		stopChan:            make(chan struct{}),
		connectionEventLog:  NewConnectionEventLogger(deviceID, trace),
		socketHealthMonitor: NewSocketHealthMonitor(deviceID, trace),
		debugLogger:         debug.NewDebugLogger(deviceID, trace),
	}
}

// Start begins listening on the Unix domain socket and runs the event loop.
func (w *Wire) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("wire %s already started", shortHash(w.deviceID))
	}
	w.started = true
	w.mu.Unlock()

	path, err := util.SocketPath(w.deviceID)
	if err != nil {
		return err
	}
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", path, err)
	}

	w.mu.Lock()
	w.listener = listener
	w.socketPath = path
	w.mu.Unlock()

	w.connectionEventLog.LogSocketCreated(path)
	w.socketHealthMonitor.InitializeSocket(path)
	w.socketHealthMonitor.StartPeriodicSnapshots()

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.queue.run(w.stopChan)
	}()
	go w.acceptConnections()

	logger.Info(w.prefix, "📡 listening on %s", path)
	return nil
}

// Stop closes the listener and any link, stops the event loop and removes
// the socket and advertisement files. It is safe to call more than once.
func (w *Wire) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)

		w.mu.Lock()
		w.stopped = true
		w.advertising = false
		listener := w.listener
		c := w.conn
		w.conn = nil
		path := w.socketPath
		w.mu.Unlock()

		if listener != nil {
			listener.Close()
		}
		if c != nil {
			c.markLocalClose()
			c.conn.Close()
		}
		w.wg.Wait()

		w.withdrawAdvertisement()
		w.socketHealthMonitor.MarkSocketClosed()
		w.socketHealthMonitor.Stop()
		w.connectionEventLog.LogSocketClosed(path, "shutdown")
		if path != "" {
			os.Remove(path)
		}
		logger.Debug(w.prefix, "🛑 stopped")
	})
}

// ID returns the device id the wire listens as.
func (w *Wire) ID() string { return w.deviceID }

// Database returns the live attribute database.
func (w *Wire) Database() *gatt.AttributeDatabase { return w.db }

// Health returns a copy of the link statistics.
func (w *Wire) Health() SocketHealthSnapshot { return w.socketHealthMonitor.Snapshot() }

// Advertising reports whether the device accepts connections.
func (w *Wire) Advertising() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.advertising
}

// DeviceName returns the name set with SetDeviceName.
func (w *Wire) DeviceName() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.deviceName
}

// LocalMTU returns the MTU offered to peers.
func (w *Wire) LocalMTU() uint16 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.localMTU
}

// RegisterGATTSCallback installs the GATT server event handler.
func (w *Wire) RegisterGATTSCallback(h stack.GATTSHandler) error {
	if h == nil {
		return fmt.Errorf("nil GATTS handler")
	}
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.gattsCb = h
	return nil
}

// RegisterGAPCallback installs the GAP event handler.
func (w *Wire) RegisterGAPCallback(h stack.GAPHandler) error {
	if h == nil {
		return fmt.Errorf("nil GAP handler")
	}
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.gapCb = h
	return nil
}

// AppRegister assigns a gatts_if to appID and reports it with REG.
func (w *Wire) AppRegister(appID uint16) error {
	w.mu.Lock()
	if _, exists := w.apps[appID]; exists {
		w.mu.Unlock()
		return fmt.Errorf("app 0x%04X already registered", appID)
	}
	gattsIf := w.nextIf
	w.nextIf++
	w.apps[appID] = gattsIf
	w.mu.Unlock()

	logger.Debug(w.prefix, "app 0x%04X registered as gatts_if %d", appID, gattsIf)
	w.emitGATTS(stack.RegEvent{GattsIf: gattsIf, Status: stack.StatusOK, AppID: appID})
	return nil
}

// SetLocalMTU sets the MTU answered to Exchange MTU requests.
func (w *Wire) SetLocalMTU(mtu uint16) error {
	if mtu < att.DefaultMTU || mtu > att.MaxMTU {
		return fmt.Errorf("local MTU %d outside %d..%d", mtu, att.DefaultMTU, att.MaxMTU)
	}
	w.mu.Lock()
	w.localMTU = mtu
	w.mu.Unlock()
	return nil
}

// SetDeviceName sets the GAP device name.
func (w *Wire) SetDeviceName(name string) error {
	if len(name) > 248 {
		return fmt.Errorf("device name is %d bytes, limit 248", len(name))
	}
	w.mu.Lock()
	w.deviceName = name
	w.mu.Unlock()
	return nil
}

// ConfigAdvDataRaw stores the raw advertising payload.
func (w *Wire) ConfigAdvDataRaw(raw []byte) error {
	if err := advertising.ValidateRaw(raw); err != nil {
		return err
	}
	w.mu.Lock()
	w.advData = append([]byte(nil), raw...)
	republish := w.advertising
	w.mu.Unlock()

	logger.Debug(w.prefix, "adv data: %s", advertising.Describe(raw))
	if republish {
		w.publishAdvertisement()
	}
	w.emitGAP(stack.AdvDataRawSetEvent{Status: stack.StatusOK})
	return nil
}

// ConfigScanRspDataRaw stores the raw scan response payload.
func (w *Wire) ConfigScanRspDataRaw(raw []byte) error {
	if err := advertising.ValidateRaw(raw); err != nil {
		return err
	}
	w.mu.Lock()
	w.scanRsp = append([]byte(nil), raw...)
	republish := w.advertising
	w.mu.Unlock()

	logger.Debug(w.prefix, "scan rsp data: %s", advertising.Describe(raw))
	if republish {
		w.publishAdvertisement()
	}
	w.emitGAP(stack.ScanRspDataRawSetEvent{Status: stack.StatusOK})
	return nil
}

// StartAdvertising publishes the advertisement and accepts connections.
func (w *Wire) StartAdvertising(params advertising.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return fmt.Errorf("wire %s not running", shortHash(w.deviceID))
	}
	w.advParams = params
	w.advertising = true
	w.mu.Unlock()

	w.publishAdvertisement()
	logger.Debug(w.prefix, "📢 advertising %s every %.2f-%.2fms", params.Type, params.IntervalMinMs(), params.IntervalMaxMs())
	w.emitGAP(stack.AdvStartEvent{Status: stack.StatusOK})
	return nil
}

// StopAdvertising withdraws the advertisement.
func (w *Wire) StopAdvertising() error {
	w.mu.Lock()
	w.advertising = false
	w.mu.Unlock()

	w.withdrawAdvertisement()
	w.emitGAP(stack.AdvStopEvent{Status: stack.StatusOK})
	return nil
}

// CreateAttrTable adds table to the database and reports the assigned
// handles with CREAT_ATTR_TAB. A table the database rejects is reported
// with an error status.
func (w *Wire) CreateAttrTable(gattsIf uint8, table *gatt.ServiceTable, instID uint8) error {
	if table == nil || table.Len() == 0 {
		return fmt.Errorf("empty attribute table")
	}
	if !w.knownInterface(gattsIf) {
		return fmt.Errorf("unknown gatts_if %d", gattsIf)
	}

	ev := stack.CreateAttrTabEvent{GattsIf: gattsIf, ServiceUUID: table.ServiceUUID(), InstID: instID}
	handles, err := w.db.AddTable(table)
	if err != nil {
		logger.Warn(w.prefix, "❌ create attr table %q failed: %v", table.Name, err)
		ev.Status = stack.StatusError
	} else {
		ev.Status = stack.StatusOK
		ev.Handles = handles
		w.mu.Lock()
		w.owners = append(w.owners, tableOwner{first: handles[0], last: handles[len(handles)-1], gattsIf: gattsIf})
		w.mu.Unlock()
		logger.Debug(w.prefix, "table %q: handles 0x%04X-0x%04X", table.Name, handles[0], handles[len(handles)-1])
	}
	w.emitGATTS(ev)
	return nil
}

// StartService marks the service declared at handle as started.
func (w *Wire) StartService(handle uint16) error {
	w.mu.Lock()
	var gattsIf uint8
	found := false
	for i := range w.owners {
		if w.owners[i].first == handle {
			w.owners[i].started = true
			gattsIf = w.owners[i].gattsIf
			found = true
			break
		}
	}
	w.mu.Unlock()
	if !found {
		return fmt.Errorf("no service declared at handle 0x%04X", handle)
	}

	w.emitGATTS(stack.StartEvent{GattsIf: gattsIf, Status: stack.StatusOK, ServiceHandle: handle})
	return nil
}

// SendResponse completes a request the stack forwarded with NeedRsp.
func (w *Wire) SendResponse(gattsIf uint8, connID uint16, transID uint32, status stack.Status, rsp *stack.Response) error {
	w.mu.Lock()
	p, ok := w.pending[transID]
	if ok {
		delete(w.pending, transID)
	}
	c := w.conn
	w.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown transaction %d", transID)
	}
	if c == nil || c.connID != connID || p.connID != connID {
		return fmt.Errorf("conn %d not connected", connID)
	}

	var pdu att.PDU
	if status != stack.StatusOK {
		pdu = &att.ErrorResponse{RequestOpcode: p.opcode, Handle: p.handle, ErrorCode: uint8(status)}
	} else {
		switch p.opcode {
		case att.OpWriteRequest:
			pdu = &att.WriteResponse{}
		case att.OpPrepareWriteRequest:
			echo := &att.PrepareWriteResponse{Handle: p.handle, Offset: p.offset, Value: p.value}
			if rsp != nil {
				echo = &att.PrepareWriteResponse{Handle: rsp.Handle, Offset: rsp.Offset, Value: rsp.Value}
			}
			pdu = echo
		case att.OpReadRequest:
			pdu = &att.ReadResponse{Value: c.fitRead(responseValue(rsp))}
		case att.OpReadBlobRequest:
			pdu = &att.ReadBlobResponse{Value: c.fitRead(responseValue(rsp))}
		default:
			return fmt.Errorf("transaction %d: no response for %s", transID, att.OpcodeName(p.opcode))
		}
	}
	return w.sendATTPacket(c, pdu)
}

func responseValue(rsp *stack.Response) []byte {
	if rsp == nil {
		return nil
	}
	return rsp.Value
}

// SendIndicate pushes a notification, or an indication when needConfirm is
// set. Only one indication may await confirmation at a time.
func (w *Wire) SendIndicate(gattsIf uint8, connID uint16, handle uint16, value []byte, needConfirm bool) error {
	c := w.connection(connID)
	if c == nil {
		return fmt.Errorf("conn %d not connected", connID)
	}
	if max := int(c.MTU()) - 3; len(value) > max {
		return fmt.Errorf("value of %d bytes exceeds ATT_MTU-3 (%d)", len(value), max)
	}
	if _, err := w.db.GetAttribute(handle); err != nil {
		return err
	}

	if !needConfirm {
		if err := w.sendATTPacket(c, &att.HandleValueNotification{Handle: handle, Value: value}); err != nil {
			return err
		}
		w.socketHealthMonitor.RecordValuePush(connID, false)
		return nil
	}

	if !c.beginIndication(gattsIf, handle) {
		return fmt.Errorf("indication already in flight on conn %d", connID)
	}
	if err := w.sendATTPacket(c, &att.HandleValueIndication{Handle: handle, Value: value}); err != nil {
		c.endIndication()
		return err
	}
	w.socketHealthMonitor.RecordValuePush(connID, true)
	return nil
}

// UpdateConnParams asks the central to apply new connection parameters.
// The verdict is reported with UPDATE_CONN_PARAMS.
func (w *Wire) UpdateConnParams(params stack.ConnParams) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid connection parameters: %w", err)
	}

	w.mu.Lock()
	c := w.conn
	if c == nil || c.bda != params.BDA {
		w.mu.Unlock()
		return fmt.Errorf("no connection to %s", params.BDA)
	}
	w.sigID++
	if w.sigID == 0 {
		w.sigID = 1
	}
	id := w.sigID
	w.sigPending[id] = params
	w.mu.Unlock()

	return w.requestConnectionParameterUpdate(c, id, params.ConnectionParameters)
}

func (w *Wire) emitGATTS(ev stack.GATTSEvent) {
	w.debugLogger.LogEvent(ev.Name(), map[string]interface{}{"gatts_if": int(ev.Interface())})
	w.queue.post(func() {
		w.callbackMu.RLock()
		h := w.gattsCb
		w.callbackMu.RUnlock()
		if h != nil {
			h(ev)
		}
	})
}

func (w *Wire) emitGAP(ev stack.GAPEvent) {
	w.debugLogger.LogEvent(ev.Name(), nil)
	w.queue.post(func() {
		w.callbackMu.RLock()
		h := w.gapCb
		w.callbackMu.RUnlock()
		if h != nil {
			h(ev)
		}
	})
}

func (w *Wire) knownInterface(gattsIf uint8) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, i := range w.apps {
		if i == gattsIf {
			return true
		}
	}
	return false
}

// interfacesLocked returns every registered gatts_if in order. Caller holds mu.
func (w *Wire) interfacesLocked() []uint8 {
	out := make([]uint8, 0, len(w.apps))
	for _, i := range w.apps {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// ownerOf returns the gatts_if whose table contains handle.
func (w *Wire) ownerOf(handle uint16) uint8 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, o := range w.owners {
		if handle >= o.first && handle <= o.last {
			return o.gattsIf
		}
	}
	return stack.GattIfNone
}

// newTransID returns a transaction id for an event that needs no response.
func (w *Wire) newTransID() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextTransID++
	return w.nextTransID
}

// track registers a request awaiting SendResponse and returns its trans id.
func (w *Wire) track(c *Connection, opcode uint8, handle, offset uint16, value []byte) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextTransID++
	w.pending[w.nextTransID] = &pendingResponse{
		opcode: opcode,
		handle: handle,
		offset: offset,
		connID: c.connID,
		value:  append([]byte(nil), value...),
	}
	return w.nextTransID
}

func (w *Wire) publishAdvertisement() {
	w.mu.RLock()
	adv := append([]byte(nil), w.advData...)
	rsp := append([]byte(nil), w.scanRsp...)
	w.mu.RUnlock()

	dir := util.GetDeviceCacheDir(w.deviceID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Warn(w.prefix, "❌ publish advertisement: %v", err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, advDataFile), adv, 0644); err != nil {
		logger.Warn(w.prefix, "❌ publish advertisement: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, scanRspFile), rsp, 0644); err != nil {
		logger.Warn(w.prefix, "❌ publish scan response: %v", err)
	}
}

func (w *Wire) withdrawAdvertisement() {
	dir := util.GetDeviceCacheDir(w.deviceID)
	os.Remove(filepath.Join(dir, advDataFile))
	os.Remove(filepath.Join(dir, scanRspFile))
}
