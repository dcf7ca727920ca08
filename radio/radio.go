// Package radio implements the host stack on a real adapter through
// tinygo.org/x/bluetooth (BlueZ over D-Bus on Linux).
//
// BlueZ owns the ATT server: it answers reads from the values it was given,
// negotiates the MTU and manages CCCDs itself. Only characteristic value
// writes reach the application, always as completed writes (NeedRsp=false).
// Notifications therefore go out to whoever BlueZ has subscribed; the
// application's subscription state is not updated from the radio.
package radio

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/stack"
	"github.com/user/gatts-table/wire/advertising"
	"github.com/user/gatts-table/wire/gatt"
)

// gattsIf is handed to the single registered application.
const gattsIf uint8 = 3

// disconnectRemote is reported for every disconnect; BlueZ does not expose the reason.
const disconnectRemote uint8 = 0x13

// Radio is a stack.Stack backed by a Bluetooth adapter.
type Radio struct {
	adapter *bluetooth.Adapter
	prefix  string

	mu         sync.Mutex
	registered bool
	appID      uint16
	localMTU   uint16
	name       string
	advName    string
	advUUIDs   []bluetooth.UUID
	advMfr     []bluetooth.ManufacturerDataElement
	adv        *bluetooth.Advertisement
	configured bool
	db         *gatt.AttributeDatabase
	chars      map[uint16]*bluetooth.Characteristic
	services   map[uint16]bool
	connected  bool
	connID     uint16
	nextConnID uint16
	bda        stack.BDA

	callbackMu sync.RWMutex
	gattsCb    stack.GATTSHandler
	gapCb      stack.GAPHandler

	queueMu sync.Mutex
	queue   []func()
	signal  chan struct{}
	stop    chan struct{}
	once    sync.Once
}

// New wraps adapter; use bluetooth.DefaultAdapter for the system adapter.
func New(adapter *bluetooth.Adapter) *Radio {
	return &Radio{
		adapter:  adapter,
		prefix:   "radio",
		db:       gatt.NewAttributeDatabase(),
		chars:    make(map[uint16]*bluetooth.Characteristic),
		services: make(map[uint16]bool),
		signal:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start enables the adapter and begins delivering events.
func (r *Radio) Start() error {
	if err := r.adapter.Enable(); err != nil {
		return errors.Wrap(err, "enable adapter")
	}
	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		r.onConnect(device.Address.String(), connected)
	})
	go r.run()
	logger.Info(r.prefix, "adapter enabled")
	r.warnLimits()
	return nil
}

// warnLimits tells the operator which events BlueZ keeps to itself.
func (r *Radio) warnLimits() {
	logger.Warn(r.prefix, "BlueZ handles descriptor writes, MTU exchange and confirmations itself; "+
		"subscriptions are not reported, so the background notifier stays idle")
}

// Stop halts event delivery and advertising.
func (r *Radio) Stop() {
	r.once.Do(func() {
		r.mu.Lock()
		adv := r.adv
		r.mu.Unlock()
		if adv != nil {
			if err := adv.Stop(); err != nil {
				logger.Debug(r.prefix, "stop advertising: %v", err)
			}
		}
		close(r.stop)
	})
}

// run delivers queued callbacks one at a time until Stop.
func (r *Radio) run() {
	for {
		select {
		case <-r.stop:
			return
		case <-r.signal:
		}
		for {
			r.queueMu.Lock()
			if len(r.queue) == 0 {
				r.queueMu.Unlock()
				break
			}
			fn := r.queue[0]
			r.queue[0] = nil
			r.queue = r.queue[1:]
			r.queueMu.Unlock()
			fn()
		}
	}
}

// post never blocks, so stack calls made from a handler can emit events.
func (r *Radio) post(fn func()) {
	r.queueMu.Lock()
	r.queue = append(r.queue, fn)
	r.queueMu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *Radio) emitGATTS(ev stack.GATTSEvent) {
	r.post(func() {
		r.callbackMu.RLock()
		h := r.gattsCb
		r.callbackMu.RUnlock()
		if h != nil {
			h(ev)
		}
	})
}

func (r *Radio) emitGAP(ev stack.GAPEvent) {
	r.post(func() {
		r.callbackMu.RLock()
		h := r.gapCb
		r.callbackMu.RUnlock()
		if h != nil {
			h(ev)
		}
	})
}

func (r *Radio) onConnect(address string, connected bool) {
	bda := stack.AddressFor(address)

	r.mu.Lock()
	if connected {
		if r.connected {
			r.mu.Unlock()
			logger.Warn(r.prefix, "ignoring second connection from %s", address)
			return
		}
		r.connected = true
		r.connID = r.nextConnID
		r.nextConnID++
		r.bda = bda
	} else {
		if !r.connected {
			r.mu.Unlock()
			return
		}
		r.connected = false
	}
	connID := r.connID
	r.mu.Unlock()

	if connected {
		logger.Info(r.prefix, "🔗 connected to %s (conn %d)", address, connID)
		r.emitGATTS(stack.ConnectEvent{GattsIf: gattsIf, ConnID: connID, BDA: bda})
		return
	}
	logger.Info(r.prefix, "disconnected from %s (conn %d)", address, connID)
	r.emitGATTS(stack.DisconnectEvent{GattsIf: gattsIf, ConnID: connID, BDA: bda, Reason: disconnectRemote})
}

func (r *Radio) RegisterGATTSCallback(h stack.GATTSHandler) error {
	if h == nil {
		return errors.New("nil GATTS handler")
	}
	r.callbackMu.Lock()
	defer r.callbackMu.Unlock()
	r.gattsCb = h
	return nil
}

func (r *Radio) RegisterGAPCallback(h stack.GAPHandler) error {
	if h == nil {
		return errors.New("nil GAP handler")
	}
	r.callbackMu.Lock()
	defer r.callbackMu.Unlock()
	r.gapCb = h
	return nil
}

// AppRegister accepts a single application.
func (r *Radio) AppRegister(appID uint16) error {
	r.mu.Lock()
	if r.registered {
		r.mu.Unlock()
		return errors.Errorf("app 0x%04X already registered", r.appID)
	}
	r.registered = true
	r.appID = appID
	r.mu.Unlock()

	r.emitGATTS(stack.RegEvent{GattsIf: gattsIf, Status: stack.StatusOK, AppID: appID})
	return nil
}

// SetLocalMTU records the preferred MTU. BlueZ negotiates the MTU itself.
func (r *Radio) SetLocalMTU(mtu uint16) error {
	r.mu.Lock()
	r.localMTU = mtu
	r.mu.Unlock()
	logger.Debug(r.prefix, "local MTU %d left to BlueZ", mtu)
	return nil
}

// SetDeviceName sets the name advertised when the payload carries none.
func (r *Radio) SetDeviceName(name string) error {
	r.mu.Lock()
	r.name = name
	r.mu.Unlock()
	return nil
}

// ConfigAdvDataRaw extracts the local name and 16-bit service UUIDs from
// raw. BlueZ builds the actual payload from them.
func (r *Radio) ConfigAdvDataRaw(raw []byte) error {
	if err := advertising.ValidateRaw(raw); err != nil {
		return errors.Wrap(err, "advertising data")
	}
	r.absorbAdvertisement(raw)
	r.emitGAP(stack.AdvDataRawSetEvent{Status: stack.StatusOK})
	return nil
}

// ConfigScanRspDataRaw is handled like the advertising payload.
func (r *Radio) ConfigScanRspDataRaw(raw []byte) error {
	if err := advertising.ValidateRaw(raw); err != nil {
		return errors.Wrap(err, "scan response data")
	}
	r.absorbAdvertisement(raw)
	r.emitGAP(stack.ScanRspDataRawSetEvent{Status: stack.StatusOK})
	return nil
}

func (r *Radio) absorbAdvertisement(raw []byte) {
	structures, _ := advertising.ParseRawPayload(raw)
	name := advertising.GetLocalName(structures)
	ids := advertising.Get16BitServiceUUIDs(structures)
	company, data, hasMfr := advertising.GetManufacturerData(structures)

	r.mu.Lock()
	defer r.mu.Unlock()
	if name != "" {
		r.advName = name
	}
	for _, id := range ids {
		r.advUUIDs = append(r.advUUIDs, bluetooth.New16BitUUID(id))
	}
	if hasMfr {
		r.advMfr = append(r.advMfr, bluetooth.ManufacturerDataElement{
			CompanyID: company,
			Data:      append([]byte(nil), data...),
		})
	}
}

// StartAdvertising configures the advertisement on first use and starts it.
// Interval and type are chosen by BlueZ.
func (r *Radio) StartAdvertising(params advertising.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.adv == nil {
		r.adv = r.adapter.DefaultAdvertisement()
	}
	adv := r.adv
	configure := !r.configured
	opts := bluetooth.AdvertisementOptions{
		LocalName:        r.advName,
		ServiceUUIDs:     append([]bluetooth.UUID(nil), r.advUUIDs...),
		ManufacturerData: append([]bluetooth.ManufacturerDataElement(nil), r.advMfr...),
	}
	if opts.LocalName == "" {
		opts.LocalName = r.name
	}
	r.configured = true
	r.mu.Unlock()

	if configure {
		if err := adv.Configure(opts); err != nil {
			r.emitGAP(stack.AdvStartEvent{Status: stack.StatusError})
			return errors.Wrap(err, "configure advertisement")
		}
	}
	if err := adv.Start(); err != nil {
		r.emitGAP(stack.AdvStartEvent{Status: stack.StatusError})
		return errors.Wrap(err, "start advertising")
	}
	logger.Info(r.prefix, "📢 advertising as %q", opts.LocalName)
	r.emitGAP(stack.AdvStartEvent{Status: stack.StatusOK})
	return nil
}

func (r *Radio) StopAdvertising() error {
	r.mu.Lock()
	adv := r.adv
	r.mu.Unlock()
	if adv == nil {
		return errors.New("not advertising")
	}
	if err := adv.Stop(); err != nil {
		r.emitGAP(stack.AdvStopEvent{Status: stack.StatusError})
		return errors.Wrap(err, "stop advertising")
	}
	r.emitGAP(stack.AdvStopEvent{Status: stack.StatusOK})
	return nil
}

// CreateAttrTable assigns handles to table the way a flat attribute server
// would and registers its characteristics with BlueZ. The reported handles
// identify attributes to the application; BlueZ keeps its own numbering.
func (r *Radio) CreateAttrTable(gif uint8, table *gatt.ServiceTable, instID uint8) error {
	if table == nil || table.Len() == 0 {
		return errors.New("empty attribute table")
	}
	if gif != gattsIf {
		return errors.Errorf("unknown gatts_if %d", gif)
	}

	ev := stack.CreateAttrTabEvent{GattsIf: gif, ServiceUUID: table.ServiceUUID(), InstID: instID}
	handles, err := r.db.AddTable(table)
	if err != nil {
		logger.Warn(r.prefix, "❌ create attr table %q failed: %v", table.Name, err)
		ev.Status = stack.StatusError
		r.emitGATTS(ev)
		return nil
	}

	svc, chars := r.translate(table, handles)
	if err := r.adapter.AddService(svc); err != nil {
		logger.Warn(r.prefix, "❌ add service %s failed: %v", table.ServiceUUID(), err)
		ev.Status = stack.StatusError
		r.emitGATTS(ev)
		return nil
	}

	r.mu.Lock()
	for h, c := range chars {
		r.chars[h] = c
	}
	r.services[handles[0]] = false
	r.mu.Unlock()

	logger.Debug(r.prefix, "table %q: %d characteristics registered", table.Name, len(chars))
	ev.Status = stack.StatusOK
	ev.Handles = handles
	r.emitGATTS(ev)
	return nil
}

// translate builds the BlueZ service for table. Descriptors are left to
// BlueZ, which adds the CCCD for notify and indicate characteristics.
func (r *Radio) translate(table *gatt.ServiceTable, handles []uint16) (*bluetooth.Service, map[uint16]*bluetooth.Characteristic) {
	svc := &bluetooth.Service{UUID: ToUUID(table.ServiceUUID())}
	chars := make(map[uint16]*bluetooth.Characteristic)

	for i := 0; i+1 < len(table.Records); i++ {
		decl := table.Records[i]
		if decl.Kind != gatt.KindCharDecl {
			continue
		}
		value := table.Records[i+1]
		handle := handles[i+1]
		ch := new(bluetooth.Characteristic)
		chars[handle] = ch

		svc.Characteristics = append(svc.Characteristics, bluetooth.CharacteristicConfig{
			Handle: ch,
			UUID:   ToUUID(value.UUID),
			Value:  append([]byte(nil), value.Value...),
			Flags:  Permissions(decl.Value[0]),
			WriteEvent: func(client bluetooth.Connection, offset int, data []byte) {
				r.onWrite(handle, offset, data)
			},
		})
	}
	return svc, chars
}

func (r *Radio) onWrite(handle uint16, offset int, data []byte) {
	r.mu.Lock()
	connID, bda, connected := r.connID, r.bda, r.connected
	r.mu.Unlock()
	if !connected {
		logger.Debug(r.prefix, "write to 0x%04X outside a connection", handle)
	}
	if err := r.db.SetAttributeValue(handle, data); err != nil {
		logger.Debug(r.prefix, "mirror write 0x%04X: %v", handle, err)
	}
	r.emitGATTS(stack.WriteEvent{
		GattsIf: gattsIf,
		ConnID:  connID,
		BDA:     bda,
		Handle:  handle,
		Offset:  uint16(offset),
		Value:   append([]byte(nil), data...),
	})
}

// StartService reports the service declared at handle as started. BlueZ
// exposes services as soon as they are added.
func (r *Radio) StartService(handle uint16) error {
	r.mu.Lock()
	_, ok := r.services[handle]
	if ok {
		r.services[handle] = true
	}
	r.mu.Unlock()
	if !ok {
		return errors.Errorf("no service declared at handle 0x%04X", handle)
	}
	r.emitGATTS(stack.StartEvent{GattsIf: gattsIf, Status: stack.StatusOK, ServiceHandle: handle})
	return nil
}

// SendResponse always fails: BlueZ answers every request itself.
func (r *Radio) SendResponse(gif uint8, connID uint16, transID uint32, status stack.Status, rsp *stack.Response) error {
	return errors.Errorf("transaction %d: responses are sent by BlueZ", transID)
}

// SendIndicate updates the characteristic value, which BlueZ pushes to
// subscribed clients. Confirmations are not surfaced, so an indication is
// reported confirmed once BlueZ accepts it.
func (r *Radio) SendIndicate(gif uint8, connID uint16, handle uint16, value []byte, needConfirm bool) error {
	r.mu.Lock()
	ch, ok := r.chars[handle]
	connected := r.connected && r.connID == connID
	r.mu.Unlock()
	if !ok {
		return errors.Errorf("no characteristic value at handle 0x%04X", handle)
	}
	if !connected {
		return errors.Errorf("conn %d not connected", connID)
	}
	if _, err := ch.Write(value); err != nil {
		return errors.Wrapf(err, "push 0x%04X", handle)
	}
	if needConfirm {
		r.emitGATTS(stack.ConfEvent{GattsIf: gif, ConnID: connID, Status: stack.StatusOK, Handle: handle})
	}
	return nil
}

// UpdateConnParams is not available to a BlueZ peripheral.
func (r *Radio) UpdateConnParams(params stack.ConnParams) error {
	if err := params.Validate(); err != nil {
		return errors.Wrap(err, "invalid connection parameters")
	}
	return errors.Errorf("connection parameter update to %s is negotiated by BlueZ", params.BDA)
}

// ToUUID converts a little-endian attribute UUID to the adapter's form.
func ToUUID(id gatt.UUID) bluetooth.UUID {
	b := id.Expand()
	var u bluetooth.UUID
	if len(b) != 16 {
		return u
	}
	for i := range u {
		u[i] = binary.LittleEndian.Uint32(b[4*i : 4*i+4])
	}
	return u
}

// Permissions maps characteristic properties to adapter flags.
func Permissions(props uint8) bluetooth.CharacteristicPermissions {
	var p bluetooth.CharacteristicPermissions
	if props&gatt.PropBroadcast != 0 {
		p |= bluetooth.CharacteristicBroadcastPermission
	}
	if props&gatt.PropRead != 0 {
		p |= bluetooth.CharacteristicReadPermission
	}
	if props&gatt.PropWriteWithoutResponse != 0 {
		p |= bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if props&gatt.PropWrite != 0 {
		p |= bluetooth.CharacteristicWritePermission
	}
	if props&gatt.PropNotify != 0 {
		p |= bluetooth.CharacteristicNotifyPermission
	}
	if props&gatt.PropIndicate != 0 {
		p |= bluetooth.CharacteristicIndicatePermission
	}
	return p
}
