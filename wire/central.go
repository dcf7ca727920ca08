package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/util"
	"github.com/user/gatts-table/wire/advertising"
	"github.com/user/gatts-table/wire/att"
	"github.com/user/gatts-table/wire/debug"
	"github.com/user/gatts-table/wire/gatt"
	"github.com/user/gatts-table/wire/l2cap"
)

// Notification is a value pushed by the peripheral.
type Notification struct {
	Handle   uint16
	Value    []byte
	Indicate bool
}

// Advertisement is what a scan finds for one advertising device.
type Advertisement struct {
	DeviceID   string
	Data       []byte
	ScanRsp    []byte
	Structures []advertising.ADStructure
}

// LocalName returns the name carried in the advertising or scan response
// payload, or "".
func (a Advertisement) LocalName() string {
	return advertising.GetLocalName(a.Structures)
}

// Flags returns the advertised flags byte, if any.
func (a Advertisement) Flags() (byte, bool) {
	return advertising.GetFlags(a.Structures)
}

// Manufacturer returns the company id and payload of the manufacturer
// specific data, if any.
func (a Advertisement) Manufacturer() (uint16, []byte, bool) {
	return advertising.GetManufacturerData(a.Structures)
}

// Scan lists the devices currently advertising under the data directory.
func Scan() ([]Advertisement, error) {
	dir, err := util.GetSocketDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	var found []Advertisement
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "gatts-") || !strings.HasSuffix(name, ".sock") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "gatts-"), ".sock")
		deviceDir := util.GetDeviceCacheDir(id)
		adv, err := os.ReadFile(filepath.Join(deviceDir, advDataFile))
		if err != nil {
			continue
		}
		rsp, _ := os.ReadFile(filepath.Join(deviceDir, scanRspFile))

		structures, _ := advertising.ParseRawPayload(adv)
		more, _ := advertising.ParseRawPayload(rsp)
		found = append(found, Advertisement{
			DeviceID:   id,
			Data:       adv,
			ScanRsp:    rsp,
			Structures: append(structures, more...),
		})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].DeviceID < found[j].DeviceID })
	return found, nil
}

// Central is the client side of a simulated link: it dials a peripheral's
// socket and issues ATT requests one at a time.
type Central struct {
	id     string
	peerID string
	prefix string
	conn   net.Conn

	tracker *att.RequestTracker
	trace   *debug.DebugLogger

	sendMutex sync.Mutex

	mu         sync.Mutex
	mtu        uint16
	params     l2cap.ConnectionParameters
	paramsSet  bool
	rejectNext bool

	notifications chan Notification
	done          chan struct{}
	closeOnce     sync.Once
}

// CentralOption configures Dial.
type CentralOption func(*Central)

// WithRequestTimeout overrides the ATT transaction timeout.
func WithRequestTimeout(d time.Duration) CentralOption {
	return func(c *Central) { c.tracker = att.NewRequestTracker(d) }
}

// WithTrace writes the central's packet trace under its own device id.
func WithTrace(enabled bool) CentralOption {
	return func(c *Central) { c.trace = debug.NewDebugLogger(c.id, enabled) }
}

// Dial connects to peerID as centralID. The peripheral closes the socket
// right away when it is not advertising; that shows up as a closed Done
// channel and failing requests.
func Dial(peerID, centralID string, opts ...CentralOption) (*Central, error) {
	path, err := util.SocketPath(peerID)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", peerID, err)
	}

	id := []byte(centralID)
	if err := binary.Write(conn, binary.BigEndian, uint32(len(id))); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}
	if _, err := conn.Write(id); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}

	c := &Central{
		id:            centralID,
		peerID:        peerID,
		prefix:        fmt.Sprintf("%s Central", shortHash(centralID)),
		conn:          conn,
		tracker:       att.NewRequestTracker(0),
		trace:         debug.NewDebugLogger(centralID, false),
		mtu:           att.DefaultMTU,
		notifications: make(chan Notification, notificationBacklog),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	logger.Debug(c.prefix, "🔗 dialed %s", shortHash(peerID))
	return c, nil
}

// Notifications delivers pushed values until the link closes.
func (c *Central) Notifications() <-chan Notification { return c.notifications }

// Done is closed when the link is gone.
func (c *Central) Done() <-chan struct{} { return c.done }

// MTU returns the negotiated ATT_MTU.
func (c *Central) MTU() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

// ConnParams returns the parameters accepted from the peripheral, if any.
func (c *Central) ConnParams() (l2cap.ConnectionParameters, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params, c.paramsSet
}

// RejectNextConnParams makes the next parameter update request fail.
func (c *Central) RejectNextConnParams() {
	c.mu.Lock()
	c.rejectNext = true
	c.mu.Unlock()
}

// Close drops the link.
func (c *Central) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Central) readLoop() {
	defer func() {
		if op, handle, age, ok := c.tracker.Pending(); ok {
			logger.Warn(c.prefix, "link closed with %s on handle 0x%04X pending for %v",
				att.OpcodeName(op), handle, age)
		}
		c.tracker.Cancel()
		c.closeOnce.Do(func() { close(c.done) })
		close(c.notifications)
	}()

	for {
		packet, err := l2cap.ReadPacket(c.conn)
		if err != nil {
			return
		}
		c.trace.LogL2CAPPacket("rx", c.peerID, packet)

		switch packet.ChannelID {
		case l2cap.ChannelATT:
			c.handleATT(packet.Payload)
		case l2cap.ChannelLESignal:
			c.handleSignaling(packet.Payload)
		default:
			logger.Warn(c.prefix, "⚠️  Unsupported L2CAP channel 0x%04X", packet.ChannelID)
		}
	}
}

func (c *Central) handleATT(raw []byte) {
	pdu, err := att.Decode(raw)
	if err != nil {
		logger.Warn(c.prefix, "❌ Failed to decode ATT packet: %v", err)
		return
	}
	c.trace.LogATTPacket("rx", c.peerID, pdu, raw)

	switch p := pdu.(type) {
	case *att.HandleValueNotification:
		c.deliver(Notification{Handle: p.Handle, Value: p.Value})
	case *att.HandleValueIndication:
		c.deliver(Notification{Handle: p.Handle, Value: p.Value, Indicate: true})
		if err := c.send(&att.HandleValueConfirmation{}); err != nil {
			logger.Warn(c.prefix, "❌ Failed to confirm indication: %v", err)
		}
	default:
		if err := c.tracker.Complete(pdu); err != nil {
			logger.Warn(c.prefix, "⚠️  %v", err)
		}
	}
}

func (c *Central) deliver(n Notification) {
	select {
	case c.notifications <- n:
	default:
		logger.Warn(c.prefix, "⚠️  notification backlog full, dropping value for 0x%04X", n.Handle)
	}
}

// handleSignaling answers connection parameter update requests. Valid
// parameters are accepted unless a rejection was queued.
func (c *Central) handleSignaling(payload []byte) {
	if len(payload) == 0 || payload[0] != l2cap.CodeConnectionParameterUpdateRequest {
		return
	}
	req, err := l2cap.DecodeConnectionParameterUpdateRequest(payload)
	result := l2cap.ConnectionParameterAccepted
	var id uint8
	if err != nil {
		logger.Warn(c.prefix, "❌ bad connection parameter request: %v", err)
		if len(payload) < 2 {
			return
		}
		id = payload[1]
		result = l2cap.ConnectionParameterRejected
	} else {
		id = req.Identifier
		c.mu.Lock()
		if c.rejectNext {
			c.rejectNext = false
			result = l2cap.ConnectionParameterRejected
		} else {
			c.params = req.Params
			c.paramsSet = true
		}
		c.mu.Unlock()
	}

	resp := l2cap.EncodeConnectionParameterUpdateResponse(&l2cap.ConnectionParameterUpdateResponse{
		Identifier: id,
		Result:     result,
	})
	if err := c.sendL2CAP(l2cap.NewSignalingPacket(resp)); err != nil {
		logger.Warn(c.prefix, "❌ Failed to answer connection parameter request: %v", err)
	}
}

func (c *Central) send(pdu att.PDU) error {
	data, err := att.Encode(pdu)
	if err != nil {
		return fmt.Errorf("failed to encode ATT packet: %w", err)
	}
	c.trace.LogATTPacket("tx", c.peerID, pdu, data)
	return c.sendL2CAP(l2cap.NewATTPacket(data))
}

func (c *Central) sendL2CAP(packet *l2cap.Packet) error {
	c.trace.LogL2CAPPacket("tx", c.peerID, packet)
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()
	if _, err := c.conn.Write(packet.Encode()); err != nil {
		return fmt.Errorf("failed to send L2CAP packet: %w", err)
	}
	return nil
}

// request sends req and waits for the matching response.
func (c *Central) request(req att.PDU, handle uint16) (att.PDU, error) {
	select {
	case <-c.done:
		return nil, att.ErrRequestCancelled
	default:
	}
	ch, err := c.tracker.Start(req.Opcode(), handle)
	if err != nil {
		return nil, err
	}
	if err := c.send(req); err != nil {
		c.tracker.Cancel()
		<-ch
		return nil, err
	}
	r := <-ch
	return r.PDU, r.Error
}

// ExchangeMTU offers mtu and returns the negotiated ATT_MTU.
func (c *Central) ExchangeMTU(mtu uint16) (uint16, error) {
	pdu, err := c.request(&att.ExchangeMTURequest{ClientRxMTU: mtu}, 0)
	if err != nil {
		return 0, err
	}
	server := pdu.(*att.ExchangeMTUResponse).ServerRxMTU
	if server < mtu {
		mtu = server
	}
	mtu = clampMTU(mtu, att.MaxMTU)

	c.mu.Lock()
	c.mtu = mtu
	c.mu.Unlock()
	return mtu, nil
}

// Read returns a complete attribute value, following up with Read Blob
// requests while responses fill the MTU.
func (c *Central) Read(handle uint16) ([]byte, error) {
	pdu, err := c.request(&att.ReadRequest{Handle: handle}, handle)
	if err != nil {
		return nil, err
	}
	value := pdu.(*att.ReadResponse).Value
	full := int(c.MTU()) - 1
	for part := value; len(part) == full; {
		if part, err = c.ReadBlob(handle, uint16(len(value))); err != nil {
			if att.IsATTError(err, att.ErrAttributeNotLong) || att.IsATTError(err, att.ErrInvalidOffset) {
				break
			}
			return nil, err
		}
		value = append(value, part...)
	}
	return value, nil
}

// ReadBlob reads a value from offset.
func (c *Central) ReadBlob(handle, offset uint16) ([]byte, error) {
	pdu, err := c.request(&att.ReadBlobRequest{Handle: handle, Offset: offset}, handle)
	if err != nil {
		return nil, err
	}
	return pdu.(*att.ReadBlobResponse).Value, nil
}

// Write sends a Write Request and waits for the response.
func (c *Central) Write(handle uint16, value []byte) error {
	if max := att.MaxWriteValue(int(c.MTU())); len(value) > max {
		return fmt.Errorf("value of %d bytes exceeds %d, use LongWrite", len(value), max)
	}
	_, err := c.request(&att.WriteRequest{Handle: handle, Value: value}, handle)
	return err
}

// WriteCommand sends a Write Command; nothing comes back.
func (c *Central) WriteCommand(handle uint16, value []byte) error {
	if max := att.MaxWriteValue(int(c.MTU())); len(value) > max {
		return fmt.Errorf("value of %d bytes exceeds %d", len(value), max)
	}
	return c.send(&att.WriteCommand{Handle: handle, Value: value})
}

// PrepareWrite queues one fragment and checks the echo.
func (c *Central) PrepareWrite(handle, offset uint16, value []byte) error {
	pdu, err := c.request(&att.PrepareWriteRequest{Handle: handle, Offset: offset, Value: value}, handle)
	if err != nil {
		return err
	}
	echo := pdu.(*att.PrepareWriteResponse)
	if echo.Handle != handle || echo.Offset != offset || !bytes.Equal(echo.Value, value) {
		return fmt.Errorf("prepare write echo mismatch on 0x%04X offset %d", handle, offset)
	}
	return nil
}

// ExecuteWrite commits or cancels the queued fragments.
func (c *Central) ExecuteWrite(commit bool) error {
	flags := att.ExecuteWriteCancel
	if commit {
		flags = att.ExecuteWriteCommit
	}
	_, err := c.request(&att.ExecuteWriteRequest{Flags: flags}, 0)
	return err
}

// LongWrite splits value into prepare writes sized for the MTU and commits
// them. When a fragment is refused the queue is cancelled and the refusal
// returned.
func (c *Central) LongWrite(handle uint16, value []byte) error {
	reqs, err := att.SplitLongWrite(handle, value, int(c.MTU()))
	if err != nil {
		return err
	}
	for _, r := range reqs {
		if err := c.PrepareWrite(r.Handle, r.Offset, r.Value); err != nil {
			if cancelErr := c.ExecuteWrite(false); cancelErr != nil {
				logger.Warn(c.prefix, "❌ cancel after failed prepare: %v", cancelErr)
			}
			return err
		}
	}
	return c.ExecuteWrite(true)
}

// Subscribe writes a client characteristic configuration descriptor.
func (c *Central) Subscribe(cccd uint16, notify, indicate bool) error {
	return c.Write(cccd, gatt.EncodeCCCD(notify, indicate))
}

// Discover walks the peer's services, characteristics and descriptors.
func (c *Central) Discover() (*gatt.DiscoveryCache, error) {
	cache := gatt.NewDiscoveryCache()

	start := uint16(0x0001)
	for {
		pdu, err := c.request(&att.ReadByGroupTypeRequest{StartHandle: start, EndHandle: 0xFFFF, Type: gatt.UUIDPrimaryService}, start)
		if att.IsATTError(err, att.ErrAttributeNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("discover services: %w", err)
		}
		services, err := gatt.ParseReadByGroupTypeResponse(pdu.(*att.ReadByGroupTypeResponse))
		if err != nil {
			return nil, err
		}
		if len(services) == 0 {
			break
		}
		for _, s := range services {
			cache.AddService(s)
		}
		last := services[len(services)-1].EndHandle
		if last == 0xFFFF {
			break
		}
		start = last + 1
	}

	for _, s := range cache.Services {
		if err := c.discoverCharacteristics(cache, s); err != nil {
			return nil, err
		}
	}
	for _, s := range cache.Services {
		for _, ch := range cache.Characteristics[s.StartHandle] {
			from, to := cache.CharacteristicRange(s.StartHandle, ch)
			if from > to {
				continue
			}
			if err := c.discoverDescriptors(cache, ch.ValueHandle, from, to); err != nil {
				return nil, err
			}
		}
	}
	return cache, nil
}

func (c *Central) discoverCharacteristics(cache *gatt.DiscoveryCache, s gatt.DiscoveredService) error {
	start := s.StartHandle
	for start <= s.EndHandle {
		pdu, err := c.request(&att.ReadByTypeRequest{StartHandle: start, EndHandle: s.EndHandle, Type: gatt.UUIDCharacteristic}, start)
		if att.IsATTError(err, att.ErrAttributeNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("discover characteristics of %s: %w", s.UUID, err)
		}
		chars, err := gatt.ParseCharacteristics(pdu.(*att.ReadByTypeResponse))
		if err != nil {
			return err
		}
		if len(chars) == 0 {
			return nil
		}
		for _, ch := range chars {
			cache.AddCharacteristic(s.StartHandle, ch)
		}
		last := chars[len(chars)-1].ValueHandle
		if last >= s.EndHandle {
			return nil
		}
		start = last + 1
	}
	return nil
}

func (c *Central) discoverDescriptors(cache *gatt.DiscoveryCache, valueHandle, from, to uint16) error {
	start := from
	for start <= to {
		pdu, err := c.request(&att.FindInformationRequest{StartHandle: start, EndHandle: to}, start)
		if att.IsATTError(err, att.ErrAttributeNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("discover descriptors of 0x%04X: %w", valueHandle, err)
		}
		descs, err := gatt.ParseFindInformationResponse(pdu.(*att.FindInformationResponse))
		if err != nil {
			return err
		}
		if len(descs) == 0 {
			return nil
		}
		for _, d := range descs {
			cache.AddDescriptor(valueHandle, d)
		}
		last := descs[len(descs)-1].Handle
		if last >= to {
			return nil
		}
		start = last + 1
	}
	return nil
}
