package wire

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/gatts-table/stack"
	"github.com/user/gatts-table/util"
	"github.com/user/gatts-table/wire/advertising"
	"github.com/user/gatts-table/wire/att"
	"github.com/user/gatts-table/wire/debug"
	"github.com/user/gatts-table/wire/gatt"
	"github.com/user/gatts-table/wire/l2cap"
)

// Handles of testTable once it is the first table created.
const (
	autoHandle uint16 = 3
	appHandle  uint16 = 5
)

// useDataDir points the data directory at a fresh short temp dir; Unix
// socket paths are length limited.
func useDataDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "gt")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	t.Setenv(util.DataDirEnv, dir)
	return dir
}

func testTable() *gatt.ServiceTable {
	var rw uint8 = gatt.PropRead | gatt.PropWrite
	app := gatt.CharValue(gatt.UUID16(0xFF02), gatt.PermRead|gatt.PermWrite, 64, []byte("app"))
	app.Rsp = gatt.RspByApp
	return &gatt.ServiceTable{Name: "test", Records: []gatt.AttributeRecord{
		gatt.ServiceDecl(gatt.UUID16(0xFF00)),
		gatt.CharDecl(rw),
		gatt.CharValue(gatt.UUID16(0xFF01), gatt.PermRead|gatt.PermWrite, 64, []byte("auto")),
		gatt.CharDecl(rw | gatt.PropIndicate),
		app,
	}}
}

// peripheral is a bare Wire whose events are collected on channels.
type peripheral struct {
	w     *Wire
	gatts chan stack.GATTSEvent
	gap   chan stack.GAPEvent
}

func newPeripheral(t *testing.T, id string, trace bool) *peripheral {
	t.Helper()
	p := &peripheral{
		w:     NewWire(id, trace),
		gatts: make(chan stack.GATTSEvent, 512),
		gap:   make(chan stack.GAPEvent, 64),
	}
	if err := p.w.Start(); err != nil {
		t.Fatalf("Failed to start wire: %v", err)
	}
	t.Cleanup(p.w.Stop)

	p.w.RegisterGATTSCallback(func(ev stack.GATTSEvent) {
		select {
		case p.gatts <- ev:
		default:
		}
	})
	p.w.RegisterGAPCallback(func(ev stack.GAPEvent) {
		select {
		case p.gap <- ev:
		default:
		}
	})

	if err := p.w.AppRegister(0x55); err != nil {
		t.Fatalf("AppRegister: %v", err)
	}
	reg := nextGATTS[stack.RegEvent](t, p)
	if reg.GattsIf != FirstGattsIf || reg.AppID != 0x55 {
		t.Fatalf("unexpected REG %+v", reg)
	}
	if err := p.w.SetLocalMTU(500); err != nil {
		t.Fatalf("SetLocalMTU: %v", err)
	}
	if err := p.w.CreateAttrTable(FirstGattsIf, testTable(), 0); err != nil {
		t.Fatalf("CreateAttrTable: %v", err)
	}
	tab := nextGATTS[stack.CreateAttrTabEvent](t, p)
	if tab.Status != stack.StatusOK || len(tab.Handles) != 5 || tab.Handles[0] != 1 {
		t.Fatalf("unexpected CREAT_ATTR_TAB %+v", tab)
	}
	if err := p.w.StartService(tab.Handles[0]); err != nil {
		t.Fatalf("StartService: %v", err)
	}
	nextGATTS[stack.StartEvent](t, p)
	p.advertise(t)
	return p
}

func (p *peripheral) advertise(t *testing.T) {
	t.Helper()
	if err := p.w.StartAdvertising(advertising.DefaultParams()); err != nil {
		t.Fatalf("StartAdvertising: %v", err)
	}
	nextGAP[stack.AdvStartEvent](t, p)
}

func nextGATTS[T stack.GATTSEvent](t *testing.T, p *peripheral) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-p.gatts:
			if e, ok := ev.(T); ok {
				return e
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %s", zero.Name())
			return zero
		}
	}
}

func nextGAP[T stack.GAPEvent](t *testing.T, p *peripheral) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-p.gap:
			if e, ok := ev.(T); ok {
				return e
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %s", zero.Name())
			return zero
		}
	}
}

func dial(t *testing.T, peerID, centralID string) *Central {
	t.Helper()
	c, err := Dial(peerID, centralID, WithRequestTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectStopsAdvertising(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-a", false)

	if !p.w.Advertising() {
		t.Fatal("expected advertising before connect")
	}
	c := dial(t, "dev-a", "central-1")

	ev := nextGATTS[stack.ConnectEvent](t, p)
	if ev.ConnID != 0 {
		t.Errorf("first conn id = %d, want 0", ev.ConnID)
	}
	if ev.BDA != stack.AddressFor("central-1") {
		t.Errorf("BDA = %s, want %s", ev.BDA, stack.AddressFor("central-1"))
	}
	if p.w.Advertising() {
		t.Error("advertising should stop on connect")
	}
	if c.MTU() != att.DefaultMTU {
		t.Errorf("initial MTU = %d", c.MTU())
	}
}

func TestExchangeMTU(t *testing.T) {
	tests := []struct {
		name   string
		client uint16
		want   uint16
	}{
		{"below local", 185, 185},
		{"above local", 517, 500},
		{"below minimum", 10, att.DefaultMTU},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useDataDir(t)
			p := newPeripheral(t, "dev-mtu", false)
			c := dial(t, "dev-mtu", "central-1")
			nextGATTS[stack.ConnectEvent](t, p)

			got, err := c.ExchangeMTU(tt.client)
			if err != nil {
				t.Fatalf("ExchangeMTU: %v", err)
			}
			if got != tt.want {
				t.Errorf("central MTU = %d, want %d", got, tt.want)
			}
			ev := nextGATTS[stack.MTUEvent](t, p)
			if ev.MTU != tt.want || ev.GattsIf != FirstGattsIf {
				t.Errorf("MTU event %+v, want MTU %d", ev, tt.want)
			}
		})
	}
}

func TestAutoResponseReadWrite(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-rw", false)
	c := dial(t, "dev-rw", "central-1")
	nextGATTS[stack.ConnectEvent](t, p)

	value, err := c.Read(autoHandle)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(value) != "auto" {
		t.Errorf("Read = %q, want auto", value)
	}
	rd := nextGATTS[stack.ReadEvent](t, p)
	if rd.NeedRsp || rd.Handle != autoHandle {
		t.Errorf("unexpected READ %+v", rd)
	}

	if err := c.Write(autoHandle, []byte("changed")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	wr := nextGATTS[stack.WriteEvent](t, p)
	if wr.NeedRsp || wr.IsPrep || !bytes.Equal(wr.Value, []byte("changed")) {
		t.Errorf("unexpected WRITE %+v", wr)
	}
	attr, _ := p.w.Database().GetAttribute(autoHandle)
	if string(attr.Value) != "changed" {
		t.Errorf("stored value = %q", attr.Value)
	}

	if err := c.WriteCommand(autoHandle, []byte("cmd")); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	wr = nextGATTS[stack.WriteEvent](t, p)
	if wr.NeedRsp || string(wr.Value) != "cmd" {
		t.Errorf("unexpected WRITE %+v", wr)
	}
}

func TestApplicationResponse(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-app", false)
	c := dial(t, "dev-app", "central-1")
	nextGATTS[stack.ConnectEvent](t, p)

	type result struct {
		value []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := c.Read(appHandle)
		done <- result{v, err}
	}()

	rd := nextGATTS[stack.ReadEvent](t, p)
	if !rd.NeedRsp || rd.Handle != appHandle {
		t.Fatalf("unexpected READ %+v", rd)
	}
	if err := p.w.SendResponse(rd.GattsIf, rd.ConnID, rd.TransID, stack.StatusOK, &stack.Response{Handle: appHandle, Value: []byte("from app")}); err != nil {
		t.Fatalf("SendResponse: %v", err)
	}
	r := <-done
	if r.err != nil || string(r.value) != "from app" {
		t.Fatalf("Read = %q, %v", r.value, r.err)
	}

	if err := p.w.SendResponse(rd.GattsIf, rd.ConnID, rd.TransID, stack.StatusOK, nil); err == nil {
		t.Error("answering the same transaction twice should fail")
	}

	errc := make(chan error, 1)
	go func() { errc <- c.Write(appHandle, []byte{1}) }()
	wr := nextGATTS[stack.WriteEvent](t, p)
	if !wr.NeedRsp {
		t.Fatalf("unexpected WRITE %+v", wr)
	}
	p.w.SendResponse(wr.GattsIf, wr.ConnID, wr.TransID, stack.Status(att.ErrWriteNotPermitted), nil)
	if err := <-errc; !att.IsATTError(err, att.ErrWriteNotPermitted) {
		t.Errorf("Write error = %v, want Write Not Permitted", err)
	}
}

func TestPrepareWriteForwarded(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-prep", false)
	c := dial(t, "dev-prep", "central-1")
	nextGATTS[stack.ConnectEvent](t, p)

	errc := make(chan error, 1)
	go func() { errc <- c.PrepareWrite(autoHandle, 4, []byte("tail")) }()

	wr := nextGATTS[stack.WriteEvent](t, p)
	if !wr.IsPrep || !wr.NeedRsp || wr.Offset != 4 {
		t.Fatalf("unexpected prepare WRITE %+v", wr)
	}
	p.w.SendResponse(wr.GattsIf, wr.ConnID, wr.TransID, stack.StatusOK, &stack.Response{Handle: wr.Handle, Offset: wr.Offset, Value: wr.Value})
	if err := <-errc; err != nil {
		t.Fatalf("PrepareWrite: %v", err)
	}

	if err := c.ExecuteWrite(true); err != nil {
		t.Fatalf("ExecuteWrite: %v", err)
	}
	ex := nextGATTS[stack.ExecWriteEvent](t, p)
	if !ex.Commit || ex.GattsIf != FirstGattsIf {
		t.Errorf("unexpected EXEC_WRITE %+v", ex)
	}
}

func TestDiscoveryErrors(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-disc", false)
	c := dial(t, "dev-disc", "central-1")
	nextGATTS[stack.ConnectEvent](t, p)

	tests := []struct {
		name string
		req  att.PDU
		code uint8
	}{
		{"secondary group type", &att.ReadByGroupTypeRequest{StartHandle: 1, EndHandle: 0xFFFF, Type: gatt.UUIDSecondaryService}, att.ErrUnsupportedGroupType},
		{"reversed range", &att.ReadByTypeRequest{StartHandle: 5, EndHandle: 2, Type: gatt.UUIDCharacteristic}, att.ErrInvalidHandle},
		{"zero start", &att.FindInformationRequest{StartHandle: 0, EndHandle: 5}, att.ErrInvalidHandle},
		{"past the end", &att.FindInformationRequest{StartHandle: 6, EndHandle: 0xFFFF}, att.ErrAttributeNotFound},
		{"unknown handle", &att.ReadRequest{Handle: 0x0100}, att.ErrInvalidHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.request(tt.req, 0)
			if !att.IsATTError(err, tt.code) {
				t.Errorf("got %v, want %s", err, att.ErrorName(tt.code))
			}
		})
	}
}

func TestSendIndicateSingleInFlight(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-ind", false)
	c := dial(t, "dev-ind", "central-1")
	conn := nextGATTS[stack.ConnectEvent](t, p)

	if err := p.w.SendIndicate(FirstGattsIf, conn.ConnID, appHandle, bytes.Repeat([]byte{1}, 21), false); err == nil {
		t.Error("value longer than ATT_MTU-3 should be refused")
	}
	if err := p.w.SendIndicate(FirstGattsIf, conn.ConnID+1, appHandle, []byte{1}, false); err == nil {
		t.Error("unknown conn id should be refused")
	}

	if err := p.w.SendIndicate(FirstGattsIf, conn.ConnID, appHandle, []byte("ind"), true); err != nil {
		t.Fatalf("SendIndicate: %v", err)
	}
	n := <-c.Notifications()
	if !n.Indicate || n.Handle != appHandle || string(n.Value) != "ind" {
		t.Errorf("unexpected indication %+v", n)
	}
	conf := nextGATTS[stack.ConfEvent](t, p)
	if conf.Status != stack.StatusOK || conf.Handle != appHandle {
		t.Errorf("unexpected CONF %+v", conf)
	}

	if err := p.w.SendIndicate(FirstGattsIf, conn.ConnID, appHandle, []byte("ntf"), false); err != nil {
		t.Fatalf("notify: %v", err)
	}
	n = <-c.Notifications()
	if n.Indicate || string(n.Value) != "ntf" {
		t.Errorf("unexpected notification %+v", n)
	}

	conns := p.w.Health().Socket.Connections
	if len(conns) != 1 || conns[0].Indications != 1 || conns[0].Notifications != 1 {
		t.Errorf("health counters = %+v", conns)
	}
}

func TestSecondIndicationRefusedUntilConfirmed(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-ind2", false)
	c := dial(t, "dev-ind2", "central-1")
	conn := nextGATTS[stack.ConnectEvent](t, p)

	cn := p.w.connection(conn.ConnID)
	if !cn.beginIndication(FirstGattsIf, appHandle) {
		t.Fatal("beginIndication on idle link failed")
	}
	if err := p.w.SendIndicate(FirstGattsIf, conn.ConnID, appHandle, []byte{1}, true); err == nil {
		t.Error("second indication should be refused while one is in flight")
	}
	cn.endIndication()
	if err := p.w.SendIndicate(FirstGattsIf, conn.ConnID, appHandle, []byte{1}, true); err != nil {
		t.Errorf("SendIndicate after confirm: %v", err)
	}
	<-c.Notifications()
}

func TestConnParamsUpdate(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-cp", false)
	c := dial(t, "dev-cp", "central-1")
	conn := nextGATTS[stack.ConnectEvent](t, p)

	params := stack.ConnParams{BDA: conn.BDA, ConnectionParameters: l2cap.PreferredParameters()}
	if err := p.w.UpdateConnParams(params); err != nil {
		t.Fatalf("UpdateConnParams: %v", err)
	}
	ev := nextGAP[stack.UpdateConnParamsEvent](t, p)
	if ev.Status != stack.StatusOK || ev.IntervalMax != params.IntervalMax || ev.ConnInt != params.IntervalMax {
		t.Errorf("unexpected UPDATE_CONN_PARAMS %+v", ev)
	}
	got, ok := c.ConnParams()
	if !ok || got != params.ConnectionParameters {
		t.Errorf("central params = %+v, %v", got, ok)
	}

	c.RejectNextConnParams()
	if err := p.w.UpdateConnParams(params); err != nil {
		t.Fatalf("UpdateConnParams: %v", err)
	}
	ev = nextGAP[stack.UpdateConnParamsEvent](t, p)
	if ev.Status != stack.StatusError {
		t.Errorf("rejected update reported %s", ev.Status)
	}

	bad := params
	bad.IntervalMin = 1
	if err := p.w.UpdateConnParams(bad); err == nil {
		t.Error("invalid parameters should be refused")
	}
	other := params
	other.BDA = stack.AddressFor("someone-else")
	if err := p.w.UpdateConnParams(other); err == nil {
		t.Error("unknown peer should be refused")
	}
}

func TestDisconnectReasons(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-dc", false)

	c := dial(t, "dev-dc", "central-1")
	conn := nextGATTS[stack.ConnectEvent](t, p)
	c.Close()
	dc := nextGATTS[stack.DisconnectEvent](t, p)
	if dc.Reason != ReasonRemoteUserTerminated || dc.ConnID != conn.ConnID {
		t.Errorf("remote close: %+v", dc)
	}
	if _, ok := p.w.Connected(); ok {
		t.Error("link should be gone")
	}

	p.advertise(t)
	c2 := dial(t, "dev-dc", "central-2")
	conn2 := nextGATTS[stack.ConnectEvent](t, p)
	if conn2.ConnID != conn.ConnID+1 {
		t.Errorf("conn id = %d, want %d", conn2.ConnID, conn.ConnID+1)
	}
	if err := p.w.Disconnect(conn2.ConnID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	dc = nextGATTS[stack.DisconnectEvent](t, p)
	if dc.Reason != ReasonLocalHostTerminated {
		t.Errorf("local close reason = 0x%02X", dc.Reason)
	}
	select {
	case <-c2.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("central did not see the link drop")
	}
	if _, err := c2.Read(autoHandle); err == nil {
		t.Error("request on a closed link should fail")
	}
}

func TestRejectedConnections(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-rej", false)

	dial(t, "dev-rej", "central-1")
	nextGATTS[stack.ConnectEvent](t, p)

	second := dial(t, "dev-rej", "central-2")
	select {
	case <-second.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("second central should be refused while connected")
	}

	if got := p.w.Health().Socket.Rejected; got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
}

func TestNotAdvertisingRefusesConnect(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-quiet", false)
	if err := p.w.StopAdvertising(); err != nil {
		t.Fatalf("StopAdvertising: %v", err)
	}
	nextGAP[stack.AdvStopEvent](t, p)

	c := dial(t, "dev-quiet", "central-1")
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connect should be refused while not advertising")
	}
	if _, ok := p.w.Connected(); ok {
		t.Error("no link expected")
	}
}

func TestScanFindsAdvertisingDevices(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-scan", false)

	raw := []byte{0x02, 0x01, 0x06, 0x05, 0x09, 'T', 'E', 'S', 'T', 0x04, 0xFF, 0x75, 0x00, 0x02}
	if err := p.w.ConfigAdvDataRaw(raw); err != nil {
		t.Fatalf("ConfigAdvDataRaw: %v", err)
	}
	nextGAP[stack.AdvDataRawSetEvent](t, p)

	found, err := Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(found) != 1 || found[0].DeviceID != "dev-scan" {
		t.Fatalf("Scan = %+v", found)
	}
	if !bytes.Equal(found[0].Data, raw) || found[0].LocalName() != "TEST" {
		t.Errorf("advertisement = %x (%q)", found[0].Data, found[0].LocalName())
	}
	if flags, ok := found[0].Flags(); !ok || flags != 0x06 {
		t.Errorf("flags = 0x%02X, %v", flags, ok)
	}
	if company, data, ok := found[0].Manufacturer(); !ok || company != 0x0075 || !bytes.Equal(data, []byte{0x02}) {
		t.Errorf("manufacturer = 0x%04X % x, %v", company, data, ok)
	}

	dial(t, "dev-scan", "central-1")
	nextGATTS[stack.ConnectEvent](t, p)
	found, _ = Scan()
	if len(found) != 0 {
		t.Errorf("connected device still advertising: %+v", found)
	}
}

func TestStackCallValidation(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-val", false)

	if err := p.w.AppRegister(0x55); err == nil {
		t.Error("duplicate app id should be refused")
	}
	if err := p.w.SetLocalMTU(600); err == nil {
		t.Error("MTU above 517 should be refused")
	}
	if err := p.w.CreateAttrTable(9, testTable(), 0); err == nil {
		t.Error("unknown gatts_if should be refused")
	}
	if err := p.w.StartService(0x0300); err == nil {
		t.Error("unknown service handle should be refused")
	}
	if err := p.w.ConfigAdvDataRaw(make([]byte, 32)); err == nil {
		t.Error("advertising payload over 31 bytes should be refused")
	}
	if err := p.w.SendResponse(FirstGattsIf, 0, 999, stack.StatusOK, nil); err == nil {
		t.Error("unknown transaction should be refused")
	}

	broken := testTable()
	broken.Records = broken.Records[:2]
	if err := p.w.CreateAttrTable(FirstGattsIf, broken, 1); err != nil {
		t.Fatalf("CreateAttrTable: %v", err)
	}
	if ev := nextGATTS[stack.CreateAttrTabEvent](t, p); ev.Status != stack.StatusError {
		t.Errorf("malformed table reported %s", ev.Status)
	}
}

func TestTraceFiles(t *testing.T) {
	useDataDir(t)
	p := newPeripheral(t, "dev-trace", true)
	c := dial(t, "dev-trace", "central-1")
	nextGATTS[stack.ConnectEvent](t, p)
	if _, err := c.Read(autoHandle); err != nil {
		t.Fatalf("Read: %v", err)
	}
	nextGATTS[stack.ReadEvent](t, p)

	for _, path := range []string{
		filepath.Join(util.GetTraceDir("dev-trace"), debug.L2CAPFile),
		filepath.Join(util.GetTraceDir("dev-trace"), debug.ATTFile),
		filepath.Join(util.GetTraceDir("dev-trace"), debug.EventsFile),
		filepath.Join(util.GetDeviceCacheDir("dev-trace"), ConnectionEventsFile),
	} {
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			t.Errorf("%s: %v", path, err)
		}
	}
}
