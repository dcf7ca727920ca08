package gatts

import (
	"bytes"
	"testing"

	"github.com/user/gatts-table/stack"
)

func TestRegistrationConfiguresAndCreatesTables(t *testing.T) {
	h := newHarness(t)
	h.d.HandleGATTS(stack.RegEvent{GattsIf: testIf, AppID: 0x55})

	if h.p.Interface() != testIf {
		t.Fatalf("profile bound to if %d, want %d", h.p.Interface(), testIf)
	}
	reqs := h.rec.Requests()
	if names := stack.Of[stack.SetDeviceName](reqs); len(names) != 1 || names[0].Name != "S-PATCH3" {
		t.Errorf("SetDeviceName = %+v", names)
	}
	if adv := stack.Of[stack.ConfigAdvDataRaw](reqs); len(adv) != 1 || len(adv[0].Raw) != 31 {
		t.Errorf("ConfigAdvDataRaw = %+v", adv)
	}
	if rsp := stack.Of[stack.ConfigScanRspDataRaw](reqs); len(rsp) != 1 || len(rsp[0].Raw) != 29 {
		t.Errorf("ConfigScanRspDataRaw = %+v", rsp)
	}
	tables := stack.Of[stack.CreateAttrTable](reqs)
	if len(tables) != 3 {
		t.Fatalf("CreateAttrTable requests = %d, want 3", len(tables))
	}
	for i, want := range []int{11, 19, 15} {
		if tables[i].Table.Len() != want || tables[i].GattsIf != testIf {
			t.Errorf("table %d: %s", i, tables[i])
		}
	}
	if h.session.State() != StateTablesPending {
		t.Errorf("state = %s", h.session.State())
	}
}

func TestFailedRegistrationIsNotForwarded(t *testing.T) {
	h := newHarness(t)
	h.d.HandleGATTS(stack.RegEvent{GattsIf: testIf, AppID: 0x55, Status: stack.StatusError})

	if len(h.rec.Requests()) != 0 {
		t.Errorf("requests after failed registration: %v", h.rec.Requests())
	}
	if h.p.Interface() != stack.GattIfNone || h.session.State() != StateUnregistered {
		t.Errorf("profile changed after failed registration")
	}
}

func TestEventsForOtherInterfacesAreIgnored(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.d.HandleGATTS(stack.ConnectEvent{GattsIf: testIf + 1, ConnID: 9})
	if len(h.rec.Requests()) != 0 {
		t.Errorf("profile handled foreign event: %v", h.rec.Requests())
	}
	h.d.HandleGATTS(stack.ConnectEvent{GattsIf: stack.GattIfNone, ConnID: 9})
	if len(stack.Of[stack.UpdateConnParams](h.rec.Requests())) != 1 {
		t.Errorf("wildcard event not delivered")
	}
}

func TestCreateAttrTab(t *testing.T) {
	tests := []struct {
		name      string
		status    stack.Status
		count     int
		wantStart bool
	}{
		{"matching count", stack.StatusOK, DataNB, true},
		{"short count", stack.StatusOK, DataNB - 1, false},
		{"long count", stack.StatusOK, DataNB + 1, false},
		{"stack error", stack.StatusError, DataNB, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.d.HandleGATTS(stack.RegEvent{GattsIf: testIf, AppID: 0x55})
			h.rec.Reset()

			h.d.HandleGATTS(stack.CreateAttrTabEvent{
				GattsIf:     testIf,
				Status:      tt.status,
				ServiceUUID: DataServiceUUID(),
				Handles:     seqHandles(40, tt.count),
			})

			starts := stack.Of[stack.StartService](h.rec.Requests())
			if got := len(starts) == 1; got != tt.wantStart {
				t.Fatalf("StartService issued = %t, want %t", got, tt.wantStart)
			}
			if tt.wantStart && starts[0].Handle != 40 {
				t.Errorf("StartService handle = %d, want 40", starts[0].Handle)
			}
			if h.session.DataHandles().Populated() != tt.wantStart {
				t.Errorf("handles populated = %t", h.session.DataHandles().Populated())
			}
		})
	}
}

func TestCreateAttrTabUnknownService(t *testing.T) {
	h := newHarness(t)
	h.d.HandleGATTS(stack.RegEvent{GattsIf: testIf, AppID: 0x55})
	h.rec.Reset()

	h.d.HandleGATTS(stack.CreateAttrTabEvent{GattsIf: testIf, ServiceUUID: []byte{0x0D, 0x18}, Handles: seqHandles(1, 11)})
	if len(h.rec.Requests()) != 0 {
		t.Errorf("requests for unknown service: %v", h.rec.Requests())
	}
}

func TestAllTablesStarted(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	if h.session.State() != StateServicesStarted {
		t.Errorf("state = %s, want services-started", h.session.State())
	}
	if got := h.session.notifyHandle(); got != 11+1+IdxCharValA {
		t.Errorf("notify handle = %d", got)
	}
}

func TestSignatureArmsSending(t *testing.T) {
	tests := []struct {
		name  string
		value []byte
		armed bool
	}{
		{"start signature", signatureStart, true},
		{"query signature", signatureQuery, true},
		{"other 15 bytes", bytes.Repeat([]byte{0x55}, 15), false},
		{"signature plus byte", append(append([]byte(nil), signatureQuery...), 0xee), false},
		{"short", []byte{0x55, 0xaa}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.register(t)
			h.write(h.session.DataHandles().Handle(IdxCharValB), tt.value, false)
			if got := h.session.Subscription().Snapshot().Armed; got != tt.armed {
				t.Errorf("armed = %t, want %t", got, tt.armed)
			}
		})
	}
}

func TestConfigDescriptorWrites(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	sub := h.session.Subscription()

	h.write(h.cfgHandle(), []byte{0x01, 0x00}, true)
	snap := sub.Snapshot()
	if !snap.Notify || snap.ConnID != testConn || snap.GattsIf != testIf {
		t.Fatalf("after 0x0001: %+v", snap)
	}
	rsps := stack.Of[stack.SendResponse](h.rec.Requests())
	if len(rsps) != 1 || rsps[0].Status != stack.StatusOK || rsps[0].TransID != 7 {
		t.Errorf("responses = %+v", rsps)
	}
	if n := len(stack.Of[stack.SendIndicate](h.rec.Requests())); n != 0 {
		t.Errorf("unarmed subscription sent %d notifications", n)
	}

	h.write(h.cfgHandle(), []byte{0x05, 0x00}, false)
	if sub.Snapshot() != snap {
		t.Errorf("unknown value changed state: %+v", sub.Snapshot())
	}

	h.write(h.cfgHandle(), []byte{0x00, 0x00}, false)
	if sub.Snapshot().Notify {
		t.Error("0x0000 did not disable notifications")
	}
}

func TestConfigWriteIgnoredElsewhere(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.write(h.session.DataHandles().Handle(IdxCharCfgB), []byte{0x01, 0x00}, false)
	h.write(h.cfgHandle(), []byte{0x01, 0x00, 0x00}, false)
	if h.session.Subscription().Snapshot().Notify {
		t.Error("notifications enabled by a write that is not a 2-byte TX config write")
	}
}

func TestEarlierArmingDoesNotTriggerBurst(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.write(h.session.DataHandles().Handle(IdxCharValB), signatureStart, false)
	h.rec.Reset()
	h.write(h.cfgHandle(), []byte{0x01, 0x00}, false)

	if sends := stack.Of[stack.SendIndicate](h.rec.Requests()); len(sends) != 0 {
		t.Fatalf("subscribing after arming sent %d values, want 0", len(sends))
	}
	snap := h.session.Subscription().Snapshot()
	if !snap.Armed || !snap.Notify {
		t.Errorf("state after arm then subscribe: %+v", snap)
	}
}

func TestSignatureInConfigWriteSendsBurst(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	e := stack.WriteEvent{GattsIf: testIf, ConnID: testConn, Handle: h.cfgHandle(), Value: []byte{0x01, 0x00}}
	if reqs := h.p.onConfigWrite(e, false); len(reqs) != 0 {
		t.Fatalf("no signature: %d requests, want 0", len(reqs))
	}

	sends := stack.Of[stack.SendIndicate](h.p.onConfigWrite(e, true))
	if len(sends) != notifyBurstCount {
		t.Fatalf("sent %d notifications, want %d", len(sends), notifyBurstCount)
	}
	want := ramp(20, 0)
	for _, s := range sends {
		if s.NeedConfirm || s.Handle != h.session.notifyHandle() || !bytes.Equal(s.Value, want) {
			t.Fatalf("unexpected notification %s % x", s, s.Value)
		}
	}
}

func TestIndicateEnable(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.write(h.cfgHandle(), []byte{0x02, 0x00}, false)

	sends := stack.Of[stack.SendIndicate](h.rec.Requests())
	if len(sends) != 1 || !sends[0].NeedConfirm || len(sends[0].Value) != 15 {
		t.Fatalf("indications = %+v", sends)
	}
	if sends[0].Value[14] != 14 {
		t.Errorf("indication payload % x", sends[0].Value)
	}
	snap := h.session.Subscription().Snapshot()
	if !snap.Indicate || snap.Notify || snap.ConnID != testConn {
		t.Errorf("state after 0x0002: %+v", snap)
	}
}

func TestPrepareWriteBounds(t *testing.T) {
	tests := []struct {
		name   string
		offset uint16
		size   int
		want   stack.Status
	}{
		{"fits", 0, 512, stack.StatusOK},
		{"ends at limit", 1000, 24, stack.StatusOK},
		{"past limit", 1000, 25, stack.StatusInvalidAttrLen},
		{"offset at limit", 1024, 0, stack.StatusOK},
		{"offset past limit", 1025, 1, stack.StatusInvalidOffset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.register(t)
			h.prepare(20, tt.offset, make([]byte, tt.size))

			rsps := stack.Of[stack.SendResponse](h.rec.Requests())
			if len(rsps) != 1 {
				t.Fatalf("responses = %d", len(rsps))
			}
			if rsps[0].Status != tt.want {
				t.Errorf("status = %s, want %s", rsps[0].Status, tt.want)
			}
			if r := rsps[0].Rsp; r == nil || r.Handle != 20 || r.Offset != tt.offset || len(r.Value) != tt.size {
				t.Errorf("response echo = %+v", r)
			}
		})
	}
}

func TestPrepareOverflowDoesNotCorruptNextSequence(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.prepare(20, 0, bytes.Repeat([]byte{0xAA}, 600))
	h.prepare(20, 600, bytes.Repeat([]byte{0xBB}, 600))
	rsps := stack.Of[stack.SendResponse](h.rec.Requests())
	if rsps[1].Status != stack.StatusInvalidAttrLen {
		t.Fatalf("overflow status = %s", rsps[1].Status)
	}
	if got := h.session.PrepareBuffer().Len(); got != 600 {
		t.Errorf("buffer length after rejected fragment = %d", got)
	}
	h.d.HandleGATTS(stack.ExecWriteEvent{GattsIf: testIf, ConnID: testConn, Commit: false})

	first := []byte("hello, ")
	second := []byte("long write")
	h.prepare(20, 0, first)
	h.prepare(20, uint16(len(first)), second)
	h.d.HandleGATTS(stack.ExecWriteEvent{GattsIf: testIf, ConnID: testConn, Commit: true})

	if got := string(h.session.LastCommitted()); got != "hello, long write" {
		t.Errorf("committed %q", got)
	}
	if h.session.PrepareBuffer() != nil {
		t.Error("buffer not released after exec write")
	}
}

func TestExecWriteCommitsInOffsetOrder(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.prepare(20, 6, []byte("world"))
	h.prepare(20, 0, []byte("hello "))
	h.d.HandleGATTS(stack.ExecWriteEvent{GattsIf: testIf, ConnID: testConn, Commit: true})

	if got := string(h.session.LastCommitted()); got != "hello world" {
		t.Errorf("committed %q, want %q", got, "hello world")
	}
}

func TestExecWriteCancelDiscards(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.prepare(20, 0, []byte("discard me"))
	h.d.HandleGATTS(stack.ExecWriteEvent{GattsIf: testIf, ConnID: testConn, Commit: false})

	if h.session.PrepareBuffer() != nil {
		t.Error("buffer kept after cancel")
	}
	if len(h.session.LastCommitted()) != 0 {
		t.Errorf("cancel committed %q", h.session.LastCommitted())
	}

	h.d.HandleGATTS(stack.ExecWriteEvent{GattsIf: testIf, ConnID: testConn, Commit: true})
	if len(h.session.LastCommitted()) != 0 {
		t.Error("commit without fragments delivered a value")
	}
}

func TestConnectRequestsParameterUpdate(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	bda := stack.BDA{1, 2, 3, 4, 5, 6}

	h.d.HandleGATTS(stack.ConnectEvent{GattsIf: testIf, ConnID: testConn, BDA: bda})

	ups := stack.Of[stack.UpdateConnParams](h.rec.Requests())
	if len(ups) != 1 {
		t.Fatalf("UpdateConnParams = %d", len(ups))
	}
	p := ups[0].Params
	if p.BDA != bda || p.IntervalMin != 0x10 || p.IntervalMax != 0x20 || p.Latency != 0 || p.Timeout != 400 {
		t.Errorf("params = %+v", p)
	}
	if peer, conn := h.session.Peer(); peer != bda || conn != testConn || h.session.State() != StateConnected {
		t.Errorf("session after connect: %s %d %s", peer, conn, h.session.State())
	}
}

func TestDisconnectClearsAndReadvertises(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	h.d.HandleGATTS(stack.ConnectEvent{GattsIf: testIf, ConnID: testConn})
	h.write(h.session.DataHandles().Handle(IdxCharValB), signatureQuery, false)
	h.write(h.cfgHandle(), []byte{0x01, 0x00}, false)
	h.prepare(20, 0, []byte{1, 2, 3})
	h.rec.Reset()

	h.d.HandleGATTS(stack.DisconnectEvent{GattsIf: testIf, ConnID: testConn, Reason: 0x13})

	if snap := h.session.Subscription().Snapshot(); snap != (SubscriptionState{}) {
		t.Errorf("subscription after disconnect: %+v", snap)
	}
	if h.session.PrepareBuffer() != nil {
		t.Error("prepare buffer survived disconnect")
	}
	if n := len(stack.Of[stack.StartAdvertising](h.rec.Requests())); n != 1 {
		t.Errorf("StartAdvertising requests = %d", n)
	}
	if h.session.State() != StateDisconnected {
		t.Errorf("state = %s", h.session.State())
	}
}

func TestAdvertisingStartsAfterBothPayloads(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.d.HandleGAP(stack.AdvDataRawSetEvent{})
	if n := len(stack.Of[stack.StartAdvertising](h.rec.Requests())); n != 0 {
		t.Fatalf("advertising started with scan response pending")
	}
	h.d.HandleGAP(stack.ScanRspDataRawSetEvent{})
	starts := stack.Of[stack.StartAdvertising](h.rec.Requests())
	if len(starts) != 1 || starts[0].Params.IntervalMin != 0x20 || starts[0].Params.IntervalMax != 0x40 {
		t.Fatalf("StartAdvertising = %+v", starts)
	}

	h.d.HandleGAP(stack.ScanRspDataRawSetEvent{})
	if n := len(stack.Of[stack.StartAdvertising](h.rec.Requests())); n != 1 {
		t.Errorf("duplicate completion restarted advertising")
	}

	h.d.HandleGAP(stack.AdvStartEvent{})
	if !h.session.Advertising() || h.session.State() != StateAdvertising {
		t.Errorf("advertising=%t state=%s", h.session.Advertising(), h.session.State())
	}
	h.d.HandleGAP(stack.AdvStopEvent{})
	if h.session.Advertising() {
		t.Error("advertising flag kept after stop")
	}
}

func TestAdvStartFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	h.d.HandleGAP(stack.AdvStartEvent{Status: stack.StatusError})
	if h.session.Advertising() || h.session.State() == StateAdvertising {
		t.Error("failed start marked advertising")
	}
}
