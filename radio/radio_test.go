package radio

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/user/gatts-table/gatts"
	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/stack"
	"github.com/user/gatts-table/wire/gatt"
	"github.com/user/gatts-table/wire/l2cap"
)

func TestToUUID(t *testing.T) {
	data, err := bluetooth.ParseUUID(strings.ToLower(gatts.DataServiceUUID().String()))
	if err != nil {
		t.Fatalf("ParseUUID: %v", err)
	}

	tests := []struct {
		name string
		in   gatt.UUID
		want bluetooth.UUID
	}{
		{"device information", gatt.UUID16(0x180A), bluetooth.New16BitUUID(0x180A)},
		{"manufacturer name", gatt.UUID16(0x2A29), bluetooth.New16BitUUID(0x2A29)},
		{"expanded 16-bit", gatt.UUID16(0xFEF5).Expand(), bluetooth.New16BitUUID(0xFEF5)},
		{"128-bit", gatts.DataServiceUUID(), data},
		{"invalid", gatt.UUID{0x01}, bluetooth.UUID{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToUUID(tt.in); got != tt.want {
				t.Errorf("ToUUID(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		name  string
		props uint8
		want  bluetooth.CharacteristicPermissions
	}{
		{"none", 0, 0},
		{"read", gatt.PropRead, bluetooth.CharacteristicReadPermission},
		{"notify", gatt.PropNotify, bluetooth.CharacteristicNotifyPermission},
		{"write without response", gatt.PropWriteWithoutResponse, bluetooth.CharacteristicWriteWithoutResponsePermission},
		{"read write", gatt.PropRead | gatt.PropWrite,
			bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicWritePermission},
		{"indicate broadcast", gatt.PropIndicate | gatt.PropBroadcast,
			bluetooth.CharacteristicIndicatePermission | bluetooth.CharacteristicBroadcastPermission},
		{"extended properties ignored", gatt.PropExtendedProperties, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Permissions(tt.props); got != tt.want {
				t.Errorf("Permissions(0x%02X) = 0x%02X, want 0x%02X", tt.props, got, tt.want)
			}
		})
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name  string
		table *gatt.ServiceTable
		chars []int
	}{
		{"device info", gatts.ServiceA(20), []int{gatts.IdxCharValManufacturer, gatts.IdxCharValModel,
			gatts.IdxCharValHardwareRev, gatts.IdxCharValFirmwareRev, gatts.IdxCharValSoftwareRev}},
		{"data", gatts.ServiceB(20), []int{gatts.IdxCharValA, gatts.IdxCharValB, gatts.IdxCharValC}},
		{"control", gatts.ServiceC(20), []int{gatts.IdxCtrlCharValA, gatts.IdxCtrlCharValB, gatts.IdxCtrlCharValC,
			gatts.IdxCtrlCharValD, gatts.IdxCtrlCharValE, gatts.IdxCtrlCharValF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(nil)
			handles := make([]uint16, tt.table.Len())
			for i := range handles {
				handles[i] = uint16(0x40 + i)
			}

			svc, chars := r.translate(tt.table, handles)
			if svc.UUID != ToUUID(tt.table.ServiceUUID()) {
				t.Errorf("service UUID = %s", svc.UUID)
			}
			if len(svc.Characteristics) != len(tt.chars) || len(chars) != len(tt.chars) {
				t.Fatalf("%d characteristics (%d handles), want %d", len(svc.Characteristics), len(chars), len(tt.chars))
			}
			for i, idx := range tt.chars {
				cfg := svc.Characteristics[i]
				value := tt.table.Records[idx]
				if cfg.UUID != ToUUID(value.UUID) {
					t.Errorf("characteristic %d UUID = %s, want %s", i, cfg.UUID, value.UUID)
				}
				if want := Permissions(tt.table.Records[idx-1].Value[0]); cfg.Flags != want {
					t.Errorf("characteristic %d flags = 0x%02X, want 0x%02X", i, cfg.Flags, want)
				}
				if string(cfg.Value) != string(value.Value) {
					t.Errorf("characteristic %d value = %q, want %q", i, cfg.Value, value.Value)
				}
				if chars[handles[idx]] != cfg.Handle {
					t.Errorf("characteristic %d not mapped to handle 0x%04X", i, handles[idx])
				}
			}
		})
	}
}

// started returns a Radio delivering events without an adapter.
func started(t *testing.T) (*Radio, chan stack.Event) {
	t.Helper()
	r := New(nil)
	events := make(chan stack.Event, 16)
	r.RegisterGATTSCallback(func(ev stack.GATTSEvent) { events <- ev })
	r.RegisterGAPCallback(func(ev stack.GAPEvent) { events <- ev })
	go r.run()
	t.Cleanup(func() { close(r.stop) })
	return r, events
}

func next(t *testing.T, events chan stack.Event) stack.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return nil
	}
}

func TestConnectionEvents(t *testing.T) {
	r, events := started(t)

	r.onConnect("AA:BB:CC:DD:EE:01", true)
	r.onConnect("AA:BB:CC:DD:EE:02", true)
	r.onConnect("AA:BB:CC:DD:EE:01", false)
	r.onConnect("AA:BB:CC:DD:EE:01", false)
	r.onConnect("AA:BB:CC:DD:EE:03", true)

	connect, ok := next(t, events).(stack.ConnectEvent)
	if !ok || connect.ConnID != 0 || connect.GattsIf != gattsIf || connect.BDA != stack.AddressFor("AA:BB:CC:DD:EE:01") {
		t.Errorf("first event = %+v", connect)
	}
	disconnect, ok := next(t, events).(stack.DisconnectEvent)
	if !ok || disconnect.ConnID != 0 || disconnect.Reason != disconnectRemote {
		t.Errorf("second event = %+v", disconnect)
	}
	again, ok := next(t, events).(stack.ConnectEvent)
	if !ok || again.ConnID != 1 {
		t.Errorf("third event = %+v", again)
	}
}

func TestStackCalls(t *testing.T) {
	r, events := started(t)

	if err := r.AppRegister(0x55); err != nil {
		t.Fatalf("AppRegister: %v", err)
	}
	if reg, ok := next(t, events).(stack.RegEvent); !ok || reg.GattsIf != gattsIf || reg.AppID != 0x55 {
		t.Errorf("registration = %+v", reg)
	}
	if err := r.AppRegister(0x56); err == nil {
		t.Error("second AppRegister succeeded")
	}

	raw := []byte{
		0x02, 0x01, 0x06,
		0x09, 0x09, 'S', '-', 'P', 'A', 'T', 'C', 'H', '3',
		0x03, 0x03, 0x0A, 0x18,
		0x04, 0xFF, 0x75, 0x00, 0x02,
	}
	if err := r.ConfigAdvDataRaw(raw); err != nil {
		t.Fatalf("ConfigAdvDataRaw: %v", err)
	}
	if _, ok := next(t, events).(stack.AdvDataRawSetEvent); !ok {
		t.Error("no advertising data completion")
	}
	if r.advName != "S-PATCH3" || len(r.advUUIDs) != 1 || r.advUUIDs[0] != bluetooth.New16BitUUID(0x180A) {
		t.Errorf("advertisement = %q %v", r.advName, r.advUUIDs)
	}
	if len(r.advMfr) != 1 || r.advMfr[0].CompanyID != 0x0075 || len(r.advMfr[0].Data) != 1 {
		t.Errorf("manufacturer data = %+v", r.advMfr)
	}
	if err := r.ConfigScanRspDataRaw(make([]byte, 40)); err == nil {
		t.Error("oversized payload accepted")
	}

	if err := r.StartService(0x0001); err == nil {
		t.Error("StartService of an unknown table succeeded")
	}
	if err := r.SendResponse(gattsIf, 0, 9, stack.StatusOK, nil); err == nil {
		t.Error("SendResponse succeeded")
	}
	if err := r.SendIndicate(gattsIf, 0, 0x0010, []byte{1}, false); err == nil {
		t.Error("SendIndicate to an unknown handle succeeded")
	}
	params := stack.ConnParams{ConnectionParameters: l2cap.PreferredParameters()}
	if err := r.UpdateConnParams(params); err == nil {
		t.Error("UpdateConnParams succeeded")
	}
}

func TestWarnLimits(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stdout)

	New(nil).warnLimits()

	if out := buf.String(); !strings.Contains(out, "WARN") || !strings.Contains(out, "notifier stays idle") {
		t.Errorf("warning = %q", out)
	}
}
