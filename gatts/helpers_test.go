package gatts

import (
	"testing"

	"github.com/user/gatts-table/config"
	"github.com/user/gatts-table/stack"
)

const (
	testIf   uint8  = 3
	testConn uint16 = 1
)

type harness struct {
	rec     *stack.Recorder
	d       *Dispatcher
	p       *Profile
	session *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Defaults()
	rec := stack.NewRecorder()
	session := NewSession(cfg.GATT.CharValueMaxLen, cfg.GATT.PrepareBufferMax)
	p := NewProfile(ProfileConfig{
		AppID:      cfg.Device.AppID,
		DeviceName: cfg.Device.Name,
		RawAdv:     cfg.Advertising.RawData,
		RawScanRsp: cfg.Advertising.RawScanRsp,
		AdvParams:  cfg.AdvParams(),
		ConnParams: cfg.ConnParams(),
	}, session, "test GATTS")
	return &harness{rec: rec, d: NewDispatcher(rec, "test", p), p: p, session: session}
}

// seqHandles returns n consecutive handles starting at first.
func seqHandles(first uint16, n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = first + uint16(i)
	}
	return out
}

// register runs registration and table creation, then forgets the
// recorded requests. Handles are assigned from 1 in table order.
func (h *harness) register(t *testing.T) {
	t.Helper()
	h.d.HandleGATTS(stack.RegEvent{GattsIf: testIf, AppID: 0x55})
	next := uint16(1)
	for _, table := range h.session.Tables() {
		h.d.HandleGATTS(stack.CreateAttrTabEvent{
			GattsIf:     testIf,
			ServiceUUID: table.ServiceUUID(),
			Handles:     seqHandles(next, table.Len()),
		})
		next += uint16(table.Len())
	}
	if !h.session.DataHandles().Populated() {
		t.Fatal("data service handles not populated")
	}
	h.rec.Reset()
}

func (h *harness) cfgHandle() uint16 {
	return h.session.DataHandles().Handle(IdxCharCfgA)
}

func (h *harness) write(handle uint16, value []byte, needRsp bool) {
	h.d.HandleGATTS(stack.WriteEvent{
		GattsIf: testIf,
		ConnID:  testConn,
		TransID: 7,
		Handle:  handle,
		NeedRsp: needRsp,
		Value:   value,
	})
}

func (h *harness) prepare(handle, offset uint16, value []byte) {
	h.d.HandleGATTS(stack.WriteEvent{
		GattsIf: testIf,
		ConnID:  testConn,
		TransID: 8,
		Handle:  handle,
		Offset:  offset,
		NeedRsp: true,
		IsPrep:  true,
		Value:   value,
	})
}
