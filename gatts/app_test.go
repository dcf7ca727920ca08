package gatts

import (
	"context"
	"errors"
	"testing"

	"github.com/user/gatts-table/config"
	"github.com/user/gatts-table/stack"
)

func TestAppStartRegisters(t *testing.T) {
	rec := stack.NewRecorder()
	app := NewApp(config.Defaults(), rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	reqs := rec.Requests()
	if regs := stack.Of[stack.AppRegister](reqs); len(regs) != 1 || regs[0].AppID != 0x55 {
		t.Errorf("AppRegister = %+v", regs)
	}
	if mtus := stack.Of[stack.SetLocalMTU](reqs); len(mtus) != 1 || mtus[0].MTU != 500 {
		t.Errorf("SetLocalMTU = %+v", mtus)
	}

	rec.Emit(stack.RegEvent{GattsIf: 4, AppID: 0x55})
	if n := len(stack.Of[stack.CreateAttrTable](rec.Requests())); n != 3 {
		t.Errorf("CreateAttrTable after REG = %d", n)
	}

	cancel()
	<-app.Notifier().Done()
}

func TestAppStartFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		method  string
		wantErr bool
	}{
		{"RegisterGAPCallback", true},
		{"RegisterGATTSCallback", true},
		{"AppRegister", true},
		{"SetLocalMTU", false},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			rec := stack.NewRecorder()
			rec.FailOn(tt.method, boom)
			app := NewApp(config.Defaults(), rec)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := app.Start(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Start error = %v, wantErr %t", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, boom) {
				t.Errorf("error %v does not wrap cause", err)
			}
		})
	}
}

func TestAppFullFlow(t *testing.T) {
	rec := stack.NewRecorder()
	app := NewApp(config.Defaults(), rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}

	rec.Emit(stack.RegEvent{GattsIf: testIf, AppID: 0x55})
	next := uint16(40)
	for _, table := range stack.Of[stack.CreateAttrTable](rec.Requests()) {
		rec.Emit(stack.CreateAttrTabEvent{GattsIf: testIf, ServiceUUID: table.Table.ServiceUUID(), Handles: seqHandles(next, table.Table.Len())})
		next += uint16(table.Table.Len())
	}
	rec.Emit(stack.AdvDataRawSetEvent{})
	rec.Emit(stack.ScanRspDataRawSetEvent{})
	rec.Emit(stack.AdvStartEvent{})
	rec.Emit(stack.ConnectEvent{GattsIf: testIf, ConnID: testConn})
	rec.Emit(stack.DisconnectEvent{GattsIf: testIf, ConnID: testConn, Reason: 0x13})

	reqs := rec.Requests()
	if n := len(stack.Of[stack.StartService](reqs)); n != 3 {
		t.Errorf("StartService = %d", n)
	}
	if n := len(stack.Of[stack.StartAdvertising](reqs)); n != 2 {
		t.Errorf("StartAdvertising = %d, want initial start and restart", n)
	}
	if app.Session().State() != StateDisconnected {
		t.Errorf("state = %s", app.Session().State())
	}
}
