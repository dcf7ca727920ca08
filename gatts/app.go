package gatts

import (
	"context"
	"fmt"

	"github.com/user/gatts-table/config"
	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/stack"
)

// App wires a session, its profile, the dispatcher and the notifier to a
// stack.
type App struct {
	cfg        *config.Config
	stack      stack.Stack
	session    *Session
	profile    *Profile
	dispatcher *Dispatcher
	notifier   *Notifier
	prefix     string
}

// NewApp builds the application for cfg. Nothing talks to the stack until
// Start.
func NewApp(cfg *config.Config, s stack.Stack) *App {
	prefix := fmt.Sprintf("%s GATTS", shortID(cfg.Device.ID))
	session := NewSession(cfg.GATT.CharValueMaxLen, cfg.GATT.PrepareBufferMax)
	profile := NewProfile(ProfileConfig{
		AppID:      cfg.Device.AppID,
		DeviceName: cfg.Device.Name,
		RawAdv:     cfg.Advertising.RawData,
		RawScanRsp: cfg.Advertising.RawScanRsp,
		AdvParams:  cfg.AdvParams(),
		ConnParams: cfg.ConnParams(),
	}, session, prefix)

	payload := RampPayload
	if cfg.Notifier.Payload == config.PayloadFrames {
		payload = FramePayload
	}

	return &App{
		cfg:        cfg,
		stack:      s,
		session:    session,
		profile:    profile,
		dispatcher: NewDispatcher(s, prefix, profile),
		notifier:   NewNotifier(s, session, cfg.Notifier.Interval, payload, prefix),
		prefix:     prefix,
	}
}

// Start registers the callbacks and the application, requests the local MTU
// and starts the notifier. Registration failures are returned; a rejected
// MTU is only logged.
func (a *App) Start(ctx context.Context) error {
	if err := a.stack.RegisterGAPCallback(a.dispatcher.HandleGAP); err != nil {
		return fmt.Errorf("gap register: %w", err)
	}
	if err := a.stack.RegisterGATTSCallback(a.dispatcher.HandleGATTS); err != nil {
		return fmt.Errorf("gatts register: %w", err)
	}
	if err := a.stack.AppRegister(a.cfg.Device.AppID); err != nil {
		return fmt.Errorf("gatts app register: %w", err)
	}
	if err := a.stack.SetLocalMTU(a.cfg.Device.LocalMTU); err != nil {
		logger.Error(a.prefix, "set local MTU %d failed: %v", a.cfg.Device.LocalMTU, err)
	}
	a.notifier.Start(ctx)
	logger.DebugJSON(a.prefix, "config", a.cfg)
	logger.Info(a.prefix, "started %q (app 0x%02X)", a.cfg.Device.Name, a.cfg.Device.AppID)
	return nil
}

// Session returns the server context.
func (a *App) Session() *Session { return a.session }

// Notifier returns the background notifier.
func (a *App) Notifier() *Notifier { return a.notifier }

func shortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
