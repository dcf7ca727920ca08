package scenario

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/user/gatts-table/config"
	"github.com/user/gatts-table/gatts"
	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/wire"
	"github.com/user/gatts-table/wire/gatt"
)

// stateTimeout bounds waits for the server to reach a state after an action.
const stateTimeout = 2 * time.Second

// Runner executes a scenario against a freshly started server.
type Runner struct {
	scenario *Scenario
	wire     *wire.Wire
	app      *gatts.App
	cancel   context.CancelFunc
	centrals map[string]*SimulatedCentral
	prefix   string

	mu        sync.Mutex
	startTime time.Time
	eventLog  []EventLogEntry
	results   []AssertionResult
}

// SimulatedCentral is one scripted client and what it observed.
type SimulatedCentral struct {
	Config CentralConfig

	mu            sync.Mutex
	central       *wire.Central
	cache         *gatt.DiscoveryCache
	connects      int
	notifications int
	indications   int
	reads         map[string][]byte
	writeErrors   map[string]error
}

// EventLogEntry records an executed action.
type EventLogEntry struct {
	TimeMs  int
	Device  string
	Action  string
	Message string
	Err     error
}

// AssertionResult is the outcome of one assertion.
type AssertionResult struct {
	Assertion *Assertion
	Passed    bool
	Message   string
}

// NewRunner prepares a runner; nothing starts until Setup.
func NewRunner(s *Scenario) *Runner {
	return &Runner{
		scenario: s,
		centrals: make(map[string]*SimulatedCentral),
		prefix:   "scenario",
	}
}

// Setup validates the scenario and starts the server.
func (r *Runner) Setup() error {
	if problems := r.scenario.Validate(); len(problems) > 0 {
		return errors.Errorf("scenario validation failed: %v", problems)
	}

	cfg := config.Defaults()
	cfg.Device.ID = r.scenario.Peripheral.ID
	if ms := r.scenario.Peripheral.NotifyIntervalMs; ms > 0 {
		cfg.Notifier.Interval = time.Duration(ms) * time.Millisecond
	}
	if p := r.scenario.Peripheral.Payload; p != "" {
		cfg.Notifier.Payload = p
	}
	cfg.Logger.Trace = r.scenario.Peripheral.Trace
	if err := config.Validate(cfg); err != nil {
		return err
	}

	w := wire.NewWire(cfg.Device.ID, cfg.Logger.Trace)
	if err := w.Start(); err != nil {
		return errors.Wrap(err, "start wire")
	}
	ctx, cancel := context.WithCancel(context.Background())
	app := gatts.NewApp(cfg, w)
	if err := app.Start(ctx); err != nil {
		cancel()
		w.Stop()
		return errors.Wrap(err, "start server")
	}
	r.wire, r.app, r.cancel = w, app, cancel

	for _, c := range r.scenario.Centrals {
		r.centrals[c.ID] = &SimulatedCentral{
			Config:      c,
			reads:       make(map[string][]byte),
			writeErrors: make(map[string]error),
		}
	}
	return r.waitFor("advertising", func() bool { return app.Session().Advertising() && w.Advertising() })
}

// Teardown closes every central and stops the server.
func (r *Runner) Teardown() {
	for _, c := range r.centrals {
		c.mu.Lock()
		central := c.central
		c.central = nil
		c.mu.Unlock()
		if central != nil {
			central.Close()
		}
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.wire != nil {
		r.wire.Stop()
	}
}

// Session exposes the server state for callers that check more than the
// scenario's assertions.
func (r *Runner) Session() *gatts.Session {
	return r.app.Session()
}

// Run executes the timeline in time order, then waits for the settle time.
// Failed actions are logged and do not stop the run.
func (r *Runner) Run() error {
	if r.app == nil {
		return errors.New("runner not set up")
	}
	r.startTime = time.Now()

	timeline := append([]TimelineEvent(nil), r.scenario.Timeline...)
	sort.SliceStable(timeline, func(i, j int) bool { return timeline[i].TimeMs < timeline[j].TimeMs })

	for i := range timeline {
		ev := &timeline[i]
		if wait := time.Until(r.startTime.Add(time.Duration(ev.TimeMs) * time.Millisecond)); wait > 0 {
			time.Sleep(wait)
		}
		err := r.execute(ev)
		if err != nil {
			logger.Warn(r.prefix, "[%dms] %s %s failed: %v", ev.TimeMs, ev.Device, ev.Action, err)
		}
		r.logEvent(ev, err)
	}
	time.Sleep(r.scenario.Settle())
	return nil
}

func (r *Runner) execute(ev *TimelineEvent) error {
	c := r.centrals[ev.Device]
	session := r.app.Session()

	var handle uint16
	if ev.Attribute != "" {
		h, ok := resolve(session, ev.Attribute)
		if !ok {
			return errors.Errorf("attribute %s has no handle", ev.Attribute)
		}
		handle = h
	}

	if ev.Action == ActionConnect {
		return r.connect(c, uint16(intData(ev.Data, "mtu", 0)))
	}

	c.mu.Lock()
	central := c.central
	c.mu.Unlock()
	if central == nil {
		return errors.Errorf("%s is not connected", c.Config.ID)
	}

	switch ev.Action {
	case ActionDisconnect:
		c.mu.Lock()
		c.central = nil
		c.mu.Unlock()
		central.Close()
		return r.waitFor("re-advertising", func() bool { return session.Advertising() })
	case ActionExchangeMTU:
		_, err := central.ExchangeMTU(uint16(intData(ev.Data, "mtu", 517)))
		return err
	case ActionDiscover:
		cache, err := central.Discover()
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.cache = cache
		c.mu.Unlock()
		return nil
	case ActionRead:
		value, err := central.Read(handle)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.reads[ev.Attribute] = value
		c.mu.Unlock()
		return nil
	case ActionWrite:
		return c.recordWrite(ev.Attribute, central.Write(handle, ev.Value))
	case ActionWriteCommand:
		return c.recordWrite(ev.Attribute, central.WriteCommand(handle, ev.Value))
	case ActionLongWrite:
		return c.recordWrite(ev.Attribute, central.LongWrite(handle, longValue(ev)))
	case ActionCancelWrite:
		if err := central.PrepareWrite(handle, 0, ev.Value); err != nil {
			return c.recordWrite(ev.Attribute, err)
		}
		return central.ExecuteWrite(false)
	case ActionSubscribe:
		indicate := boolData(ev.Data, "indicate")
		return central.Subscribe(handle, !indicate, indicate)
	case ActionUnsubscribe:
		return central.Subscribe(handle, false, false)
	case ActionArm:
		rx, _ := resolve(session, "data.rx")
		return central.WriteCommand(rx, gatts.StartSignature())
	}
	return errors.Errorf("unknown action %q", ev.Action)
}

// longValue is the event's value, or data.length bytes of data.fill.
func longValue(ev *TimelineEvent) []byte {
	if n := intData(ev.Data, "length", 0); n > 0 {
		fill := byte(intData(ev.Data, "fill", 0xA5))
		out := make([]byte, n)
		for i := range out {
			out[i] = fill
		}
		return out
	}
	return ev.Value
}

func (r *Runner) connect(c *SimulatedCentral, mtu uint16) error {
	c.mu.Lock()
	already := c.central != nil
	c.mu.Unlock()
	if already {
		return errors.Errorf("%s is already connected", c.Config.ID)
	}

	central, err := wire.Dial(r.wire.ID(), c.Config.ID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.central = central
	c.connects++
	c.mu.Unlock()
	go c.collect(central)

	session := r.app.Session()
	if err := r.waitFor("connection", func() bool { return session.State() == gatts.StateConnected }); err != nil {
		return err
	}
	if mtu != 0 {
		if _, err := central.ExchangeMTU(mtu); err != nil {
			return errors.Wrap(err, "exchange MTU")
		}
	}
	return nil
}

// collect counts pushed values until the link closes.
func (c *SimulatedCentral) collect(central *wire.Central) {
	for n := range central.Notifications() {
		c.mu.Lock()
		if n.Indicate {
			c.indications++
		} else {
			c.notifications++
		}
		c.mu.Unlock()
	}
}

func (c *SimulatedCentral) recordWrite(attribute string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.writeErrors[attribute] = err
	} else {
		delete(c.writeErrors, attribute)
	}
	return err
}

func (r *Runner) waitFor(what string, cond func() bool) error {
	deadline := time.Now().Add(stateTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			return errors.Errorf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func (r *Runner) logEvent(ev *TimelineEvent, err error) {
	msg := ev.Comment
	if ev.Attribute != "" {
		msg = fmt.Sprintf("%s %s", ev.Attribute, msg)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventLog = append(r.eventLog, EventLogEntry{
		TimeMs:  int(time.Since(r.startTime) / time.Millisecond),
		Device:  ev.Device,
		Action:  ev.Action,
		Message: msg,
		Err:     err,
	})
}

// EventLog returns the executed actions in order.
func (r *Runner) EventLog() []EventLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLogEntry(nil), r.eventLog...)
}
