package gatts

import (
	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/stack"
)

// Dispatcher fans stack events out to the registered profiles and executes
// the requests they return.
type Dispatcher struct {
	stack    stack.Stack
	profiles []*Profile
	prefix   string
}

// NewDispatcher routes events from s to profiles.
func NewDispatcher(s stack.Stack, prefix string, profiles ...*Profile) *Dispatcher {
	return &Dispatcher{stack: s, profiles: profiles, prefix: prefix}
}

// HandleGATTS is the GATTS callback registered with the stack. A successful
// registration binds the event's gatts_if to the profile with the matching
// app id; a failed one is logged and dropped.
func (d *Dispatcher) HandleGATTS(ev stack.GATTSEvent) {
	logger.Trace(d.prefix, "GATTS event %s if=%d", ev.Name(), ev.Interface())

	if reg, ok := ev.(stack.RegEvent); ok {
		if reg.Status != stack.StatusOK {
			logger.Error(d.prefix, "reg app failed: app_id=0x%04X status=%s", reg.AppID, reg.Status)
			return
		}
		for _, p := range d.profiles {
			if p.AppID() == reg.AppID {
				p.gattsIf = reg.GattsIf
			}
		}
	}

	gattsIf := ev.Interface()
	for _, p := range d.profiles {
		if gattsIf != stack.GattIfNone && gattsIf != p.Interface() {
			continue
		}
		stack.Execute(d.stack, p.prefix, p.HandleGATTS(ev))
	}
}

// HandleGAP is the GAP callback registered with the stack.
func (d *Dispatcher) HandleGAP(ev stack.GAPEvent) {
	logger.Trace(d.prefix, "GAP event %s", ev.Name())
	for _, p := range d.profiles {
		stack.Execute(d.stack, p.prefix, p.HandleGAP(ev))
	}
}
