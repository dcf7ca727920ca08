package gatts

import (
	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/stack"
)

// HandleGAP reacts to advertising and connection parameter events.
func (p *Profile) HandleGAP(ev stack.GAPEvent) []stack.Request {
	switch e := ev.(type) {
	case stack.AdvDataRawSetEvent:
		return p.onAdvConfigured(advConfigFlag, "advertising data", e.Status)
	case stack.ScanRspDataRawSetEvent:
		return p.onAdvConfigured(scanRspConfigFlag, "scan response data", e.Status)

	case stack.AdvStartEvent:
		if e.Status != stack.StatusOK {
			logger.Error(p.prefix, "advertising start failed: %s", e.Status)
			return nil
		}
		logger.Info(p.prefix, "advertising started")
		s := p.session
		s.mu.Lock()
		s.advertising = true
		if s.state != StateConnected {
			s.state = StateAdvertising
		}
		s.mu.Unlock()

	case stack.AdvStopEvent:
		if e.Status != stack.StatusOK {
			logger.Error(p.prefix, "advertising stop failed: %s", e.Status)
			return nil
		}
		logger.Info(p.prefix, "advertising stopped")
		p.session.mu.Lock()
		p.session.advertising = false
		p.session.mu.Unlock()

	case stack.UpdateConnParamsEvent:
		logger.Info(p.prefix, "connection params updated: status=%s min_int=%d max_int=%d conn_int=%d latency=%d timeout=%d",
			e.Status, e.IntervalMin, e.IntervalMax, e.ConnInt, e.Latency, e.Timeout)
	}
	return nil
}

// onAdvConfigured clears one pending flag and starts advertising once both
// payloads are configured.
func (p *Profile) onAdvConfigured(flag uint8, what string, status stack.Status) []stack.Request {
	if status != stack.StatusOK {
		logger.Error(p.prefix, "%s config failed: %s", what, status)
	} else {
		logger.Debug(p.prefix, "%s configured", what)
	}
	if p.session.advPending&flag == 0 {
		return nil
	}
	p.session.advPending &^= flag
	if p.session.advPending != 0 {
		return nil
	}
	return []stack.Request{stack.StartAdvertising{Params: p.cfg.AdvParams}}
}
