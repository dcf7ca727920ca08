package scenario

import (
	"bytes"
	"fmt"

	"github.com/user/gatts-table/config"
	"github.com/user/gatts-table/gatts"
	"github.com/user/gatts-table/wire/att"
)

// CheckAssertions evaluates every assertion against the final state.
func (r *Runner) CheckAssertions() []AssertionResult {
	results := make([]AssertionResult, 0, len(r.scenario.Assertions))
	for i := range r.scenario.Assertions {
		a := &r.scenario.Assertions[i]
		passed, msg := r.check(a)
		results = append(results, AssertionResult{Assertion: a, Passed: passed, Message: msg})
	}
	r.mu.Lock()
	r.results = results
	r.mu.Unlock()
	return results
}

// Passed reports whether every checked assertion held.
func (r *Runner) Passed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if !res.Passed {
			return false
		}
	}
	return true
}

func (r *Runner) check(a *Assertion) (bool, string) {
	session := r.app.Session()
	c := r.centrals[a.Device]

	switch a.Type {
	case AssertAdvertising:
		return session.Advertising(), fmt.Sprintf("advertising=%v", session.Advertising())
	case AssertArmed:
		want := true
		if v, ok := a.Data["expected"].(bool); ok {
			want = v
		}
		armed := session.Subscription().Snapshot().Armed
		return armed == want, fmt.Sprintf("armed=%v, want %v", armed, want)
	case AssertCommitted:
		got := session.LastCommitted()
		if n := intData(a.Data, "length", -1); n >= 0 {
			return len(got) == n, fmt.Sprintf("committed %d bytes, want %d", len(got), n)
		}
		want, err := expectedValue(a)
		if err != nil {
			return false, err.Error()
		}
		return bytes.Equal(got, want), fmt.Sprintf("committed [% X], want [% X]", got, want)
	}

	if c == nil {
		return false, fmt.Sprintf("device %q not found", a.Device)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch a.Type {
	case AssertConnected:
		ok := c.central != nil && session.State() == gatts.StateConnected
		return ok, fmt.Sprintf("%s connected=%v (server %s)", a.Device, c.central != nil, session.State())
	case AssertDisconnected:
		return c.central == nil, fmt.Sprintf("%s connected=%v", a.Device, c.central != nil)
	case AssertNotifications:
		return countInRange(a, c.notifications, "notifications")
	case AssertIndications:
		return countInRange(a, c.indications, "indications")
	case AssertServices:
		if c.cache == nil {
			return false, fmt.Sprintf("%s never discovered", a.Device)
		}
		want := intData(a.Data, "count", 3)
		return len(c.cache.Services) == want, fmt.Sprintf("%d services, want %d", len(c.cache.Services), want)
	case AssertReadValue:
		got, ok := c.reads[a.Attribute]
		if !ok {
			return false, fmt.Sprintf("%s never read %s", a.Device, a.Attribute)
		}
		want, err := expectedValue(a)
		if err != nil {
			return false, err.Error()
		}
		return bytes.Equal(got, want), fmt.Sprintf("%s = %q, want %q", a.Attribute, got, want)
	case AssertWriteRejected:
		err := c.writeErrors[a.Attribute]
		if err == nil {
			return false, fmt.Sprintf("write to %s was accepted", a.Attribute)
		}
		if code := intData(a.Data, "att_error", 0); code != 0 && !att.IsATTError(err, uint8(code)) {
			return false, fmt.Sprintf("write to %s failed with %v, want ATT error 0x%02X", a.Attribute, err, code)
		}
		return true, fmt.Sprintf("write to %s rejected: %v", a.Attribute, err)
	}
	return false, fmt.Sprintf("unknown assertion %q", a.Type)
}

func countInRange(a *Assertion, got int, what string) (bool, string) {
	lo := intData(a.Data, "min", 1)
	hi := intData(a.Data, "max", -1)
	if got < lo || (hi >= 0 && got > hi) {
		return false, fmt.Sprintf("%s received %d %s, want %d..%d", a.Device, got, what, lo, hi)
	}
	return true, fmt.Sprintf("%s received %d %s", a.Device, got, what)
}

func expectedValue(a *Assertion) ([]byte, error) {
	if a.Text != "" {
		return []byte(a.Text), nil
	}
	return config.ParseHex(a.RawValue)
}
