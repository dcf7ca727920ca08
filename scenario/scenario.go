// Package scenario runs scripted central sessions against an in-process
// table server on the wire backend and checks the outcome.
package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/user/gatts-table/config"
)

// Scenario is one scripted interaction with the peripheral.
type Scenario struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Peripheral  PeripheralConfig `json:"peripheral"`
	Centrals    []CentralConfig  `json:"centrals"`
	Timeline    []TimelineEvent  `json:"timeline"`
	Assertions  []Assertion      `json:"assertions"`
	SettleMs    int              `json:"settle_ms,omitempty"` // wait before assertions, default 100
}

// PeripheralConfig overrides the server defaults for the run.
type PeripheralConfig struct {
	ID               string `json:"id"`
	NotifyIntervalMs int    `json:"notify_interval_ms,omitempty"`
	Payload          string `json:"payload,omitempty"` // "ramp" or "frames"
	Trace            bool   `json:"trace,omitempty"`
}

// CentralConfig names one client.
type CentralConfig struct {
	ID string `json:"id"`
}

// TimelineEvent is an action taken by a central at TimeMs after start.
type TimelineEvent struct {
	TimeMs    int                    `json:"time_ms"`
	Action    string                 `json:"action"`
	Device    string                 `json:"device"`
	Attribute string                 `json:"attribute,omitempty"`
	Value     config.HexBytes        `json:"-"`
	RawValue  string                 `json:"value,omitempty"` // hex
	Text      string                 `json:"text,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Comment   string                 `json:"comment,omitempty"`
}

// Actions
const (
	ActionConnect      = "connect"
	ActionDisconnect   = "disconnect"
	ActionExchangeMTU  = "exchange_mtu"
	ActionDiscover     = "discover"
	ActionRead         = "read"
	ActionWrite        = "write"
	ActionWriteCommand = "write_command"
	ActionLongWrite    = "long_write"
	ActionCancelWrite  = "cancel_write"
	ActionSubscribe    = "subscribe"
	ActionUnsubscribe  = "unsubscribe"
	ActionArm          = "arm"
)

var knownActions = map[string]bool{
	ActionConnect: true, ActionDisconnect: true, ActionExchangeMTU: true, ActionDiscover: true,
	ActionRead: true, ActionWrite: true, ActionWriteCommand: true, ActionLongWrite: true,
	ActionCancelWrite: true, ActionSubscribe: true, ActionUnsubscribe: true, ActionArm: true,
}

// Assertion is an expected outcome checked after the timeline.
type Assertion struct {
	Type      string                 `json:"type"`
	Device    string                 `json:"device,omitempty"`
	Attribute string                 `json:"attribute,omitempty"`
	RawValue  string                 `json:"value,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Comment   string                 `json:"comment,omitempty"`
}

// Assertion types
const (
	AssertConnected     = "connected"
	AssertDisconnected  = "disconnected"
	AssertNotifications = "notifications_received"
	AssertIndications   = "indications_received"
	AssertReadValue     = "read_value"
	AssertWriteRejected = "write_rejected"
	AssertCommitted     = "committed"
	AssertArmed         = "armed"
	AssertServices      = "services_discovered"
	AssertAdvertising   = "advertising"
)

var knownAssertions = map[string]bool{
	AssertConnected: true, AssertDisconnected: true, AssertNotifications: true, AssertIndications: true,
	AssertReadValue: true, AssertWriteRejected: true, AssertCommitted: true, AssertArmed: true,
	AssertServices: true, AssertAdvertising: true,
}

// LoadScenario reads a scenario from a JSON file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a scenario and its hex values.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	for i := range s.Timeline {
		ev := &s.Timeline[i]
		switch {
		case ev.RawValue != "":
			v, err := config.ParseHex(ev.RawValue)
			if err != nil {
				return nil, fmt.Errorf("timeline[%d]: %w", i, err)
			}
			ev.Value = v
		case ev.Text != "":
			ev.Value = config.HexBytes(ev.Text)
		}
	}
	return &s, nil
}

// Save writes the scenario as indented JSON.
func (s *Scenario) Save(path string) error {
	for i := range s.Timeline {
		if ev := &s.Timeline[i]; len(ev.Value) > 0 && ev.RawValue == "" && ev.Text == "" {
			ev.RawValue = ev.Value.String()
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Duration is the time of the last timeline event.
func (s *Scenario) Duration() time.Duration {
	maxTime := 0
	for _, ev := range s.Timeline {
		if ev.TimeMs > maxTime {
			maxTime = ev.TimeMs
		}
	}
	return time.Duration(maxTime) * time.Millisecond
}

// Settle is the pause between the last event and the assertions.
func (s *Scenario) Settle() time.Duration {
	if s.SettleMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(s.SettleMs) * time.Millisecond
}

// Validate lists every problem found in the scenario.
func (s *Scenario) Validate() []string {
	var problems []string

	if s.Peripheral.ID == "" {
		problems = append(problems, "peripheral has no id")
	}
	centrals := make(map[string]bool)
	for _, c := range s.Centrals {
		if centrals[c.ID] {
			problems = append(problems, "duplicate central: "+c.ID)
		}
		centrals[c.ID] = true
	}

	for i, ev := range s.Timeline {
		if !knownActions[ev.Action] {
			problems = append(problems, fmt.Sprintf("timeline[%d]: unknown action %q", i, ev.Action))
		}
		if !centrals[ev.Device] {
			problems = append(problems, fmt.Sprintf("timeline[%d]: unknown device %q", i, ev.Device))
		}
		if ev.Attribute != "" {
			if _, ok := attributes[ev.Attribute]; !ok {
				problems = append(problems, fmt.Sprintf("timeline[%d]: unknown attribute %q", i, ev.Attribute))
			}
		}
		switch ev.Action {
		case ActionRead, ActionWrite, ActionWriteCommand, ActionLongWrite, ActionCancelWrite, ActionSubscribe, ActionUnsubscribe:
			if ev.Attribute == "" {
				problems = append(problems, fmt.Sprintf("timeline[%d]: %s needs an attribute", i, ev.Action))
			}
		}
	}

	for i, a := range s.Assertions {
		if !knownAssertions[a.Type] {
			problems = append(problems, fmt.Sprintf("assertions[%d]: unknown type %q", i, a.Type))
		}
		if a.Device != "" && !centrals[a.Device] {
			problems = append(problems, fmt.Sprintf("assertions[%d]: unknown device %q", i, a.Device))
		}
		if a.Attribute != "" {
			if _, ok := attributes[a.Attribute]; !ok {
				problems = append(problems, fmt.Sprintf("assertions[%d]: unknown attribute %q", i, a.Attribute))
			}
		}
	}
	return problems
}

// intData reads a numeric field that JSON decoded as float64.
func intData(data map[string]interface{}, key string, def int) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func boolData(data map[string]interface{}, key string) bool {
	v, _ := data[key].(bool)
	return v
}
