package gatts

import "sync"

// SubscriptionState is an immutable view of the notification state.
type SubscriptionState struct {
	Armed    bool
	Notify   bool
	Indicate bool
	ConnID   uint16
	GattsIf  uint8
}

// Sending reports whether the notifier should push data.
func (s SubscriptionState) Sending() bool {
	return s.Armed && s.Notify
}

// Subscription holds the state written by the event loop and read by the
// notifier.
type Subscription struct {
	mu    sync.Mutex
	state SubscriptionState
}

// Snapshot returns a copy of the current state.
func (s *Subscription) Snapshot() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Arm enables background sending.
func (s *Subscription) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Armed = true
}

// EnableNotify records the subscriber and enables notifications.
func (s *Subscription) EnableNotify(gattsIf uint8, connID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Notify = true
	s.state.GattsIf = gattsIf
	s.state.ConnID = connID
}

// EnableIndicate records the subscriber and enables indications.
func (s *Subscription) EnableIndicate(gattsIf uint8, connID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Indicate = true
	s.state.GattsIf = gattsIf
	s.state.ConnID = connID
}

// Disable turns off notifications and indications. The armed flag and the
// subscriber stay as they are.
func (s *Subscription) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Notify = false
	s.state.Indicate = false
}

// Clear forgets everything, including the armed flag.
func (s *Subscription) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SubscriptionState{}
}
