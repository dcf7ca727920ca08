package gatts

import (
	"context"
	"sync"
	"time"

	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/stack"
)

// PayloadFunc returns the payload for tick j.
type PayloadFunc func(j int) []byte

// RampPayload is 20 bytes of (i+j) % 0xff.
func RampPayload(j int) []byte {
	return ramp(notifyBurstLen, j)
}

// FramePayload cycles the captured sensor frames.
func FramePayload(j int) []byte {
	return append([]byte(nil), sensorFrames[j%len(sensorFrames)]...)
}

// Notifier pushes a payload to the subscribed client on every tick while the
// session is armed and notifications are enabled.
type Notifier struct {
	stack    stack.Stack
	session  *Session
	interval time.Duration
	payload  PayloadFunc
	prefix   string

	once sync.Once
	done chan struct{}
	j    int
}

// NewNotifier creates a stopped notifier.
func NewNotifier(s stack.Stack, session *Session, interval time.Duration, payload PayloadFunc, prefix string) *Notifier {
	if payload == nil {
		payload = RampPayload
	}
	return &Notifier{
		stack:    s,
		session:  session,
		interval: interval,
		payload:  payload,
		prefix:   prefix,
		done:     make(chan struct{}),
	}
}

// Start launches the loop. Later calls do nothing.
func (n *Notifier) Start(ctx context.Context) {
	n.once.Do(func() {
		go n.run(ctx)
	})
}

// Done is closed when the loop exits.
func (n *Notifier) Done() <-chan struct{} {
	return n.done
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.done)
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	logger.Debug(n.prefix, "notifier running every %s", n.interval)
	for {
		select {
		case <-ctx.Done():
			logger.Debug(n.prefix, "notifier stopped")
			return
		case <-ticker.C:
			n.step()
		}
	}
}

// step sends one payload if the snapshot allows it and reports whether it did.
func (n *Notifier) step() bool {
	snap := n.session.Subscription().Snapshot()
	if !snap.Sending() {
		return false
	}
	handle := n.session.notifyHandle()
	if handle == 0 {
		return false
	}

	value := n.payload(n.j)
	n.j++
	if err := n.stack.SendIndicate(snap.GattsIf, snap.ConnID, handle, value, false); err != nil {
		logger.Debug(n.prefix, "notify failed: %v", err)
		return false
	}
	logger.Trace(n.prefix, "notified %d bytes on handle %d", len(value), handle)
	return true
}
