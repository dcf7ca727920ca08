package wire

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/gatts-table/util"
)

// SocketHealthFile is rewritten under <data>/<device>/ when tracing.
const SocketHealthFile = "socket_health.json"

// SocketHealthMonitor tracks link statistics in memory and, when persist
// is set, writes periodic snapshots.
type SocketHealthMonitor struct {
	mu sync.RWMutex

	socket *SocketStats

	persist      bool
	snapshotFile string

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// SocketStats tracks the listening socket.
type SocketStats struct {
	Path          string             `json:"path"`
	CreatedAt     int64              `json:"created_at"` // Nanoseconds since epoch
	UptimeSeconds int                `json:"uptime_seconds"`
	Accepted      int                `json:"accepted"`
	Rejected      int                `json:"rejected"`
	Connections   []*ConnectionStats `json:"connections"`
	TotalErrors   int                `json:"total_errors"`
	Status        string             `json:"status"` // "healthy", "error", "closed"
}

// ConnectionStats tracks one link.
type ConnectionStats struct {
	Peer             string `json:"peer"`
	ConnID           uint16 `json:"conn_id"`
	ConnectedAt      int64  `json:"connected_at"` // Nanoseconds since epoch
	MessagesReceived int    `json:"messages_received"`
	MessagesSent     int    `json:"messages_sent"`
	Notifications    int    `json:"notifications"`
	Indications      int    `json:"indications"`
	LastActivity     int64  `json:"last_activity"` // Nanoseconds since epoch
	Errors           int    `json:"errors"`
	LastError        string `json:"last_error,omitempty"`
}

// SocketHealthSnapshot is the JSON document written to disk.
type SocketHealthSnapshot struct {
	Timestamp int64        `json:"timestamp"` // Nanoseconds since epoch
	Socket    *SocketStats `json:"socket,omitempty"`
}

// NewSocketHealthMonitor creates a monitor for a device.
func NewSocketHealthMonitor(deviceID string, persist bool) *SocketHealthMonitor {
	return &SocketHealthMonitor{
		persist:      persist,
		snapshotFile: filepath.Join(util.GetDeviceCacheDir(deviceID), SocketHealthFile),
		stopChan:     make(chan struct{}),
	}
}

// InitializeSocket registers the listening socket.
func (m *SocketHealthMonitor) InitializeSocket(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.socket = &SocketStats{
		Path:        path,
		CreatedAt:   time.Now().UnixNano(),
		Connections: []*ConnectionStats{},
		Status:      "healthy",
	}
}

// RecordConnection registers an accepted link.
func (m *SocketHealthMonitor) RecordConnection(peer string, connID uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.socket == nil {
		return
	}
	now := time.Now().UnixNano()
	m.socket.Accepted++
	m.socket.Connections = append(m.socket.Connections, &ConnectionStats{
		Peer:         peer,
		ConnID:       connID,
		ConnectedAt:  now,
		LastActivity: now,
	})
}

// RecordRejected counts a peer turned away at accept.
func (m *SocketHealthMonitor) RecordRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.socket != nil {
		m.socket.Rejected++
	}
}

func (m *SocketHealthMonitor) update(connID uint16, fn func(c *ConnectionStats)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.socket == nil {
		return
	}
	for _, c := range m.socket.Connections {
		if c.ConnID == connID {
			fn(c)
			c.LastActivity = time.Now().UnixNano()
			return
		}
	}
}

// RecordMessageSent counts an outbound frame.
func (m *SocketHealthMonitor) RecordMessageSent(connID uint16) {
	m.update(connID, func(c *ConnectionStats) { c.MessagesSent++ })
}

// RecordMessageReceived counts an inbound frame.
func (m *SocketHealthMonitor) RecordMessageReceived(connID uint16) {
	m.update(connID, func(c *ConnectionStats) { c.MessagesReceived++ })
}

// RecordValuePush counts a notification or indication.
func (m *SocketHealthMonitor) RecordValuePush(connID uint16, indication bool) {
	m.update(connID, func(c *ConnectionStats) {
		if indication {
			c.Indications++
		} else {
			c.Notifications++
		}
	})
}

// RecordError notes a failed socket operation.
func (m *SocketHealthMonitor) RecordError(connID uint16, errorMsg string) {
	m.mu.Lock()
	if m.socket != nil {
		m.socket.TotalErrors++
		m.socket.Status = "error"
	}
	m.mu.Unlock()
	m.update(connID, func(c *ConnectionStats) {
		c.Errors++
		c.LastError = errorMsg
	})
}

// RemoveConnection drops a link from tracking.
func (m *SocketHealthMonitor) RemoveConnection(connID uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.socket == nil {
		return
	}
	kept := m.socket.Connections[:0]
	for _, c := range m.socket.Connections {
		if c.ConnID != connID {
			kept = append(kept, c)
		}
	}
	m.socket.Connections = kept
}

// MarkSocketClosed marks the socket as closed
func (m *SocketHealthMonitor) MarkSocketClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.socket != nil {
		m.socket.Status = "closed"
	}
}

// Snapshot returns a deep copy of the current statistics.
func (m *SocketHealthMonitor) Snapshot() SocketHealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	snap := SocketHealthSnapshot{Timestamp: now.UnixNano()}
	if m.socket == nil {
		return snap
	}
	s := *m.socket
	s.UptimeSeconds = int(now.Sub(time.Unix(0, s.CreatedAt)).Seconds())
	s.Connections = make([]*ConnectionStats, len(m.socket.Connections))
	for i, c := range m.socket.Connections {
		cp := *c
		s.Connections[i] = &cp
	}
	snap.Socket = &s
	return snap
}

// StartPeriodicSnapshots starts the background goroutine that writes snapshots
func (m *SocketHealthMonitor) StartPeriodicSnapshots() {
	if !m.persist {
		return
	}
	m.wg.Add(1)
	go m.snapshotLoop()
}

func (m *SocketHealthMonitor) snapshotLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(healthSnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			m.writeSnapshot()
			return
		case <-ticker.C:
			m.writeSnapshot()
		}
	}
}

// writeSnapshot writes the current state to disk
func (m *SocketHealthMonitor) writeSnapshot() {
	snapshot := m.Snapshot()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return
	}

	if err := os.MkdirAll(filepath.Dir(m.snapshotFile), 0755); err != nil {
		return
	}
	tempPath := m.snapshotFile + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return
	}
	os.Rename(tempPath, m.snapshotFile)
}

// Stop stops the snapshot loop and writes final snapshot
func (m *SocketHealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}
