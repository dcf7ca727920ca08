package wire

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/util"
)

// ConnectionEventsFile is written under <data>/<device>/ when tracing.
const ConnectionEventsFile = "connection_events.jsonl"

// ConnectionEvent is one link lifecycle record.
type ConnectionEvent struct {
	Timestamp int64             `json:"timestamp"` // nanoseconds since epoch
	Event     string            `json:"event"`     // socket_created, connection_accepted, connection_rejected, ...
	Peer      string            `json:"peer,omitempty"`
	ConnID    *uint16           `json:"conn_id,omitempty"`
	Path      string            `json:"path,omitempty"`
	Error     string            `json:"error,omitempty"`
	Context   string            `json:"context,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// ConnectionEventLogger appends link lifecycle events to a JSONL file.
type ConnectionEventLogger struct {
	deviceID string
	logPath  string
	mutex    sync.Mutex
	enabled  bool
}

// NewConnectionEventLogger creates an event logger for a device. A disabled
// logger drops everything.
func NewConnectionEventLogger(deviceID string, enabled bool) *ConnectionEventLogger {
	if !enabled {
		return &ConnectionEventLogger{enabled: false}
	}

	deviceDir := util.GetDeviceCacheDir(deviceID)
	if err := os.MkdirAll(deviceDir, 0755); err != nil {
		logger.Warn(fmt.Sprintf("%s connection_events", shortHash(deviceID)),
			"Failed to create %s: %v", deviceDir, err)
		return &ConnectionEventLogger{enabled: false}
	}

	return &ConnectionEventLogger{
		deviceID: deviceID,
		logPath:  filepath.Join(deviceDir, ConnectionEventsFile),
		enabled:  true,
	}
}

// Path returns the log file, empty when disabled.
func (cel *ConnectionEventLogger) Path() string {
	return cel.logPath
}

// Log writes a connection event to the JSONL file
func (cel *ConnectionEventLogger) Log(event ConnectionEvent) {
	if !cel.enabled {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixNano()
	}

	cel.mutex.Lock()
	defer cel.mutex.Unlock()

	f, err := os.OpenFile(cel.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Warn(fmt.Sprintf("%s connection_events", shortHash(cel.deviceID)),
			"Failed to open connection event log: %v", err)
		return
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		logger.Warn(fmt.Sprintf("%s connection_events", shortHash(cel.deviceID)),
			"Failed to marshal connection event: %v", err)
		return
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		logger.Warn(fmt.Sprintf("%s connection_events", shortHash(cel.deviceID)),
			"Failed to write connection event: %v", err)
	}
}

// Helper methods for common events

func (cel *ConnectionEventLogger) LogSocketCreated(path string) {
	cel.Log(ConnectionEvent{Event: "socket_created", Path: path})
}

func (cel *ConnectionEventLogger) LogConnectionAccepted(peer string) {
	cel.Log(ConnectionEvent{Event: "connection_accepted", Peer: peer})
}

func (cel *ConnectionEventLogger) LogConnectionRejected(peer, reason string) {
	cel.Log(ConnectionEvent{Event: "connection_rejected", Peer: peer, Context: reason})
}

func (cel *ConnectionEventLogger) LogConnectionEstablished(peer string, connID uint16) {
	cel.Log(ConnectionEvent{Event: "connection_established", Peer: peer, ConnID: &connID})
}

func (cel *ConnectionEventLogger) LogSocketError(peer, errorMsg, context string) {
	cel.Log(ConnectionEvent{Event: "socket_error", Peer: peer, Error: errorMsg, Context: context})
}

func (cel *ConnectionEventLogger) LogMTUNegotiated(peer string, connID uint16, mtu uint16) {
	cel.Log(ConnectionEvent{
		Event:   "mtu_negotiated",
		Peer:    peer,
		ConnID:  &connID,
		Details: map[string]string{"mtu": fmt.Sprintf("%d", mtu)},
	})
}

func (cel *ConnectionEventLogger) LogConnParamsUpdated(peer string, connID uint16, result string) {
	cel.Log(ConnectionEvent{
		Event:   "conn_params_updated",
		Peer:    peer,
		ConnID:  &connID,
		Details: map[string]string{"result": result},
	})
}

func (cel *ConnectionEventLogger) LogReadLoopEnded(peer string, connID uint16, reason string) {
	cel.Log(ConnectionEvent{Event: "read_loop_ended", Peer: peer, ConnID: &connID, Context: reason})
}

func (cel *ConnectionEventLogger) LogSocketClosed(path, reason string) {
	cel.Log(ConnectionEvent{Event: "socket_closed", Path: path, Context: reason})
}
