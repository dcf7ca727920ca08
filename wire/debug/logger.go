package debug

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/util"
	"github.com/user/gatts-table/wire/att"
	"github.com/user/gatts-table/wire/l2cap"
)

// Trace file names under <data>/<device>/debug
const (
	L2CAPFile  = "l2cap_packets.jsonl"
	ATTFile    = "att_packets.jsonl"
	EventsFile = "gatts_events.jsonl"
)

// DebugLogger appends one JSON object per line describing the traffic of a
// device. The files are write-only diagnostics; nothing reads them back.
type DebugLogger struct {
	deviceID string
	debugDir string
	enabled  bool
	mu       sync.Mutex
}

// NewDebugLogger creates a trace writer. A disabled logger is a no-op.
func NewDebugLogger(deviceID string, enabled bool) *DebugLogger {
	if !enabled {
		return &DebugLogger{}
	}
	dir := util.GetTraceDir(deviceID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &DebugLogger{}
	}
	return &DebugLogger{deviceID: deviceID, debugDir: dir, enabled: true}
}

// Enabled reports whether traces are written.
func (d *DebugLogger) Enabled() bool {
	return d != nil && d.enabled
}

// Dir returns the trace directory, empty when disabled.
func (d *DebugLogger) Dir() string {
	if !d.Enabled() {
		return ""
	}
	return d.debugDir
}

// LogL2CAPPacket records one frame.
func (d *DebugLogger) LogL2CAPPacket(direction, peer string, packet *l2cap.Packet) {
	if !d.Enabled() {
		return
	}
	d.append(L2CAPFile, map[string]interface{}{
		"timestamp":    time.Now().Format(time.RFC3339Nano),
		"direction":    direction,
		"peer":         peer,
		"channel_id":   fmt.Sprintf("0x%04X", packet.ChannelID),
		"channel_name": channelName(packet.ChannelID),
		"payload_len":  len(packet.Payload),
		"payload_hex":  hex.EncodeToString(packet.Payload),
	})
}

// LogATTPacket records one decoded PDU and its raw bytes.
func (d *DebugLogger) LogATTPacket(direction, peer string, pdu att.PDU, raw []byte) {
	if !d.Enabled() {
		return
	}
	entry := map[string]interface{}{
		"timestamp":   time.Now().Format(time.RFC3339Nano),
		"direction":   direction,
		"peer":        peer,
		"opcode":      fmt.Sprintf("0x%02X", pdu.Opcode()),
		"opcode_name": att.OpcodeName(pdu.Opcode()),
		"raw_hex":     hex.EncodeToString(raw),
	}
	if fields := describePDU(pdu); len(fields) > 0 {
		entry["data"] = fields
	}
	d.append(ATTFile, entry)
}

// LogEvent records a stack event delivered to the application.
func (d *DebugLogger) LogEvent(name string, fields map[string]interface{}) {
	if !d.Enabled() {
		return
	}
	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"event":     name,
	}
	if len(fields) > 0 {
		entry["fields"] = fields
	}
	d.append(EventsFile, entry)
}

func (d *DebugLogger) append(filename string, entry map[string]interface{}) {
	msg, err := structpb.NewStruct(entry)
	if err != nil {
		return
	}
	line, err := protojson.Marshal(msg)
	if err != nil {
		return
	}
	logger.TraceJSON(d.deviceID+" trace", filename, msg)

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(d.debugDir, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(append(line, '\n'))
}

func channelName(cid uint16) string {
	switch cid {
	case l2cap.ChannelATT:
		return "ATT"
	case l2cap.ChannelLESignal:
		return "LE L2CAP Signaling"
	default:
		return "Unknown"
	}
}

func handleHex(h uint16) string {
	return fmt.Sprintf("0x%04X", h)
}

func describePDU(pdu att.PDU) map[string]interface{} {
	data := make(map[string]interface{})
	value := func(v []byte) {
		data["value_len"] = len(v)
		data["value_hex"] = hex.EncodeToString(v)
	}

	switch p := pdu.(type) {
	case *att.ExchangeMTURequest:
		data["client_rx_mtu"] = int(p.ClientRxMTU)
	case *att.ExchangeMTUResponse:
		data["server_rx_mtu"] = int(p.ServerRxMTU)
	case *att.ReadRequest:
		data["handle"] = handleHex(p.Handle)
	case *att.ReadBlobRequest:
		data["handle"] = handleHex(p.Handle)
		data["offset"] = int(p.Offset)
	case *att.ReadResponse:
		value(p.Value)
	case *att.ReadBlobResponse:
		value(p.Value)
	case *att.WriteRequest:
		data["handle"] = handleHex(p.Handle)
		value(p.Value)
	case *att.WriteCommand:
		data["handle"] = handleHex(p.Handle)
		value(p.Value)
	case *att.PrepareWriteRequest:
		data["handle"] = handleHex(p.Handle)
		data["offset"] = int(p.Offset)
		value(p.Value)
	case *att.PrepareWriteResponse:
		data["handle"] = handleHex(p.Handle)
		data["offset"] = int(p.Offset)
		value(p.Value)
	case *att.ExecuteWriteRequest:
		data["commit"] = p.Flags == att.ExecuteWriteCommit
	case *att.HandleValueNotification:
		data["handle"] = handleHex(p.Handle)
		value(p.Value)
	case *att.HandleValueIndication:
		data["handle"] = handleHex(p.Handle)
		value(p.Value)
	case *att.ReadByGroupTypeRequest:
		data["range"] = handleHex(p.StartHandle) + "-" + handleHex(p.EndHandle)
		data["type_hex"] = hex.EncodeToString(p.Type)
	case *att.ReadByTypeRequest:
		data["range"] = handleHex(p.StartHandle) + "-" + handleHex(p.EndHandle)
		data["type_hex"] = hex.EncodeToString(p.Type)
	case *att.FindInformationRequest:
		data["range"] = handleHex(p.StartHandle) + "-" + handleHex(p.EndHandle)
	case *att.ErrorResponse:
		data["request_opcode_name"] = att.OpcodeName(p.RequestOpcode)
		data["handle"] = handleHex(p.Handle)
		data["error_code"] = fmt.Sprintf("0x%02X", p.ErrorCode)
		data["error_name"] = att.ErrorName(p.ErrorCode)
	}
	return data
}
