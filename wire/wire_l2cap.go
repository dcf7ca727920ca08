package wire

import (
	"fmt"

	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/stack"
	"github.com/user/gatts-table/wire/l2cap"
)

// handleL2CAPSignaling processes LE signaling channel packets: connection
// parameter update requests and responses. Runs on the event loop.
func (w *Wire) handleL2CAPSignaling(c *Connection, payload []byte) {
	if len(payload) < 4 {
		logger.Warn(w.prefix, "⚠️  L2CAP signaling packet too short from %s", shortHash(c.peerID))
		return
	}

	switch payload[0] {
	case l2cap.CodeConnectionParameterUpdateRequest:
		// Only the central decides on parameters; a peripheral rejects.
		req, err := l2cap.DecodeConnectionParameterUpdateRequest(payload)
		if err != nil {
			logger.Warn(w.prefix, "❌ Failed to decode connection parameter request from %s: %v", shortHash(c.peerID), err)
			return
		}
		logger.Warn(w.prefix, "⚠️  %s sent a connection parameter update request to the peripheral, rejecting", shortHash(c.peerID))
		resp := l2cap.EncodeConnectionParameterUpdateResponse(&l2cap.ConnectionParameterUpdateResponse{
			Identifier: req.Identifier,
			Result:     l2cap.ConnectionParameterRejected,
		})
		if err := w.sendL2CAPPacket(c, l2cap.NewSignalingPacket(resp)); err != nil {
			logger.Warn(w.prefix, "❌ Failed to send connection parameter response to %s: %v", shortHash(c.peerID), err)
		}

	case l2cap.CodeConnectionParameterUpdateResponse:
		resp, err := l2cap.DecodeConnectionParameterUpdateResponse(payload)
		if err != nil {
			logger.Warn(w.prefix, "❌ Failed to decode connection parameter response from %s: %v", shortHash(c.peerID), err)
			return
		}

		w.mu.Lock()
		params, ok := w.sigPending[resp.Identifier]
		delete(w.sigPending, resp.Identifier)
		w.mu.Unlock()
		if !ok {
			logger.Warn(w.prefix, "⚠️  Connection parameter response %d from %s matches no request", resp.Identifier, shortHash(c.peerID))
			return
		}

		ev := stack.UpdateConnParamsEvent{
			Status:      stack.StatusOK,
			BDA:         c.bda,
			IntervalMin: params.IntervalMin,
			IntervalMax: params.IntervalMax,
			Latency:     params.Latency,
			Timeout:     params.Timeout,
		}
		result := "accepted"
		c.mu.Lock()
		if resp.Result == l2cap.ConnectionParameterAccepted {
			c.params = params.ConnectionParameters
		} else {
			result = "rejected"
			ev.Status = stack.StatusError
		}
		ev.ConnInt = c.params.IntervalMax
		c.mu.Unlock()

		logger.Debug(w.prefix, "📥 Connection parameter update %s by %s", result, shortHash(c.peerID))
		w.connectionEventLog.LogConnParamsUpdated(c.peerID, c.connID, result)
		w.emitGAP(ev)

	case l2cap.CodeCommandReject:
		logger.Warn(w.prefix, "⚠️  %s rejected a signaling command", shortHash(c.peerID))

	default:
		logger.Warn(w.prefix, "⚠️  Unsupported L2CAP signaling command 0x%02X from %s", payload[0], shortHash(c.peerID))
	}
}

// requestConnectionParameterUpdate sends the request with identifier id.
func (w *Wire) requestConnectionParameterUpdate(c *Connection, id uint8, params l2cap.ConnectionParameters) error {
	payload, err := l2cap.EncodeConnectionParameterUpdateRequest(&l2cap.ConnectionParameterUpdateRequest{
		Identifier: id,
		Params:     params,
	})
	if err != nil {
		return fmt.Errorf("invalid connection parameters: %w", err)
	}

	logger.Debug(w.prefix, "📤 Connection parameter update request to %s: interval=%.1f-%.1fms, latency=%d, timeout=%dms",
		shortHash(c.peerID), params.IntervalMinMs(), params.IntervalMaxMs(), params.Latency, params.TimeoutMs())
	return w.sendL2CAPPacket(c, l2cap.NewSignalingPacket(payload))
}

// sendL2CAPPacket writes one frame to the link.
func (w *Wire) sendL2CAPPacket(c *Connection, packet *l2cap.Packet) error {
	data := packet.Encode()
	w.debugLogger.LogL2CAPPacket("tx", c.peerID, packet)

	c.sendMutex.Lock()
	_, err := c.conn.Write(data)
	c.sendMutex.Unlock()
	if err != nil {
		w.socketHealthMonitor.RecordError(c.connID, err.Error())
		return fmt.Errorf("failed to send L2CAP packet: %w", err)
	}

	logger.Trace(w.prefix, "📡 Sent L2CAP packet to %s: channel=0x%04X, len=%d bytes",
		shortHash(c.peerID), packet.ChannelID, len(data))
	w.socketHealthMonitor.RecordMessageSent(c.connID)
	return nil
}
