package wire

import (
	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/wire/l2cap"
)

// readMessages reads L2CAP frames until the link drops and hands each one
// to the event loop. The link is torn down on the event loop as well, so
// DISCONNECT follows every event the peer caused.
func (w *Wire) readMessages(c *Connection) {
	reason := "connection closed"
	for {
		packet, err := l2cap.ReadPacket(c.conn)
		if err != nil {
			if c.closedLocally() {
				reason = "closed locally"
			}
			break
		}

		logger.Trace(w.prefix, "📥 L2CAP from %s: channel=0x%04X, len=%d bytes",
			shortHash(c.peerID), packet.ChannelID, len(packet.Payload))
		w.debugLogger.LogL2CAPPacket("rx", c.peerID, packet)
		w.socketHealthMonitor.RecordMessageReceived(c.connID)

		w.queue.post(func() { w.handlePacket(c, packet) })
	}

	w.connectionEventLog.LogReadLoopEnded(c.peerID, c.connID, reason)

	code := ReasonRemoteUserTerminated
	if c.closedLocally() {
		code = ReasonLocalHostTerminated
	}
	w.queue.post(func() { w.dropConnection(c, code) })
}

// handlePacket routes a frame by channel. Runs on the event loop.
func (w *Wire) handlePacket(c *Connection, packet *l2cap.Packet) {
	if w.connection(c.connID) != c {
		return
	}
	switch packet.ChannelID {
	case l2cap.ChannelATT:
		w.handleATTPacket(c, packet.Payload)
	case l2cap.ChannelLESignal:
		w.handleL2CAPSignaling(c, packet.Payload)
	default:
		logger.Warn(w.prefix, "⚠️  Unsupported L2CAP channel 0x%04X from %s", packet.ChannelID, shortHash(c.peerID))
	}
}
