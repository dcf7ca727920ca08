package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/user/gatts-table/logger"
	"github.com/user/gatts-table/stack"
	"github.com/user/gatts-table/wire/att"
	"github.com/user/gatts-table/wire/l2cap"
)

// maxPeerIDLen bounds the handshake id.
const maxPeerIDLen = 256

// Connection is the link to one central.
type Connection struct {
	conn   net.Conn
	peerID string
	connID uint16
	bda    stack.BDA

	sendMutex sync.Mutex

	mu             sync.Mutex
	mtu            uint16
	indicating     bool
	indicateIf     uint8
	indicateHandle uint16
	prepIf         uint8
	localClose     bool
	params         l2cap.ConnectionParameters
}

func newConnection(conn net.Conn, peerID string, connID uint16) *Connection {
	return &Connection{
		conn:   conn,
		peerID: peerID,
		connID: connID,
		bda:    stack.AddressFor(peerID),
		mtu:    att.DefaultMTU,
		prepIf: stack.GattIfNone,
	}
}

// MTU returns the negotiated ATT_MTU.
func (c *Connection) MTU() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

func (c *Connection) setMTU(mtu uint16) {
	c.mu.Lock()
	c.mtu = mtu
	c.mu.Unlock()
}

// fitRead truncates a read value to ATT_MTU-1.
func (c *Connection) fitRead(value []byte) []byte {
	if max := int(c.MTU()) - 1; len(value) > max {
		return value[:max]
	}
	return value
}

func (c *Connection) beginIndication(gattsIf uint8, handle uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indicating {
		return false
	}
	c.indicating = true
	c.indicateIf = gattsIf
	c.indicateHandle = handle
	return true
}

// endIndication clears the in-flight indication and returns what it was.
func (c *Connection) endIndication() (gattsIf uint8, handle uint16, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.indicating {
		return stack.GattIfNone, 0, false
	}
	c.indicating = false
	return c.indicateIf, c.indicateHandle, true
}

// notePrepare remembers which app the queued prepare writes belong to.
func (c *Connection) notePrepare(gattsIf uint8) {
	c.mu.Lock()
	c.prepIf = gattsIf
	c.mu.Unlock()
}

// takePrepare returns and forgets the app of the queued prepare writes.
func (c *Connection) takePrepare() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	gattsIf := c.prepIf
	c.prepIf = stack.GattIfNone
	return gattsIf
}

func (c *Connection) markLocalClose() {
	c.mu.Lock()
	c.localClose = true
	c.mu.Unlock()
}

func (c *Connection) closedLocally() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localClose
}

// acceptConnections handles incoming connections
func (w *Wire) acceptConnections() {
	defer w.wg.Done()
	for {
		conn, err := w.listener.Accept()
		if err != nil {
			select {
			case <-w.stopChan:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logger.Warn(w.prefix, "❌ accept: %v", err)
			return
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.handleIncomingConnection(conn)
		}()
	}
}

// handleIncomingConnection reads the handshake (4-byte big-endian length +
// peer id) and admits the peer while advertising.
func (w *Wire) handleIncomingConnection(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	var idLen uint32
	if err := binary.Read(conn, binary.BigEndian, &idLen); err != nil {
		conn.Close()
		return
	}
	if idLen == 0 || idLen > maxPeerIDLen {
		w.connectionEventLog.LogSocketError("", fmt.Sprintf("bad handshake length %d", idLen), "accept")
		conn.Close()
		return
	}
	idBytes := make([]byte, idLen)
	if _, err := io.ReadFull(conn, idBytes); err != nil {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	peerID := string(idBytes)
	w.connectionEventLog.LogConnectionAccepted(peerID)

	w.mu.Lock()
	reason := ""
	switch {
	case w.stopped:
		reason = "stopping"
	case w.conn != nil:
		reason = "already connected"
	case !w.advertising:
		reason = "not advertising"
	case !w.advParams.Connectable():
		reason = "advertising is not connectable"
	}
	if reason != "" {
		w.mu.Unlock()
		logger.Debug(w.prefix, "🚫 rejecting %s: %s", shortHash(peerID), reason)
		w.connectionEventLog.LogConnectionRejected(peerID, reason)
		w.socketHealthMonitor.RecordRejected()
		conn.Close()
		return
	}

	c := newConnection(conn, peerID, w.nextConnID)
	w.nextConnID++
	w.conn = c
	w.advertising = false
	apps := w.interfacesLocked()
	w.mu.Unlock()

	// A connected peripheral stops advertising.
	w.withdrawAdvertisement()

	logger.Info(w.prefix, "🔗 %s connected as conn %d (%s)", shortHash(peerID), c.connID, c.bda)
	w.connectionEventLog.LogConnectionEstablished(peerID, c.connID)
	w.socketHealthMonitor.RecordConnection(peerID, c.connID)

	for _, gattsIf := range apps {
		w.emitGATTS(stack.ConnectEvent{GattsIf: gattsIf, ConnID: c.connID, BDA: c.bda})
	}

	w.readMessages(c)
}

// connection returns the live link with connID, or nil.
func (w *Wire) connection(connID uint16) *Connection {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil || w.conn.connID != connID {
		return nil
	}
	return w.conn
}

// Connected reports the conn id of the current link.
func (w *Wire) Connected() (uint16, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return 0, false
	}
	return w.conn.connID, true
}

// Disconnect terminates the link from the peripheral side. DISCONNECT is
// reported with ReasonLocalHostTerminated.
func (w *Wire) Disconnect(connID uint16) error {
	c := w.connection(connID)
	if c == nil {
		return fmt.Errorf("conn %d not connected", connID)
	}
	logger.Debug(w.prefix, "🔌 disconnecting conn %d", connID)
	c.markLocalClose()
	return c.conn.Close()
}

// dropConnection tears a link down after its read loop ended. Runs on the
// event loop.
func (w *Wire) dropConnection(c *Connection, reason uint8) {
	w.mu.Lock()
	if w.conn != c {
		w.mu.Unlock()
		return
	}
	w.conn = nil
	for id, p := range w.pending {
		if p.connID == c.connID {
			delete(w.pending, id)
		}
	}
	for id := range w.sigPending {
		delete(w.sigPending, id)
	}
	apps := w.interfacesLocked()
	w.mu.Unlock()

	c.conn.Close()
	logger.Info(w.prefix, "🔌 conn %d to %s closed (reason 0x%02X)", c.connID, shortHash(c.peerID), reason)
	w.socketHealthMonitor.RemoveConnection(c.connID)

	for _, gattsIf := range apps {
		w.emitGATTS(stack.DisconnectEvent{GattsIf: gattsIf, ConnID: c.connID, BDA: c.bda, Reason: reason})
	}
}
