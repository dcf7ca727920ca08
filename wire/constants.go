package wire

import "time"

// HCI disconnect reasons carried by DisconnectEvent.
const (
	ReasonRemoteUserTerminated uint8 = 0x13
	ReasonLocalHostTerminated  uint8 = 0x16
)

// FirstGattsIf is the interface handed to the first registered application.
const FirstGattsIf uint8 = 3

const (
	// handshakeTimeout bounds the peer id exchange after accept.
	handshakeTimeout = 5 * time.Second

	// healthSnapshotInterval is how often socket_health.json is rewritten.
	healthSnapshotInterval = 5 * time.Second

	// notificationBacklog is the central's buffered notification queue.
	notificationBacklog = 256
)

// Files published under <data>/<device>/ while advertising.
const (
	advDataFile = "advertising.bin"
	scanRspFile = "scan_response.bin"
)
