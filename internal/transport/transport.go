// Package transport is the socket layer between the node and its fixed peer.
//
// Every error returned here is a *protocol.StatusError so callers can map any
// failure back onto the status taxonomy with protocol.StatusOf.
package transport

import "context"

// Transport opens connections to the configured peer.
type Transport interface {
	// DialTCP connects to the peer's port. It fails with StatusNoLink,
	// without touching the network, while the link is down.
	DialTCP(ctx context.Context, port uint16) (Conn, error)

	// OpenUDP creates an unconnected datagram socket aimed at the peer.
	OpenUDP() (PacketConn, error)
}

// Conn is one open stream connection. The call that opened it owns it.
type Conn interface {
	// Send writes all of b.
	Send(b []byte) error
	// Receive performs one read of at most len(p) bytes.
	Receive(p []byte) (int, error)
	Close() error
}

// PacketConn sends whole datagrams to the peer.
type PacketConn interface {
	SendTo(b []byte, port uint16) error
	Close() error
}
