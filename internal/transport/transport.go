// Package transport abstracts the broker's network surface: stream
// listeners (TCP, TLS, WebSocket) that hand back framed
// io.ReadWriteCloser connections, and a virtual-connection demuxer
// for UDP-based protocols (CoAP, the SN gateway) that have no native
// connection object.
//
// Grounded on internal/transport/tcp.go's accept loop and
// checkServerAvailability/sendAndClose idiom, generalized from a
// single hardcoded MQTT TCP server into a Listener interface with
// multiple concrete implementations.
package transport

import (
	"io"
	"net"
)

// Conn is one client connection, stream or virtual. Close ends the
// session from the transport's point of view; RemoteAddr identifies
// it for logs and the $SYS client list.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// Listener accepts Conns until Close is called, after which Accept
// returns an error.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// netConn adapts a net.Conn to Conn (they're already interface-
// compatible, but keeping an explicit type documents the intent and
// gives TLS/TCP listeners one place to extend per-connection
// behavior later, e.g. deadlines).
type netConn struct {
	net.Conn
}

func wrapNetConn(c net.Conn) Conn {
	return netConn{c}
}
