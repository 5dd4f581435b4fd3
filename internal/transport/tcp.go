package transport

import (
	"crypto/tls"
	"fmt"
	"net"
)

// TCPListener wraps net.Listener for plain or TLS stream transport.
//
// Grounded on internal/transport/tcp.go's TCPServer.Start/accept
// shape, split out of the broker so the accept loop here only
// produces Conns — protocol dispatch moved to internal/broker.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP binds addr (host:port) for plain TCP.
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen tcp %s: %w", addr, err)
	}
	return &TCPListener{ln: ln}, nil
}

// ListenTLS binds addr for TCP wrapped in TLS using cfg.
func ListenTLS(addr string, cfg *tls.Config) (*TCPListener, error) {
	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: listen tls %s: %w", addr, err)
	}
	return &TCPListener{ln: ln}, nil
}

func (l *TCPListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return wrapNetConn(c), nil
}

func (l *TCPListener) Close() error { return l.ln.Close() }
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }
