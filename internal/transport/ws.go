package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WSListener serves MQTT-over-WebSocket: each upgraded connection is
// exposed as a Conn whose Read/Write frame binary WebSocket messages
// as a raw byte stream, so the rest of the broker pipeline doesn't
// need to know it isn't talking to a TCP socket.
type WSListener struct {
	addr     string
	upgrader websocket.Upgrader
	conns    chan Conn
	server   *http.Server
	closed   chan struct{}
}

// ListenWS starts an HTTP server on addr serving path as a WebSocket
// upgrade endpoint, subprotocol "mqtt".
func ListenWS(addr, path string) (*WSListener, error) {
	l := &WSListener{
		addr: addr,
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{"mqtt", "mqttv3.1"},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns:  make(chan Conn, 16),
		closed: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l.server = &http.Server{Handler: mux}
	go l.server.Serve(ln)
	return l, nil
}

func (l *WSListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &wsConn{Conn: c}
	select {
	case l.conns <- conn:
	case <-l.closed:
		c.Close()
	}
}

func (l *WSListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, errors.New("transport: websocket listener closed")
	}
}

func (l *WSListener) Close() error {
	close(l.closed)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}

func (l *WSListener) Addr() net.Addr { return wsAddr(l.addr) }

type wsAddr string

func (a wsAddr) Network() string { return "ws" }
func (a wsAddr) String() string  { return string(a) }

// wsConn adapts *websocket.Conn's message framing to the plain
// io.ReadWriteCloser byte stream the packet decoder expects,
// buffering partial reads of a binary message across Read calls.
type wsConn struct {
	*websocket.Conn
	buf []byte
}

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.buf = data
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.Conn.Close()
}
