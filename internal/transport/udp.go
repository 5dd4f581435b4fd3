package transport

import (
	"errors"
	"net"
	"sync"
	"time"
)

const (
	defaultUDPIdleTimeout = 2 * time.Minute
	udpSweepInterval      = 30 * time.Second
	udpDatagramQueueDepth = 64
)

// UDPListener demultiplexes inbound datagrams on one socket into
// per-peer-address virtual Conns, for protocols with no native
// connection concept (CoAP, the SN gateway). New remote addresses
// become new Accept()-ed Conns; idle ones are swept after
// defaultUDPIdleTimeout.
//
// New code: the teacher has no UDP transport, but follows its
// accept-loop/goroutine-per-connection shape from tcp.go.
type UDPListener struct {
	pc net.PacketConn

	mu      sync.Mutex
	clients map[string]*udpConn
	pending chan Conn
	closed  chan struct{}
}

func ListenUDP(addr string) (*UDPListener, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	l := &UDPListener{
		pc:      pc,
		clients: make(map[string]*udpConn),
		pending: make(chan Conn, 16),
		closed:  make(chan struct{}),
	}
	go l.readLoop()
	go l.sweepLoop()
	return l, nil
}

func (l *UDPListener) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, addr, err := l.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
			}
			continue
		}
		datagram := append([]byte(nil), buf[:n]...)

		l.mu.Lock()
		c, exists := l.clients[addr.String()]
		if !exists {
			c = newUDPConn(l.pc, addr, l)
			l.clients[addr.String()] = c
			l.mu.Unlock()
			select {
			case l.pending <- c:
			case <-l.closed:
				return
			}
		} else {
			l.mu.Unlock()
		}
		c.deliver(datagram)
	}
}

func (l *UDPListener) sweepLoop() {
	ticker := time.NewTicker(udpSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.closed:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for key, c := range l.clients {
				if now.Sub(c.lastSeen()) > defaultUDPIdleTimeout {
					delete(l.clients, key)
					c.Close()
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *UDPListener) forget(addr net.Addr) {
	l.mu.Lock()
	delete(l.clients, addr.String())
	l.mu.Unlock()
}

func (l *UDPListener) Accept() (Conn, error) {
	select {
	case c := <-l.pending:
		return c, nil
	case <-l.closed:
		return nil, errors.New("transport: udp listener closed")
	}
}

func (l *UDPListener) Close() error {
	select {
	case <-l.closed:
		return nil
	default:
		close(l.closed)
	}
	return l.pc.Close()
}

func (l *UDPListener) Addr() net.Addr { return l.pc.LocalAddr() }

// udpConn is one peer's virtual connection: reads come from a
// datagram queue fed by the listener's single read loop, writes go
// straight to the shared socket addressed at this peer.
type udpConn struct {
	pc     net.PacketConn
	addr   net.Addr
	parent *UDPListener

	mu       sync.Mutex
	queue    chan []byte
	lastRecv time.Time
	closeOne sync.Once
	done     chan struct{}
}

func newUDPConn(pc net.PacketConn, addr net.Addr, parent *UDPListener) *udpConn {
	return &udpConn{
		pc:       pc,
		addr:     addr,
		parent:   parent,
		queue:    make(chan []byte, udpDatagramQueueDepth),
		lastRecv: time.Now(),
		done:     make(chan struct{}),
	}
}

func (c *udpConn) deliver(datagram []byte) {
	c.mu.Lock()
	c.lastRecv = time.Now()
	c.mu.Unlock()
	select {
	case c.queue <- datagram:
	default:
		// drop: datagram protocols tolerate loss, callers should retry
	}
}

func (c *udpConn) lastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRecv
}

// Read returns one queued datagram per call — callers of a datagram
// transport must treat each Read as a complete message, not a byte
// stream to be reassembled.
func (c *udpConn) Read(p []byte) (int, error) {
	select {
	case datagram := <-c.queue:
		n := copy(p, datagram)
		return n, nil
	case <-c.done:
		return 0, errors.New("transport: udp connection closed")
	}
}

func (c *udpConn) Write(p []byte) (int, error) {
	return c.pc.WriteTo(p, c.addr)
}

func (c *udpConn) Close() error {
	c.closeOne.Do(func() {
		close(c.done)
		c.parent.forget(c.addr)
	})
	return nil
}

func (c *udpConn) RemoteAddr() net.Addr { return c.addr }
