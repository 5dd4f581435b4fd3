package transport

import (
	"net"
	"testing"
	"time"
)

func TestTCPListenerAcceptRoundTrip(t *testing.T) {
	l, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := l.Accept()
		if err != nil {
			t.Error(err)
			return
		}
		buf := make([]byte, 5)
		if _, err := c.Read(buf); err != nil {
			t.Error(err)
			return
		}
		if string(buf) != "hello" {
			t.Errorf("got %q", buf)
		}
		c.Close()
	}()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	<-done
}

func TestUDPListenerDemuxesByPeerAddress(t *testing.T) {
	l, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	peer, err := net.Dial("udp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer peer.Close()

	if _, err := peer.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}

	c, err := l.Accept()
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := c.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("got %q", buf[:n])
	}

	if _, err := peer.Write([]byte("second")); err != nil {
		t.Fatal(err)
	}
	n, err = c.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "second" {
		t.Fatalf("expected reuse of the same virtual connection, got %q", buf[:n])
	}
}

func TestUDPConnIdleSweep(t *testing.T) {
	c := newUDPConn(nil, dummyAddr("x"), &UDPListener{clients: map[string]*udpConn{}})
	c.lastRecv = time.Now().Add(-1 * time.Hour)
	if time.Since(c.lastSeen()) < defaultUDPIdleTimeout {
		t.Fatal("expected stale lastSeen")
	}
}

type dummyAddr string

func (d dummyAddr) Network() string { return "udp" }
func (d dummyAddr) String() string  { return string(d) }
