package client

import (
	"context"
	"testing"
	"time"

	"github.com/goqttd/goqttd/internal/broker"
	"github.com/goqttd/goqttd/internal/packet"
	"github.com/goqttd/goqttd/internal/transport"
)

func startTestBroker(t *testing.T) (*broker.Broker, string) {
	t.Helper()
	b := broker.New()
	ln, err := transport.ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go b.Serve(context.Background(), ln)
	t.Cleanup(func() { ln.Close() })
	return b, ln.Addr().String()
}

func TestClientConnectPublishSubscribe(t *testing.T) {
	_, addr := startTestBroker(t)

	sub := New(WithClientID("sub-1"))
	if err := sub.Dial(context.Background(), addr); err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	received := make(chan string, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sub.Subscribe(ctx, "events/a", packet.QoS1, func(topic string, payload []byte, qos packet.QoS, retain bool) {
		received <- string(payload)
	}); err != nil {
		t.Fatal(err)
	}

	pub := New(WithClientID("pub-1"))
	if err := pub.Dial(context.Background(), addr); err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	if err := pub.Publish(ctx, "events/a", []byte("hi"), packet.QoS0, false); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-received:
		if got != "hi" {
			t.Fatalf("unexpected payload %q", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for publish")
	}
}
