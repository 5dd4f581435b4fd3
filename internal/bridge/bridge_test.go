package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/goqttd/goqttd/internal/broker"
	"github.com/goqttd/goqttd/internal/hook"
	"github.com/goqttd/goqttd/internal/packet"
	"github.com/goqttd/goqttd/internal/transport"
)

func startBroker(t *testing.T) (*broker.Broker, string) {
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

func TestTransform(t *testing.T) {
	if got := transform("local/a/b", "local/", "remote/"); got != "remote/a/b" {
		t.Fatalf("unexpected transform: %q", got)
	}
	if got := transform("x/y", "", "pre/"); got != "pre/x/y" {
		t.Fatalf("unexpected transform: %q", got)
	}
}

func TestFilterMatches(t *testing.T) {
	if !filterMatches("local/#", "local/a/b") {
		t.Fatal("expected wildcard match")
	}
	if !filterMatches("status", "status") {
		t.Fatal("expected exact match")
	}
	if filterMatches("status", "other") {
		t.Fatal("expected no match")
	}
}

func TestBridgeMirrorsUpstreamPublish(t *testing.T) {
	remote, remoteAddr := startBroker(t)
	local, _ := startBroker(t)

	br := New(Config{
		Name:           "test",
		RemoteAddr:     remoteAddr,
		ClientID:       "bridge-test",
		ReconnectDelay: 100 * time.Millisecond,
		Upstream:       []Rule{{Enabled: true, Filter: "local/#", Strip: "local/", Add: "remote/", QoS: packet.QoS0}},
	}, local)
	local.OnLocalPublish = br.OnLocalPublish

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	br.Start(ctx)
	defer br.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !br.client.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("bridge never connected")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := local.Publish(ctx, &hook.Client{ClientID: "local-pub"}, packet.ApplicationMessage{Topic: "local/a", Payload: []byte("hi"), QoS: packet.QoS0, Retain: true}); err != nil {
		t.Fatal(err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		if msg, ok := remote.Retained.Get("remote/a"); ok {
			if string(msg.Payload) != "hi" {
				t.Fatalf("unexpected mirrored payload %q", msg.Payload)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("publish was never mirrored to the remote broker")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
