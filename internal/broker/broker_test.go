package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/goqttd/goqttd/internal/packet"
)

func connectAndSuback(t *testing.T, b *Broker, clientID string, filter string) (client net.Conn, h packet.Handler) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	h, _ = packet.ForVersion(packet.V500)

	go b.handleConnection(context.Background(), serverSide)

	raw, err := h.Write(&packet.Connect{
		ProtocolName: "MQTT", ProtocolLevel: 5, ClientID: clientID, CleanStart: true, KeepAlive: 30,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := clientSide.Write(raw); err != nil {
		t.Fatal(err)
	}

	ack := readOne(t, clientSide, h)
	if _, ok := ack.(*packet.Connack); !ok {
		t.Fatalf("expected CONNACK, got %T", ack)
	}

	if filter != "" {
		sub, _ := h.Write(&packet.Subscribe{
			PacketID: 1,
			Filters:  []packet.SubscribeFilter{{Filter: filter, QoS: packet.QoS1}},
		})
		if _, err := clientSide.Write(sub); err != nil {
			t.Fatal(err)
		}
		suback := readOne(t, clientSide, h)
		if _, ok := suback.(*packet.Suback); !ok {
			t.Fatalf("expected SUBACK, got %T", suback)
		}
	}

	return clientSide, h
}

func readOne(t *testing.T, conn net.Conn, h packet.Handler) packet.Packet {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	raw, err := readPacket(conn)
	if err != nil {
		t.Fatalf("readPacket: %v", err)
	}
	fh, offset, err := packet.ParseFixedHeader(raw)
	if err != nil {
		t.Fatal(err)
	}
	p, err := h.ParsePacket(fh.Type, fh.Flags, raw[offset:])
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestEndToEndPublishSubscribe(t *testing.T) {
	b := New()

	sub, h := connectAndSuback(t, b, "subscriber", "sensors/+/temp")
	defer sub.Close()

	pub, hp := connectAndSuback(t, b, "publisher", "")
	defer pub.Close()

	raw, _ := hp.Write(&packet.Publish{Topic: "sensors/a/temp", Payload: []byte("21C"), QoS: packet.QoS0})
	if _, err := pub.Write(raw); err != nil {
		t.Fatal(err)
	}

	got := readOne(t, sub, h)
	p, ok := got.(*packet.Publish)
	if !ok {
		t.Fatalf("expected PUBLISH, got %T", got)
	}
	if p.Topic != "sensors/a/temp" || string(p.Payload) != "21C" {
		t.Fatalf("unexpected publish: %+v", p)
	}
}

func TestWillPublishedOnUngracefulDisconnect(t *testing.T) {
	b := New()

	sub, h := connectAndSuback(t, b, "subscriber", "status/lwt")
	defer sub.Close()

	serverSide, clientSide := net.Pipe()
	hp, _ := packet.ForVersion(packet.V500)
	go b.handleConnection(context.Background(), serverSide)

	raw, _ := hp.Write(&packet.Connect{
		ProtocolName: "MQTT", ProtocolLevel: 5, ClientID: "dying-client", CleanStart: true, KeepAlive: 30,
		WillFlag: true, WillTopic: "status/lwt", WillPayload: []byte("offline"), WillQoS: packet.QoS0,
	})
	if _, err := clientSide.Write(raw); err != nil {
		t.Fatal(err)
	}
	ack := readOne(t, clientSide, hp)
	if _, ok := ack.(*packet.Connack); !ok {
		t.Fatalf("expected CONNACK, got %T", ack)
	}

	clientSide.Close() // ungraceful: no DISCONNECT packet sent

	got := readOne(t, sub, h)
	p, ok := got.(*packet.Publish)
	if !ok || p.Topic != "status/lwt" || string(p.Payload) != "offline" {
		t.Fatalf("expected will publish, got %+v ok=%v", got, ok)
	}
}

func TestWillNotPublishedOnGracefulDisconnect(t *testing.T) {
	b := New()

	sub, h := connectAndSuback(t, b, "subscriber2", "status/lwt2")
	defer sub.Close()

	serverSide, clientSide := net.Pipe()
	hp, _ := packet.ForVersion(packet.V500)
	go b.handleConnection(context.Background(), serverSide)

	raw, _ := hp.Write(&packet.Connect{
		ProtocolName: "MQTT", ProtocolLevel: 5, ClientID: "polite-client", CleanStart: true, KeepAlive: 30,
		WillFlag: true, WillTopic: "status/lwt2", WillPayload: []byte("offline"), WillQoS: packet.QoS0,
	})
	if _, err := clientSide.Write(raw); err != nil {
		t.Fatal(err)
	}
	ack := readOne(t, clientSide, hp)
	if _, ok := ack.(*packet.Connack); !ok {
		t.Fatalf("expected CONNACK, got %T", ack)
	}

	discRaw, _ := hp.Write(&packet.Disconnect{})
	if _, err := clientSide.Write(discRaw); err != nil {
		t.Fatal(err)
	}
	clientSide.Close()

	sub.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := readPacket(sub); err == nil {
		t.Fatal("expected no will publish after graceful DISCONNECT")
	}
}

func TestRetainedMessageDeliveredOnSubscribe(t *testing.T) {
	b := New()

	pub, hp := connectAndSuback(t, b, "publisher", "")
	defer pub.Close()
	raw, _ := hp.Write(&packet.Publish{Topic: "status", Payload: []byte("up"), QoS: packet.QoS0, Retain: true})
	if _, err := pub.Write(raw); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond) // let the publisher's goroutine process it before subscribing

	sub, h := connectAndSuback(t, b, "late-subscriber", "status")
	defer sub.Close()

	got := readOne(t, sub, h)
	p, ok := got.(*packet.Publish)
	if !ok || p.Topic != "status" || string(p.Payload) != "up" {
		t.Fatalf("expected retained replay, got %+v ok=%v", got, ok)
	}
}
