package cluster

import (
	"bytes"
	"testing"

	"github.com/goqttd/goqttd/internal/packet"
)

func TestHelloFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := &Frame{Type: TypeHello, Hello: &Hello{ClusterName: "prod", NodeID: "node-a", ListenPort: 7946}}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hello.ClusterName != "prod" || got.Hello.NodeID != "node-a" || got.Hello.ListenPort != 7946 {
		t.Fatalf("mismatch: %+v", got.Hello)
	}
}

func TestForwardedPublishFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var id [16]byte
	copy(id[:], []byte("0123456789abcdef"))
	f := &Frame{Type: TypeForwardedPublish, Publish: &ForwardedPublish{
		OriginNodeID: "node-b", MessageUUID: id, Topic: "sensors/a", Payload: []byte("payload"),
		QoS: packet.QoS1, Retain: true,
	}}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	p := got.Publish
	if p.OriginNodeID != "node-b" || p.Topic != "sensors/a" || string(p.Payload) != "payload" || p.QoS != packet.QoS1 || !p.Retain {
		t.Fatalf("mismatch: %+v", p)
	}
	if p.MessageUUID != id {
		t.Fatal("message uuid mismatch")
	}
}

func TestHeartbeatFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, &Frame{Type: TypeHeartbeat}); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeHeartbeat {
		t.Fatalf("expected heartbeat, got %v", got.Type)
	}
}

func TestMultipleFramesOnSameStream(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, &Frame{Type: TypeSub, Sub: &SubAnnounce{Filter: "a/b"}})
	WriteFrame(&buf, &Frame{Type: TypeUnsub, Unsub: &UnsubAnnounce{Filter: "a/b"}})

	f1, err := ReadFrame(&buf)
	if err != nil || f1.Type != TypeSub || f1.Sub.Filter != "a/b" {
		t.Fatalf("first frame mismatch: %+v err=%v", f1, err)
	}
	f2, err := ReadFrame(&buf)
	if err != nil || f2.Type != TypeUnsub || f2.Unsub.Filter != "a/b" {
		t.Fatalf("second frame mismatch: %+v err=%v", f2, err)
	}
}
