package retained

import (
	"testing"

	"github.com/goqttd/goqttd/internal/packet"
)

func TestSetGetDelete(t *testing.T) {
	s := NewStore()
	s.Set(&packet.ApplicationMessage{Topic: "a/b", Payload: []byte("hello"), QoS: 1})
	msg, ok := s.Get("a/b")
	if !ok || string(msg.Payload) != "hello" {
		t.Fatalf("expected retained message, got %+v ok=%v", msg, ok)
	}

	s.Set(&packet.ApplicationMessage{Topic: "a/b", Payload: nil})
	if _, ok := s.Get("a/b"); ok {
		t.Fatal("expected empty payload to delete retained message")
	}
}

func TestMatchByFilter(t *testing.T) {
	s := NewStore()
	s.Set(&packet.ApplicationMessage{Topic: "a/b/c", Payload: []byte("1")})
	s.Set(&packet.ApplicationMessage{Topic: "a/x/c", Payload: []byte("2")})
	s.Set(&packet.ApplicationMessage{Topic: "z/z", Payload: []byte("3")})

	got := s.Match("a/+/c")
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}

	got = s.Match("#")
	if len(got) != 3 {
		t.Fatalf("expected 3 matches for '#' (dollar-guard n/a here), got %d", len(got))
	}
}

func TestSetIsolatesPayload(t *testing.T) {
	s := NewStore()
	payload := []byte("mutable")
	s.Set(&packet.ApplicationMessage{Topic: "t", Payload: payload})
	payload[0] = 'X'
	msg, _ := s.Get("t")
	if string(msg.Payload) != "mutable" {
		t.Fatalf("store should have copied payload, got %q", msg.Payload)
	}
}
