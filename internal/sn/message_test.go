package sn

import (
	"bytes"
	"testing"
)

func TestRegisterRoundTrip(t *testing.T) {
	raw, err := Encode(&Message{Type: TypeRegister, MsgID: 5, TopicName: "sensors/temp"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeRegister || got.MsgID != 5 || got.TopicName != "sensors/temp" {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestPublishRoundTripWithPayload(t *testing.T) {
	raw, err := Encode(&Message{Type: TypePublish, TopicID: 7, MsgID: 1, QoS: 1, Retain: true, Payload: []byte("21C")})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.TopicID != 7 || got.QoS != 1 || !got.Retain || !bytes.Equal(got.Payload, []byte("21C")) {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	raw := []byte{0xFF, byte(TypePublish), 0, 0, 0, 0, 0}
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestRegackRoundTrip(t *testing.T) {
	raw, err := Encode(&Message{Type: TypeRegack, TopicID: 3, MsgID: 9, Code: Accepted})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.TopicID != 3 || got.MsgID != 9 || got.Code != Accepted {
		t.Fatalf("mismatch: %+v", got)
	}
}
