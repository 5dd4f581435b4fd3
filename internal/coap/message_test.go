package coap

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := &Message{
		Version: DefaultVersion,
		Type:    Confirmable,
		Code:    CodeGET,
		MID:     42,
		Token:   []byte{0x01, 0x02},
		Options: NewURIPathOptions("ps/sensors/temp"),
		Payload: nil,
	}

	raw, err := Encode(msg)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Code != CodeGET || got.MID != 42 || !bytes.Equal(got.Token, msg.Token) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.URIPath() != "ps/sensors/temp" {
		t.Fatalf("path mismatch: %q", got.URIPath())
	}
}

func TestEncodeDecodeWithPayloadAndObserve(t *testing.T) {
	msg := &Message{
		Version: DefaultVersion,
		Type:    NonConfirmable,
		Code:    Code205Content,
		MID:     7,
		Token:   []byte{0xAB},
		Options: append(NewURIPathOptions("status"), NewObserveOption(3)),
		Payload: []byte("up"),
	}
	raw, err := Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Payload, []byte("up")) {
		t.Fatalf("payload mismatch: %q", got.Payload)
	}
	seq, ok := got.Observe()
	if !ok || seq != 3 {
		t.Fatalf("observe mismatch: seq=%d ok=%v", seq, ok)
	}
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	if _, err := Decode([]byte{0x40, 0x01}); err == nil {
		t.Fatal("expected error for short header")
	}
}

func TestOptionExtendedLength(t *testing.T) {
	longVal := bytes.Repeat([]byte{'x'}, 300)
	msg := &Message{
		Version: DefaultVersion, Type: Confirmable, Code: CodePUT, MID: 1,
		Options: []OptionValue{{Number: OptionURIPath, Value: longVal}},
	}
	raw, err := Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Options[0].Value, longVal) {
		t.Fatal("long option value mismatch")
	}
}
