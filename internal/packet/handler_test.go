package packet

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, h Handler, p Packet) Packet {
	t.Helper()
	raw, err := h.Write(p)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	fh, offset, err := ParseFixedHeader(raw)
	if err != nil {
		t.Fatalf("ParseFixedHeader: %v", err)
	}
	got, err := h.ParsePacket(fh.Type, fh.Flags, raw[offset:])
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	return got
}

func TestPublishRoundTripBothVersions(t *testing.T) {
	for _, v := range []Version{V311, V500} {
		h, err := ForVersion(v)
		if err != nil {
			t.Fatal(err)
		}
		id := uint16(7)
		in := &Publish{QoS: QoS1, Topic: "test/a", PacketID: id, Payload: []byte("hi")}
		out := roundTrip(t, h, in).(*Publish)
		if out.Topic != in.Topic || !bytes.Equal(out.Payload, in.Payload) || out.QoS != in.QoS || out.PacketID != in.PacketID {
			t.Fatalf("mismatch for version %d: %+v vs %+v", v, in, out)
		}
	}
}

func TestConnectRoundTripV500WithProperties(t *testing.T) {
	h, _ := ForVersion(V500)
	sessExp := uint32(120)
	in := &Connect{
		ProtocolName:  "MQTT",
		ProtocolLevel: 5,
		CleanStart:    true,
		KeepAlive:     60,
		ClientID:      "client-1",
		Properties:    &Properties{SessionExpiryInterval: &sessExp},
	}
	out := roundTrip(t, h, in).(*Connect)
	if out.ClientID != in.ClientID || out.KeepAlive != in.KeepAlive {
		t.Fatalf("mismatch: %+v vs %+v", in, out)
	}
	if out.Properties == nil || out.Properties.SessionExpiryInterval == nil || *out.Properties.SessionExpiryInterval != sessExp {
		t.Fatalf("session expiry property lost: %+v", out.Properties)
	}
}

func TestConnectRoundTripV311NoProperties(t *testing.T) {
	h, _ := ForVersion(V311)
	in := &Connect{
		ProtocolName:  "MQTT",
		ProtocolLevel: 4,
		CleanStart:    true,
		KeepAlive:     30,
		ClientID:      "c2",
		UsernameFlag:  true,
		Username:      "alice",
		PasswordFlag:  true,
		Password:      []byte("secret"),
	}
	out := roundTrip(t, h, in).(*Connect)
	if out.Username != "alice" || string(out.Password) != "secret" {
		t.Fatalf("username/password lost: %+v", out)
	}
	if out.Properties != nil {
		t.Fatalf("v311 must not produce properties, got %+v", out.Properties)
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	h, _ := ForVersion(V500)
	in := &Subscribe{
		PacketID: 42,
		Filters: []SubscribeFilter{
			{Filter: "sensors/+/temp", QoS: QoS1, RetainHandling: SendAtSubscribe},
			{Filter: "$share/g1/a/#", QoS: QoS2},
		},
	}
	out := roundTrip(t, h, in).(*Subscribe)
	if len(out.Filters) != 2 || out.Filters[0].Filter != in.Filters[0].Filter || out.Filters[1].QoS != QoS2 {
		t.Fatalf("mismatch: %+v", out)
	}
}

func TestPingPacketsAreFixedBytes(t *testing.T) {
	h, _ := ForVersion(V500)
	req, _ := h.Write(&Pingreq{})
	if !bytes.Equal(req, []byte{0xC0, 0x00}) {
		t.Fatalf("pingreq bytes = %x", req)
	}
	resp, _ := h.Write(&Pingresp{})
	if !bytes.Equal(resp, []byte{0xD0, 0x00}) {
		t.Fatalf("pingresp bytes = %x", resp)
	}
}

func TestDetectVersion(t *testing.T) {
	h, _ := ForVersion(V500)
	raw, _ := h.Write(&Connect{ProtocolName: "MQTT", ProtocolLevel: 5, ClientID: "x", CleanStart: true})
	_, offset, _ := ParseFixedHeader(raw)
	v, err := DetectVersion(raw[offset:])
	if err != nil {
		t.Fatal(err)
	}
	if v != V500 {
		t.Fatalf("expected V500, got %v", v)
	}
}
