package packet

import (
	"github.com/goqttd/goqttd/internal/codec"
	"github.com/goqttd/goqttd/internal/errs"
)

// Handler is the version-agnostic protocol handler contract (C3):
// parse a packet body given its type and fixed-header flags, and
// serialize a Packet back to wire bytes. The two concrete
// implementations (v311, v500) differ only in whether a property
// section is read/written.
type Handler interface {
	Version() Version
	ParsePacket(typ Type, flags byte, body []byte) (Packet, error)
	Write(p Packet) ([]byte, error)
}

// ForVersion returns the Handler for the wire version negotiated at
// CONNECT time.
func ForVersion(v Version) (Handler, error) {
	switch v {
	case V311:
		return v311Handler{}, nil
	case V500:
		return v500Handler{}, nil
	default:
		return nil, errs.New("ForVersion", errs.UnsupportedProtocolVer)
	}
}

// DetectVersion reads the protocol name and level from a CONNECT
// packet's variable header to decide which Handler a session uses for
// its lifetime (spec §4.3).
func DetectVersion(connectBody []byte) (Version, error) {
	r := codec.NewReader(connectBody)
	name, err := r.String()
	if err != nil {
		return 0, errs.New("DetectVersion: protocol name", errs.MalformedPacket)
	}
	level, err := r.U8()
	if err != nil {
		return 0, errs.New("DetectVersion: protocol level", errs.MalformedPacket)
	}
	if name != "MQTT" && name != "MQIsdp" {
		return 0, errs.New("DetectVersion: unsupported protocol name", errs.UnsupportedProtocolVer)
	}
	switch level {
	case 4:
		return V311, nil
	case 5:
		return V500, nil
	default:
		return 0, errs.New("DetectVersion: unsupported protocol level", errs.UnsupportedProtocolVer)
	}
}

// --- shared encode/decode helpers for the ack-style packets ---

func decodeAck(typ Type, flags byte, body []byte, withProps bool) (uint16, ReasonCode, *Properties, error) {
	r := codec.NewReader(body)
	id, err := r.U16()
	if err != nil {
		return 0, 0, nil, errs.New(typ.String()+": packet id", errs.MalformedPacket)
	}
	rc := ReasonCode(Success)
	var props *Properties
	if withProps {
		if r.Remaining() == 0 {
			return id, rc, nil, nil
		}
		rcByte, err := r.U8()
		if err != nil {
			return 0, 0, nil, err
		}
		rc = ReasonCode(rcByte)
		if r.Remaining() > 0 {
			props, err = DecodeProperties(r)
			if err != nil {
				return 0, 0, nil, err
			}
		}
	}
	return id, rc, props, nil
}

func encodeAck(w *codec.Writer, typ Type, flags byte, id uint16, rc ReasonCode, props *Properties, withProps bool) []byte {
	body := codec.NewWriter(0)
	body.U16(id)
	if withProps && (rc != Success || props != nil) {
		body.U8(byte(rc))
		EncodeProperties(body, props)
	}
	WriteFixedHeader(w, typ, flags, body.Len())
	w.Raw(body.Bytes())
	return w.Bytes()
}
