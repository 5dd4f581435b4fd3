package packet

import (
	"github.com/goqttd/goqttd/internal/codec"
	"github.com/goqttd/goqttd/internal/errs"
)

func parseUnsubscribe(body []byte, withProps bool) (*Unsubscribe, error) {
	r := codec.NewReader(body)
	id, err := r.U16()
	if err != nil {
		return nil, errs.New("Unsubscribe: packet id", errs.MalformedPacket)
	}
	u := &Unsubscribe{PacketID: id}
	if withProps {
		props, err := DecodeProperties(r)
		if err != nil {
			return nil, err
		}
		u.Properties = props
	}
	for r.Remaining() > 0 {
		f, err := r.String()
		if err != nil {
			return nil, errs.New("Unsubscribe: filter", errs.MalformedPacket)
		}
		u.Filters = append(u.Filters, f)
	}
	if len(u.Filters) == 0 {
		return nil, errs.New("Unsubscribe: no filters", errs.ProtocolError)
	}
	return u, nil
}

func writeUnsubscribe(w *codec.Writer, u *Unsubscribe, withProps bool) []byte {
	body := codec.NewWriter(0)
	body.U16(u.PacketID)
	if withProps {
		EncodeProperties(body, u.Properties)
	}
	for _, f := range u.Filters {
		body.String(f)
	}
	WriteFixedHeader(w, UNSUBSCRIBE, ReservedFlags, body.Len())
	w.Raw(body.Bytes())
	return w.Bytes()
}

func parseUnsuback(body []byte, withProps bool) (*Unsuback, error) {
	r := codec.NewReader(body)
	id, err := r.U16()
	if err != nil {
		return nil, errs.New("Unsuback: packet id", errs.MalformedPacket)
	}
	u := &Unsuback{PacketID: id}
	if withProps {
		props, err := DecodeProperties(r)
		if err != nil {
			return nil, err
		}
		u.Properties = props
		for r.Remaining() > 0 {
			rc, err := r.U8()
			if err != nil {
				return nil, err
			}
			u.ReasonCodes = append(u.ReasonCodes, ReasonCode(rc))
		}
	}
	return u, nil
}

func writeUnsuback(w *codec.Writer, u *Unsuback, withProps bool) []byte {
	body := codec.NewWriter(0)
	body.U16(u.PacketID)
	if withProps {
		EncodeProperties(body, u.Properties)
		for _, rc := range u.ReasonCodes {
			body.U8(byte(rc))
		}
	}
	WriteFixedHeader(w, UNSUBACK, 0, body.Len())
	w.Raw(body.Bytes())
	return w.Bytes()
}
