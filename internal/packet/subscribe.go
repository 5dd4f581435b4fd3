package packet

import (
	"github.com/goqttd/goqttd/internal/codec"
	"github.com/goqttd/goqttd/internal/errs"
)

func parseSubscribe(body []byte, withProps bool) (*Subscribe, error) {
	r := codec.NewReader(body)
	id, err := r.U16()
	if err != nil {
		return nil, errs.New("Subscribe: packet id", errs.MalformedPacket)
	}
	s := &Subscribe{PacketID: id}
	if withProps {
		props, err := DecodeProperties(r)
		if err != nil {
			return nil, err
		}
		s.Properties = props
	}
	for r.Remaining() > 0 {
		filter, err := r.String()
		if err != nil {
			return nil, errs.New("Subscribe: filter", errs.MalformedPacket)
		}
		opts, err := r.U8()
		if err != nil {
			return nil, errs.New("Subscribe: options", errs.MalformedPacket)
		}
		qos := QoS(opts & 0x03)
		if qos > QoS2 {
			return nil, errs.New("Subscribe: invalid qos", errs.MalformedPacket)
		}
		s.Filters = append(s.Filters, SubscribeFilter{
			Filter:            filter,
			QoS:               qos,
			NoLocal:           opts&0x04 != 0,
			RetainAsPublished: opts&0x08 != 0,
			RetainHandling:    RetainHandling((opts & 0x30) >> 4),
		})
	}
	if len(s.Filters) == 0 {
		return nil, errs.New("Subscribe: no filters", errs.ProtocolError)
	}
	return s, nil
}

func writeSubscribe(w *codec.Writer, s *Subscribe, withProps bool) []byte {
	body := codec.NewWriter(0)
	body.U16(s.PacketID)
	if withProps {
		EncodeProperties(body, s.Properties)
	}
	for _, f := range s.Filters {
		body.String(f.Filter)
		var opts byte
		opts |= byte(f.QoS) & 0x03
		if f.NoLocal {
			opts |= 0x04
		}
		if f.RetainAsPublished {
			opts |= 0x08
		}
		opts |= byte(f.RetainHandling) << 4
		body.U8(opts)
	}
	WriteFixedHeader(w, SUBSCRIBE, ReservedFlags, body.Len())
	w.Raw(body.Bytes())
	return w.Bytes()
}

func parseSuback(body []byte, withProps bool) (*Suback, error) {
	r := codec.NewReader(body)
	id, err := r.U16()
	if err != nil {
		return nil, errs.New("Suback: packet id", errs.MalformedPacket)
	}
	s := &Suback{PacketID: id}
	if withProps {
		props, err := DecodeProperties(r)
		if err != nil {
			return nil, err
		}
		s.Properties = props
	}
	for r.Remaining() > 0 {
		rc, err := r.U8()
		if err != nil {
			return nil, err
		}
		s.ReasonCodes = append(s.ReasonCodes, ReasonCode(rc))
	}
	return s, nil
}

func writeSuback(w *codec.Writer, s *Suback, withProps bool) []byte {
	body := codec.NewWriter(0)
	body.U16(s.PacketID)
	if withProps {
		EncodeProperties(body, s.Properties)
	}
	for _, rc := range s.ReasonCodes {
		body.U8(byte(rc))
	}
	WriteFixedHeader(w, SUBACK, 0, body.Len())
	w.Raw(body.Bytes())
	return w.Bytes()
}
