package packet

import (
	"github.com/goqttd/goqttd/internal/codec"
	"github.com/goqttd/goqttd/internal/errs"
)

func parsePublish(flags byte, body []byte, withProps bool) (*Publish, error) {
	dup, qos, retain := ParsePublishFlags(flags)
	if qos > QoS2 {
		return nil, errs.New("Publish: invalid qos", errs.MalformedPacket)
	}
	if dup && qos == QoS0 {
		return nil, errs.New("Publish: dup set on qos 0", errs.MalformedPacket)
	}

	r := codec.NewReader(body)
	topic, err := r.String()
	if err != nil {
		return nil, errs.New("Publish: topic", errs.MalformedPacket)
	}

	p := &Publish{Dup: dup, QoS: qos, Retain: retain, Topic: topic}

	if qos > QoS0 {
		id, err := r.U16()
		if err != nil {
			return nil, errs.New("Publish: packet id", errs.MalformedPacket)
		}
		if id == 0 {
			return nil, errs.New("Publish: packet id zero", errs.MalformedPacket)
		}
		p.PacketID = id
	}

	if withProps {
		props, err := DecodeProperties(r)
		if err != nil {
			return nil, err
		}
		p.Properties = props
	}

	p.Payload = append([]byte(nil), r.Bytes()...)
	return p, nil
}

func writePublish(w *codec.Writer, p *Publish, withProps bool) []byte {
	body := codec.NewWriter(0)
	body.String(p.Topic)
	if p.QoS > QoS0 {
		body.U16(p.PacketID)
	}
	if withProps {
		EncodeProperties(body, p.Properties)
	}
	body.Raw(p.Payload)

	WriteFixedHeader(w, PUBLISH, PublishFlags(p.Dup, p.QoS, p.Retain), body.Len())
	w.Raw(body.Bytes())
	return w.Bytes()
}
