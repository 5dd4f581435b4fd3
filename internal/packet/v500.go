package packet

import (
	"github.com/goqttd/goqttd/internal/codec"
	"github.com/goqttd/goqttd/internal/errs"
)

// v500Handler implements Handler for MQTT 5.0, where packets carry a
// variable-byte property length followed by an id-keyed property bag,
// per spec §4.3/§6. PINGREQ/PINGRESP never carry one; the PUBACK-style
// acks and DISCONNECT omit the reason code and properties when the
// reason is Success and no properties are set.
type v500Handler struct{}

func (v500Handler) Version() Version { return V500 }

func (v500Handler) ParsePacket(typ Type, flags byte, body []byte) (Packet, error) {
	switch typ {
	case CONNECT:
		return parseConnect(body, true)
	case CONNACK:
		return parseConnack(body, true)
	case PUBLISH:
		return parsePublish(flags, body, true)
	case PUBACK:
		id, rc, props, err := decodeAck(typ, flags, body, true)
		if err != nil {
			return nil, err
		}
		return &Puback{PacketID: id, ReasonCode: rc, Properties: props}, nil
	case PUBREC:
		id, rc, props, err := decodeAck(typ, flags, body, true)
		if err != nil {
			return nil, err
		}
		return &Pubrec{PacketID: id, ReasonCode: rc, Properties: props}, nil
	case PUBREL:
		id, rc, props, err := decodeAck(typ, flags, body, true)
		if err != nil {
			return nil, err
		}
		return &Pubrel{PacketID: id, ReasonCode: rc, Properties: props}, nil
	case PUBCOMP:
		id, rc, props, err := decodeAck(typ, flags, body, true)
		if err != nil {
			return nil, err
		}
		return &Pubcomp{PacketID: id, ReasonCode: rc, Properties: props}, nil
	case SUBSCRIBE:
		return parseSubscribe(body, true)
	case SUBACK:
		return parseSuback(body, true)
	case UNSUBSCRIBE:
		return parseUnsubscribe(body, true)
	case UNSUBACK:
		return parseUnsuback(body, true)
	case PINGREQ:
		return &Pingreq{}, nil
	case PINGRESP:
		return &Pingresp{}, nil
	case DISCONNECT:
		return parseDisconnect(body)
	case AUTH:
		return parseAuth(body)
	default:
		return nil, errs.New("v500.ParsePacket: unsupported type", errs.ProtocolError)
	}
}

func (v500Handler) Write(p Packet) ([]byte, error) {
	w := codec.NewWriter(32)
	switch pk := p.(type) {
	case *Connect:
		return writeConnect(w, pk, true), nil
	case *Connack:
		return writeConnack(w, pk, true), nil
	case *Publish:
		return writePublish(w, pk, true), nil
	case *Puback:
		return encodeAck(w, PUBACK, 0, pk.PacketID, pk.ReasonCode, pk.Properties, true), nil
	case *Pubrec:
		return encodeAck(w, PUBREC, 0, pk.PacketID, pk.ReasonCode, pk.Properties, true), nil
	case *Pubrel:
		return encodeAck(w, PUBREL, ReservedFlags, pk.PacketID, pk.ReasonCode, pk.Properties, true), nil
	case *Pubcomp:
		return encodeAck(w, PUBCOMP, 0, pk.PacketID, pk.ReasonCode, pk.Properties, true), nil
	case *Subscribe:
		return writeSubscribe(w, pk, true), nil
	case *Suback:
		return writeSuback(w, pk, true), nil
	case *Unsubscribe:
		return writeUnsubscribe(w, pk, true), nil
	case *Unsuback:
		return writeUnsuback(w, pk, true), nil
	case *Pingreq:
		return []byte{0xC0, 0x00}, nil
	case *Pingresp:
		return []byte{0xD0, 0x00}, nil
	case *Disconnect:
		return writeDisconnect(w, pk), nil
	case *Auth:
		return writeAuth(w, pk), nil
	default:
		return nil, errs.New("v500.Write: unsupported packet", errs.ProtocolError)
	}
}

func parseDisconnect(body []byte) (*Disconnect, error) {
	if len(body) == 0 {
		return &Disconnect{ReasonCode: Success}, nil
	}
	r := codec.NewReader(body)
	rc, err := r.U8()
	if err != nil {
		return nil, err
	}
	d := &Disconnect{ReasonCode: ReasonCode(rc)}
	if r.Remaining() > 0 {
		props, err := DecodeProperties(r)
		if err != nil {
			return nil, err
		}
		d.Properties = props
	}
	return d, nil
}

func writeDisconnect(w *codec.Writer, d *Disconnect) []byte {
	if d.ReasonCode == Success && d.Properties == nil {
		WriteFixedHeader(w, DISCONNECT, 0, 0)
		return w.Bytes()
	}
	body := codec.NewWriter(0)
	body.U8(byte(d.ReasonCode))
	EncodeProperties(body, d.Properties)
	WriteFixedHeader(w, DISCONNECT, 0, body.Len())
	w.Raw(body.Bytes())
	return w.Bytes()
}

func parseAuth(body []byte) (*Auth, error) {
	if len(body) == 0 {
		return &Auth{ReasonCode: Success}, nil
	}
	r := codec.NewReader(body)
	rc, err := r.U8()
	if err != nil {
		return nil, err
	}
	a := &Auth{ReasonCode: ReasonCode(rc)}
	if r.Remaining() > 0 {
		props, err := DecodeProperties(r)
		if err != nil {
			return nil, err
		}
		a.Properties = props
	}
	return a, nil
}

func writeAuth(w *codec.Writer, a *Auth) []byte {
	body := codec.NewWriter(0)
	body.U8(byte(a.ReasonCode))
	EncodeProperties(body, a.Properties)
	WriteFixedHeader(w, AUTH, 0, body.Len())
	w.Raw(body.Bytes())
	return w.Bytes()
}
