package packet

import (
	"github.com/goqttd/goqttd/internal/codec"
	"github.com/goqttd/goqttd/internal/errs"
)

// v311Handler implements Handler for MQTT 3.1.1, where the property
// section is always absent (zero length), per spec §4.3.
type v311Handler struct{}

func (v311Handler) Version() Version { return V311 }

func (v311Handler) ParsePacket(typ Type, flags byte, body []byte) (Packet, error) {
	switch typ {
	case CONNECT:
		return parseConnect(body, false)
	case CONNACK:
		return parseConnack(body, false)
	case PUBLISH:
		return parsePublish(flags, body, false)
	case PUBACK:
		id, _, _, err := decodeAck(typ, flags, body, false)
		if err != nil {
			return nil, err
		}
		return &Puback{PacketID: id, ReasonCode: Success}, nil
	case PUBREC:
		id, _, _, err := decodeAck(typ, flags, body, false)
		if err != nil {
			return nil, err
		}
		return &Pubrec{PacketID: id, ReasonCode: Success}, nil
	case PUBREL:
		id, _, _, err := decodeAck(typ, flags, body, false)
		if err != nil {
			return nil, err
		}
		return &Pubrel{PacketID: id, ReasonCode: Success}, nil
	case PUBCOMP:
		id, _, _, err := decodeAck(typ, flags, body, false)
		if err != nil {
			return nil, err
		}
		return &Pubcomp{PacketID: id, ReasonCode: Success}, nil
	case SUBSCRIBE:
		return parseSubscribe(body, false)
	case SUBACK:
		return parseSuback(body, false)
	case UNSUBSCRIBE:
		return parseUnsubscribe(body, false)
	case UNSUBACK:
		return parseUnsuback(body, false)
	case PINGREQ:
		return &Pingreq{}, nil
	case PINGRESP:
		return &Pingresp{}, nil
	case DISCONNECT:
		return &Disconnect{}, nil
	default:
		return nil, errs.New("v311.ParsePacket: unsupported type", errs.ProtocolError)
	}
}

func (v311Handler) Write(p Packet) ([]byte, error) {
	w := codec.NewWriter(32)
	switch pk := p.(type) {
	case *Connect:
		return writeConnect(w, pk, false), nil
	case *Connack:
		return writeConnack(w, pk, false), nil
	case *Publish:
		return writePublish(w, pk, false), nil
	case *Puback:
		return encodeAck(w, PUBACK, 0, pk.PacketID, Success, nil, false), nil
	case *Pubrec:
		return encodeAck(w, PUBREC, 0, pk.PacketID, Success, nil, false), nil
	case *Pubrel:
		return encodeAck(w, PUBREL, ReservedFlags, pk.PacketID, Success, nil, false), nil
	case *Pubcomp:
		return encodeAck(w, PUBCOMP, 0, pk.PacketID, Success, nil, false), nil
	case *Subscribe:
		return writeSubscribe(w, pk, false), nil
	case *Suback:
		return writeSuback(w, pk, false), nil
	case *Unsubscribe:
		return writeUnsubscribe(w, pk, false), nil
	case *Unsuback:
		return writeUnsuback(w, pk, false), nil
	case *Pingreq:
		return []byte{0xC0, 0x00}, nil
	case *Pingresp:
		return []byte{0xD0, 0x00}, nil
	case *Disconnect:
		WriteFixedHeader(w, DISCONNECT, 0, 0)
		return w.Bytes(), nil
	default:
		return nil, errs.New("v311.Write: unsupported packet", errs.ProtocolError)
	}
}
