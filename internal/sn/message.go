// Package sn implements a small MQTT-SN-style datagram protocol: topic
// names are registered to numeric ids per client, and publishes/
// subscribes thereafter carry only the id (§4.6 "SN mapping is
// symmetric").
package sn

import (
	"fmt"

	"github.com/goqttd/goqttd/internal/codec"
)

type MsgType byte

const (
	TypeRegister  MsgType = 0x0A
	TypeRegack    MsgType = 0x0B
	TypePublish   MsgType = 0x0C
	TypePuback    MsgType = 0x0D
	TypeSubscribe MsgType = 0x12
	TypeSuback    MsgType = 0x13
	TypeDisconnect MsgType = 0x18
)

type ReturnCode byte

const (
	Accepted           ReturnCode = 0x00
	RejectedCongestion ReturnCode = 0x01
	RejectedInvalidID  ReturnCode = 0x02
	RejectedNotSupported ReturnCode = 0x03
)

// Message is one decoded SN frame. Not every field applies to every
// MsgType; unused fields are left zero.
type Message struct {
	Type     MsgType
	TopicID  uint16
	MsgID    uint16
	QoS      byte
	Retain   bool
	TopicName string // REGISTER and SUBSCRIBE only
	Payload  []byte  // PUBLISH only
	Code     ReturnCode
}

// Encode serializes m as a length-prefixed frame: [u8 length][u8
// type][type-specific body]. length counts the whole frame including
// itself, matching the classic MQTT-SN on-wire convention.
func Encode(m *Message) ([]byte, error) {
	w := codec.NewWriter(16)
	w.U8(0) // length placeholder
	w.U8(byte(m.Type))

	switch m.Type {
	case TypeRegister:
		w.U16(0) // TopicID is assigned by REGACK, unknown at REGISTER time
		w.U16(m.MsgID)
		w.Raw([]byte(m.TopicName))
	case TypeRegack:
		w.U16(m.TopicID)
		w.U16(m.MsgID)
		w.U8(byte(m.Code))
	case TypePublish:
		flags := m.QoS << 5
		if m.Retain {
			flags |= 1 << 4
		}
		w.U8(flags)
		w.U16(m.TopicID)
		w.U16(m.MsgID)
		w.Raw(m.Payload)
	case TypePuback:
		w.U16(m.TopicID)
		w.U16(m.MsgID)
		w.U8(byte(m.Code))
	case TypeSubscribe:
		w.U8(m.QoS << 5)
		w.U16(m.MsgID)
		w.Raw([]byte(m.TopicName))
	case TypeSuback:
		w.U8(m.QoS << 5)
		w.U16(m.TopicID)
		w.U16(m.MsgID)
		w.U8(byte(m.Code))
	case TypeDisconnect:
	default:
		return nil, fmt.Errorf("sn: unknown message type 0x%02x", m.Type)
	}

	buf := w.Bytes()
	if len(buf) > 255 {
		return nil, fmt.Errorf("sn: frame too long for 1-byte length (%d)", len(buf))
	}
	buf[0] = byte(len(buf))
	return buf, nil
}

// Decode parses one raw SN frame.
func Decode(raw []byte) (*Message, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("sn: short frame")
	}
	length := int(raw[0])
	if length != len(raw) {
		return nil, fmt.Errorf("sn: length field %d does not match frame size %d", length, len(raw))
	}
	typ := MsgType(raw[1])
	r := codec.NewReader(raw[2:])

	m := &Message{Type: typ}
	switch typ {
	case TypeRegister:
		topicID, err := r.U16()
		if err != nil {
			return nil, err
		}
		m.TopicID = topicID
		msgID, err := r.U16()
		if err != nil {
			return nil, err
		}
		m.MsgID = msgID
		m.TopicName = string(r.Bytes())
	case TypeRegack:
		var err error
		if m.TopicID, err = r.U16(); err != nil {
			return nil, err
		}
		if m.MsgID, err = r.U16(); err != nil {
			return nil, err
		}
		code, err := r.U8()
		if err != nil {
			return nil, err
		}
		m.Code = ReturnCode(code)
	case TypePublish:
		flags, err := r.U8()
		if err != nil {
			return nil, err
		}
		m.QoS = (flags >> 5) & 0x3
		m.Retain = flags&(1<<4) != 0
		if m.TopicID, err = r.U16(); err != nil {
			return nil, err
		}
		if m.MsgID, err = r.U16(); err != nil {
			return nil, err
		}
		m.Payload = append([]byte(nil), r.Bytes()...)
	case TypePuback:
		var err error
		if m.TopicID, err = r.U16(); err != nil {
			return nil, err
		}
		if m.MsgID, err = r.U16(); err != nil {
			return nil, err
		}
		code, err := r.U8()
		if err != nil {
			return nil, err
		}
		m.Code = ReturnCode(code)
	case TypeSubscribe:
		flags, err := r.U8()
		if err != nil {
			return nil, err
		}
		m.QoS = (flags >> 5) & 0x3
		msgID, err := r.U16()
		if err != nil {
			return nil, err
		}
		m.MsgID = msgID
		m.TopicName = string(r.Bytes())
	case TypeSuback:
		flags, err := r.U8()
		if err != nil {
			return nil, err
		}
		m.QoS = (flags >> 5) & 0x3
		var err2 error
		if m.TopicID, err2 = r.U16(); err2 != nil {
			return nil, err2
		}
		if m.MsgID, err2 = r.U16(); err2 != nil {
			return nil, err2
		}
		code, err3 := r.U8()
		if err3 != nil {
			return nil, err3
		}
		m.Code = ReturnCode(code)
	case TypeDisconnect:
	default:
		return nil, fmt.Errorf("sn: unknown message type 0x%02x", typ)
	}
	return m, nil
}
