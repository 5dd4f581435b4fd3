// Package cluster implements full-mesh peer federation: HELLO/
// HEARTBEAT handshake, SUB/UNSUB announcement, FORWARDED_PUBLISH with
// origin+message-id loop suppression, and retained-snapshot exchange
// (§4.8, §6 "Cluster wire format").
package cluster

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/goqttd/goqttd/internal/codec"
	"github.com/goqttd/goqttd/internal/packet"
)

type FrameType byte

const (
	TypeHello             FrameType = 1
	TypeHeartbeat         FrameType = 2
	TypeSub               FrameType = 3
	TypeUnsub             FrameType = 4
	TypeForwardedPublish  FrameType = 5
	TypeRetainedRequest   FrameType = 6
	TypeRetainedEntry     FrameType = 7
	TypeRetainedEnd       FrameType = 8
)

// Hello announces a node to a peer it just dialed or accepted.
type Hello struct {
	ClusterName string
	NodeID      string
	ListenPort  uint16
}

// Heartbeat carries no payload beyond the frame type; liveness alone
// is the signal.
type Heartbeat struct{}

// SubAnnounce/UnsubAnnounce propagate a local subscribe/unsubscribe so
// peers know to forward matching publishes to the origin node.
type SubAnnounce struct {
	Filter string
}

type UnsubAnnounce struct {
	Filter string
}

// ForwardedPublish is one message relayed between nodes.
type ForwardedPublish struct {
	OriginNodeID string
	MessageUUID  [16]byte
	Topic        string
	Payload      []byte
	QoS          packet.QoS
	Retain       bool
}

type RetainedRequest struct{}

type RetainedEntry struct {
	Topic   string
	Payload []byte
	QoS     packet.QoS
}

type RetainedEnd struct{}

// Frame is any of the above wrapped with its FrameType tag.
type Frame struct {
	Type    FrameType
	Hello   *Hello
	Sub     *SubAnnounce
	Unsub   *UnsubAnnounce
	Publish *ForwardedPublish
	Entry   *RetainedEntry
}

// WriteFrame encodes f as {u32 length, u8 type, payload} and writes it
// to w in one call.
func WriteFrame(w io.Writer, f *Frame) error {
	body := codec.NewWriter(64)
	switch f.Type {
	case TypeHello:
		body.String(f.Hello.ClusterName)
		body.String(f.Hello.NodeID)
		body.U16(f.Hello.ListenPort)
	case TypeHeartbeat, TypeRetainedRequest, TypeRetainedEnd:
		// no payload
	case TypeSub:
		body.String(f.Sub.Filter)
	case TypeUnsub:
		body.String(f.Unsub.Filter)
	case TypeForwardedPublish:
		p := f.Publish
		body.String(p.OriginNodeID)
		body.Raw(p.MessageUUID[:])
		body.String(p.Topic)
		body.Binary(p.Payload)
		body.U8(byte(p.QoS))
		retain := byte(0)
		if p.Retain {
			retain = 1
		}
		body.U8(retain)
	case TypeRetainedEntry:
		e := f.Entry
		body.String(e.Topic)
		body.Binary(e.Payload)
		body.U8(byte(e.QoS))
	default:
		return fmt.Errorf("cluster: unknown frame type %d", f.Type)
	}

	payload := body.Bytes()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(1+len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(f.Type)}); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 || length > 16*1024*1024 {
		return nil, fmt.Errorf("cluster: invalid frame length %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	typ := FrameType(buf[0])
	rd := codec.NewReader(buf[1:])
	f := &Frame{Type: typ}
	switch typ {
	case TypeHello:
		clusterName, err := rd.String()
		if err != nil {
			return nil, err
		}
		nodeID, err := rd.String()
		if err != nil {
			return nil, err
		}
		port, err := rd.U16()
		if err != nil {
			return nil, err
		}
		f.Hello = &Hello{ClusterName: clusterName, NodeID: nodeID, ListenPort: port}
	case TypeHeartbeat, TypeRetainedRequest, TypeRetainedEnd:
	case TypeSub:
		filter, err := rd.String()
		if err != nil {
			return nil, err
		}
		f.Sub = &SubAnnounce{Filter: filter}
	case TypeUnsub:
		filter, err := rd.String()
		if err != nil {
			return nil, err
		}
		f.Unsub = &UnsubAnnounce{Filter: filter}
	case TypeForwardedPublish:
		origin, err := rd.String()
		if err != nil {
			return nil, err
		}
		var uuid [16]byte
		idBytes := rd.Bytes()
		if len(idBytes) < 16 {
			return nil, fmt.Errorf("cluster: short message uuid")
		}
		copy(uuid[:], idBytes[:16])
		if err := rd.Skip(16); err != nil {
			return nil, err
		}
		topic, err := rd.String()
		if err != nil {
			return nil, err
		}
		payload, err := rd.Binary()
		if err != nil {
			return nil, err
		}
		qos, err := rd.U8()
		if err != nil {
			return nil, err
		}
		retainByte, err := rd.U8()
		if err != nil {
			return nil, err
		}
		f.Publish = &ForwardedPublish{
			OriginNodeID: origin, MessageUUID: uuid, Topic: topic, Payload: payload,
			QoS: packet.QoS(qos), Retain: retainByte != 0,
		}
	case TypeRetainedEntry:
		topic, err := rd.String()
		if err != nil {
			return nil, err
		}
		payload, err := rd.Binary()
		if err != nil {
			return nil, err
		}
		qos, err := rd.U8()
		if err != nil {
			return nil, err
		}
		f.Entry = &RetainedEntry{Topic: topic, Payload: payload, QoS: packet.QoS(qos)}
	default:
		return nil, fmt.Errorf("cluster: unknown frame type %d", typ)
	}
	return f, nil
}
