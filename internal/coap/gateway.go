package coap

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/goqttd/goqttd/internal/broker"
	"github.com/goqttd/goqttd/internal/hook"
	"github.com/goqttd/goqttd/internal/logger"
	"github.com/goqttd/goqttd/internal/packet"
	"github.com/goqttd/goqttd/internal/transport"
)

// Gateway bridges CoAP datagrams to a Broker's publish/retained
// surface. One Gateway serves one UDP listener.
//
// Grounded on spec.md §4.6's operation table; no pack example
// implements CoAP so the codec (message.go) and this dispatch loop are
// new code following the teacher's hand-rolled packet-parsing idiom.
type Gateway struct {
	Broker *broker.Broker
	Prefix string // URI path prefix stripped before topic lookup, e.g. "ps"
	Log    *logger.Logger

	mu        sync.Mutex
	observers map[string][]*observer // topic -> observers
	nextSeq   uint32
}

type observer struct {
	conn  transport.Conn
	token []byte
	seq   atomic.Uint32
}

func NewGateway(b *broker.Broker, prefix string) *Gateway {
	return &Gateway{
		Broker:    b,
		Prefix:    prefix,
		Log:       logger.NewMQTTLogger("coap"),
		observers: make(map[string][]*observer),
	}
}

// Serve accepts virtual UDP connections from ln and handles each
// datagram's request independently; CoAP has no connection lifecycle
// of its own beyond the UDP demux transport already provides.
func (g *Gateway) Serve(ctx context.Context, ln transport.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go g.handlePeer(ctx, conn)
	}
}

func (g *Gateway) handlePeer(ctx context.Context, conn transport.Conn) {
	buf := make([]byte, 65536)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			g.removeObserverFor(conn)
			return
		}
		msg, err := Decode(buf[:n])
		if err != nil {
			g.Log.Debug("coap decode error", logger.ErrorAttr(err))
			continue
		}
		g.handleMessage(ctx, conn, msg)
	}
}

func (g *Gateway) handleMessage(ctx context.Context, conn transport.Conn, msg *Message) {
	topic := g.topicFromPath(msg.URIPath())
	if topic == "" {
		g.reply(conn, msg, Code400BadRequest, nil)
		return
	}

	switch msg.Code {
	case CodeGET:
		if seq, ok := msg.Observe(); ok {
			if seq == 0 {
				g.registerObserver(conn, msg.Token, topic)
			} else {
				g.deregisterObserver(conn, msg.Token, topic)
			}
		}
		rm, ok := g.Broker.Retained.Get(topic)
		if !ok {
			g.reply(conn, msg, Code404NotFound, nil)
			return
		}
		g.reply(conn, msg, Code205Content, rm.Payload)

	case CodePUT, CodePOST:
		app := packet.ApplicationMessage{Topic: topic, Payload: msg.Payload, QoS: packet.QoS0, Retain: true}
		_ = g.Broker.Publish(ctx, &hook.Client{ClientID: "coap:" + conn.RemoteAddr().String(), RemoteAddr: conn.RemoteAddr().String()}, app)
		g.reply(conn, msg, Code204Changed, nil)

	case CodeDELETE:
		app := packet.ApplicationMessage{Topic: topic, Payload: nil, QoS: packet.QoS0, Retain: true}
		_ = g.Broker.Publish(ctx, &hook.Client{ClientID: "coap:" + conn.RemoteAddr().String(), RemoteAddr: conn.RemoteAddr().String()}, app)
		g.reply(conn, msg, Code202Deleted, nil)

	default:
		g.reply(conn, msg, Code400BadRequest, nil)
	}
}

func (g *Gateway) topicFromPath(path string) string {
	if g.Prefix == "" {
		return path
	}
	if len(path) <= len(g.Prefix)+1 || path[:len(g.Prefix)] != g.Prefix || path[len(g.Prefix)] != '/' {
		return ""
	}
	return path[len(g.Prefix)+1:]
}

func (g *Gateway) reply(conn transport.Conn, req *Message, code Code, payload []byte) {
	resp := &Message{
		Version: DefaultVersion, Type: NonConfirmable, Code: code,
		MID: req.MID, Token: req.Token, Payload: payload,
	}
	raw, err := Encode(resp)
	if err != nil {
		return
	}
	_, _ = conn.Write(raw)
}

func (g *Gateway) registerObserver(conn transport.Conn, token []byte, topic string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, o := range g.observers[topic] {
		if o.conn == conn && string(o.token) == string(token) {
			return
		}
	}
	g.observers[topic] = append(g.observers[topic], &observer{conn: conn, token: token})
}

func (g *Gateway) deregisterObserver(conn transport.Conn, token []byte, topic string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := g.observers[topic]
	for i, o := range list {
		if o.conn == conn && string(o.token) == string(token) {
			g.observers[topic] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (g *Gateway) removeObserverFor(conn transport.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for topic, list := range g.observers {
		kept := list[:0]
		for _, o := range list {
			if o.conn != conn {
				kept = append(kept, o)
			}
		}
		g.observers[topic] = kept
	}
}

// NotifyPublish fans msg out to every observer registered on a topic
// matching msg.Topic. Call this from Broker.OnLocalPublish (and from
// cluster re-injection) so observers see messages from any origin.
func (g *Gateway) NotifyPublish(msg packet.ApplicationMessage) {
	g.mu.Lock()
	list := append([]*observer(nil), g.observers[msg.Topic]...)
	g.mu.Unlock()

	for _, o := range list {
		seq := o.seq.Add(1)
		resp := &Message{
			Version: DefaultVersion, Type: NonConfirmable, Code: Code205Content,
			Token: o.token, Options: []OptionValue{NewObserveOption(seq)}, Payload: msg.Payload,
		}
		raw, err := Encode(resp)
		if err != nil {
			continue
		}
		if _, err := o.conn.Write(raw); err != nil {
			g.removeObserverFor(o.conn)
		}
	}
}
