package sn

import (
	"context"
	"fmt"
	"sync"

	"github.com/goqttd/goqttd/internal/broker"
	"github.com/goqttd/goqttd/internal/hook"
	"github.com/goqttd/goqttd/internal/packet"
	"github.com/goqttd/goqttd/internal/session"
	"github.com/goqttd/goqttd/internal/topic"
	"github.com/goqttd/goqttd/internal/transport"
)

// Gateway maintains one topic-id registry per SN client and translates
// REGISTER/PUBLISH/SUBSCRIBE frames against the shared Broker.
//
// Grounded on the same hand-rolled codec idiom as internal/coap; no
// pack example implements MQTT-SN, so the registry and dispatch here
// are new code.
type Gateway struct {
	Broker *broker.Broker

	mu       sync.Mutex
	clients  map[string]*clientState // keyed by conn.RemoteAddr().String()
}

type clientState struct {
	clientID  string
	conn      transport.Conn
	sess      *session.Session
	nextID    uint16
	nameToID  map[string]uint16
	idToName  map[uint16]string
}

func NewGateway(b *broker.Broker) *Gateway {
	return &Gateway{Broker: b, clients: make(map[string]*clientState)}
}

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
	cs := g.stateFor(conn)
	defer g.forget(conn)

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		msg, err := Decode(buf[:n])
		if err != nil {
			continue
		}
		g.handleMessage(ctx, cs, msg)
	}
}

func (g *Gateway) stateFor(conn transport.Conn) *clientState {
	g.mu.Lock()
	defer g.mu.Unlock()
	addr := conn.RemoteAddr().String()
	cs, ok := g.clients[addr]
	if ok {
		return cs
	}
	clientID := "sn:" + addr
	sess := session.New(clientID, true)
	cs = &clientState{
		clientID: clientID, conn: conn, sess: sess,
		nextID: 1, nameToID: make(map[string]uint16), idToName: make(map[uint16]string),
	}
	sess.SetDeliverFunc(func(pub *packet.Publish) error {
		return g.deliver(cs, pub)
	})
	g.Broker.Sessions.Store(sess)
	g.clients[addr] = cs
	return cs
}

func (g *Gateway) forget(conn transport.Conn) {
	g.mu.Lock()
	addr := conn.RemoteAddr().String()
	cs, ok := g.clients[addr]
	delete(g.clients, addr)
	g.mu.Unlock()
	if ok {
		g.Broker.Topic.UnsubscribeAll(cs.clientID)
		g.Broker.Sessions.Delete(cs.clientID)
	}
}

func (g *Gateway) deliver(cs *clientState, pub *packet.Publish) error {
	g.mu.Lock()
	id, ok := cs.nameToID[pub.Topic]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("sn: client %s has no topic-id for %q", cs.clientID, pub.Topic)
	}
	raw, err := Encode(&Message{
		Type: TypePublish, TopicID: id, QoS: byte(pub.QoS), Retain: pub.Retain, Payload: pub.Payload,
	})
	if err != nil {
		return err
	}
	_, err = cs.conn.Write(raw)
	return err
}

func (g *Gateway) handleMessage(ctx context.Context, cs *clientState, msg *Message) {
	switch msg.Type {
	case TypeRegister:
		g.mu.Lock()
		id, ok := cs.nameToID[msg.TopicName]
		if !ok {
			id = cs.nextID
			cs.nextID++
			cs.nameToID[msg.TopicName] = id
			cs.idToName[id] = msg.TopicName
		}
		g.mu.Unlock()
		raw, _ := Encode(&Message{Type: TypeRegack, TopicID: id, MsgID: msg.MsgID, Code: Accepted})
		_, _ = cs.conn.Write(raw)

	case TypeSubscribe:
		g.mu.Lock()
		id, ok := cs.nameToID[msg.TopicName]
		if !ok {
			id = cs.nextID
			cs.nextID++
			cs.nameToID[msg.TopicName] = id
			cs.idToName[id] = msg.TopicName
		}
		g.mu.Unlock()

		sub := &topic.Subscription{ClientID: cs.clientID, Filter: msg.TopicName, QoS: msg.QoS}
		_ = g.Broker.Topic.Subscribe(sub)
		raw, _ := Encode(&Message{Type: TypeSuback, TopicID: id, MsgID: msg.MsgID, QoS: msg.QoS, Code: Accepted})
		_, _ = cs.conn.Write(raw)

	case TypePublish:
		g.mu.Lock()
		name, ok := cs.idToName[msg.TopicID]
		g.mu.Unlock()
		if !ok {
			return
		}
		app := packet.ApplicationMessage{Topic: name, Payload: msg.Payload, QoS: packet.QoS(msg.QoS), Retain: msg.Retain}
		_ = g.Broker.Publish(ctx, &hook.Client{ClientID: cs.clientID}, app)
		if msg.QoS > 0 {
			raw, _ := Encode(&Message{Type: TypePuback, TopicID: msg.TopicID, MsgID: msg.MsgID, Code: Accepted})
			_, _ = cs.conn.Write(raw)
		}

	case TypeDisconnect:
		g.forget(cs.conn)
	}
}
