// Package broker wires the protocol-independent pieces (topic index,
// retained store, session registry, hook dispatch) into the ingress
// pipeline that drives one client connection end to end (C8).
//
// Grounded on internal/transport/tcp.go's handleConnection dispatch
// switch (kept the per-packet-type shape) and internal/broker/
// broker.go's HandleSubscribe/HandlePublish/sendRetainedMessages,
// generalized across MQTT 3.1.1/5.0 and gateway-originated publishes.
package broker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goqttd/goqttd/internal/auth"
	"github.com/goqttd/goqttd/internal/hook"
	"github.com/goqttd/goqttd/internal/logger"
	"github.com/goqttd/goqttd/internal/packet"
	"github.com/goqttd/goqttd/internal/retained"
	"github.com/goqttd/goqttd/internal/session"
	"github.com/goqttd/goqttd/internal/topic"
	"github.com/goqttd/goqttd/internal/transport"
)

const (
	keepAliveGraceMul = 1.5
	// qosRetryTick is how often a live connection's outbound QoS1/2
	// deliveries are checked for a due resend or timeout.
	qosRetryTick = 10 * time.Second
)

// Broker owns the shared broker-wide state and drives each accepted
// connection through the MQTT ingress pipeline.
type Broker struct {
	Topic    *topic.Index
	Retained *retained.Store
	Sessions *session.Registry
	Hooks    *hook.Manager
	Auth     *auth.Store // nil disables credential checks
	Log      *logger.Logger
	NodeID   string // tags locally-originated publishes for cluster loop suppression

	// OnLocalPublish, if set, is called for every accepted publish that
	// carries an origin client, including ones injected through Publish
	// by the bridge, cluster and gateways (publishes with a nil client
	// skip it), letting bridge/cluster fan-out hook in without this
	// package importing either.
	OnLocalPublish func(msg packet.ApplicationMessage, originClientID string)

	// DenyAnonymous rejects any CONNECT without a username when true.
	// The zero value (false) preserves the teacher's allow-by-default
	// behavior.
	DenyAnonymous bool
	// MaxConnections caps concurrently accepted connections; 0 means
	// unbounded.
	MaxConnections int
	// MaxMessageSize caps PUBLISH payload bytes; 0 means unbounded.
	MaxMessageSize int
	// KeepAliveDefault is applied when a CONNECT's keep-alive is 0.
	KeepAliveDefault uint16
	// DisableRetainedMessages drops the retain side effect of PUBLISH
	// entirely; matching subscribers still get live fan-out.
	DisableRetainedMessages bool
	// DisablePersistentSessions forces every CONNECT to behave as
	// CleanStart, ignoring a client's request to resume a prior session.
	DisablePersistentSessions bool

	shuttingDown atomic.Bool
	connCount    atomic.Int64
}

func New() *Broker {
	return &Broker{
		Topic:    topic.NewIndex(),
		Retained: retained.NewStore(),
		Sessions: session.NewRegistry(),
		Hooks:    hook.NewManager(),
		Log:      logger.NewMQTTLogger("broker"),
	}
}

// Shutdown marks the broker as draining; new CONNECTs are refused
// with ServerShuttingDown.
func (b *Broker) Shutdown() {
	b.shuttingDown.Store(true)
}

// Serve drives ln's accept loop until ctx is cancelled or ln.Accept
// returns an error.
func (b *Broker) Serve(ctx context.Context, ln transport.Listener) error {
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
		go b.handleConnection(ctx, conn)
	}
}

// connState is one live connection's pipeline context.
type connState struct {
	conn    transport.Conn
	handler packet.Handler
	version packet.Version
	sess    *session.Session
	client  *hook.Client
}

func (b *Broker) handleConnection(ctx context.Context, conn transport.Conn) {
	defer conn.Close()

	if b.MaxConnections > 0 && b.connCount.Add(1) > int64(b.MaxConnections) {
		b.connCount.Add(-1)
		return
	}
	defer b.connCount.Add(-1)

	st := b.acceptConnect(ctx, conn)
	if st == nil {
		return
	}
	graceful := false
	defer func() { b.teardown(ctx, st, graceful) }()

	retryStop := make(chan struct{})
	defer close(retryStop)
	go b.retryLoop(ctx, st, retryStop)

	for {
		if st.sess.KeepAlive > 0 {
			grace := time.Duration(float64(st.sess.KeepAlive)*keepAliveGraceMul) * time.Second
			if dl, ok := conn.(interface{ SetReadDeadline(time.Time) error }); ok {
				dl.SetReadDeadline(time.Now().Add(grace))
			}
		}

		raw, err := readPacket(conn)
		if err != nil {
			return
		}
		fh, offset, err := packet.ParseFixedHeader(raw)
		if err != nil {
			return
		}
		p, err := st.handler.ParsePacket(fh.Type, fh.Flags, raw[offset:])
		if err != nil {
			b.Log.Debug("parse error", logger.ClientID(st.sess.ClientID), logger.ErrorAttr(err))
			return
		}

		disconnect, err := b.dispatch(ctx, st, p)
		if err != nil {
			b.Log.Debug("dispatch error", logger.ClientID(st.sess.ClientID), logger.ErrorAttr(err))
			return
		}
		if disconnect {
			graceful = true // only a client-sent DISCONNECT reaches here with err == nil
			return
		}
	}
}

// retryLoop drives st.sess's outbound QoS1/2 resend-on-deadline and
// inbound QoS2 handshake timeout for as long as the connection lives.
//
// Grounded on internal/broker/qos.go's QoSManager.retryLoop/
// processRetries/cleanupTimedOutMessages ticker idiom, moved onto the
// per-session retry state per the "session owns its inflight maps" rule.
func (b *Broker) retryLoop(ctx context.Context, st *connState, stop <-chan struct{}) {
	ticker := time.NewTicker(qosRetryTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			st.sess.RetryOutbound()
			st.sess.CleanupInboundTimeouts()
		}
	}
}

// dispatch handles one decoded packet. The bool result signals the
// connection should close after processing (graceful DISCONNECT).
func (b *Broker) dispatch(ctx context.Context, st *connState, p packet.Packet) (bool, error) {
	switch msg := p.(type) {
	case *packet.Publish:
		return false, b.handlePublish(ctx, st, msg)
	case *packet.Puback:
		st.sess.HandlePuback(msg.PacketID)
		return false, nil
	case *packet.Pubrec:
		rel, _ := st.sess.HandlePubrec(msg.PacketID)
		return false, b.write(st, rel)
	case *packet.Pubrel:
		appMsg, ok := st.sess.HandleIncomingPubrel(msg.PacketID)
		if err := b.write(st, &packet.Pubcomp{PacketID: msg.PacketID}); err != nil {
			return false, err
		}
		if ok {
			b.fanOutIncoming(ctx, st, appMsg)
		}
		return false, nil
	case *packet.Pubcomp:
		st.sess.HandlePubcomp(msg.PacketID)
		return false, nil
	case *packet.Subscribe:
		return false, b.handleSubscribe(ctx, st, msg)
	case *packet.Unsubscribe:
		return false, b.handleUnsubscribe(ctx, st, msg)
	case *packet.Pingreq:
		return false, b.write(st, &packet.Pingresp{})
	case *packet.Disconnect:
		return true, nil
	default:
		return true, fmt.Errorf("broker: unexpected packet type %T", p)
	}
}

func (b *Broker) write(st *connState, p packet.Packet) error {
	raw, err := st.handler.Write(p)
	if err != nil {
		return err
	}
	_, err = st.conn.Write(raw)
	return err
}

// teardown detaches st's connection from its session and, for every
// disconnect except a client-sent DISCONNECT, publishes the session's
// armed Will per spec.md §3's will-message attribute.
func (b *Broker) teardown(ctx context.Context, st *connState, graceful bool) {
	st.sess.SetDeliverFunc(nil)
	if !graceful {
		b.fireWill(ctx, st)
	}
	b.Hooks.FireDisconnect(ctx, st.client, nil)
}

func (b *Broker) fireWill(ctx context.Context, st *connState) {
	will := st.sess.Will
	if will == nil {
		return
	}
	st.sess.Will = nil

	msg := &packet.ApplicationMessage{
		Topic: will.Topic, Payload: will.Payload, QoS: will.QoS,
		Retain: will.Retain, Properties: will.Properties,
	}
	msg = b.Hooks.FireWill(ctx, st.client, msg)
	if msg == nil {
		return // a hook suppressed the will
	}
	if err := b.Publish(ctx, st.client, *msg); err != nil {
		b.Log.Debug("will publish failed", logger.ClientID(st.sess.ClientID), logger.ErrorAttr(err))
	}
}
