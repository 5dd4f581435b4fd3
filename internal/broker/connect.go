package broker

import (
	"context"

	"github.com/goqttd/goqttd/internal/hook"
	"github.com/goqttd/goqttd/internal/logger"
	"github.com/goqttd/goqttd/internal/packet"
	"github.com/goqttd/goqttd/internal/session"
	"github.com/goqttd/goqttd/internal/transport"
)

// acceptConnect reads and validates the first packet on conn, which
// per spec must be CONNECT, runs auth, applies session takeover, and
// sends CONNACK. Returns nil if the connection should be closed.
//
// Grounded on internal/transport/tcp.go's handleConnection CONNECT
// branch (auth check, CleanSession/sessionPresent bookkeeping,
// session.Store, CONNACK write).
func (b *Broker) acceptConnect(ctx context.Context, conn transport.Conn) *connState {
	if b.shuttingDown.Load() {
		return nil
	}

	raw, err := readPacket(conn)
	if err != nil {
		return nil
	}
	fh, offset, err := packet.ParseFixedHeader(raw)
	if err != nil || fh.Type != packet.CONNECT {
		return nil
	}

	version, err := packet.DetectVersion(raw[offset:])
	if err != nil {
		return nil
	}
	handler, err := packet.ForVersion(version)
	if err != nil {
		return nil
	}
	p, err := handler.ParsePacket(fh.Type, fh.Flags, raw[offset:])
	if err != nil {
		return nil
	}
	connect, ok := p.(*packet.Connect)
	if !ok {
		return nil
	}

	client := &hook.Client{
		ClientID:   connect.ClientID,
		Username:   connect.Username,
		RemoteAddr: conn.RemoteAddr().String(),
	}

	if b.DenyAnonymous && !connect.UsernameFlag {
		writeConnack(conn, handler, &packet.Connack{ReasonCode: packet.NotAuthorized})
		return nil
	}

	// Two independent gates: the pluggable hook chain (defaults to
	// allow with nothing registered) and, if configured, the sqlite
	// credential store.
	if !b.Hooks.Authenticate(ctx, client, connect.Username, connect.Password) {
		writeConnack(conn, handler, &packet.Connack{ReasonCode: packet.BadUsernameOrPassword})
		return nil
	}
	if b.Auth != nil && connect.UsernameFlag {
		if err := b.Auth.Authenticate(connect.Username, string(connect.Password)); err != nil {
			writeConnack(conn, handler, &packet.Connack{ReasonCode: packet.BadUsernameOrPassword})
			return nil
		}
	}

	existing, hadPrior := b.Sessions.Get(connect.ClientID)
	if hadPrior && existing.IsConnected() {
		existing.SetDeliverFunc(nil) // takeover: sever the old connection's delivery path
	}

	cleanStart := connect.CleanStart || b.DisablePersistentSessions

	sessionPresent := false
	var sess *session.Session
	if cleanStart {
		sess = session.New(connect.ClientID, true)
		if hadPrior {
			b.Topic.UnsubscribeAll(connect.ClientID)
		}
	} else if hadPrior {
		sess = existing
		sessionPresent = true
	} else {
		sess = session.New(connect.ClientID, false)
	}
	sess.KeepAlive = connect.KeepAlive
	if sess.KeepAlive == 0 && b.KeepAliveDefault > 0 {
		sess.KeepAlive = b.KeepAliveDefault
	}
	sess.ProtocolVer = version
	if connect.WillFlag {
		sess.Will = &session.Will{
			Topic:      connect.WillTopic,
			Payload:    connect.WillPayload,
			QoS:        connect.WillQoS,
			Retain:     connect.WillRetain,
			Properties: connect.WillProperties,
		}
	}
	b.Sessions.Store(sess)

	if err := b.Hooks.FireConnect(ctx, client); err != nil {
		writeConnack(conn, handler, &packet.Connack{ReasonCode: packet.UnspecifiedError})
		return nil
	}

	ack := &packet.Connack{SessionPresent: sessionPresent, ReasonCode: packet.Success}
	if err := writeConnack(conn, handler, ack); err != nil {
		return nil
	}

	sess.SetDeliverFunc(func(pub *packet.Publish) error {
		data, err := handler.Write(pub)
		if err != nil {
			return err
		}
		_, err = conn.Write(data)
		return err
	})
	if err := sess.DrainPending(); err != nil {
		b.Log.Debug("drain pending failed", logger.ClientID(sess.ClientID), logger.ErrorAttr(err))
	}
	for _, o := range sess.OutstandingOutbound() {
		pub := &packet.Publish{
			Dup: true, Topic: o.Message.Topic, Payload: o.Message.Payload,
			QoS: o.Message.QoS, Retain: false, PacketID: o.PacketID,
		}
		_ = b.write(&connState{conn: conn, handler: handler}, pub)
	}

	_ = b.Hooks.FireSessionEstablished(ctx, client, sessionPresent)

	return &connState{conn: conn, handler: handler, version: version, sess: sess, client: client}
}

func writeConnack(conn transport.Conn, handler packet.Handler, ack *packet.Connack) error {
	data, err := handler.Write(ack)
	if err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}
