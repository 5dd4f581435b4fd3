package broker

import (
	"context"
	"fmt"

	"github.com/goqttd/goqttd/internal/hook"
	"github.com/goqttd/goqttd/internal/packet"
	"github.com/goqttd/goqttd/internal/topic"
)

// handlePublish runs a freshly-decoded PUBLISH through hooks,
// retained-message bookkeeping, and fan-out to matching subscribers,
// then acks QoS1/2 back to the sender.
//
// Grounded on internal/broker/broker.go's HandlePublish +
// handleRetainedMessage + Match/deliverMessage loop.
func (b *Broker) handlePublish(ctx context.Context, st *connState, p *packet.Publish) error {
	if b.MaxMessageSize > 0 && len(p.Payload) > b.MaxMessageSize {
		return fmt.Errorf("broker: publish payload %d exceeds max_message_size %d", len(p.Payload), b.MaxMessageSize)
	}

	msg := packet.ApplicationMessage{
		Topic: p.Topic, Payload: p.Payload, QoS: p.QoS,
		Retain: p.Retain, Properties: p.Properties,
	}

	if p.QoS == packet.QoS2 {
		fresh := st.sess.HandleIncomingQoS2Publish(p.PacketID, msg)
		if err := b.write(st, &packet.Pubrec{PacketID: p.PacketID}); err != nil {
			return err
		}
		if !fresh {
			return nil // duplicate PUBLISH before PUBREL: PUBREC resent, no redelivery
		}
		return nil // delivery happens on PUBREL, see fanOutIncoming
	}

	if err := b.deliverAndRetain(ctx, st.client, msg); err != nil {
		return err
	}

	if p.QoS == packet.QoS1 {
		return b.write(st, &packet.Puback{PacketID: p.PacketID})
	}
	return nil
}

// fanOutIncoming delivers a QoS2 publish released by PUBREL.
func (b *Broker) fanOutIncoming(ctx context.Context, st *connState, msg packet.ApplicationMessage) {
	_ = b.deliverAndRetain(ctx, st.client, msg)
}

func (b *Broker) deliverAndRetain(ctx context.Context, client *hook.Client, msg packet.ApplicationMessage) error {
	ev := &hook.PublishEvent{Client: client, Message: &msg}
	if err := b.Hooks.FirePublish(ctx, ev); err != nil {
		return err
	}
	if ev.Veto {
		b.Hooks.FirePublishDropped(ctx, ev, hook.DropVetoed)
		return nil
	}

	if msg.Retain && !b.DisableRetainedMessages {
		if err := b.Hooks.FireRetainMessage(ctx, ev); err != nil {
			return err
		}
		b.Retained.Set(&msg)
	}

	b.deliverToSubscribers(msg, client)

	if b.OnLocalPublish != nil && client != nil {
		b.OnLocalPublish(msg, client.ClientID)
	}
	b.Hooks.FirePublished(ctx, ev)
	return nil
}

func (b *Broker) deliverToSubscribers(msg packet.ApplicationMessage, origin *hook.Client) {
	direct, shared := b.Topic.Match(msg.Topic)
	for _, sub := range direct {
		if sub.NoLocal && origin != nil && sub.ClientID == origin.ClientID {
			continue
		}
		b.deliverToClient(sub, msg)
	}
	for _, sm := range shared {
		clientID, ok := b.Topic.PickShared(sm.Group, sm.Filter, b.isLiveClient)
		if !ok {
			continue
		}
		if sess, ok := b.Sessions.Get(clientID); ok {
			b.deliverToSession(sess, msg, packet.QoS2)
		}
	}
}

func (b *Broker) isLiveClient(clientID string) bool {
	sess, ok := b.Sessions.Get(clientID)
	return ok && sess.IsConnected()
}

func (b *Broker) deliverToClient(sub *topic.Subscription, msg packet.ApplicationMessage) {
	sess, ok := b.Sessions.Get(sub.ClientID)
	if !ok {
		return
	}
	deliveryQoS := packet.Min(msg.QoS, packet.QoS(sub.QoS))
	b.deliverToSession(sess, msg, deliveryQoS)
}

func (b *Broker) deliverToSession(sess interface {
	Enqueue(packet.ApplicationMessage) error
}, msg packet.ApplicationMessage, qos packet.QoS,
) {
	out := msg
	out.QoS = qos
	_ = sess.Enqueue(out)
}

// handleSubscribe validates filters, installs subscriptions, replays
// retained matches, and acks with per-filter granted QoS.
//
// Grounded on internal/broker/broker.go's HandleSubscribe.
func (b *Broker) handleSubscribe(ctx context.Context, st *connState, p *packet.Subscribe) error {
	codes := make([]packet.ReasonCode, len(p.Filters))
	for i, f := range p.Filters {
		if err := b.Hooks.FireSubscribe(ctx, st.client, f.Filter); err != nil {
			codes[i] = packet.UnspecifiedError
			continue
		}
		_, underlying, _ := topic.SplitShared(f.Filter)
		if err := topic.ValidateFilter(underlying); err != nil {
			codes[i] = packet.TopicFilterInvalid
			continue
		}

		sub := &topic.Subscription{
			ClientID: st.sess.ClientID, Filter: f.Filter, QoS: byte(f.QoS),
			NoLocal: f.NoLocal, RetainAsPublished: f.RetainAsPublished,
			RetainHandling: byte(f.RetainHandling),
		}
		if err := b.Topic.Subscribe(sub); err != nil {
			codes[i] = packet.TopicFilterInvalid
			continue
		}
		codes[i] = packet.ReasonCode(f.QoS)
		b.Hooks.FireSubscribed(ctx, st.client, f.Filter, f.QoS)

		if f.RetainHandling != packet.DoNotSend {
			for _, rm := range b.Retained.Match(underlying) {
				b.deliverToSession(st.sess, *rm, packet.Min(rm.QoS, f.QoS))
			}
		}
	}
	return b.write(st, &packet.Suback{PacketID: p.PacketID, ReasonCodes: codes})
}

// handleUnsubscribe removes subscriptions and acks.
//
// Grounded on internal/broker/broker.go's HandleUnsubscribe.
func (b *Broker) handleUnsubscribe(ctx context.Context, st *connState, p *packet.Unsubscribe) error {
	codes := make([]packet.ReasonCode, len(p.Filters))
	for i, f := range p.Filters {
		b.Hooks.FireUnsubscribe(ctx, st.client, f)
		if b.Topic.Unsubscribe(st.sess.ClientID, f) {
			codes[i] = packet.Success
		} else {
			codes[i] = packet.NoSubscriptionExisted
		}
	}
	return b.write(st, &packet.Unsuback{PacketID: p.PacketID, ReasonCodes: codes})
}
