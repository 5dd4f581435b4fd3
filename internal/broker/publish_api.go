package broker

import (
	"context"
	"fmt"

	"github.com/goqttd/goqttd/internal/hook"
	"github.com/goqttd/goqttd/internal/packet"
)

// Publish injects msg into the broker's pipeline as though client had
// sent a PUBLISH directly. Used by non-MQTT ingress (CoAP, SN, bridge,
// cluster re-injection) that have no connState of their own.
//
// Grounded on internal/broker/pubsub.go's handlePublish, stripped of
// the QoS2 handshake since callers of this entrypoint have no
// packet-id space to hold a handshake open.
func (b *Broker) Publish(ctx context.Context, client *hook.Client, msg packet.ApplicationMessage) error {
	if b.MaxMessageSize > 0 && len(msg.Payload) > b.MaxMessageSize {
		return fmt.Errorf("broker: publish payload %d exceeds max_message_size %d", len(msg.Payload), b.MaxMessageSize)
	}
	return b.deliverAndRetain(ctx, client, msg)
}
