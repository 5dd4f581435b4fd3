// Package hook implements the broker's event/hook dispatch: a small
// set of lifecycle events, each deliverable to zero or more
// registered hooks, with publish able to be vetoed before delivery.
//
// Grounded on other_examples' axmq-ax hook.go Event enum and Hook
// interface, trimmed to the events the broker pipeline actually
// fires.
package hook

import (
	"context"

	"github.com/goqttd/goqttd/internal/packet"
)

type Event byte

const (
	OnConnect Event = iota
	OnConnectAuthenticate
	OnSessionEstablished
	OnDisconnect
	OnSubscribe
	OnSubscribed
	OnUnsubscribe
	OnPublish
	OnPublished
	OnPublishDropped
	OnRetainMessage
	OnWill
	OnClientExpired
)

func (e Event) String() string {
	names := [...]string{
		"OnConnect", "OnConnectAuthenticate", "OnSessionEstablished",
		"OnDisconnect", "OnSubscribe", "OnSubscribed", "OnUnsubscribe",
		"OnPublish", "OnPublished", "OnPublishDropped", "OnRetainMessage",
		"OnWill", "OnClientExpired",
	}
	if int(e) < len(names) {
		return names[e]
	}
	return "Unknown"
}

// DropReason explains why OnPublishDropped fired.
type DropReason byte

const (
	DropVetoed DropReason = iota
	DropNoMatchingSubscribers
	DropQuotaExceeded
	DropClientDisconnected
)

// Client is the subset of connection/session identity hooks need;
// kept independent of internal/broker and internal/session to avoid
// an import cycle back into the packages that fire hooks.
type Client struct {
	ClientID   string
	Username   string
	RemoteAddr string
}

// PublishEvent carries a publish through the pipeline; a hook sets
// Veto to stop delivery (and, for OnPublish, suppress retention too).
type PublishEvent struct {
	Client  *Client
	Message *packet.ApplicationMessage
	Veto    bool
}

// Hook is implemented by anything that wants to observe or influence
// broker lifecycle events. Embedding NopHook lets implementers
// override only the events they care about.
type Hook interface {
	ID() string
	Provides(e Event) bool

	OnConnect(ctx context.Context, c *Client) error
	OnConnectAuthenticate(ctx context.Context, c *Client, username string, password []byte) bool
	OnSessionEstablished(ctx context.Context, c *Client, sessionPresent bool) error
	OnDisconnect(ctx context.Context, c *Client, err error)
	OnSubscribe(ctx context.Context, c *Client, filter string) error
	OnSubscribed(ctx context.Context, c *Client, filter string, qos packet.QoS)
	OnUnsubscribe(ctx context.Context, c *Client, filter string)
	OnPublish(ctx context.Context, ev *PublishEvent) error
	OnPublished(ctx context.Context, ev *PublishEvent)
	OnPublishDropped(ctx context.Context, ev *PublishEvent, reason DropReason)
	OnRetainMessage(ctx context.Context, ev *PublishEvent) error
	OnWill(ctx context.Context, c *Client, msg *packet.ApplicationMessage) *packet.ApplicationMessage
	OnClientExpired(ctx context.Context, clientID string)
}

// NopHook is a zero-value Hook: every method is a no-op / passthrough.
// Embed it in a hook implementation to only override what's needed.
type NopHook struct{ Name string }

func (n NopHook) ID() string             { return n.Name }
func (n NopHook) Provides(Event) bool    { return false }
func (NopHook) OnConnect(context.Context, *Client) error { return nil }
func (NopHook) OnConnectAuthenticate(context.Context, *Client, string, []byte) bool { return true }
func (NopHook) OnSessionEstablished(context.Context, *Client, bool) error { return nil }
func (NopHook) OnDisconnect(context.Context, *Client, error)  {}
func (NopHook) OnSubscribe(context.Context, *Client, string) error { return nil }
func (NopHook) OnSubscribed(context.Context, *Client, string, packet.QoS) {}
func (NopHook) OnUnsubscribe(context.Context, *Client, string) {}
func (NopHook) OnPublish(context.Context, *PublishEvent) error { return nil }
func (NopHook) OnPublished(context.Context, *PublishEvent)     {}
func (NopHook) OnPublishDropped(context.Context, *PublishEvent, DropReason) {}
func (NopHook) OnRetainMessage(context.Context, *PublishEvent) error { return nil }
func (NopHook) OnWill(_ context.Context, _ *Client, msg *packet.ApplicationMessage) *packet.ApplicationMessage {
	return msg
}
func (NopHook) OnClientExpired(context.Context, string) {}
