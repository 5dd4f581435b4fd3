package hook

import (
	"context"
	"sync"

	"github.com/goqttd/goqttd/internal/packet"
)

// Manager fans events out to every registered hook that provides
// them. Chain-stopping events (authenticate, publish veto) stop at
// the first hook that rejects.
type Manager struct {
	mu    sync.RWMutex
	hooks []Hook
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Register(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

func (m *Manager) snapshot() []Hook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Hook, len(m.hooks))
	copy(out, m.hooks)
	return out
}

func (m *Manager) FireConnect(ctx context.Context, c *Client) error {
	for _, h := range m.snapshot() {
		if h.Provides(OnConnect) {
			if err := h.OnConnect(ctx, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// Authenticate runs OnConnectAuthenticate across every hook that
// provides it; the first rejection fails the CONNECT.
func (m *Manager) Authenticate(ctx context.Context, c *Client, username string, password []byte) bool {
	for _, h := range m.snapshot() {
		if h.Provides(OnConnectAuthenticate) && !h.OnConnectAuthenticate(ctx, c, username, password) {
			return false
		}
	}
	return true
}

func (m *Manager) FireSessionEstablished(ctx context.Context, c *Client, sessionPresent bool) error {
	for _, h := range m.snapshot() {
		if h.Provides(OnSessionEstablished) {
			if err := h.OnSessionEstablished(ctx, c, sessionPresent); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) FireDisconnect(ctx context.Context, c *Client, err error) {
	for _, h := range m.snapshot() {
		if h.Provides(OnDisconnect) {
			h.OnDisconnect(ctx, c, err)
		}
	}
}

func (m *Manager) FireSubscribe(ctx context.Context, c *Client, filter string) error {
	for _, h := range m.snapshot() {
		if h.Provides(OnSubscribe) {
			if err := h.OnSubscribe(ctx, c, filter); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) FireSubscribed(ctx context.Context, c *Client, filter string, qos packet.QoS) {
	for _, h := range m.snapshot() {
		if h.Provides(OnSubscribed) {
			h.OnSubscribed(ctx, c, filter, qos)
		}
	}
}

func (m *Manager) FireUnsubscribe(ctx context.Context, c *Client, filter string) {
	for _, h := range m.snapshot() {
		if h.Provides(OnUnsubscribe) {
			h.OnUnsubscribe(ctx, c, filter)
		}
	}
}

// FirePublish runs OnPublish across providing hooks; if any sets
// ev.Veto, dispatch stops immediately and the caller must treat the
// publish as dropped.
func (m *Manager) FirePublish(ctx context.Context, ev *PublishEvent) error {
	for _, h := range m.snapshot() {
		if !h.Provides(OnPublish) {
			continue
		}
		if err := h.OnPublish(ctx, ev); err != nil {
			return err
		}
		if ev.Veto {
			return nil
		}
	}
	return nil
}

func (m *Manager) FirePublished(ctx context.Context, ev *PublishEvent) {
	for _, h := range m.snapshot() {
		if h.Provides(OnPublished) {
			h.OnPublished(ctx, ev)
		}
	}
}

func (m *Manager) FirePublishDropped(ctx context.Context, ev *PublishEvent, reason DropReason) {
	for _, h := range m.snapshot() {
		if h.Provides(OnPublishDropped) {
			h.OnPublishDropped(ctx, ev, reason)
		}
	}
}

func (m *Manager) FireRetainMessage(ctx context.Context, ev *PublishEvent) error {
	for _, h := range m.snapshot() {
		if h.Provides(OnRetainMessage) {
			if err := h.OnRetainMessage(ctx, ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// FireWill runs OnWill across providing hooks, each able to transform
// or suppress (by returning nil) the outgoing Will message in turn.
// Returns nil if any hook suppressed it.
func (m *Manager) FireWill(ctx context.Context, c *Client, msg *packet.ApplicationMessage) *packet.ApplicationMessage {
	for _, h := range m.snapshot() {
		if !h.Provides(OnWill) {
			continue
		}
		msg = h.OnWill(ctx, c, msg)
		if msg == nil {
			return nil
		}
	}
	return msg
}

func (m *Manager) FireClientExpired(ctx context.Context, clientID string) {
	for _, h := range m.snapshot() {
		if h.Provides(OnClientExpired) {
			h.OnClientExpired(ctx, clientID)
		}
	}
}
