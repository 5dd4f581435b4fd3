package hook

import (
	"context"
	"testing"

	"github.com/goqttd/goqttd/internal/packet"
)

type vetoHook struct {
	NopHook
}

func (vetoHook) Provides(e Event) bool { return e == OnPublish }
func (vetoHook) OnPublish(_ context.Context, ev *PublishEvent) error {
	ev.Veto = true
	return nil
}

type recordingHook struct {
	NopHook
	authCalled bool
}

func (h *recordingHook) Provides(e Event) bool { return e == OnConnectAuthenticate }
func (h *recordingHook) OnConnectAuthenticate(context.Context, *Client, string, []byte) bool {
	h.authCalled = true
	return false
}

func TestFirePublishStopsOnVeto(t *testing.T) {
	m := NewManager()
	m.Register(vetoHook{NopHook{Name: "veto"}})
	ev := &PublishEvent{Message: &packet.ApplicationMessage{Topic: "a"}}
	if err := m.FirePublish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if !ev.Veto {
		t.Fatal("expected publish to be vetoed")
	}
}

func TestAuthenticateRejection(t *testing.T) {
	m := NewManager()
	h := &recordingHook{}
	m.Register(h)
	if m.Authenticate(context.Background(), &Client{ClientID: "c1"}, "u", []byte("p")) {
		t.Fatal("expected rejection")
	}
	if !h.authCalled {
		t.Fatal("expected hook to be invoked")
	}
}

type suppressWillHook struct{ NopHook }

func (suppressWillHook) Provides(e Event) bool { return e == OnWill }
func (suppressWillHook) OnWill(context.Context, *Client, *packet.ApplicationMessage) *packet.ApplicationMessage {
	return nil
}

type rewriteWillHook struct{ NopHook }

func (rewriteWillHook) Provides(e Event) bool { return e == OnWill }
func (rewriteWillHook) OnWill(_ context.Context, _ *Client, msg *packet.ApplicationMessage) *packet.ApplicationMessage {
	msg.Topic = "rewritten/" + msg.Topic
	return msg
}

func TestFireWillSuppression(t *testing.T) {
	m := NewManager()
	m.Register(suppressWillHook{})
	if got := m.FireWill(context.Background(), &Client{}, &packet.ApplicationMessage{Topic: "a"}); got != nil {
		t.Fatalf("expected suppressed will, got %+v", got)
	}
}

func TestFireWillTransform(t *testing.T) {
	m := NewManager()
	m.Register(rewriteWillHook{})
	got := m.FireWill(context.Background(), &Client{}, &packet.ApplicationMessage{Topic: "a"})
	if got == nil || got.Topic != "rewritten/a" {
		t.Fatalf("expected rewritten topic, got %+v", got)
	}
}

func TestManagerWithNoHooksAllowsEverything(t *testing.T) {
	m := NewManager()
	if !m.Authenticate(context.Background(), &Client{}, "u", nil) {
		t.Fatal("expected default-allow with no hooks registered")
	}
}
