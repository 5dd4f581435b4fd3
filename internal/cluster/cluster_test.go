package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/goqttd/goqttd/internal/broker"
	"github.com/goqttd/goqttd/internal/hook"
	"github.com/goqttd/goqttd/internal/packet"
	"github.com/goqttd/goqttd/internal/topic"
)

func TestClusterFormsMeshAndForwardsPublish(t *testing.T) {
	brokerA := broker.New()
	brokerB := broker.New()

	clusterA := New(Config{
		NodeID: "a", ClusterName: "test", ListenAddr: "127.0.0.1:0",
		HeartbeatInterval: 50 * time.Millisecond, NodeTimeout: 2 * time.Second,
	}, brokerA)
	clusterB := New(Config{
		NodeID: "b", ClusterName: "test", ListenAddr: "127.0.0.1:0",
		HeartbeatInterval: 50 * time.Millisecond, NodeTimeout: 2 * time.Second,
	}, brokerB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := clusterA.Start(ctx); err != nil {
		t.Fatal(err)
	}
	addrA := clusterA.ln.Addr().String()

	clusterB.cfg.Seeds = []string{addrA}
	if err := clusterB.Start(ctx); err != nil {
		t.Fatal(err)
	}
	addrB := clusterB.ln.Addr().String()
	_ = addrB

	deadline := time.Now().Add(3 * time.Second)
	for clusterA.PeerCount() == 0 || clusterB.PeerCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("peers never connected")
		}
		time.Sleep(20 * time.Millisecond)
	}

	brokerA.OnLocalPublish = clusterA.ForwardLocalPublish
	brokerB.OnLocalPublish = clusterB.ForwardLocalPublish

	// brokerB locally subscribes, which should propagate a SUB
	// announcement to node A.
	if err := brokerB.Topic.Subscribe(&topic.Subscription{ClientID: "local-sub", Filter: "sensors/+/temp"}); err != nil {
		t.Fatal(err)
	}
	clusterB.OnSubscribed(ctx, &hook.Client{ClientID: "local-sub"}, "sensors/+/temp", packet.QoS0)

	time.Sleep(150 * time.Millisecond) // let the SUB frame land on node A

	if err := brokerA.Publish(ctx, &hook.Client{ClientID: "publisher"}, packet.ApplicationMessage{
		Topic: "sensors/a/temp", Payload: []byte("21C"), QoS: packet.QoS0, Retain: true,
	}); err != nil {
		t.Fatal(err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		if _, ok := brokerB.Retained.Get("sensors/a/temp"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("forwarded publish never reached node B's retained store")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
