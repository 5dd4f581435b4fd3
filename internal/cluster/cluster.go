package cluster

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/goqttd/goqttd/internal/broker"
	"github.com/goqttd/goqttd/internal/hook"
	"github.com/goqttd/goqttd/internal/logger"
	"github.com/goqttd/goqttd/internal/packet"
	"github.com/goqttd/goqttd/internal/topic"
)

const clientIDPrefix = "cluster:"

// Config is one cluster node's static configuration (§6 "Cluster"
// options table).
type Config struct {
	NodeID              string
	ClusterName         string
	ListenAddr          string
	Seeds               []string
	HeartbeatInterval   time.Duration
	NodeTimeout         time.Duration
	MessageIDCacheTTL   time.Duration
	MessageIDCacheSize  int
}

// Cluster federates a Broker with sibling nodes over a full mesh.
//
// Grounded on spec.md §4.8's mesh-formation/loop-suppression narrative
// and the length-prefixed frame in wire.go; peer bookkeeping modeled
// after other_examples' Peer{node_id, address, listen_port,
// last_heartbeat} shape.
type Cluster struct {
	hook.NopHook
	cfg    Config
	local  *broker.Broker
	Log    *logger.Logger
	dedup  *dedupCache

	mu    sync.Mutex
	peers map[string]*peer // keyed by remote node id
	ln    net.Listener
}

func New(cfg Config, local *broker.Broker) *Cluster {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.NodeTimeout == 0 {
		cfg.NodeTimeout = 30 * time.Second
	}
	if cfg.MessageIDCacheTTL == 0 {
		cfg.MessageIDCacheTTL = 5 * time.Minute
	}
	if cfg.MessageIDCacheSize == 0 {
		cfg.MessageIDCacheSize = 10000
	}
	c := &Cluster{
		NopHook: hook.NopHook{Name: "cluster:" + cfg.NodeID},
		cfg:     cfg, local: local, Log: logger.NewMQTTLogger("cluster"),
		dedup: newDedupCache(cfg.MessageIDCacheTTL, cfg.MessageIDCacheSize),
		peers: make(map[string]*peer),
	}
	local.Hooks.Register(c)
	return c
}

// OnSubscribed implements hook.Hook: a local subscribe is announced to
// every live peer.
func (c *Cluster) OnSubscribed(ctx context.Context, client *hook.Client, filter string, qos packet.QoS) {
	c.broadcast(&Frame{Type: TypeSub, Sub: &SubAnnounce{Filter: filter}})
}

// OnUnsubscribe implements hook.Hook: a local unsubscribe is announced
// to every live peer.
func (c *Cluster) OnUnsubscribe(ctx context.Context, client *hook.Client, filter string) {
	c.broadcast(&Frame{Type: TypeUnsub, Unsub: &UnsubAnnounce{Filter: filter}})
}

// Start opens the cluster listener, dials every seed, and runs the
// heartbeat/timeout loop until ctx is cancelled.
func (c *Cluster) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("cluster: listen %s: %w", c.cfg.ListenAddr, err)
	}
	c.ln = ln

	go c.acceptLoop(ctx)
	for _, seed := range c.cfg.Seeds {
		go c.dialWithBackoff(ctx, seed)
	}
	go c.heartbeatLoop(ctx)
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	return nil
}

func (c *Cluster) acceptLoop(ctx context.Context) {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		go c.handleInbound(ctx, conn)
	}
}

func (c *Cluster) dialWithBackoff(ctx context.Context, addr string) {
	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			c.Log.Debug("cluster dial failed", logger.String("addr", addr), logger.ErrorAttr(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 500 * time.Millisecond
		c.handleOutbound(ctx, conn)
	}
}

func (c *Cluster) handleOutbound(ctx context.Context, conn net.Conn) {
	_, listenPortStr, _ := net.SplitHostPort(c.cfg.ListenAddr)
	var port uint16
	fmt.Sscanf(listenPortStr, "%d", &port)

	if err := WriteFrame(conn, &Frame{Type: TypeHello, Hello: &Hello{
		ClusterName: c.cfg.ClusterName, NodeID: c.cfg.NodeID, ListenPort: port,
	}}); err != nil {
		conn.Close()
		return
	}
	c.runPeer(ctx, conn, true)
}

func (c *Cluster) handleInbound(ctx context.Context, conn net.Conn) {
	c.runPeer(ctx, conn, false)
}

// runPeer completes the HELLO handshake (whichever side initiated) and
// drives the frame-read loop for that connection's lifetime.
func (c *Cluster) runPeer(ctx context.Context, conn net.Conn, outbound bool) {
	defer conn.Close()

	frame, err := ReadFrame(conn)
	if err != nil || frame.Type != TypeHello {
		return
	}
	hello := frame.Hello
	if hello.ClusterName != c.cfg.ClusterName {
		c.Log.Warn("rejected peer: cluster name mismatch", logger.String("remote", hello.NodeID))
		return
	}

	if !outbound {
		// Accepting side replies with its own HELLO so the dialer learns
		// this node's id too.
		_, listenPortStr, _ := net.SplitHostPort(c.cfg.ListenAddr)
		var port uint16
		fmt.Sscanf(listenPortStr, "%d", &port)
		if err := WriteFrame(conn, &Frame{Type: TypeHello, Hello: &Hello{
			ClusterName: c.cfg.ClusterName, NodeID: c.cfg.NodeID, ListenPort: port,
		}}); err != nil {
			return
		}
	}

	p := newPeer(hello.NodeID, conn, outbound)

	c.mu.Lock()
	if existing, ok := c.peers[hello.NodeID]; ok {
		// Duplicate dial: the lower node-id keeps its outbound and drops
		// the inbound side.
		if (existing.outbound && !outbound && c.cfg.NodeID < hello.NodeID) ||
			(!existing.outbound && outbound && c.cfg.NodeID > hello.NodeID) {
			c.mu.Unlock()
			return
		}
		existing.close()
	}
	c.peers[hello.NodeID] = p
	c.mu.Unlock()
	c.Log.Info("cluster peer joined", logger.String("node_id", hello.NodeID))

	defer func() {
		c.mu.Lock()
		if c.peers[hello.NodeID] == p {
			delete(c.peers, hello.NodeID)
		}
		c.mu.Unlock()
		c.Log.Info("cluster peer left", logger.String("node_id", hello.NodeID))
	}()

	for {
		f, err := ReadFrame(conn)
		if err != nil {
			return
		}
		c.handleFrame(ctx, p, f)
	}
}

func (c *Cluster) handleFrame(ctx context.Context, p *peer, f *Frame) {
	switch f.Type {
	case TypeHeartbeat:
		p.touch()
	case TypeSub:
		p.addFilter(f.Sub.Filter)
	case TypeUnsub:
		p.removeFilter(f.Unsub.Filter)
	case TypeForwardedPublish:
		c.handleForwardedPublish(ctx, p, f.Publish)
	case TypeRetainedRequest:
		c.sendRetainedSnapshot(p)
	case TypeRetainedEntry:
		c.local.Retained.Set(&packet.ApplicationMessage{Topic: f.Entry.Topic, Payload: f.Entry.Payload, QoS: f.Entry.QoS})
	case TypeRetainedEnd:
	}
}

func (c *Cluster) handleForwardedPublish(ctx context.Context, from *peer, fp *ForwardedPublish) {
	if c.dedup.SeenOrAdd(fp.MessageUUID, time.Now()) {
		return
	}

	app := packet.ApplicationMessage{Topic: fp.Topic, Payload: fp.Payload, QoS: fp.QoS, Retain: fp.Retain}
	_ = c.local.Publish(ctx, &hook.Client{ClientID: clientIDPrefix + fp.OriginNodeID}, app)

	// Relay to every other connected peer whose announced filters match,
	// excluding the origin node and the peer we received it from.
	c.mu.Lock()
	peers := make([]*peer, 0, len(c.peers))
	for id, peer := range c.peers {
		if id == fp.OriginNodeID || peer == from {
			continue
		}
		peers = append(peers, peer)
	}
	c.mu.Unlock()

	for _, peer := range peers {
		if !peer.matchesAny(fp.Topic, topic.Matches) {
			continue
		}
		_ = peer.send(&Frame{Type: TypeForwardedPublish, Publish: fp})
	}
}

// ForwardLocalPublish is wired to Broker.OnLocalPublish: every
// genuinely local publish (not itself a cluster re-injection) is
// forwarded to every peer with a matching subscription.
func (c *Cluster) ForwardLocalPublish(msg packet.ApplicationMessage, originClientID string) {
	if strings.HasPrefix(originClientID, clientIDPrefix) {
		return // already relayed once by handleForwardedPublish
	}

	var id [16]byte
	generated := uuid.New()
	copy(id[:], generated[:])
	fp := &ForwardedPublish{OriginNodeID: c.cfg.NodeID, MessageUUID: id, Topic: msg.Topic, Payload: msg.Payload, QoS: msg.QoS, Retain: msg.Retain}

	c.mu.Lock()
	peers := make([]*peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	for _, p := range peers {
		if !p.matchesAny(msg.Topic, topic.Matches) {
			continue
		}
		_ = p.send(&Frame{Type: TypeForwardedPublish, Publish: fp})
	}
}

func (c *Cluster) broadcast(f *Frame) {
	c.mu.Lock()
	peers := make([]*peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()
	for _, p := range peers {
		_ = p.send(f)
	}
}

func (c *Cluster) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.broadcast(&Frame{Type: TypeHeartbeat})
			c.reapDeadPeers()
		}
	}
}

func (c *Cluster) reapDeadPeers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.peers {
		if !p.alive(c.cfg.NodeTimeout) {
			p.close()
			delete(c.peers, id)
			c.Log.Warn("cluster peer timed out", logger.String("node_id", id))
		}
	}
}

// RequestRetainedSync sends RETAINED_REQUEST to every live peer; each
// responder streams its retained map and this node inserts any
// missing topic (last-writer-wins on tie is already Retained.Set's
// semantics).
func (c *Cluster) RequestRetainedSync() {
	c.broadcast(&Frame{Type: TypeRetainedRequest})
}

func (c *Cluster) sendRetainedSnapshot(p *peer) {
	for _, rm := range c.local.Retained.Match("#") {
		_ = p.send(&Frame{Type: TypeRetainedEntry, Entry: &RetainedEntry{Topic: rm.Topic, Payload: rm.Payload, QoS: rm.QoS}})
	}
	_ = p.send(&Frame{Type: TypeRetainedEnd})
}

// PeerCount reports the number of currently live peers.
func (c *Cluster) PeerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}
