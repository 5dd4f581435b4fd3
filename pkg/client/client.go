// Package client is the public embeddable MQTT client used by the
// bridge and by external callers: connect, publish/subscribe, and an
// auto-reconnect loop built directly on internal/packet and
// internal/transport.
//
// Shaped after gonzalop-mq's root-package API surface (Dial, WithX
// functional options) — gonzalop-mq is a pack example of a public MQTT
// client/broker API, though it was not picked as teacher since it ships
// with no third-party dependencies and goqtt's stack won out per the
// teacher-selection rule.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/goqttd/goqttd/internal/packet"
)

// MessageHandler receives one delivered publish.
type MessageHandler func(topic string, payload []byte, qos packet.QoS, retain bool)

// Client is a minimal embeddable MQTT client: one connection, one
// read loop, a packet-id allocator, and a registry of pending
// acknowledgements.
type Client struct {
	opts options

	mu       sync.Mutex
	conn     net.Conn
	handler  packet.Handler
	connected bool

	pendingMu sync.Mutex
	pending   map[uint16]chan packet.Packet
	idSeq     uint16

	defaultHandler MessageHandler
	subs           map[string]MessageHandler

	closeOnce sync.Once
	closed    chan struct{}
}

type options struct {
	clientID    string
	username    string
	password    string
	cleanStart  bool
	keepAlive   uint16
	version     packet.Version
	dialTimeout time.Duration
	autoReconnect bool
	reconnectDelay time.Duration
}

// Option configures a Client at construction time.
type Option func(*options)

func WithClientID(id string) Option { return func(o *options) { o.clientID = id } }

func WithCredentials(username, password string) Option {
	return func(o *options) { o.username, o.password = username, password }
}

func WithCleanStart(clean bool) Option { return func(o *options) { o.cleanStart = clean } }

func WithKeepAlive(d time.Duration) Option {
	return func(o *options) { o.keepAlive = uint16(d.Seconds()) }
}

func WithProtocolVersion(v packet.Version) Option { return func(o *options) { o.version = v } }

func WithDialTimeout(d time.Duration) Option { return func(o *options) { o.dialTimeout = d } }

func WithAutoReconnect(enabled bool, delay time.Duration) Option {
	return func(o *options) { o.autoReconnect = enabled; o.reconnectDelay = delay }
}

func defaultOptions() options {
	return options{
		clientID:       "goqtt-" + uuid.NewString(),
		cleanStart:     true,
		keepAlive:      30,
		version:        packet.V500,
		dialTimeout:    10 * time.Second,
		reconnectDelay: 2 * time.Second,
	}
}

// New builds an unconnected Client with opts applied over defaults.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	return &Client{
		opts:    o,
		pending: make(map[uint16]chan packet.Packet),
		subs:    make(map[string]MessageHandler),
		closed:  make(chan struct{}),
	}
}

// Dial connects to addr and completes the CONNECT/CONNACK handshake.
func (c *Client) Dial(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: c.opts.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", addr, err)
	}
	handler, err := packet.ForVersion(c.opts.version)
	if err != nil {
		conn.Close()
		return err
	}

	connect := &packet.Connect{
		ProtocolName: protocolName(c.opts.version), ProtocolLevel: protocolLevel(c.opts.version),
		CleanStart: c.opts.cleanStart, ClientID: c.opts.clientID, KeepAlive: c.opts.keepAlive,
	}
	if c.opts.username != "" {
		connect.UsernameFlag = true
		connect.Username = c.opts.username
		connect.PasswordFlag = c.opts.password != ""
		connect.Password = []byte(c.opts.password)
	}
	raw, err := handler.Write(connect)
	if err != nil {
		conn.Close()
		return err
	}
	if _, err := conn.Write(raw); err != nil {
		conn.Close()
		return err
	}

	ackRaw, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return err
	}
	fh, offset, err := packet.ParseFixedHeader(ackRaw)
	if err != nil {
		conn.Close()
		return err
	}
	p, err := handler.ParsePacket(fh.Type, fh.Flags, ackRaw[offset:])
	if err != nil {
		conn.Close()
		return err
	}
	ack, ok := p.(*packet.Connack)
	if !ok || ack.ReasonCode != packet.Success {
		conn.Close()
		return fmt.Errorf("client: connect refused, reason=%v", ack)
	}

	c.mu.Lock()
	c.conn, c.handler, c.connected = conn, handler, true
	c.mu.Unlock()

	go c.readLoop(conn, handler)
	if c.opts.autoReconnect {
		go c.reconnectLoop(addr)
	}
	return nil
}

func protocolName(v packet.Version) string {
	if v == packet.V311 {
		return "MQIsdp"
	}
	return "MQTT"
}

func protocolLevel(v packet.Version) byte {
	if v == packet.V311 {
		return 4
	}
	return 5
}

func (c *Client) readLoop(conn net.Conn, handler packet.Handler) {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()
	for {
		raw, err := readFrame(conn)
		if err != nil {
			return
		}
		fh, offset, err := packet.ParseFixedHeader(raw)
		if err != nil {
			return
		}
		p, err := handler.ParsePacket(fh.Type, fh.Flags, raw[offset:])
		if err != nil {
			return
		}
		c.handlePacket(p)
	}
}

func (c *Client) handlePacket(p packet.Packet) {
	switch msg := p.(type) {
	case *packet.Publish:
		h := c.handlerFor(msg.Topic)
		if h != nil {
			h(msg.Topic, msg.Payload, msg.QoS, msg.Retain)
		}
		if msg.QoS == packet.QoS1 {
			c.send(&packet.Puback{PacketID: msg.PacketID})
		} else if msg.QoS == packet.QoS2 {
			c.send(&packet.Pubrec{PacketID: msg.PacketID})
		}
	case *packet.Suback:
		c.resolve(msg.PacketID, p)
	case *packet.Unsuback:
		c.resolve(msg.PacketID, p)
	case *packet.Puback:
		c.resolve(msg.PacketID, p)
	case *packet.Pubrec:
		c.send(&packet.Pubrel{PacketID: msg.PacketID})
	case *packet.Pubcomp:
		c.resolve(msg.PacketID, p)
	case *packet.Pingresp:
	}
}

func (c *Client) handlerFor(topic string) MessageHandler {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for filter, h := range c.subs {
		if filter == topic || topicMatchesLocal(filter, topic) {
			return h
		}
	}
	return c.defaultHandler
}

// topicMatchesLocal is an exact-match helper: '+' and '#' get no
// special treatment, so a publish that only matches a wildcard filter
// goes to the default handler. Full wildcard semantics live in
// internal/topic and are not duplicated here.
func topicMatchesLocal(filter, name string) bool {
	return filter == name
}

func (c *Client) resolve(packetID uint16, p packet.Packet) {
	c.pendingMu.Lock()
	ch, ok := c.pending[packetID]
	if ok {
		delete(c.pending, packetID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- p
	}
}

func (c *Client) nextID() uint16 {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.idSeq++
	if c.idSeq == 0 {
		c.idSeq = 1
	}
	return c.idSeq
}

func (c *Client) send(p packet.Packet) error {
	c.mu.Lock()
	conn, handler, connected := c.conn, c.handler, c.connected
	c.mu.Unlock()
	if !connected {
		return fmt.Errorf("client: not connected")
	}
	raw, err := handler.Write(p)
	if err != nil {
		return err
	}
	_, err = conn.Write(raw)
	return err
}

// Publish sends one message. QoS0 returns once queued to the socket;
// QoS1/2 blocks for the terminal ack or ctx cancellation.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos packet.QoS, retain bool) error {
	pub := &packet.Publish{Topic: topic, Payload: payload, QoS: qos, Retain: retain}
	if qos == packet.QoS0 {
		return c.send(pub)
	}

	id := c.nextID()
	pub.PacketID = id
	ch := make(chan packet.Packet, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.send(pub); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe installs a local handler for filter and sends SUBSCRIBE,
// blocking for SUBACK.
func (c *Client) Subscribe(ctx context.Context, filter string, qos packet.QoS, handler MessageHandler) error {
	c.pendingMu.Lock()
	c.subs[filter] = handler
	c.pendingMu.Unlock()

	id := c.nextID()
	ch := make(chan packet.Packet, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.send(&packet.Subscribe{PacketID: id, Filters: []packet.SubscribeFilter{{Filter: filter, QoS: qos}}}); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetDefaultHandler installs the handler used for publishes matching
// no explicit Subscribe call.
func (c *Client) SetDefaultHandler(h MessageHandler) { c.defaultHandler = h }

// Connected reports whether the underlying socket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) reconnectLoop(addr string) {
	for {
		select {
		case <-c.closed:
			return
		case <-time.After(c.opts.reconnectDelay):
		}
		if c.Connected() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.dialTimeout)
		_ = c.Dial(ctx, addr)
		cancel()
	}
}

// Close terminates the connection and stops any reconnect loop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// readFrame reads one MQTT fixed-header-length-prefixed packet from
// conn, mirroring internal/broker/io.go's readPacket for the client
// side of the same wire format.
func readFrame(conn net.Conn) ([]byte, error) {
	var first [1]byte
	if _, err := readFull(conn, first[:]); err != nil {
		return nil, err
	}
	var lenBytes [4]byte
	n, remaining, multiplier := 0, 0, 1
	for {
		if n >= 4 {
			return nil, fmt.Errorf("client: remaining length too large")
		}
		var b [1]byte
		if _, err := readFull(conn, b[:]); err != nil {
			return nil, err
		}
		lenBytes[n] = b[0]
		n++
		remaining += int(b[0]&0x7F) * multiplier
		multiplier *= 128
		if b[0]&0x80 == 0 {
			break
		}
	}
	raw := make([]byte, 1+n+remaining)
	raw[0] = first[0]
	copy(raw[1:1+n], lenBytes[:n])
	if remaining > 0 {
		if _, err := readFull(conn, raw[1+n:]); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
