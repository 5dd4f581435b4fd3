package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/goqttd/goqttd/internal/auth"
	"github.com/goqttd/goqttd/internal/bridge"
	"github.com/goqttd/goqttd/internal/broker"
	"github.com/goqttd/goqttd/internal/cluster"
	"github.com/goqttd/goqttd/internal/coap"
	"github.com/goqttd/goqttd/internal/config"
	"github.com/goqttd/goqttd/internal/logger"
	"github.com/goqttd/goqttd/internal/packet"
	"github.com/goqttd/goqttd/internal/sn"
	"github.com/goqttd/goqttd/internal/transport"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the broker daemon",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logLevel := logger.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		logLevel = logger.LevelDebug
	case "warn":
		logLevel = logger.LevelWarn
	case "error":
		logLevel = logger.LevelError
	}
	logger.InitGlobalLogger(logger.Config{Level: logLevel, Format: cfg.Logging.Format, Service: cfg.Name, Version: cfg.Version})
	log := logger.GetGlobalLogger()

	b := broker.New()
	b.NodeID = cfg.Cluster.NodeID
	b.Log = logger.NewMQTTLogger("broker")
	b.DenyAnonymous = !cfg.Broker.AllowAnonymous
	b.MaxConnections = cfg.Broker.MaxConnections
	b.MaxMessageSize = cfg.Broker.MaxMessageSize
	b.KeepAliveDefault = cfg.Broker.KeepAliveDefault
	b.DisableRetainedMessages = !cfg.Broker.EnableRetainedMessages
	b.DisablePersistentSessions = !cfg.Broker.EnablePersistentSessions

	if cfg.Auth.Enabled {
		db, err := sql.Open("sqlite3", cfg.Auth.DBPath)
		if err != nil {
			return fmt.Errorf("start: open auth db: %w", err)
		}
		defer db.Close()
		store := auth.New(db)
		if err := store.EnsureSchema(); err != nil {
			return fmt.Errorf("start: auth schema: %w", err)
		}
		b.Auth = store
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var stopFns []func()

	if l := cfg.Listeners.TCP; l != nil {
		ln, err := transport.ListenTCP(l.Addr)
		if err != nil {
			return fmt.Errorf("start: tcp listen %s: %w", l.Addr, err)
		}
		log.Info("tcp listener up", logger.String("addr", l.Addr))
		go b.Serve(ctx, ln)
		stopFns = append(stopFns, func() { ln.Close() })
	}

	if l := cfg.Listeners.TLS; l != nil {
		cert, err := tls.LoadX509KeyPair(l.CertFile, l.KeyFile)
		if err != nil {
			return fmt.Errorf("start: load tls keypair: %w", err)
		}
		ln, err := transport.ListenTLS(l.Addr, &tls.Config{Certificates: []tls.Certificate{cert}})
		if err != nil {
			return fmt.Errorf("start: tls listen %s: %w", l.Addr, err)
		}
		log.Info("tls listener up", logger.String("addr", l.Addr))
		go b.Serve(ctx, ln)
		stopFns = append(stopFns, func() { ln.Close() })
	}

	if l := cfg.Listeners.WebSocket; l != nil {
		ln, err := transport.ListenWS(l.Addr, l.Path)
		if err != nil {
			return fmt.Errorf("start: ws listen %s: %w", l.Addr, err)
		}
		log.Info("websocket listener up", logger.String("addr", l.Addr), logger.String("path", l.Path))
		go b.Serve(ctx, ln)
		stopFns = append(stopFns, func() { ln.Close() })
	}

	var onPublishFanout []func(msg packet.ApplicationMessage, originClientID string)

	if l := cfg.Listeners.CoAP; l != nil {
		ln, err := transport.ListenUDP(l.Addr)
		if err != nil {
			return fmt.Errorf("start: coap listen %s: %w", l.Addr, err)
		}
		prefix := cfg.Broker.CoAPMQTTPrefix
		if prefix == "" {
			prefix = "ps"
		}
		gw := coap.NewGateway(b, prefix)
		log.Info("coap listener up", logger.String("addr", l.Addr))
		go gw.Serve(ctx, ln)
		stopFns = append(stopFns, func() { ln.Close() })
		onPublishFanout = append(onPublishFanout, func(msg packet.ApplicationMessage, originClientID string) {
			gw.NotifyPublish(msg)
		})
	}

	if l := cfg.Listeners.SN; l != nil {
		ln, err := transport.ListenUDP(l.Addr)
		if err != nil {
			return fmt.Errorf("start: sn listen %s: %w", l.Addr, err)
		}
		gw := sn.NewGateway(b)
		log.Info("sn listener up", logger.String("addr", l.Addr))
		go gw.Serve(ctx, ln)
		stopFns = append(stopFns, func() { ln.Close() })
	}

	for _, bc := range cfg.Bridge {
		var upstream, downstream []bridge.Rule
		for _, r := range bc.Rules {
			rule := bridge.Rule{Enabled: r.Enabled, Filter: r.LocalTopic, Add: r.RemoteTopic, QoS: packet.QoS(r.QoS)}
			switch r.Direction {
			case "in":
				downstream = append(downstream, rule)
			case "out":
				upstream = append(upstream, rule)
			default:
				upstream = append(upstream, rule)
				downstream = append(downstream, rule)
			}
		}
		br := bridge.New(bridge.Config{
			Name: bc.Name, RemoteAddr: bc.RemoteAddr, ClientID: bc.ClientID,
			Username: bc.Username, Password: bc.Password,
			ReconnectDelay: bc.ReconnectDelay, ConnectionTimeout: bc.ConnectionTimeout, KeepAlive: bc.KeepAlive,
			Upstream: upstream, Downstream: downstream,
		}, b)
		br.Start(ctx)
		onPublishFanout = append(onPublishFanout, br.OnLocalPublish)
		log.Info("bridge started", logger.String("name", bc.Name), logger.String("remote", bc.RemoteAddr))
	}

	if cfg.Cluster.Enabled {
		clust := cluster.New(cluster.Config{
			NodeID: cfg.Cluster.NodeID, ClusterName: cfg.Cluster.ClusterName, ListenAddr: cfg.Cluster.ListenAddr,
			Seeds: cfg.Cluster.Seeds, HeartbeatInterval: cfg.Cluster.HeartbeatEach, NodeTimeout: cfg.Cluster.PeerTimeout,
			MessageIDCacheTTL: cfg.Cluster.MessageCacheTTL,
		}, b)
		if err := clust.Start(ctx); err != nil {
			return fmt.Errorf("start: cluster: %w", err)
		}
		onPublishFanout = append(onPublishFanout, clust.ForwardLocalPublish)
		log.Info("cluster started", logger.String("node_id", cfg.Cluster.NodeID))
	}

	if len(onPublishFanout) > 0 {
		fanout := onPublishFanout
		b.OnLocalPublish = func(msg packet.ApplicationMessage, originClientID string) {
			for _, fn := range fanout {
				fn(msg, originClientID)
			}
		}
	}

	log.Info("goqttd started", logger.String("version", cfg.Version))

	<-ctx.Done()
	log.Info("shutting down")
	b.Shutdown()
	for _, stop := range stopFns {
		stop()
	}
	time.Sleep(500 * time.Millisecond)
	return nil
}
