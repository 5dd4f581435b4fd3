// Package config loads the daemon's YAML configuration and layers two
// environment-variable overrides on top via viper. No flags are bound.
//
// Grounded on cmd/goqtt/main.go's Config{Name,Version,Server{Port}} +
// yaml.Unmarshal call, extended with the listener/bridge/cluster/auth
// option tables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Broker    BrokerConfig    `yaml:"broker"`
	Listeners ListenersConfig `yaml:"listeners"`
	Auth      AuthConfig      `yaml:"auth"`
	Bridge    []BridgeConfig  `yaml:"bridges"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BrokerConfig holds the broker-wide limits and defaults that apply
// regardless of which listeners are enabled.
type BrokerConfig struct {
	AllowAnonymous           bool   `yaml:"allow_anonymous"`
	MaxConnections           int    `yaml:"max_connections"`
	MaxMessageSize           int    `yaml:"max_message_size"`
	KeepAliveDefault         uint16 `yaml:"keep_alive_default"`
	EnableRetainedMessages   bool   `yaml:"enable_retained_messages"`
	EnablePersistentSessions bool   `yaml:"enable_persistent_sessions"`
	CoAPMQTTPrefix           string `yaml:"coap_mqtt_prefix"`
}

type ListenersConfig struct {
	TCP       *TCPListenerConfig `yaml:"tcp"`
	TLS       *TLSListenerConfig `yaml:"tls"`
	WebSocket *WSListenerConfig  `yaml:"websocket"`
	CoAP      *UDPListenerConfig `yaml:"coap"`
	SN        *UDPListenerConfig `yaml:"sn"`
}

type TCPListenerConfig struct {
	Addr string `yaml:"addr"`
}

type TLSListenerConfig struct {
	Addr     string `yaml:"addr"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type WSListenerConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

type UDPListenerConfig struct {
	Addr string `yaml:"addr"`
}

type AuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DBPath     string `yaml:"db_path"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

type BridgeConfig struct {
	Name              string        `yaml:"name"`
	RemoteAddr        string        `yaml:"remote_addr"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	KeepAlive         uint16        `yaml:"keep_alive"`
	Rules             []BridgeRule  `yaml:"rules"`
}

type BridgeRule struct {
	Enabled     bool   `yaml:"enabled"`
	Direction   string `yaml:"direction"` // "in", "out", "both"
	LocalTopic  string `yaml:"local_topic"`
	RemoteTopic string `yaml:"remote_topic"`
	QoS         byte   `yaml:"qos"`
}

type ClusterConfig struct {
	Enabled           bool          `yaml:"enabled"`
	NodeID            string        `yaml:"node_id"`
	ClusterName       string        `yaml:"cluster_name"`
	ListenAddr        string        `yaml:"listen_addr"`
	Seeds             []string      `yaml:"seeds"`
	HeartbeatEach     time.Duration `yaml:"heartbeat_interval"`
	PeerTimeout       time.Duration `yaml:"peer_timeout"`
	MessageCacheTTL   time.Duration `yaml:"message_id_cache_expiry"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a config with every ambient default filled in, for
// use when no config file is given or a section is omitted.
func Default() *Config {
	return &Config{
		Name:    "goqttd",
		Version: "dev",
		Broker: BrokerConfig{
			AllowAnonymous:           true,
			EnableRetainedMessages:   true,
			EnablePersistentSessions: true,
			CoAPMQTTPrefix:           "ps",
		},
		Listeners: ListenersConfig{
			TCP: &TCPListenerConfig{Addr: ":1883"},
		},
		Auth: AuthConfig{BcryptCost: 12},
		Cluster: ClusterConfig{
			ClusterName:   "goqttd",
			HeartbeatEach: 10 * time.Second,
			PeerTimeout:   30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path as YAML into Default(), then overlays two
// environment variables when set: GOQTTD_LISTENERS_TCP_ADDR and
// GOQTTD_LOGGING_LEVEL. No other GOQTTD_* variable is read.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("GOQTTD")
	v.AutomaticEnv()
	if addr := v.GetString("listeners_tcp_addr"); addr != "" {
		if cfg.Listeners.TCP == nil {
			cfg.Listeners.TCP = &TCPListenerConfig{}
		}
		cfg.Listeners.TCP.Addr = addr
	}
	if logLevel := v.GetString("logging_level"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	return cfg, nil
}
