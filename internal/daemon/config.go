package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mikey-austin/kodibridge/internal/kodi"
)

// DefaultKodiPort is Kodi's JSON-RPC port for both WebSocket and raw TCP.
const DefaultKodiPort = 9090

// Config is the top-level configuration for kodid.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Modules ModulesConfig `toml:"modules"`
}

// ServerConfig defines shared server settings.
type ServerConfig struct {
	Broker    string     `toml:"broker"`
	Identity  string     `toml:"identity"`
	TopicBase string     `toml:"topic_base"`
	LogLevel  string     `toml:"log_level"`
	LogFormat string     `toml:"log_format"`
	LogOutput string     `toml:"log_output"`
	LogSource bool       `toml:"log_source"`
	LogUTC    bool       `toml:"log_utc"`
	LogColor  bool       `toml:"log_color"`
	TLS       TLSConfig  `toml:"tls"`
	Auth      AuthConfig `toml:"auth"`
}

// TLSConfig holds TLS paths for MQTT.
type TLSConfig struct {
	CA   string `toml:"ca"`
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// AuthConfig holds MQTT auth credentials.
type AuthConfig struct {
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// ModulesConfig holds module configurations.
type ModulesConfig struct {
	EmbeddedMQTT EmbeddedMQTTConfig `toml:"embedded_mqtt"`
	Kodi         []KodiConfig       `toml:"kodi"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TLSCA          string `toml:"tls_ca"`
	TLSCert        string `toml:"tls_cert"`
	TLSKey         string `toml:"tls_key"`
}

// KodiConfig configures one Kodi endpoint.
type KodiConfig struct {
	Name                string `toml:"name"`
	NodeID              string `toml:"node_id"`
	Host                string `toml:"host"`
	Port                int    `toml:"port"`
	Transport           string `toml:"transport"`
	ReconnectIntervalMS int64  `toml:"reconnect_interval_ms"`
	CallTimeoutMS       int64  `toml:"call_timeout_ms"`
}

// Endpoint returns the session endpoint for the entry.
func (k KodiConfig) Endpoint() kodi.Endpoint {
	return kodi.Endpoint{Host: k.Host, Port: k.Port, Transport: k.Transport}
}

// ReconnectInterval returns the configured interval, or zero for the default.
func (k KodiConfig) ReconnectInterval() time.Duration {
	return time.Duration(k.ReconnectIntervalMS) * time.Millisecond
}

func (k KodiConfig) CallTimeout() time.Duration {
	return time.Duration(k.CallTimeoutMS) * time.Millisecond
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and replaces runs of other characters with a dash.
func Slug(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Normalize fills defaults for every Kodi entry and validates them.
func (c *Config) Normalize() error {
	seen := make(map[string]bool)
	for i := range c.Modules.Kodi {
		k := &c.Modules.Kodi[i]
		if k.Host == "" {
			return fmt.Errorf("modules.kodi[%d]: host is required", i)
		}
		if k.Port == 0 {
			k.Port = DefaultKodiPort
		}
		if k.Port < 0 || k.Port > 65535 {
			return fmt.Errorf("modules.kodi[%d]: invalid port %d", i, k.Port)
		}
		switch strings.ToLower(k.Transport) {
		case "":
			k.Transport = "ws"
		case "ws", "tcp":
			k.Transport = strings.ToLower(k.Transport)
		default:
			return fmt.Errorf("modules.kodi[%d]: transport must be ws or tcp, got %q", i, k.Transport)
		}
		if k.ReconnectIntervalMS < 0 || k.CallTimeoutMS < 0 {
			return fmt.Errorf("modules.kodi[%d]: durations must not be negative", i)
		}
		if k.Name == "" {
			k.Name = k.Host
		}
		if k.NodeID == "" {
			k.NodeID = "kb:kodi:" + Slug(k.Name)
		}
		if seen[k.NodeID] {
			return fmt.Errorf("modules.kodi[%d]: duplicate node_id %q", i, k.NodeID)
		}
		seen[k.NodeID] = true
	}
	return nil
}

// LoadConfig loads a config file from path.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "kb", "kodid.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "kb", "kodid.toml"), nil
}
