// Package config loads the runtime configuration of the call peer and relay.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/1ureka/roomcall/internal/negotiation"
)

// EnvPrefix is the prefix of environment variables read by Load,
// e.g. ROOMCALL_RELAY_URL.
const EnvPrefix = "ROOMCALL"

// TURNServer is one TURN relay entry. None is configured by default.
type TURNServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// Config stores every parameter gathered from the config file, the
// environment and CLI flags.
type Config struct {
	Room          string        `mapstructure:"room"`
	RelayURL      string        `mapstructure:"relay_url"`
	STUNServers   []string      `mapstructure:"stun_servers"`
	TURNServers   []TURNServer  `mapstructure:"turn_servers"`
	Video         bool          `mapstructure:"video"`
	Audio         bool          `mapstructure:"audio"`
	Debug         bool          `mapstructure:"debug"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`

	// Relay server only.
	ListenAddr string `mapstructure:"listen_addr"`
	Mode       string `mapstructure:"mode"`
}

// DefaultSTUNServers are the public STUN endpoints used when none are configured.
var DefaultSTUNServers = []string{
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Load reads the optional YAML file at path (skipped when empty) and
// ROOMCALL_* environment variables on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("room", "")
	v.SetDefault("relay_url", "http://localhost:8000")
	v.SetDefault("stun_servers", DefaultSTUNServers)
	v.SetDefault("video", true)
	v.SetDefault("audio", true)
	v.SetDefault("debug", false)
	v.SetDefault("stats_interval", "10s")
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("mode", "release")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields every command depends on.
func (c *Config) Validate() error {
	u, err := url.Parse(c.RelayURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid relay_url %q", c.RelayURL)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid relay_url scheme %q", u.Scheme)
	}
	if !c.Video && !c.Audio {
		return errors.New("at least one of video or audio must be enabled")
	}
	return nil
}

// Negotiation returns the immutable ICE configuration handed to the
// negotiation engine. The slices are copied.
func (c *Config) Negotiation() negotiation.Config {
	turn := make([]negotiation.TURNServer, 0, len(c.TURNServers))
	for _, t := range c.TURNServers {
		turn = append(turn, negotiation.TURNServer{
			URLs:       append([]string(nil), t.URLs...),
			Username:   t.Username,
			Credential: t.Credential,
		})
	}
	return negotiation.NewConfig(c.STUNServers, turn)
}
