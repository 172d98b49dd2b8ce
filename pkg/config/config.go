// Package config loads the daemon configuration from a config file, the environment and
// command-line flags, in increasing order of precedence. A .env file in the working
// directory is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"torvpn/pkg/model"
)

// EnvPrefix prefixes every environment override, e.g. TORVPN_TOR_SOCKS_PORT.
const EnvPrefix = "TORVPN"

// Config is the full daemon configuration.
type Config struct {
	StateDir string `mapstructure:"state-dir"`
	LogLevel string `mapstructure:"log-level"`

	Tor      TorConfig      `mapstructure:"tor"`
	Exit     ExitConfig     `mapstructure:"exit"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Status   StatusConfig   `mapstructure:"status"`
	Hop      HopConfig      `mapstructure:"hop"`
	Store    StoreConfig    `mapstructure:"store"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Platform PlatformConfig `mapstructure:"platform"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
}

// TorConfig describes the supervised tor process.
type TorConfig struct {
	SocksPort             int      `mapstructure:"socks-port"`
	DNSPort               int      `mapstructure:"dns-port"`
	ControlPort           int      `mapstructure:"control-port"`
	UseBridges            bool     `mapstructure:"use-bridges"`
	Bridges               []string `mapstructure:"bridges"`
	ClientTransportPlugin string   `mapstructure:"client-transport-plugin"` // obfs4proxy path
	PathHint              string   `mapstructure:"path-hint"`               // explicit tor executable
}

// ExitConfig is the startup exit-country allow-list.
type ExitConfig struct {
	Countries []string `mapstructure:"countries"`
	Strict    bool     `mapstructure:"strict"`
}

// ProxyConfig enables forwarding tor through a rotating list of proxies.
type ProxyConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	List    []model.ProxyHop `mapstructure:"list"`
}

// StatusConfig controls the status/control listener.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// HopConfig is the static hop sequence advanced by the external scheduler.
type HopConfig struct {
	Sequence []model.HopItem `mapstructure:"sequence"`
}

// StoreConfig selects where shared state documents live.
type StoreConfig struct {
	Backend      string `mapstructure:"backend"` // file|consul
	ConsulAddr   string `mapstructure:"consul-addr"`
	ConsulPrefix string `mapstructure:"consul-prefix"`
}

// JournalConfig selects the audit journal backend.
type JournalConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite|mysql|amqp|none
	DSN      string `mapstructure:"dsn"`
	Exchange string `mapstructure:"exchange"` // amqp only
}

// PlatformConfig names the opaque firewall/DNS scripts. Empty paths are skipped.
type PlatformConfig struct {
	Adapter          string `mapstructure:"adapter"`
	FirewallApply    string `mapstructure:"firewall-apply"`
	FirewallTeardown string `mapstructure:"firewall-teardown"`
	DNSApply         string `mapstructure:"dns-apply"`
	DNSTeardown      string `mapstructure:"dns-teardown"`
}

// TimeoutConfig bounds the blocking phases.
type TimeoutConfig struct {
	Startup   time.Duration `mapstructure:"startup"`
	ControlIO time.Duration `mapstructure:"control-io"`
	Probe     time.Duration `mapstructure:"probe"`
}

var defaults = map[string]interface{}{
	"state-dir":                   "./state",
	"log-level":                   "INFO",
	"tor.socks-port":              9050,
	"tor.dns-port":                5353,
	"tor.control-port":            9051,
	"tor.use-bridges":             false,
	"tor.bridges":                 []string{},
	"tor.client-transport-plugin": "",
	"tor.path-hint":               "",
	"exit.countries":              []string{},
	"exit.strict":                 false,
	"proxy.enabled":               false,
	"status.enabled":              true,
	"status.listen":               "127.0.0.1:8787",
	"store.backend":               "file",
	"store.consul-addr":           "127.0.0.1:8500",
	"store.consul-prefix":         "torvpn/state/",
	"journal.driver":              "sqlite",
	"journal.dsn":                 "",
	"journal.exchange":            "torvpn.audit",
	"platform.adapter":            "",
	"platform.firewall-apply":     "",
	"platform.firewall-teardown":  "",
	"platform.dns-apply":          "",
	"platform.dns-teardown":       "",
	"timeouts.startup":            "3m",
	"timeouts.control-io":         "30s",
	"timeouts.probe":              "10s",
}

// flag name -> config key
var flagKeys = map[string]string{
	"state-dir":     "state-dir",
	"log-level":     "log-level",
	"status-listen": "status.listen",
	"socks-port":    "tor.socks-port",
	"control-port":  "tor.control-port",
}

// RegisterFlags adds the overridable flags to fs. Unset flags do not override the file.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (yaml/json/toml); env "+EnvPrefix+"_CONFIG")
	fs.String("state-dir", "", "state directory")
	fs.String("log-level", "", "log level (DEBUG, INFO, WARNING, ERROR)")
	fs.String("status-listen", "", "status/control listen address")
	fs.Int("socks-port", 0, "tor SOCKS port")
	fs.Int("control-port", 0, "tor control port")
}

// Load reads the configuration. path may be empty: TORVPN_CONFIG is consulted, then
// ./config.{yaml,json,toml}; a missing default file is not an error. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("could not read config: %w", err)
			}
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ports, enumerations and proxy kinds.
func (c *Config) Validate() error {
	for name, port := range map[string]int{
		"tor.socks-port":   c.Tor.SocksPort,
		"tor.dns-port":     c.Tor.DNSPort,
		"tor.control-port": c.Tor.ControlPort,
	} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s: %d", name, port)
		}
	}
	if c.StateDir == "" {
		return errors.New("state-dir must not be empty")
	}
	if c.Status.Enabled {
		if _, _, err := net.SplitHostPort(c.Status.Listen); err != nil {
			return fmt.Errorf("invalid status.listen %q: %w", c.Status.Listen, err)
		}
	}
	switch c.Store.Backend {
	case "file", "consul":
	default:
		return fmt.Errorf("unsupported store.backend: %s", c.Store.Backend)
	}
	switch c.Journal.Driver {
	case "sqlite", "mysql", "none":
	case "amqp":
		if c.Journal.DSN == "" {
			return errors.New("journal.dsn must name the amqp url")
		}
	default:
		return fmt.Errorf("unsupported journal.driver: %s", c.Journal.Driver)
	}
	for i, p := range c.Proxy.List {
		if p.Type != model.ProxySOCKS5 && p.Type != model.ProxyHTTPS {
			return fmt.Errorf("proxy.list[%d]: unsupported type %q", i, p.Type)
		}
		if p.Addr == "" {
			return fmt.Errorf("proxy.list[%d]: empty addr", i)
		}
	}
	return nil
}

// ControlAddr is the loopback address of tor's control port.
func (c *Config) ControlAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(c.Tor.ControlPort))
}

// SocksAddr is the loopback address of tor's SOCKS port.
func (c *Config) SocksAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(c.Tor.SocksPort))
}

// ExitPolicy returns the configured startup exit policy.
func (c *Config) ExitPolicy() model.ExitPolicy {
	return model.ExitPolicy{Countries: c.Exit.Countries, Strict: c.Exit.Strict}
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}
