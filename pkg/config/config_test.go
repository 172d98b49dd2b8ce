package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torvpn/pkg/model"
)

const sampleYAML = `
state-dir: /var/lib/torvpn
tor:
  socks-port: 9150
  control-port: 9151
  use-bridges: true
  bridges:
    - "obfs4 192.0.2.1:443 FINGERPRINT cert=abc iat-mode=0"
  client-transport-plugin: /usr/bin/obfs4proxy
exit:
  countries: [US, de]
  strict: true
proxy:
  enabled: true
  list:
    - type: socks5
      addr: 198.51.100.7:1080
      username: alice
      password: secret
hop:
  sequence:
    - duration: 10m
      exit_countries: [nl]
    - duration: 5m
      exit_countries: [se, ch]
      proxy:
        type: https
        addr: 203.0.113.9:443
status:
  listen: 0.0.0.0:8787
timeouts:
  startup: 90s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML), nil)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/torvpn", cfg.StateDir)
	assert.Equal(t, 9150, cfg.Tor.SocksPort)
	assert.Equal(t, 5353, cfg.Tor.DNSPort)
	assert.Equal(t, "127.0.0.1:9151", cfg.ControlAddr())
	assert.True(t, cfg.Tor.UseBridges)
	assert.Len(t, cfg.Tor.Bridges, 1)
	assert.Equal(t, "{us},{de}", cfg.ExitPolicy().Nodes())
	assert.True(t, cfg.ExitPolicy().Strict)
	require.Len(t, cfg.Proxy.List, 1)
	assert.Equal(t, model.ProxyHop{Type: "socks5", Addr: "198.51.100.7:1080", Username: "alice", Password: "secret"}, cfg.Proxy.List[0])
	require.Len(t, cfg.Hop.Sequence, 2)
	assert.Nil(t, cfg.Hop.Sequence[0].Proxy)
	require.NotNil(t, cfg.Hop.Sequence[1].Proxy)
	assert.Equal(t, "https", cfg.Hop.Sequence[1].Proxy.Type)
	assert.Equal(t, []string{"se", "ch"}, cfg.Hop.Sequence[1].ExitCountries)
	assert.True(t, cfg.Status.Enabled)
	assert.Equal(t, "0.0.0.0:8787", cfg.Status.Listen)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.Startup)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Probe)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "./state", cfg.StateDir)
	assert.Equal(t, 9050, cfg.Tor.SocksPort)
	assert.Equal(t, 9051, cfg.Tor.ControlPort)
	assert.Equal(t, "127.0.0.1:8787", cfg.Status.Listen)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "sqlite", cfg.Journal.Driver)
	assert.Equal(t, 3*time.Minute, cfg.Timeouts.Startup)
	assert.True(t, cfg.ExitPolicy().Empty())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("TORVPN_TOR_SOCKS_PORT", "19050")
	t.Setenv("TORVPN_STATUS_ENABLED", "false")
	cfg, err := Load(writeConfig(t, sampleYAML), nil)
	require.NoError(t, err)

	assert.Equal(t, 19050, cfg.Tor.SocksPort)
	assert.False(t, cfg.Status.Enabled)
}

func TestDotEnvIsLoaded(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TORVPN_LOG_LEVEL=DEBUG\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("TORVPN_LOG_LEVEL") })

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestFlagsOverrideFile(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--status-listen", "127.0.0.1:9999", "--socks-port", "7000"}))

	cfg, err := Load(writeConfig(t, sampleYAML), fs)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Status.Listen)
	assert.Equal(t, 7000, cfg.Tor.SocksPort)
	assert.Equal(t, "/var/lib/torvpn", cfg.StateDir)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"bad port":    "tor:\n  socks-port: 70000\n",
		"bad store":   "store:\n  backend: etcd\n",
		"bad journal": "journal:\n  driver: postgres\n",
		"amqp no url": "journal:\n  driver: amqp\n",
		"bad listen":  "status:\n  listen: nope\n",
		"bad proxy":   "proxy:\n  list:\n    - type: http\n      addr: 1.2.3.4:80\n",
		"empty proxy": "proxy:\n  list:\n    - type: socks5\n",
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body), nil)
		assert.Error(t, err, name)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test,
// equivalent to testing.T.Chdir (Go 1.24+), which this toolchain lacks.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
