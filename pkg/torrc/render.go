// Package torrc renders the configuration file handed to the supervised tor process.
package torrc

import (
	"fmt"
	"strings"

	"torvpn/pkg/config"
)

// FileName is the rendered file inside the state directory.
const FileName = "torrc.generated"

// RenderError reports a configuration that cannot be rendered.
type RenderError struct {
	Field string
	Value interface{}
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("torrc: invalid %s: %v", e.Field, e.Value)
}

// Render produces the torrc for cfg with dataDir as DataDirectory. Output depends only
// on its inputs.
func Render(cfg config.TorConfig, dataDir string) (string, error) {
	if dataDir == "" {
		return "", &RenderError{Field: "data directory", Value: `""`}
	}
	for _, p := range []struct {
		name string
		port int
	}{
		{"socks port", cfg.SocksPort},
		{"dns port", cfg.DNSPort},
		{"control port", cfg.ControlPort},
	} {
		if p.port <= 0 || p.port > 65535 {
			return "", &RenderError{Field: p.name, Value: p.port}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "DataDirectory %s\n", dataDir)
	b.WriteString("ClientOnly 1\n")
	fmt.Fprintf(&b, "SOCKSPort 127.0.0.1:%d\n", cfg.SocksPort)
	fmt.Fprintf(&b, "DNSPort 127.0.0.1:%d\n", cfg.DNSPort)
	b.WriteString("AutomapHostsOnResolve 1\n")
	b.WriteString("AutomapHostsSuffixes .onion,.exit\n")
	b.WriteString("ClientUseIPv4 1\n")
	b.WriteString("ClientUseIPv6 1\n")
	b.WriteString("SafeSocks 1\n")
	b.WriteString("UseGuardFraction 1\n")
	b.WriteString("CircuitPadding 1\n")
	b.WriteString("AvoidDiskWrites 1\n")
	fmt.Fprintf(&b, "ControlPort 127.0.0.1:%d\n", cfg.ControlPort)
	b.WriteString("CookieAuthentication 1\n")

	if cfg.UseBridges {
		b.WriteString("UseBridges 1\n")
		for _, line := range cfg.Bridges {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.ContainsAny(line, "\r\n") {
				return "", &RenderError{Field: "bridge", Value: line}
			}
			fmt.Fprintf(&b, "Bridge %s\n", line)
		}
		if cfg.ClientTransportPlugin != "" {
			fmt.Fprintf(&b, "ClientTransportPlugin obfs4 exec %s\n", cfg.ClientTransportPlugin)
		}
	}
	return b.String(), nil
}
