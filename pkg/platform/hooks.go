// Package platform runs the operator-provided scripts that lock the host's firewall and
// DNS resolution to tor. The scripts are opaque; each receives one JSON argument.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/op/go-logging"

	"torvpn/pkg/config"
	"torvpn/pkg/model"
)

var log = logging.MustGetLogger("platform")

// DNSLoopback is where tor's DNSPort listens.
const DNSLoopback = "127.0.0.1"

type firewallArgs struct {
	AdapterHint string `json:"AdapterHint"`
	TorPath     string `json:"TorPath"`
}

type dnsArgs struct {
	AdapterHint string `json:"AdapterHint"`
	DNSLoopback string `json:"DnsLoopback"`
	TorDNSPort  int    `json:"TorDnsPort"`
}

// Hooks invokes the configured scripts.
type Hooks struct {
	cfg     config.PlatformConfig
	dnsPort int
	torPath string
}

// New prepares hooks for cfg. torPath is the executable the firewall must let through.
func New(cfg *config.Config, torPath string) *Hooks {
	if torPath == "" {
		torPath = cfg.Tor.PathHint
	}
	if torPath == "" {
		torPath = "tor"
	}
	return &Hooks{cfg: cfg.Platform, dnsPort: cfg.Tor.DNSPort, torPath: torPath}
}

// Apply runs the firewall and DNS apply scripts. Failures are logged and reported, never
// fatal.
func (h *Hooks) Apply(ctx context.Context) []model.StepOutcome {
	var out []model.StepOutcome
	out = h.runStep(ctx, out, "firewall-apply", h.cfg.FirewallApply,
		firewallArgs{AdapterHint: h.cfg.Adapter, TorPath: h.torPath})
	out = h.runStep(ctx, out, "dns-apply", h.cfg.DNSApply,
		dnsArgs{AdapterHint: h.cfg.Adapter, DNSLoopback: DNSLoopback, TorDNSPort: h.dnsPort})
	return out
}

// Teardown undoes Apply, DNS first.
func (h *Hooks) Teardown(ctx context.Context) []model.StepOutcome {
	var out []model.StepOutcome
	out = h.runStep(ctx, out, "dns-teardown", h.cfg.DNSTeardown, nil)
	out = h.runStep(ctx, out, "firewall-teardown", h.cfg.FirewallTeardown, nil)
	return out
}

func (h *Hooks) runStep(ctx context.Context, out []model.StepOutcome, step, script string, args interface{}) []model.StepOutcome {
	if script == "" {
		log.Debugf("%s: no script configured", step)
		return out
	}
	err := run(ctx, script, args)
	if err != nil {
		log.Warningf("%s: %v", step, err)
	} else {
		log.Infof("%s: ok", step)
	}
	return append(out, model.NewOutcome(step, err))
}

func run(ctx context.Context, script string, args interface{}) error {
	var argv []string
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return err
		}
		argv = append(argv, string(b))
	}
	cmd := exec.CommandContext(ctx, script, argv...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %v output=%s", script, err, string(out))
	}
	return nil
}
