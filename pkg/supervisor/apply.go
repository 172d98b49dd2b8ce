package supervisor

import (
	"context"
	"path/filepath"
	"time"

	"torvpn/pkg/config"
	"torvpn/pkg/model"
	"torvpn/pkg/proxylist"
	"torvpn/pkg/store"
	"torvpn/pkg/torctl"
)

// settleDelay gives tor time to rebuild circuits after NEWNYM.
var settleDelay = 500 * time.Millisecond

// CookiePath locates the control cookie, falling back to tor's own data directory.
func CookiePath(stateDir string) string {
	p, err := torctl.DiscoverCookie(stateDir, torctl.CookieSourcesFromEnv())
	if err != nil {
		log.Debugf("%v", err)
		return filepath.Join(stateDir, DataDirName, "control_auth_cookie")
	}
	return p
}

// OpenControl opens an authenticated control session bounded by cfg.Timeouts.ControlIO.
// The returned cancel func must be called once the session is closed.
func OpenControl(ctx context.Context, cfg *config.Config, stateDir string) (*torctl.Conn, context.CancelFunc, error) {
	var cancel context.CancelFunc
	if cfg.Timeouts.ControlIO > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeouts.ControlIO)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	c, err := torctl.Dial(ctx, cfg.ControlAddr(), CookiePath(stateDir))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return c, cancel, nil
}

// ApplyExitAndProxy pushes the configured exit policy and, when enabled, the next proxy of
// the rotation to the running tor. A non-empty exit policy must apply; every other step is
// best-effort and reported in the returned outcomes.
func ApplyExitAndProxy(ctx context.Context, cfg *config.Config, stateDir string, st store.DocStore) ([]model.StepOutcome, error) {
	c, cancel, err := OpenControl(ctx, cfg, stateDir)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer c.Close()

	outcomes, err := c.ApplyExitPolicy(cfg.ExitPolicy())
	if err != nil {
		return outcomes, err
	}

	if !cfg.Proxy.Enabled {
		return append(outcomes, c.ClearProxy()...), nil
	}

	pm, err := proxylist.Load(st, cfg.Proxy.List)
	if err != nil {
		return append(outcomes, model.NewOutcome("load proxy list", err)), nil
	}
	hop, ok := pm.Current()
	if !ok {
		log.Warning("proxy enabled but proxy list is empty")
		return outcomes, nil
	}
	outcomes = append(outcomes, c.ApplyProxy(hop)...)
	pm.Next()
	outcomes = append(outcomes,
		model.NewOutcome("save proxy state", pm.Save(st)),
		model.NewOutcome("SIGNAL NEWNYM", c.SignalNewnym()),
	)
	log.Infof("proxy %s %s applied", hop.Type, hop.Addr)

	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
	}
	return outcomes, nil
}
