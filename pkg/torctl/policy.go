package torctl

import "torvpn/pkg/model"

// ApplyExitPolicy sets ExitNodes and StrictNodes. A non-empty policy must be applied in
// full; an empty one clears both keys best-effort.
func (c *Conn) ApplyExitPolicy(p model.ExitPolicy) ([]model.StepOutcome, error) {
	if p.Empty() {
		return c.ClearExitPolicy(), nil
	}
	var out []model.StepOutcome
	for _, kv := range [][2]string{{"ExitNodes", p.Nodes()}, {"StrictNodes", p.StrictValue()}} {
		err := c.SetConf(kv[0], kv[1])
		out = append(out, model.NewOutcome("SETCONF "+kv[0], err))
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// ClearExitPolicy removes any exit restriction. Failures are recorded, not returned.
func (c *Conn) ClearExitPolicy() []model.StepOutcome {
	return []model.StepOutcome{
		model.NewOutcome("SETCONF ExitNodes", c.SetConf("ExitNodes", "")),
		model.NewOutcome("SETCONF StrictNodes", c.SetConf("StrictNodes", "0")),
	}
}

// ApplyProxy points tor at an upstream proxy. Every field is attempted.
func (c *Conn) ApplyProxy(p model.ProxyHop) []model.StepOutcome {
	var out []model.StepOutcome
	set := func(key, value string) {
		out = append(out, model.NewOutcome("SETCONF "+key, c.SetConf(key, value)))
	}
	switch p.Type {
	case model.ProxySOCKS5:
		set("Socks5Proxy", p.Addr)
		if p.Username != "" {
			set("Socks5ProxyUsername", p.Username)
		}
		if p.Password != "" {
			set("Socks5ProxyPassword", p.Password)
		}
	case model.ProxyHTTPS:
		set("HTTPSProxy", p.Addr)
		if p.Username != "" {
			set("HTTPSProxyAuthenticator", p.Username+":"+p.Password)
		}
	default:
		log.Warningf("ignoring proxy %s with unsupported type %q", p.Addr, p.Type)
	}
	return out
}

// ClearProxy disables both upstream proxy kinds, best-effort.
func (c *Conn) ClearProxy() []model.StepOutcome {
	return []model.StepOutcome{
		model.NewOutcome("SETCONF Socks5Proxy", c.SetConf("Socks5Proxy", "")),
		model.NewOutcome("SETCONF HTTPSProxy", c.SetConf("HTTPSProxy", "")),
	}
}
