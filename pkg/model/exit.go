package model

import "strings"

// ExitPolicy restricts exit relays to a set of country codes.
type ExitPolicy struct {
	Countries []string
	Strict    bool
}

// Nodes renders the ExitNodes value, e.g. "{us},{de}". Blank codes are skipped.
func (p ExitPolicy) Nodes() string {
	out := make([]string, 0, len(p.Countries))
	for _, cc := range p.Countries {
		cc = strings.ToLower(strings.TrimSpace(cc))
		if cc == "" {
			continue
		}
		out = append(out, "{"+cc+"}")
	}
	return strings.Join(out, ",")
}

// Empty reports whether the policy has no usable country codes.
func (p ExitPolicy) Empty() bool {
	return p.Nodes() == ""
}

// StrictValue renders StrictNodes as "1" or "0".
func (p ExitPolicy) StrictValue() string {
	if p.Strict {
		return "1"
	}
	return "0"
}

// ParseCountryList splits a comma separated list such as "US,de".
func ParseCountryList(csv string) ExitPolicy {
	var ccs []string
	for _, part := range strings.Split(csv, ",") {
		if p := strings.TrimSpace(part); p != "" {
			ccs = append(ccs, p)
		}
	}
	return ExitPolicy{Countries: ccs, Strict: true}
}
