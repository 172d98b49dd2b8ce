// Package probe discovers the current exit address of the tor client.
//
// ExitIP opens a SOCKS5 session against tor's local SOCKS listener (no authentication),
// CONNECTs by domain name to an IP-echo service on port 80 and issues a plain HTTP GET
// over the tunnel. The trimmed response body is the exit address.
//
// Any protocol deviation is reported as a *ProbeError. Callers treat a failed probe as
// "exit IP unknown", never as a fatal error. The whole exchange is bounded by a single
// deadline (Config.Timeout, or the context deadline when earlier).
package probe
