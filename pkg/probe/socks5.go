package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const (
	DefaultEchoHost = "api.ipify.org"
	DefaultEchoPort = 80
	DefaultTimeout  = 10 * time.Second
)

// SOCKS5 constants (RFC 1928).
const (
	socksVersion  = 0x05
	methodNoAuth  = 0x00
	cmdConnect    = 0x01
	atypIPv4      = 0x01
	atypDomain    = 0x03
	atypIPv6      = 0x04
	repSucceeded  = 0x00
	maxDomainSize = 255
)

// ProbeError reports the step at which the probe failed.
type ProbeError struct {
	Step string
	Err  error
}

func (e *ProbeError) Error() string { return fmt.Sprintf("exit probe %s: %v", e.Step, e.Err) }
func (e *ProbeError) Unwrap() error { return e.Err }

// Config controls a single probe.
type Config struct {
	// Server is tor's SOCKS listener, "host:port".
	Server string
	// Timeout bounds the whole probe. Zero means DefaultTimeout.
	Timeout time.Duration
	// EchoHost and EchoPort name the IP-echo service. Zero values use the defaults.
	EchoHost string
	EchoPort int
}

// ExitIP returns the exit address seen by the echo service.
func ExitIP(ctx context.Context, cfg Config) (string, error) {
	host, port := cfg.EchoHost, cfg.EchoPort
	if host == "" {
		host = DefaultEchoHost
	}
	if port == 0 {
		port = DefaultEchoPort
	}
	if len(host) > maxDomainSize {
		return "", &ProbeError{Step: "config", Err: errors.New("echo host too long")}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Server)
	if err != nil {
		return "", &ProbeError{Step: "dial", Err: err}
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := greet(conn); err != nil {
		return "", &ProbeError{Step: "greeting", Err: err}
	}
	if err := connect(conn, host, port); err != nil {
		return "", &ProbeError{Step: "connect", Err: err}
	}
	ip, err := fetch(conn, host)
	if err != nil {
		return "", &ProbeError{Step: "http", Err: err}
	}
	return ip, nil
}

// greet offers only "no auth" and requires the server to select it.
func greet(conn net.Conn) error {
	if _, err := conn.Write([]byte{socksVersion, 0x01, methodNoAuth}); err != nil {
		return fmt.Errorf("write greeting: %w", err)
	}
	var sel [2]byte
	if _, err := io.ReadFull(conn, sel[:]); err != nil {
		return fmt.Errorf("read method selection: %w", err)
	}
	if sel[0] != socksVersion || sel[1] != methodNoAuth {
		return fmt.Errorf("unexpected method selection: 0x%02x 0x%02x", sel[0], sel[1])
	}
	return nil
}

// connect issues CONNECT with domain-name addressing and discards the bound address.
func connect(conn net.Conn, host string, port int) error {
	req := make([]byte, 0, 7+len(host))
	req = append(req, socksVersion, cmdConnect, 0x00, atypDomain, byte(len(host)))
	req = append(req, host...)
	req = append(req, byte(port>>8), byte(port&0xff))
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("write CONNECT: %w", err)
	}
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return fmt.Errorf("read CONNECT reply: %w", err)
	}
	if hdr[1] != repSucceeded {
		return fmt.Errorf("CONNECT failed: %s", repToString(hdr[1]))
	}
	return discardBindAddr(conn, hdr[3])
}

// discardBindAddr consumes BND.ADDR and BND.PORT for the given address type.
func discardBindAddr(conn net.Conn, atyp byte) error {
	var n int
	switch atyp {
	case atypIPv4:
		n = 4 + 2
	case atypIPv6:
		n = 16 + 2
	case atypDomain:
		var l [1]byte
		if _, err := io.ReadFull(conn, l[:]); err != nil {
			return fmt.Errorf("read bound name length: %w", err)
		}
		n = int(l[0]) + 2
	default:
		return fmt.Errorf("unknown bound address type 0x%02x", atyp)
	}
	if _, err := io.CopyN(io.Discard, conn, int64(n)); err != nil {
		return fmt.Errorf("read bound address: %w", err)
	}
	return nil
}

// fetch sends the echo request over the tunnel and returns the trimmed body.
func fetch(conn net.Conn, host string) (string, error) {
	req := "GET /?format=text HTTP/1.1\r\nHost: " + host + "\r\nConnection: close\r\n\r\n"
	if _, err := io.WriteString(conn, req); err != nil {
		return "", fmt.Errorf("write request: %w", err)
	}
	raw, err := io.ReadAll(conn)
	if err != nil && len(raw) == 0 {
		return "", fmt.Errorf("read response: %w", err)
	}
	resp := string(raw)
	i := strings.Index(resp, "\r\n\r\n")
	if i < 0 {
		return "", errors.New("no header separator in response")
	}
	body := strings.TrimSpace(resp[i+4:])
	if body == "" {
		return "", errors.New("empty response body")
	}
	return body, nil
}

func repToString(rep byte) string {
	switch rep {
	case 0x01:
		return "general failure"
	case 0x02:
		return "connection not allowed by ruleset"
	case 0x03:
		return "network unreachable"
	case 0x04:
		return "host unreachable"
	case 0x05:
		return "connection refused"
	case 0x06:
		return "TTL expired"
	case 0x07:
		return "command not supported"
	case 0x08:
		return "address type not supported"
	}
	return fmt.Sprintf("reply 0x%02x", rep)
}
