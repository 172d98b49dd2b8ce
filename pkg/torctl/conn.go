// Package torctl implements the subset of the tor control protocol used by the daemon:
// cookie authentication, SETCONF, GETINFO and SIGNAL.
package torctl

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/op/go-logging"

	"torvpn/pkg/model"
)

var log = logging.MustGetLogger("torctl")

// HealthKeys are queried by HealthSummary, in order.
var HealthKeys = []string{
	"status/bootstrap-phase",
	"net/listeners/socks",
	"net/listeners/dns",
	"status/circuit-established",
	"traffic/read",
	"traffic/written",
}

// Conn is a single authenticated control session. Sessions are short-lived: open one per
// logical operation and Close it afterwards.
type Conn struct {
	conn          net.Conn
	r             *bufio.Reader
	authenticated bool
}

// Dial connects to the control port at addr and authenticates with the cookie at cookiePath.
// A deadline on ctx bounds the whole session, including later commands.
func Dial(ctx context.Context, addr, cookiePath string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}
	c := newConn(nc)
	if err := c.authenticate(cookiePath); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return c, nil
}

func newConn(nc net.Conn) *Conn {
	return &Conn{conn: nc, r: bufio.NewReader(nc)}
}

func (c *Conn) authenticate(cookiePath string) error {
	cookie, err := os.ReadFile(cookiePath)
	if err != nil {
		return &AuthError{Err: fmt.Errorf("reading control cookie at %s: %w", cookiePath, err)}
	}
	if err := c.SendCommand("AUTHENTICATE " + hex.EncodeToString(cookie)); err != nil {
		return &AuthError{Err: err}
	}
	c.authenticated = true
	return nil
}

// Authenticated reports whether AUTHENTICATE succeeded on this session.
func (c *Conn) Authenticated() bool { return c.authenticated }

// Close ends the session.
func (c *Conn) Close() error { return c.conn.Close() }

// SendCommand writes cmd and waits for a terminal "250 " reply.
func (c *Conn) SendCommand(cmd string) error {
	if err := c.write(cmd); err != nil {
		return err
	}
	for {
		line, err := c.readLine()
		if err != nil {
			return err
		}
		switch classify(line) {
		case replyDone:
			return nil
		case replyError:
			return &ProtocolError{Line: strings.TrimSpace(line)}
		}
	}
}

// QueryValue writes cmd and returns the concatenated "250-" payloads plus any trailing
// payload of the terminal "250 " line, trimmed. Continuation payloads keep their line
// terminators byte for byte.
func (c *Conn) QueryValue(cmd string) (string, error) {
	if err := c.write(cmd); err != nil {
		return "", err
	}
	var buf strings.Builder
	for {
		line, err := c.readLine()
		if err != nil {
			return "", err
		}
		switch classify(line) {
		case replyContinue:
			buf.WriteString(payload(line))
		case replyDone:
			if rest := payload(line); strings.TrimSpace(rest) != "" {
				buf.WriteString(rest)
			}
			return strings.TrimSpace(buf.String()), nil
		case replyError:
			return "", &ProtocolError{Line: strings.TrimSpace(line)}
		}
	}
}

// SetConf issues SETCONF key=value.
func (c *Conn) SetConf(key, value string) error {
	return c.SendCommand(fmt.Sprintf("SETCONF %s=%s", key, value))
}

// GetInfo issues GETINFO key.
func (c *Conn) GetInfo(key string) (string, error) {
	return c.QueryValue("GETINFO " + key)
}

// SignalNewnym asks tor to switch to clean circuits.
func (c *Conn) SignalNewnym() error {
	return c.SendCommand("SIGNAL NEWNYM")
}

// Circuits returns the raw circuit-status listing.
func (c *Conn) Circuits() (string, error) {
	return c.QueryValue("GETINFO circuit-status")
}

// HealthSummary queries HealthKeys best-effort. Successful keys are joined as "key=value"
// lines; every key gets an entry in the returned outcome list.
func (c *Conn) HealthSummary() (string, []model.StepOutcome) {
	var b strings.Builder
	outcomes := make([]model.StepOutcome, 0, len(HealthKeys))
	for _, k := range HealthKeys {
		v, err := c.GetInfo(k)
		outcomes = append(outcomes, model.NewOutcome(k, err))
		if err != nil {
			log.Debugf("health key %s: %v", k, err)
			continue
		}
		fmt.Fprintf(&b, "%s=%s\n", k, v)
	}
	return b.String(), outcomes
}

func (c *Conn) write(cmd string) error {
	if _, err := io.WriteString(c.conn, cmd+"\r\n"); err != nil {
		return fmt.Errorf("control write: %w", err)
	}
	return nil
}

func (c *Conn) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", &ProtocolError{Line: "EOF"}
		}
		return "", fmt.Errorf("control read: %w", err)
	}
	return line, nil
}
