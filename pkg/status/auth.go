package status

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// EnvStatusToken overrides the token file.
const EnvStatusToken = "TORVPN_STATUS_TOKEN"

// TokenFile holds the shared secret inside the state directory.
const TokenFile = "status_token.txt"

var ErrForbidden = errors.New("forbidden")

// IsLoopback reports whether a listen address only accepts local connections.
func IsLoopback(listen string) bool {
	host := listen
	if h, _, err := net.SplitHostPort(listen); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// LoadSecret returns the configured token: the environment override if set, else the
// trimmed token file. Empty means none is configured.
func LoadSecret(stateDir string) string {
	if v := os.Getenv(EnvStatusToken); v != "" {
		return v
	}
	b, err := os.ReadFile(filepath.Join(stateDir, TokenFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// Credential extracts the presented token: Authorization Bearer, then X-Auth, then the
// token query parameter.
func Credential(req Request) (string, bool) {
	if v, ok := req.HeaderValue("Authorization"); ok {
		if tok, ok := strings.CutPrefix(v, "Bearer "); ok {
			return strings.TrimSpace(tok), true
		}
	}
	if v, ok := req.HeaderValue("X-Auth"); ok {
		return v, true
	}
	return req.QueryValue("token")
}

// AuthCheck decides whether a request may use an authenticated route. Loopback listeners
// are open; otherwise the presented credential must equal the configured secret.
func AuthCheck(listen, presented, secret string) error {
	if IsLoopback(listen) {
		return nil
	}
	if secret == "" || presented != secret {
		return ErrForbidden
	}
	return nil
}
