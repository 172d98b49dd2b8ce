package torctl

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
)

// Environment overrides consulted by CookieSourcesFromEnv.
const (
	EnvCookiePath = "TORVPN_COOKIE_PATH"
	EnvTorrcPath  = "TORVPN_TORRC_PATH"
)

const cookieName = "control_auth_cookie"

// CookieSources are the explicit locations tried before the conventional paths.
type CookieSources struct {
	CookiePath string
	TorrcPath  string
}

// CookieSourcesFromEnv reads TORVPN_COOKIE_PATH and TORVPN_TORRC_PATH.
func CookieSourcesFromEnv() CookieSources {
	return CookieSources{
		CookiePath: os.Getenv(EnvCookiePath),
		TorrcPath:  os.Getenv(EnvTorrcPath),
	}
}

// CandidatePaths are the conventional cookie locations under stateDir, in lookup order.
func CandidatePaths(stateDir string) []string {
	return []string{
		filepath.Join(stateDir, "tor-data", cookieName),
		filepath.Join(stateDir, cookieName),
		filepath.Join(stateDir, "data", cookieName),
	}
}

// DiscoverCookie locates the control cookie. Order:
//  1. src.CookiePath, if it exists
//  2. CookieAuthFile or DataDirectory from the torrc at src.TorrcPath
//  3. CandidatePaths(stateDir)
func DiscoverCookie(stateDir string, src CookieSources) (string, error) {
	var tried []string
	if src.CookiePath != "" {
		tried = append(tried, EnvCookiePath+"="+src.CookiePath)
		if exists(src.CookiePath) {
			return src.CookiePath, nil
		}
	}
	if src.TorrcPath != "" {
		tried = append(tried, EnvTorrcPath+"="+src.TorrcPath)
		if p, ok := cookieFromTorrc(src.TorrcPath); ok {
			return p, nil
		}
	}
	for _, c := range CandidatePaths(stateDir) {
		tried = append(tried, c)
		if exists(c) {
			return c, nil
		}
	}
	return "", &CookieNotFoundError{Tried: tried}
}

// cookieFromTorrc prefers an explicit CookieAuthFile over DataDirectory/control_auth_cookie.
// Relative paths resolve against the torrc's directory.
func cookieFromTorrc(torrcPath string) (string, bool) {
	data, err := os.ReadFile(torrcPath)
	if err != nil {
		log.Debugf("torrc %s unreadable: %v", torrcPath, err)
		return "", false
	}
	var dataDir, cookieFile string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		value := strings.Join(fields[1:], " ")
		switch {
		case strings.EqualFold(fields[0], "DataDirectory"):
			dataDir = value
		case strings.EqualFold(fields[0], "CookieAuthFile"):
			cookieFile = value
		}
	}
	base := filepath.Dir(torrcPath)
	if cookieFile != "" {
		return resolveRelative(base, cookieFile), true
	}
	if dataDir != "" {
		return filepath.Join(resolveRelative(base, dataDir), cookieName), true
	}
	return "", false
}

func resolveRelative(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
