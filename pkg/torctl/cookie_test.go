package torctl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, p string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("cookie"), 0o600))
	return p
}

func TestDiscoverCookieExplicitPathWins(t *testing.T) {
	dir := t.TempDir()
	explicit := touch(t, filepath.Join(dir, "explicit", "cookie"))
	torrc := filepath.Join(dir, "torrc")
	require.NoError(t, os.WriteFile(torrc, []byte("CookieAuthFile /elsewhere/cookie\n"), 0o644))
	touch(t, filepath.Join(dir, "state", "tor-data", "control_auth_cookie"))

	got, err := DiscoverCookie(filepath.Join(dir, "state"), CookieSources{CookiePath: explicit, TorrcPath: torrc})
	require.NoError(t, err)
	assert.Equal(t, explicit, got)
}

func TestDiscoverCookieMissingExplicitFallsThrough(t *testing.T) {
	state := t.TempDir()
	want := touch(t, filepath.Join(state, "control_auth_cookie"))

	got, err := DiscoverCookie(state, CookieSources{CookiePath: filepath.Join(state, "missing")})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDiscoverCookieTorrcPrefersCookieAuthFile(t *testing.T) {
	dir := t.TempDir()
	torrc := filepath.Join(dir, "conf", "torrc")
	require.NoError(t, os.MkdirAll(filepath.Dir(torrc), 0o755))
	body := "# generated\n" +
		"datadirectory  data   # relative\n" +
		"CookieAuthFile auth/cookie\n" +
		"SocksPort 9050\n"
	require.NoError(t, os.WriteFile(torrc, []byte(body), 0o644))

	got, err := DiscoverCookie(t.TempDir(), CookieSources{TorrcPath: torrc})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "conf", "auth", "cookie"), got)
}

func TestDiscoverCookieTorrcDataDirectory(t *testing.T) {
	dir := t.TempDir()
	torrc := filepath.Join(dir, "torrc")
	require.NoError(t, os.WriteFile(torrc, []byte("DataDirectory /var/lib/tor\n"), 0o644))

	got, err := DiscoverCookie(t.TempDir(), CookieSources{TorrcPath: torrc})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/lib/tor", "control_auth_cookie"), got)
}

func TestDiscoverCookieCandidateOrder(t *testing.T) {
	state := t.TempDir()
	touch(t, filepath.Join(state, "data", "control_auth_cookie"))
	first := touch(t, filepath.Join(state, "tor-data", "control_auth_cookie"))

	got, err := DiscoverCookie(state, CookieSources{})
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestDiscoverCookieNotFoundNamesSources(t *testing.T) {
	state := t.TempDir()
	torrc := filepath.Join(state, "torrc")
	require.NoError(t, os.WriteFile(torrc, []byte("SocksPort 9050\n"), 0o644))

	_, err := DiscoverCookie(state, CookieSources{CookiePath: "/nope/cookie", TorrcPath: torrc})
	require.ErrorIs(t, err, ErrCookieNotFound)
	var nf *CookieNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Len(t, nf.Tried, 5)
	assert.Contains(t, err.Error(), EnvCookiePath)
	assert.Contains(t, err.Error(), EnvTorrcPath)
	for _, c := range CandidatePaths(state) {
		assert.Contains(t, err.Error(), c)
	}
}

func TestCookieSourcesFromEnv(t *testing.T) {
	t.Setenv(EnvCookiePath, "/a")
	t.Setenv(EnvTorrcPath, "/b")
	assert.Equal(t, CookieSources{CookiePath: "/a", TorrcPath: "/b"}, CookieSourcesFromEnv())
}
