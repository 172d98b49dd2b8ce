package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torvpn/pkg/config"
	"torvpn/pkg/model"
	"torvpn/pkg/torrc"
)

// TestHelperProcess stands in for tor when GO_WANT_HELPER_PROCESS is set.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("FAKE_TOR_MODE") {
	case "ready":
		fmt.Println("Oct 19 10:00:00.000 [notice] Tor 0.4.8 opening log file.")
		fmt.Println("Oct 19 10:00:01.000 [notice] Bootstrapped 5% (conn): Connecting to a relay")
		fmt.Println("Oct 19 10:00:02.000 [notice] Bootstrapped 50% (loading_descriptors): Loading relay descriptors")
		fmt.Println("Oct 19 10:00:03.000 [notice] Bootstrapped 100% (done): Done")
		time.Sleep(time.Minute)
	case "exit":
		fmt.Println("Oct 19 10:00:01.000 [notice] Bootstrapped 10% (conn_done): Connected to a relay")
		os.Exit(3)
	case "starting":
		fmt.Println("Oct 19 10:00:00.000 [notice] Bootstrapped 0% (starting): Starting")
		time.Sleep(time.Minute)
	case "hang":
		time.Sleep(time.Minute)
	}
	os.Exit(0)
}

type fakeTor struct {
	mu   sync.Mutex
	args [][]string
}

func useFakeTor(t *testing.T, mode string) *fakeTor {
	t.Helper()
	f := &fakeTor{}
	prev := execCommand
	execCommand = func(name string, args ...string) *exec.Cmd {
		f.mu.Lock()
		f.args = append(f.args, append([]string{name}, args...))
		f.mu.Unlock()
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FAKE_TOR_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() { execCommand = prev })
	return f
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StateDir: t.TempDir(),
		Tor: config.TorConfig{
			SocksPort:   9050,
			DNSPort:     5353,
			ControlPort: 9051,
			PathHint:    os.Args[0],
		},
		Timeouts: config.TimeoutConfig{Startup: 10 * time.Second, ControlIO: 5 * time.Second},
	}
}

func TestStartReachesReady(t *testing.T) {
	fake := useFakeTor(t, "ready")
	cfg := testConfig(t)

	p, err := Start(context.Background(), cfg, cfg.StateDir)
	require.NoError(t, err)
	defer p.Stop()

	st := p.State()
	assert.Equal(t, model.PhaseReady, st.Phase)
	assert.Equal(t, 100, st.Percent)
	assert.Equal(t, p.PID(), st.PID)

	rcPath := filepath.Join(cfg.StateDir, torrc.FileName)
	rc, err := os.ReadFile(rcPath)
	require.NoError(t, err)
	assert.Contains(t, string(rc), "SOCKSPort 127.0.0.1:9050\n")
	assert.DirExists(t, filepath.Join(cfg.StateDir, DataDirName))

	require.Len(t, fake.args, 1)
	assert.Equal(t, []string{"-f", rcPath}, fake.args[0][1:])

	p.Stop()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process not stopped")
	}
	assert.Equal(t, model.PhaseReady, p.State().Phase)
}

func TestZeroPercentEntersBootstrapping(t *testing.T) {
	useFakeTor(t, "starting")

	p, err := spawn(os.Args[0], filepath.Join(t.TempDir(), torrc.FileName))
	require.NoError(t, err)
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.State().Phase == model.PhaseBootstrapping
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, p.State().Percent)
}

func TestStartEarlyExit(t *testing.T) {
	useFakeTor(t, "exit")
	cfg := testConfig(t)

	_, err := Start(context.Background(), cfg, cfg.StateDir)
	var exited *ExitedError
	require.ErrorAs(t, err, &exited)
	assert.Equal(t, 3, exited.Code)
}

func TestBootstrapTimeoutKillsProcess(t *testing.T) {
	useFakeTor(t, "hang")
	p, err := spawn(os.Args[0], filepath.Join(t.TempDir(), torrc.FileName))
	require.NoError(t, err)

	err = p.waitBootstrap(context.Background(), 200*time.Millisecond)
	require.ErrorIs(t, err, ErrBootstrapTimeout)

	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process still running after timeout")
	}
	st := p.State()
	assert.Equal(t, model.PhaseFailed, st.Phase)
	assert.Equal(t, ErrBootstrapTimeout.Error(), st.Error)
}

func TestStartCancelled(t *testing.T) {
	useFakeTor(t, "hang")
	cfg := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := Start(ctx, cfg, cfg.StateDir)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartSpawnError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tor.PathHint = filepath.Join(t.TempDir(), "no-such-tor")

	_, err := Start(context.Background(), cfg, cfg.StateDir)
	var spawnErr *SpawnError
	assert.ErrorAs(t, err, &spawnErr)
}

func TestStartRenderError(t *testing.T) {
	useFakeTor(t, "ready")
	cfg := testConfig(t)
	cfg.Tor.ControlPort = 0

	_, err := Start(context.Background(), cfg, cfg.StateDir)
	var renderErr *torrc.RenderError
	require.True(t, errors.As(err, &renderErr), "got %v", err)
	assert.NoFileExists(t, filepath.Join(cfg.StateDir, torrc.FileName))
}

func TestParseBootstrapPercent(t *testing.T) {
	cases := []struct {
		line string
		want int
		ok   bool
	}{
		{"[notice] Bootstrapped 0% (starting): Starting", 0, true},
		{"[notice] Bootstrapped 45% (requesting_descriptors): Asking for relay descriptors", 45, true},
		{"[notice] Bootstrapped 100% (done): Done", 100, true},
		{"Bootstrapped  75 %", 75, true},
		{"Bootstrapped 100", 100, true},
		{"[notice] Opening Socks listener on 127.0.0.1:9050", 0, false},
		{"Bootstrapped abc%", 0, false},
		{"Bootstrapped 300%", 0, false},
		{"Bootstrapped -1%", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseBootstrapPercent(tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}
}
