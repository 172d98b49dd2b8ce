// Package supervisor launches tor, follows its bootstrap progress and applies the startup
// exit and proxy policy over the control port.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/op/go-logging"

	"torvpn/pkg/config"
	"torvpn/pkg/model"
	"torvpn/pkg/torrc"
)

var log = logging.MustGetLogger("supervisor")

// DataDirName is tor's data directory inside the state directory.
const DataDirName = "tor-data"

// DefaultStartupTimeout bounds bootstrap when no timeout is configured.
const DefaultStartupTimeout = 3 * time.Minute

const stopGrace = 5 * time.Second

// execCommand is replaced in tests.
var execCommand = exec.Command

// Process is a running tor instance.
type Process struct {
	cmd *exec.Cmd

	mu    sync.Mutex
	state model.ProcessState

	ready    chan struct{}
	exited   chan struct{}
	stopping bool
}

// Start launches tor with a freshly rendered torrc and blocks until it reports 100%
// bootstrap, exits, or cfg.Timeouts.Startup elapses. On failure the process is not left
// running.
func Start(ctx context.Context, cfg *config.Config, stateDir string) (*Process, error) {
	path, err := FindTor(cfg.Tor.PathHint)
	if err != nil {
		return nil, &SpawnError{Err: err}
	}
	dataDir, err := filepath.Abs(filepath.Join(stateDir, DataDirName))
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	rc, err := torrc.Render(cfg.Tor, dataDir)
	if err != nil {
		return nil, err
	}
	rcPath := filepath.Join(stateDir, torrc.FileName)
	if err := os.WriteFile(rcPath, []byte(rc), 0o600); err != nil {
		return nil, fmt.Errorf("write torrc: %w", err)
	}

	p, err := spawn(path, rcPath)
	if err != nil {
		return nil, err
	}
	log.Infof("tor started pid=%d path=%s", p.cmd.Process.Pid, path)

	if err := p.waitBootstrap(ctx, cfg.Timeouts.Startup); err != nil {
		return nil, err
	}
	log.Infof("tor bootstrapped pid=%d", p.cmd.Process.Pid)
	return p, nil
}

// FindTor resolves the tor executable: hint if set, else tor.exe or tor on PATH.
func FindTor(hint string) (string, error) {
	if hint != "" {
		return exec.LookPath(hint)
	}
	path, err := exec.LookPath("tor.exe")
	if err == nil {
		return path, nil
	}
	return exec.LookPath("tor")
}

func spawn(path, rcPath string) (*Process, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}
	cmd := execCommand(path, "-f", rcPath)
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, &SpawnError{Path: path, Err: err}
	}
	_ = pw.Close()

	p := &Process{
		cmd:    cmd,
		state:  model.ProcessState{PID: cmd.Process.Pid, Phase: model.PhaseStarting},
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}
	go p.readOutput(pr)
	go p.watchExit()
	return p, nil
}

// readOutput follows bootstrap progress and keeps draining stdout after Ready so tor never
// blocks on a full pipe.
func (p *Process) readOutput(r io.ReadCloser) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	best := -1
	for sc.Scan() {
		pct, ok := ParseBootstrapPercent(sc.Text())
		if !ok || pct <= best {
			continue
		}
		best = pct
		log.Debugf("bootstrap %d%%", pct)
		p.mu.Lock()
		if p.state.Phase == model.PhaseStarting || p.state.Phase == model.PhaseBootstrapping {
			p.state.Phase = model.PhaseBootstrapping
			p.state.Percent = pct
		}
		p.mu.Unlock()
		if pct >= 100 {
			close(p.ready)
			break
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

func (p *Process) watchExit() {
	err := p.cmd.Wait()
	ps := p.cmd.ProcessState
	exitErr := &ExitedError{Code: ps.ExitCode(), Status: ps.String()}

	p.mu.Lock()
	if !p.stopping && p.state.Phase != model.PhaseFailed {
		p.state.Phase = model.PhaseFailed
		p.state.Error = exitErr.Error()
		log.Warningf("tor pid=%d exited: %v", p.state.PID, err)
	}
	p.mu.Unlock()
	close(p.exited)
}

func (p *Process) waitBootstrap(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.ready:
		p.setReady()
		return nil
	case <-p.exited:
		select {
		case <-p.ready:
			p.setReady()
			return nil
		default:
		}
		ps := p.cmd.ProcessState
		return &ExitedError{Code: ps.ExitCode(), Status: ps.String()}
	case <-timer.C:
		p.fail(ErrBootstrapTimeout)
		p.kill()
		return ErrBootstrapTimeout
	case <-ctx.Done():
		p.fail(ctx.Err())
		p.kill()
		return ctx.Err()
	}
}

func (p *Process) setReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Phase != model.PhaseFailed {
		p.state.Phase = model.PhaseReady
		p.state.Percent = 100
	}
}

func (p *Process) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Phase = model.PhaseFailed
	p.state.Error = err.Error()
}

func (p *Process) kill() {
	if err := p.cmd.Process.Kill(); err != nil {
		log.Debugf("kill tor: %v", err)
	}
	<-p.exited
}

// PID returns the operating-system process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// State returns a snapshot of the lifecycle state.
func (p *Process) State() model.ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.exited }

// Stop asks tor to exit and kills it if it has not done so within a grace period.
func (p *Process) Stop() {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()

	select {
	case <-p.exited:
		return
	default:
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		p.kill()
		return
	}
	select {
	case <-p.exited:
	case <-time.After(stopGrace):
		log.Warningf("tor pid=%d ignored interrupt, killing", p.PID())
		p.kill()
	}
}

// ParseBootstrapPercent extracts N from a log line containing "Bootstrapped N%".
func ParseBootstrapPercent(line string) (int, bool) {
	const marker = "Bootstrapped "
	i := strings.Index(line, marker)
	if i < 0 {
		return 0, false
	}
	rest := line[i+len(marker):]
	if j := strings.IndexByte(rest, '%'); j >= 0 {
		rest = rest[:j]
	}
	v, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 8)
	if err != nil {
		return 0, false
	}
	return int(v), true
}
