// Package status serves the local status and control endpoint: one hand-parsed request per
// connection, answered with a JSON body.
package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/op/go-logging"

	"torvpn/pkg/config"
	"torvpn/pkg/journal"
	"torvpn/pkg/probe"
	"torvpn/pkg/ratelimit"
	"torvpn/pkg/store"
)

var log = logging.MustGetLogger("status")

const connTimeout = 2 * time.Minute

// ProbeFunc returns the current exit address.
type ProbeFunc func(ctx context.Context) (string, error)

// Deps are the collaborators of the server. Zero fields get defaults.
type Deps struct {
	Store   store.DocStore
	Journal journal.Journal
	Probe   ProbeFunc
	Now     func() time.Time
}

// Server answers status and control requests.
type Server struct {
	cfg      *config.Config
	stateDir string
	store    store.DocStore
	hopStore store.DocStore
	limiter  *ratelimit.Limiter
	journal  journal.Journal
	probe    ProbeFunc
	now      func() time.Time
}

// New builds a server for cfg.
func New(cfg *config.Config, stateDir string, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		stateDir: stateDir,
		store:    deps.Store,
		journal:  deps.Journal,
		probe:    deps.Probe,
		now:      deps.Now,
	}
	if s.store == nil {
		s.store = store.NewFileStore(stateDir)
	}
	// the scheduler may only write hop_state.json to the state dir
	s.hopStore = s.store
	if _, ok := s.store.(*store.FileStore); !ok {
		s.hopStore = store.Fallback{Primary: s.store, Secondary: store.NewFileStore(stateDir)}
	}
	if s.journal == nil {
		s.journal = journal.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.probe == nil {
		s.probe = func(ctx context.Context) (string, error) {
			return probe.ExitIP(ctx, probe.Config{Server: cfg.SocksAddr(), Timeout: cfg.Timeouts.Probe})
		}
	}
	s.limiter = ratelimit.New(s.store).WithClock(s.now)
	return s
}

// Listen binds cfg.Status.Listen and serves until ctx is done. It returns nil without
// binding when the status endpoint is disabled.
func Listen(ctx context.Context, cfg *config.Config, stateDir string, deps Deps) error {
	if !cfg.Status.Enabled {
		log.Info("status endpoint disabled")
		return nil
	}
	ln, err := net.Listen("tcp", cfg.Status.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Status.Listen, err)
	}
	log.Infof("status endpoint listening on %s", ln.Addr())
	return New(cfg, stateDir, deps).Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or the listener fails. Each
// connection is handled in its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Warningf("accept: %v", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic serving %s: %v", conn.RemoteAddr(), r)
		}
	}()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequest)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		log.Debugf("read from %s: %v", conn.RemoteAddr(), err)
		return
	}
	req := ParseRequest(buf[:n])
	req.Peer = conn.RemoteAddr().String()

	resp := s.route(ctx, req)
	log.Debugf("%s %s %s -> %d", req.Peer, req.Method, req.Path, resp.code)
	if err := resp.write(conn); err != nil {
		log.Debugf("write to %s: %v", req.Peer, err)
	}
}
