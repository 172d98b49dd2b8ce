// Package torctltest provides a scripted tor control port for tests.
package torctltest

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// Server answers control commands with scripted replies and records what it received.
// Commands without a scripted reply get "250 OK".
type Server struct {
	Addr string

	ln       net.Listener
	mu       sync.Mutex
	commands []string
	replies  map[string]string
}

// NewServer starts a Server on 127.0.0.1 and stops it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{Addr: ln.Addr().String(), ln: ln, replies: map[string]string{}}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

// Reply scripts the raw reply (CRLF-terminated lines) for commands starting with prefix.
// The longest matching prefix wins.
func (s *Server) Reply(prefix, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[prefix] = raw
}

// Commands returns every command received so far, without line terminators.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		reply := "250 OK\r\n"
		best := -1
		for prefix, raw := range s.replies {
			if strings.HasPrefix(cmd, prefix) && len(prefix) > best {
				reply, best = raw, len(prefix)
			}
		}
		s.mu.Unlock()
		if _, err := c.Write([]byte(reply)); err != nil {
			return
		}
	}
}

// WriteCookie writes a 32-byte cookie into dir and returns its path.
func WriteCookie(t testing.TB, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "control_auth_cookie")
	cookie := make([]byte, 32)
	for i := range cookie {
		cookie[i] = byte(i)
	}
	if err := os.WriteFile(p, cookie, 0o600); err != nil {
		t.Fatalf("write cookie: %v", err)
	}
	return p
}
