// Package probetest provides a scripted SOCKS5 server that tunnels to a canned HTTP
// response, for testing exit probes.
package probetest

import (
	"io"
	"net"
	"sync"
	"testing"
)

// Script controls the server's answers. Zero values produce a well-behaved server that
// returns "203.0.113.77" with an IPv4 bound address.
type Script struct {
	Method   byte   // selected method, default 0x00
	Rep      byte   // CONNECT reply code, default 0x00
	Atyp     byte   // bound address type, default IPv4
	Response string // raw HTTP response; default is a 200 with body "203.0.113.77\n"
}

// Server is a single-purpose SOCKS5 endpoint.
type Server struct {
	Addr string

	script Script
	mu     sync.Mutex
	hosts  []string
	ports  []int
}

// NewServer starts a Server on 127.0.0.1 and closes it when the test ends.
func NewServer(t testing.TB, script Script) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if script.Atyp == 0 {
		script.Atyp = 0x01
	}
	if script.Response == "" {
		script.Response = "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nConnection: close\r\n\r\n203.0.113.77\n"
	}
	s := &Server{Addr: ln.Addr().String(), script: script}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handle(c)
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

// Targets returns the host:port pairs requested via CONNECT.
func (s *Server) Targets() ([]string, []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hosts...), append([]int(nil), s.ports...)
}

func (s *Server) handle(c net.Conn) {
	defer c.Close()
	var greet [3]byte
	if _, err := io.ReadFull(c, greet[:]); err != nil {
		return
	}
	if _, err := c.Write([]byte{0x05, s.script.Method}); err != nil || s.script.Method != 0x00 {
		return
	}
	var hdr [5]byte
	if _, err := io.ReadFull(c, hdr[:]); err != nil {
		return
	}
	name := make([]byte, int(hdr[4])+2)
	if _, err := io.ReadFull(c, name); err != nil {
		return
	}
	s.mu.Lock()
	s.hosts = append(s.hosts, string(name[:len(name)-2]))
	s.ports = append(s.ports, int(name[len(name)-2])<<8|int(name[len(name)-1]))
	s.mu.Unlock()

	reply := []byte{0x05, s.script.Rep, 0x00, s.script.Atyp}
	switch s.script.Atyp {
	case 0x01:
		reply = append(reply, 127, 0, 0, 1, 0x1f, 0x90)
	case 0x03:
		reply = append(reply, 9)
		reply = append(reply, "localhost"...)
		reply = append(reply, 0x1f, 0x90)
	case 0x04:
		reply = append(reply, make([]byte, 16)...)
		reply = append(reply, 0x1f, 0x90)
	}
	if _, err := c.Write(reply); err != nil || s.script.Rep != 0x00 {
		return
	}
	buf := make([]byte, 1024)
	if _, err := c.Read(buf); err != nil {
		return
	}
	_, _ = io.WriteString(c, s.script.Response)
}
