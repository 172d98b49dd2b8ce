package status

import (
	"strings"
	"unicode/utf8"
)

// maxRequest is the most the server reads from a connection. Anything beyond it is ignored.
const maxRequest = 1024

// Request is the part of an HTTP request the server looks at.
type Request struct {
	Method string
	Path   string
	Query  string // raw, without '?'
	Header []Header
	Peer   string
}

// Header is one "Name: value" line, in the order received.
type Header struct {
	Name  string
	Value string
}

// ParseRequest reads the request line and headers from raw. Invalid UTF-8 is replaced,
// missing parts default to "GET /".
func ParseRequest(raw []byte) Request {
	text := strings.ToValidUTF8(string(raw), string(utf8.RuneError))
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	req := Request{Method: "GET", Path: "/"}
	fields := strings.Fields(lines[0])
	if len(fields) > 0 {
		req.Method = fields[0]
	}
	if len(fields) > 1 {
		req.Path, req.Query, _ = strings.Cut(fields[1], "?")
	}
	for _, l := range lines[1:] {
		l = strings.TrimSpace(l)
		if l == "" {
			break
		}
		name, value, ok := strings.Cut(l, ":")
		if !ok {
			continue
		}
		req.Header = append(req.Header, Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return req
}

// HeaderValue returns the first header named name, case-insensitively.
func (r Request) HeaderValue(name string) (string, bool) {
	for _, h := range r.Header {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// QueryValue returns the first key=value pair for key. Values are not unescaped.
func (r Request) QueryValue(key string) (string, bool) {
	if r.Query == "" {
		return "", false
	}
	for _, pair := range strings.Split(r.Query, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}
