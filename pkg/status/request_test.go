package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRequest(t *testing.T) {
	raw := "POST /control/exitset?cc=US,de&token=abc HTTP/1.1\r\n" +
		"Host: 127.0.0.1:8787\r\n" +
		"X-Auth:  s3cret \r\n" +
		"\r\n" +
		"Authorization: Bearer ignored\r\n"
	req := ParseRequest([]byte(raw))

	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/control/exitset", req.Path)
	assert.Equal(t, "cc=US,de&token=abc", req.Query)
	assert.Len(t, req.Header, 2)

	v, ok := req.HeaderValue("x-auth")
	assert.True(t, ok)
	assert.Equal(t, "s3cret", v)
	_, ok = req.HeaderValue("Authorization")
	assert.False(t, ok)

	cc, _ := req.QueryValue("cc")
	assert.Equal(t, "US,de", cc)
	_, ok = req.QueryValue("missing")
	assert.False(t, ok)
}

func TestParseRequestSplitsAtFirstQuestionMark(t *testing.T) {
	req := ParseRequest([]byte("GET /status?a=1?b=2 HTTP/1.1\r\n\r\n"))
	assert.Equal(t, "/status", req.Path)
	assert.Equal(t, "a=1?b=2", req.Query)
}

func TestParseRequestLenient(t *testing.T) {
	req := ParseRequest([]byte{})
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/", req.Path)

	req = ParseRequest([]byte("GET /st\xffatus HTTP/1.1\n\n"))
	assert.Equal(t, "/st�atus", req.Path)

	req = ParseRequest([]byte("DELETE\r\n"))
	assert.Equal(t, "DELETE", req.Method)
	assert.Equal(t, "/", req.Path)
}
