package status

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type errorBody struct {
	Error string `json:"error"`
}

var okBody = map[string]bool{"ok": true}

// response is a status code plus a JSON-encodable body.
type response struct {
	code int
	body interface{}
}

func reply(code int, body interface{}) response { return response{code: code, body: body} }

func replyError(code int, msg string) response { return reply(code, errorBody{Error: msg}) }

// write renders r as a complete HTTP/1.1 response.
func (r response) write(w io.Writer) error {
	body, err := json.Marshal(r.body)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	text := http.StatusText(r.code)
	if text == "" {
		text = "OK"
	}
	_, err = fmt.Fprintf(w,
		"HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		r.code, text, len(body), body)
	return err
}
