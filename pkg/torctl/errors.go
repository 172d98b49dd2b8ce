package torctl

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCookieNotFound matches any CookieNotFoundError via errors.Is.
var ErrCookieNotFound = errors.New("control cookie not found")

// ConnectError is returned when the control port cannot be reached.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("connect %s: %v", e.Addr, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError is returned when AUTHENTICATE fails, either because the cookie could not be read
// or because tor answered with an error-class reply.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("control auth: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError carries a 4xx/5xx reply line (or a premature EOF) from the control port.
type ProtocolError struct {
	Line string
}

func (e *ProtocolError) Error() string { return "control error: " + e.Line }

// CookieNotFoundError lists every source tried during cookie discovery.
type CookieNotFoundError struct {
	Tried []string
}

func (e *CookieNotFoundError) Error() string {
	return "could not locate tor control_auth_cookie; tried " + strings.Join(e.Tried, ", ")
}

func (e *CookieNotFoundError) Is(target error) bool { return target == ErrCookieNotFound }
