package torctl

import "strings"

type replyKind int

const (
	replyOther replyKind = iota
	replyContinue
	replyDone
	replyError
)

// classify maps a raw reply line (terminator included) to its kind.
func classify(line string) replyKind {
	switch {
	case strings.HasPrefix(line, "250 "), strings.TrimSpace(line) == "250 OK":
		return replyDone
	case strings.HasPrefix(line, "250-"):
		return replyContinue
	case strings.HasPrefix(line, "4"), strings.HasPrefix(line, "5"):
		return replyError
	}
	return replyOther
}

// payload strips the 4-byte status prefix. The line terminator is kept as received.
func payload(line string) string {
	if len(line) < 4 {
		return ""
	}
	return line[4:]
}
