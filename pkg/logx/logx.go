// Package logx wires the go-logging backend shared by every torvpn package.
package logx

import (
	"io"
	"os"
	"strings"

	"github.com/op/go-logging"
)

const format = `%{time:2006-01-02 15:04:05} %{level:.5s} %{module:-10s} %{message}`

// Init receives the log level as a string (DEBUG, INFO, WARNING, ERROR) and installs a
// leveled backend writing to stdout. An unknown level returns an error and leaves the
// previous backend in place.
func Init(level string) error {
	return InitWriter(os.Stdout, level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level string) error {
	if strings.TrimSpace(level) == "" {
		level = "INFO"
	}
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return err
	}
	backend := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(backend, logging.MustStringFormatter(format))
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(lvl, "")
	logging.SetBackend(leveled)
	return nil
}
