package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"torvpn/pkg/version"
)

const usage = `usage: torvpnctl [flags] <command>

commands:
  status            current hop, ports and exit address
  plan              hop plan position and upcoming hops
  health            tor health summary
  circuits          tor circuit listing
  journal [N]       the N most recent audit entries
  exitset CC[,CC]   restrict exits to the given countries
  exitclear         remove the exit restriction
`

func main() {
	defaultAddr := os.Getenv("TORVPN_STATUS_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:8787"
	}
	fs := pflag.NewFlagSet("torvpnctl", pflag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "status endpoint host:port (env TORVPN_STATUS_ADDR)")
	token := fs.String("token", os.Getenv("TORVPN_STATUS_TOKEN"), "status token for non-loopback endpoints (env TORVPN_STATUS_TOKEN)")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	showVersion := fs.BoolP("version", "v", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage, "\nflags:\n", fs.FlagUsages())
	}
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("torvpnctl version=%s\n", version.Build)
		return
	}

	method, path, err := requestFor(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		os.Exit(2)
	}

	client := &http.Client{Timeout: *timeout}
	code, body, err := call(client, method, "http://"+*addr+path, *token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		body = pretty.Bytes()
	}
	fmt.Println(string(body))
	if code != http.StatusOK {
		os.Exit(1)
	}
}

// requestFor maps a command line to a method and request target.
func requestFor(args []string) (string, string, error) {
	if len(args) == 0 {
		return "", "", fmt.Errorf("missing command")
	}
	switch args[0] {
	case "status":
		return http.MethodGet, "/status", nil
	case "plan":
		return http.MethodGet, "/status/plan", nil
	case "health":
		return http.MethodGet, "/status/health", nil
	case "circuits":
		return http.MethodGet, "/status/circuits", nil
	case "journal":
		if len(args) < 2 {
			return http.MethodGet, "/status/journal", nil
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return "", "", fmt.Errorf("invalid journal limit %q", args[1])
		}
		return http.MethodGet, "/status/journal?limit=" + strconv.Itoa(n), nil
	case "exitclear":
		return http.MethodPost, "/control/exitclear", nil
	case "exitset":
		if len(args) < 2 {
			return "", "", fmt.Errorf("exitset needs a country list, e.g. exitset us,de")
		}
		var codes []string
		for _, part := range strings.Split(strings.Join(args[1:], ","), ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if !isCountryCode(part) {
				return "", "", fmt.Errorf("invalid country code %q", part)
			}
			codes = append(codes, part)
		}
		// the endpoint does not unescape queries, so codes are sent verbatim
		return http.MethodPost, "/control/exitset?cc=" + strings.Join(codes, ","), nil
	}
	return "", "", fmt.Errorf("unknown command %q", args[0])
}

func isCountryCode(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return s != ""
}

func call(client *http.Client, method, target, token string) (int, []byte, error) {
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}
