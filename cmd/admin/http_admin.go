package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hydronet/internal/protocol"
	"hydronet/internal/sim/world/logic/ids"
)

func stateCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("state", flag.ContinueOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	req, _ := http.NewRequest(http.MethodGet, adminURL(*baseURL, "state"), nil)
	return doAdmin(req, 5*time.Second, out)
}

func snapshotCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	req, _ := http.NewRequest(http.MethodPost, adminURL(*baseURL, "snapshot"), nil)
	return doAdmin(req, 10*time.Second, out)
}

// editCmd posts a single PLACE/REMOVE/VALVE/PUMP edit to the server.
func editCmd(op string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(op, flag.ContinueOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	pos := fs.String("pos", "", "device position x,y,z (required)")
	kind := fs.String("kind", "", "device kind for place (PIPE, TANK, VALVE, WELL, PUMP)")
	facing := fs.String("facing", "", "facing for place (optional)")
	connectors := fs.String("connectors", "", "comma separated connector faces for place (optional)")
	on := fs.Bool("on", false, "valve open / pump active")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if strings.TrimSpace(*pos) == "" {
		return fmt.Errorf("%w: missing -pos", errUsage)
	}
	p, err := ids.ParsePos(*pos)
	if err != nil {
		return fmt.Errorf("%w: bad -pos: %v", errUsage, err)
	}

	body := protocol.EditRequest{
		Type:            strings.ToUpper(op),
		ProtocolVersion: protocol.Version,
		Pos:             p,
		Kind:            strings.ToUpper(strings.TrimSpace(*kind)),
		Facing:          strings.ToUpper(strings.TrimSpace(*facing)),
		On:              *on,
	}
	for _, c := range strings.Split(*connectors, ",") {
		if c = strings.TrimSpace(c); c != "" {
			body.Connectors = append(body.Connectors, strings.ToUpper(c))
		}
	}
	if body.Type == protocol.TypePlace && body.Kind == "" {
		return fmt.Errorf("%w: place needs -kind", errUsage)
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, _ := http.NewRequest(http.MethodPost, adminURL(*baseURL, op), bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return doAdmin(req, 10*time.Second, out)
}

func adminURL(base, name string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/v1/admin/" + name
}

func doAdmin(req *http.Request, timeout time.Duration, out io.Writer) error {
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(out, strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return nil
}
