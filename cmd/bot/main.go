package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"hydronet/internal/observerproto"
	"hydronet/internal/protocol"
	"hydronet/internal/sim/world/logic/ids"
)

// options drive a small observer bot: it follows the TICK stream and can
// cycle one valve through the admin API to exercise splits and merges.
type options struct {
	URL      string
	AdminURL string
	Every    uint64
	Valve    *[3]int
	Cycle    uint64
	Networks []uint64
	MaxTicks int
}

func main() {
	var (
		url      = flag.String("url", "ws://127.0.0.1:8080/v1/observe", "observer ws url")
		adminURL = flag.String("admin", "http://127.0.0.1:8080", "server base url for admin edits")
		every    = flag.Uint64("every", 20, "log a summary every N ticks")
		valve    = flag.String("valve", "", "valve position x,y,z to cycle (optional)")
		cycle    = flag.Uint64("cycle", 100, "toggle the valve every N ticks")
		networks = flag.String("networks", "", "comma separated network ids to follow (default: all)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	o := options{URL: *url, AdminURL: *adminURL, Every: *every, Cycle: *cycle}
	if strings.TrimSpace(*valve) != "" {
		p, err := ids.ParsePos(*valve)
		if err != nil {
			logger.Fatalf("bad -valve: %v", err)
		}
		o.Valve = &p
	}
	for _, s := range strings.Split(*networks, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			logger.Fatalf("bad -networks: %v", err)
		}
		o.Networks = append(o.Networks, id)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, o, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(ctx context.Context, o options, logger *log.Logger) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, o.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Networks:        o.Networks,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("send SUBSCRIBE: %w", err)
	}

	cl := &http.Client{Timeout: 5 * time.Second}
	valveOpen := true
	seen := 0
	for {
		var msg observerproto.TickMsg
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if msg.Type != observerproto.TypeTick {
			continue
		}
		seen++

		if o.Every > 0 && msg.Tick%o.Every == 0 {
			logger.Printf("tick=%d devices=%d networks=%d volume=%.3f moved=%.3f", msg.Tick, msg.Devices, len(msg.Networks), msg.TotalVolume, msg.Moved)
		}
		for _, ev := range msg.Events {
			logger.Printf("event tick=%d kind=%s pos=%v ok=%v %s", msg.Tick, ev.Kind, ev.Pos, ev.OK, ev.Detail)
		}
		if o.Valve != nil && o.Cycle > 0 && msg.Tick%o.Cycle == 0 {
			if err := setValve(ctx, cl, o.AdminURL, *o.Valve, !valveOpen); err != nil {
				logger.Printf("valve: %v", err)
			} else {
				valveOpen = !valveOpen
			}
		}
		if o.MaxTicks > 0 && seen >= o.MaxTicks {
			return nil
		}
	}
}

func setValve(ctx context.Context, cl *http.Client, base string, pos [3]int, open bool) error {
	b, err := json.Marshal(protocol.EditRequest{
		Type:            protocol.TypeValve,
		ProtocolVersion: protocol.Version,
		Pos:             pos,
		On:              open,
	})
	if err != nil {
		return err
	}
	u := strings.TrimRight(strings.TrimSpace(base), "/") + "/v1/admin/valve"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := cl.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var out protocol.EditResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK || !out.OK {
		return fmt.Errorf("status=%d code=%s %s", resp.StatusCode, out.Code, out.Error)
	}
	return nil
}
