package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"hydronet/internal/sim/world/logic/ids"
)

const dbUsage = "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-tick T] [-pos x,y,z] snapshots|networks|ticks|events|failures"

func dbCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("db", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	tick := fs.Uint64("tick", 0, "snapshot tick for networks (optional; defaults to latest)")
	limit := fs.Int("limit", 20, "result limit")
	pos := fs.String("pos", "", "position filter x,y,z (events)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			return fmt.Errorf("%w: missing -world or -db", errUsage)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,seed,devices,networks,next_network_id,total_volume FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick          uint64  `json:"tick"`
				Path          string  `json:"path"`
				Seed          int64   `json:"seed"`
				Devices       int     `json:"devices"`
				Networks      int     `json:"networks"`
				NextNetworkID uint64  `json:"next_network_id"`
				TotalVolume   float64 `json:"total_volume"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.Seed, &r.Devices, &r.Networks, &r.NextNetworkID, &r.TotalVolume); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "networks":
		if *tick == 0 {
			lt, err := latestSnapshotTick(db)
			if err != nil {
				return fmt.Errorf("latest tick: %w", err)
			}
			if lt == 0 {
				return fmt.Errorf("%w: no snapshots found", errUsage)
			}
			*tick = lt
		}
		rows, err := db.Query(`SELECT network_id,members,volume FROM snapshot_networks WHERE tick=? ORDER BY network_id`, *tick)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick      uint64  `json:"tick"`
				NetworkID uint64  `json:"network_id"`
				Members   int     `json:"members"`
				Volume    float64 `json:"volume"`
			}
			if err := rows.Scan(&r.NetworkID, &r.Members, &r.Volume); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.Tick = *tick
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,devices,networks,intents,transfers,moved,total_volume,events FROM ticks ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick        uint64  `json:"tick"`
				Digest      string  `json:"digest"`
				Devices     int     `json:"devices"`
				Networks    int     `json:"networks"`
				Intents     int     `json:"intents"`
				Transfers   int     `json:"transfers"`
				Moved       float64 `json:"moved"`
				TotalVolume float64 `json:"total_volume"`
				Events      int     `json:"events"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Devices, &r.Networks, &r.Intents, &r.Transfers, &r.Moved, &r.TotalVolume, &r.Events); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "events":
		query := `SELECT tick,seq,kind,x,y,z,device,ok,error FROM events ORDER BY tick DESC, seq DESC LIMIT ?`
		qargs := []any{*limit}
		if strings.TrimSpace(*pos) != "" {
			p, err := ids.ParsePos(*pos)
			if err != nil {
				return fmt.Errorf("%w: bad -pos: %v", errUsage, err)
			}
			query = `SELECT tick,seq,kind,x,y,z,device,ok,error FROM events WHERE x=? AND z=? AND y=? ORDER BY tick DESC, seq DESC LIMIT ?`
			qargs = []any{p[0], p[2], p[1], *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				r struct {
					Tick   uint64 `json:"tick"`
					Seq    int    `json:"seq"`
					Kind   string `json:"kind"`
					Pos    [3]int `json:"pos"`
					Device string `json:"device,omitempty"`
					OK     bool   `json:"ok"`
					Error  string `json:"error,omitempty"`
				}
				device, errText sql.NullString
				ok             int
			)
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Kind, &r.Pos[0], &r.Pos[1], &r.Pos[2], &device, &ok, &errText); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.Device = device.String
			r.Error = errText.String
			r.OK = ok != 0
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "failures":
		rows, err := db.Query(`SELECT tick,x,y,z,reason FROM discovery_failures ORDER BY tick DESC, seq DESC LIMIT ?`, *limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick   uint64 `json:"tick"`
				Pos    [3]int `json:"pos"`
				Reason string `json:"reason"`
			}
			if err := rows.Scan(&r.Tick, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.Reason); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("%w: unknown query %q\n%s", errUsage, q, dbUsage)
	}
}

func latestSnapshotTick(db *sql.DB) (uint64, error) {
	var t int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(tick),0) FROM snapshots`).Scan(&t); err != nil {
		return 0, err
	}
	if t < 0 {
		return 0, nil
	}
	return uint64(t), nil
}
