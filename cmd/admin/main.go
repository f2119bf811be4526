package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// errUsage marks argument errors; main exits 2 for them.
var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "admin:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) >= 1 {
		switch args[0] {
		case "db":
			return dbCmd(args[1:], out)
		case "state":
			return stateCmd(args[1:], out)
		case "snapshot":
			return snapshotCmd(args[1:], out)
		case "place", "remove", "valve", "pump":
			return editCmd(args[0], args[1:], out)
		case "snapshots":
			return snapshotsCmd(args[1:], out)
		}
	}
	return listCmd(args, out)
}

func listCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	for _, e := range entries {
		fmt.Fprintln(out, e.Name())
	}
	return nil
}

// snapshotsCmd lists snapshot files on disk, oldest first.
func snapshotsCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("snapshots", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if strings.TrimSpace(*worldID) == "" {
		return fmt.Errorf("%w: missing -world", errUsage)
	}
	ticks, err := snapshotTicks(filepath.Join(*dataDir, "worlds", *worldID))
	if err != nil {
		return err
	}
	for _, t := range ticks {
		fmt.Fprintf(out, "%d\n", t)
	}
	return nil
}

func snapshotTicks(worldDir string) ([]uint64, error) {
	ents, err := os.ReadDir(filepath.Join(worldDir, "snapshots"))
	if err != nil {
		return nil, err
	}
	var ticks []uint64
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		ticks = append(ticks, tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks, nil
}
