package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"hydronet/internal/persistence/archive"
	persistlog "hydronet/internal/persistence/log"
	"hydronet/internal/persistence/snapshot"
	"hydronet/internal/platform/config"
	"hydronet/internal/platform/otel"
	"hydronet/internal/sim/layout"
	"hydronet/internal/sim/tuning"
	"hydronet/internal/sim/world"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		config.Exitf("%v", err)
	}

	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		seed       = flag.Int64("seed", 1337, "world seed (used only when starting a fresh world)")
		configDir  = flag.String("configs", env.ConfigDir, "config directory")
		dataDir    = flag.String("data", env.DataDir, "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		layoutPath = flag.String("layout", "", "path to layout.yaml for fresh worlds (default: <configs>/layout.yaml)")
		disableDB  = flag.Bool("disable_db", env.DisableDB, "disable the sqlite read model")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signalContext()
	defer cancel()

	shutdownTracing, err := otel.Setup(ctx, otel.Config{
		ServiceName: env.ServiceName,
		Endpoint:    env.OTelEndpoint,
		Enabled:     env.OTelEnabled,
	})
	if err != nil {
		logger.Fatalf("otel: %v", err)
	}
	defer func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := shutdownTracing(ctx2); err != nil {
			logger.Printf("otel shutdown: %v", err)
		}
	}()

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(worldDir)
	}

	// Tuning is required for a fresh world. A resume takes its world
	// parameters from the snapshot, so a missing file falls back to defaults.
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" || !os.IsNotExist(tuneErr) {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	idx, err := openRuntimeIndex(worldDir, env.IndexBackend, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	cfg := world.ConfigFromTuning(*worldID, *seed, tune)
	var w *world.World
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, snap.Header.WorldID)
		}
		w = world.New(world.ConfigFromSnapshot(cfg, snap), logger)
		if err := w.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d devices=%d", filepath.Base(snapshotToLoad), w.CurrentTick(), len(snap.Devices))
	} else {
		w = world.New(cfg, logger)
		lp := strings.TrimSpace(*layoutPath)
		if lp == "" {
			lp = filepath.Join(*configDir, "layout.yaml")
		}
		l, err := layout.Load(lp)
		switch {
		case os.IsNotExist(err):
			logger.Printf("layout not found (%s); starting empty", lp)
		case err != nil:
			logger.Fatalf("load layout: %v", err)
		default:
			n, err := layout.Apply(w, l)
			if err != nil {
				logger.Printf("layout: %v", err)
			}
			logger.Printf("layout applied: %d edits from %s", n, filepath.Base(lp))
		}
	}

	tickLog := persistlog.NewTickLogger(worldDir)
	defer tickLog.Close()
	sinks := tickFanout{tickLog}
	if idx != nil {
		sinks = append(sinks, idx)
	}
	w.SetTickLogger(sinks)

	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go runSnapshotWriter(ctx, snapshotWriter{WorldDir: worldDir, ArchiveEvery: env.ArchiveEveryTicks, Index: idx, Log: logger}, snapCh)

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := newMux(w, routesConfig{
		WorldID:     *worldID,
		EnableAdmin: env.EnableAdminHTTP,
		Index:       idx,
		Log:         logger,
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s world=%s tick=%d", *addr, *worldID, w.CurrentTick())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

type snapshotWriter struct {
	WorldDir     string
	ArchiveEvery uint64
	Index        runtimeIndex
	Log          *log.Logger
}

func runSnapshotWriter(ctx context.Context, sw snapshotWriter, snaps <-chan snapshot.SnapshotV1) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snaps:
			path := filepath.Join(sw.WorldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				sw.Log.Printf("snapshot write: %v", err)
				continue
			}
			if sw.Index != nil {
				sw.Index.RecordSnapshot(path, snap)
				sw.Index.RecordSnapshotState(snap)
			}
			epoch, archived, ok, err := archive.ArchiveSnapshot(sw.WorldDir, path, snap, sw.ArchiveEvery)
			switch {
			case err != nil:
				sw.Log.Printf("snapshot archive: %v", err)
			case ok:
				sw.Log.Printf("archived epoch=%d tick=%d path=%s", epoch, snap.Header.Tick, archived)
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
