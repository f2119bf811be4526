package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"hydronet/internal/persistence/indexdb"
	"hydronet/internal/persistence/snapshot"
	"hydronet/internal/sim/tuning"
	"hydronet/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	Close() error
	UpsertTuning(tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecordSnapshotState(snap snapshot.SnapshotV1)
	RecentFailures(ctx context.Context, limit int) ([]world.DiscoveryFailure, error)
	Stats() indexdb.Stats
}

// openRuntimeIndex opens the read-model index. A nil index with a nil error
// means indexing is off.
func openRuntimeIndex(worldDir, backend string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "none", "off", "disabled":
		return nil, nil
	case "", "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		logger.Printf("index: sqlite %s", dbPath)
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported HYDRONET_INDEX_BACKEND=%q", backend)
	}
}

// tickFanout hands each entry to every non-nil sink. A failing sink does
// not stop the others.
type tickFanout []world.TickLogger

func (f tickFanout) WriteTick(entry world.TickLogEntry) error {
	var errs []error
	for _, l := range f {
		if l == nil {
			continue
		}
		if err := l.WriteTick(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
