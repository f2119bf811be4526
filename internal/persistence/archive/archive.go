// Package archive keeps long-lived copies of snapshots at fixed tick
// intervals, outside the regular snapshots/ directory.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"hydronet/internal/persistence/snapshot"
)

type Meta struct {
	Epoch       int     `json:"epoch"`
	EndTick     uint64  `json:"end_tick"`
	EveryTicks  uint64  `json:"every_ticks"`
	Seed        int64   `json:"seed"`
	Snapshot    string  `json:"snapshot"`
	CreatedAt   string  `json:"created_at"`
	Devices     int     `json:"devices"`
	Networks    int     `json:"networks"`
	TotalVolume float64 `json:"total_volume"`
}

// ArchiveSnapshot copies the snapshot into worldDir/archives/epoch_<NNN>/
// when it closes an epoch of everyTicks ticks. A snapshot at tick T covers
// ticks 0..T, so the epoch boundary is (T+1) % everyTicks == 0.
func ArchiveSnapshot(worldDir, snapshotPath string, snap snapshot.SnapshotV1, everyTicks uint64) (epoch int, archivedPath string, archived bool, err error) {
	if everyTicks == 0 || (snap.Header.Tick+1)%everyTicks != 0 {
		return 0, "", false, nil
	}
	epoch = int((snap.Header.Tick + 1) / everyTicks)

	dir := filepath.Join(worldDir, "archives", fmt.Sprintf("epoch_%03d", epoch))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", false, err
	}
	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := Meta{
		Epoch:      epoch,
		EndTick:    snap.Header.Tick,
		EveryTicks: everyTicks,
		Seed:       snap.Seed,
		Snapshot:   filepath.Base(dst),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Devices:    len(snap.Devices),
	}
	nets := map[uint64]struct{}{}
	for _, d := range snap.Devices {
		meta.TotalVolume += d.Volume
		if d.NetworkID != 0 {
			nets[d.NetworkID] = struct{}{}
		}
	}
	meta.Networks = len(nets)
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return 0, "", false, err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return 0, "", false, err
	}
	return epoch, dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
