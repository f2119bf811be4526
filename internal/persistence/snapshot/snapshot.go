package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 is the full persisted state of one world: its parameters, every
// placed device with the network id it belonged to, and the id counter.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed     int64   `json:"seed"`
	TickRate int     `json:"tick_rate_hz"`
	TickDT   float64 `json:"tick_dt"`

	Flow FlowV1 `json:"flow"`

	AquiferRegionSize  int `json:"aquifer_region_size,omitempty"`
	AquiferMinPermille int `json:"aquifer_min_permille,omitempty"`

	NextNetworkID uint64     `json:"next_network_id"`
	Devices       []DeviceV1 `json:"devices"`
	Counters      CountersV1 `json:"counters"`
}

type FlowV1 struct {
	BaseConductance float64 `json:"base_conductance"`
	MaxFlowPerTick  float64 `json:"max_flow_per_tick"`
	Damping         float64 `json:"damping"`
}

type DeviceV1 struct {
	Kind      string  `json:"kind"`
	Pos       [3]int  `json:"pos"`
	Facing    uint8   `json:"facing"`
	Volume    float64 `json:"volume"`
	Demand    float64 `json:"demand,omitempty"`
	NetworkID uint64  `json:"network_id,omitempty"`

	Open    bool    `json:"open,omitempty"`
	Active  bool    `json:"active,omitempty"`
	Counter float64 `json:"counter,omitempty"`
	Sealed  uint8   `json:"sealed,omitempty"`
}

type CountersV1 struct {
	Produced          float64 `json:"produced"`
	Extracted         float64 `json:"extracted"`
	Moved             float64 `json:"moved"`
	Transfers         uint64  `json:"transfers"`
	DiscoveryFailures uint64  `json:"discovery_failures"`
}

// WriteSnapshot writes a zstd stream holding a JSON header line followed by
// the gob-encoded snapshot. The file is written next to path and renamed
// into place so readers never see a partial snapshot.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	br, closeFn, err := open(path)
	if err != nil {
		return snap, err
	}
	defer closeFn()

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	br, closeFn, err := open(path)
	if err != nil {
		return h, err
	}
	defer closeFn()

	line, err := br.ReadBytes('\n')
	if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func open(path string) (*bufio.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return bufio.NewReaderSize(dec, 256*1024), func() {
		dec.Close()
		_ = f.Close()
	}, nil
}
