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

var ErrVersion = errors.New("unsupported snapshot version")

type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Seq     uint64 `json:"seq"`
	Chunks  int    `json:"chunks"`
}

// WindowV1 is the resident terrain window of one run. Ground slices are not
// stored; they are rebuilt from the samples on import.
type WindowV1 struct {
	Header Header `json:"header"`

	Biome  string   `json:"biome"`
	Seed   int64    `json:"seed"`
	Next   int      `json:"next"`
	Params ParamsV1 `json:"params"`

	Chunks []ChunkV1 `json:"chunks"`
}

type ParamsV1 struct {
	ChunkWidth       float64 `json:"chunk_width"`
	Steps            int     `json:"steps"`
	Baseline         float64 `json:"baseline"`
	Bottom           float64 `json:"bottom"`
	LaunchPadSamples int     `json:"launch_pad_samples"`
}

type ChunkV1 struct {
	Index    int          `json:"index"`
	Samples  [][2]float64 `json:"samples"`
	Entities []EntityV1   `json:"entities,omitempty"`
}

type EntityV1 struct {
	Kind   string     `json:"kind"`
	Anchor [2]float64 `json:"anchor"`
	Pos    [2]float64 `json:"pos"`

	// Body shape: Radius for circles, W/H for boxes.
	Radius  float64 `json:"radius,omitempty"`
	W       float64 `json:"w,omitempty"`
	H       float64 `json:"h,omitempty"`
	Sensor  bool    `json:"sensor,omitempty"`
	Static  bool    `json:"static,omitempty"`
	Density float64 `json:"density,omitempty"`
	Fric    float64 `json:"friction,omitempty"`
}

// WriteSnapshot writes a zstd stream holding a JSON header line followed by
// the gob-encoded window.
func WriteSnapshot(path string, snap WindowV1) (err error) {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	snap.Header.Chunks = len(snap.Chunks)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (WindowV1, error) {
	var snap WindowV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	hb, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(hb, &h); err != nil {
		return snap, fmt.Errorf("parse header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the header line, for listing snapshots cheaply.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	hb, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(hb, &h); err != nil {
		return h, fmt.Errorf("parse header: %w", err)
	}
	return h, nil
}
