// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

// package snapshot moves the whole release catalog in and out of a single
// file, for backups and for seeding a second workstation. Snapshots are
// zstd-compressed YAML; plain YAML is accepted on read so a hand-edited
// snapshot can be restored too.
package snapshot // import "github.com/toeirei/shipyard/internal/snapshot"

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/klauspost/compress/zstd"
	"github.com/toeirei/shipyard/internal/db"
	"github.com/toeirei/shipyard/internal/model"
)

// zstdMagic is the frame header every zstd stream starts with.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Export writes the catalog to outPath as zstd-compressed YAML. The file
// is written to a temporary name first and renamed into place.
func Export(s db.Store, outPath string) error {
	snap, err := s.ExportSnapshot()
	if err != nil {
		return fmt.Errorf("export catalog: %w", err)
	}

	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmp := outPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("finish snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, outPath)
}

// Load reads a snapshot file, transparently decompressing zstd.
func Load(path string) (*model.SnapshotData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if bytes.HasPrefix(data, zstdMagic) {
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("open snapshot decoder: %w", err)
		}
		defer zr.Close()
		data, err = zr.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress snapshot: %w", err)
		}
	}

	var snap model.SnapshotData
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}

// Import restores the catalog from a snapshot file, replacing everything.
func Import(s db.Store, path string) error {
	snap, err := Load(path)
	if err != nil {
		return err
	}
	return s.ImportSnapshot(snap)
}

// Integrate merges a snapshot file into the catalog without touching
// existing records.
func Integrate(s db.Store, path string) error {
	snap, err := Load(path)
	if err != nil {
		return err
	}
	return s.IntegrateSnapshot(snap)
}
