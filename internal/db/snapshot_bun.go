// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/toeirei/shipyard/internal/model"
	"github.com/uptrace/bun"
)

// ExportSnapshotBun reads the whole catalog inside one transaction so the
// snapshot is a consistent view.
func ExportSnapshotBun(bdb *bun.DB) (*model.SnapshotData, error) {
	ctx := context.Background()
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	snap := &model.SnapshotData{}

	var rms []ReleaseModel
	if err := tx.NewSelect().Model(&rms).OrderExpr("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("snapshot releases: %w", err)
	}
	for _, rm := range rms {
		snap.Releases = append(snap.Releases, releaseModelToModel(rm))
	}

	var ams []ArtifactModel
	if err := tx.NewSelect().Model(&ams).OrderExpr("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("snapshot artifacts: %w", err)
	}
	for _, am := range ams {
		snap.Artifacts = append(snap.Artifacts, artifactModelToModel(am))
	}

	var cms []ChangelogModel
	if err := tx.NewSelect().Model(&cms).OrderExpr("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("snapshot changelog: %w", err)
	}
	for _, cm := range cms {
		snap.Changelog = append(snap.Changelog, changelogModelToModel(cm))
	}

	var kms []KnownHostModel
	if err := tx.NewSelect().Model(&kms).OrderExpr("hostname").Scan(ctx); err != nil {
		return nil, fmt.Errorf("snapshot known hosts: %w", err)
	}
	for _, km := range kms {
		snap.HostKeys = append(snap.HostKeys, model.HostKey{Hostname: km.Hostname, Key: km.Key})
	}

	var ums []UploadModel
	if err := tx.NewSelect().Model(&ums).OrderExpr("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("snapshot uploads: %w", err)
	}
	for _, um := range ums {
		snap.Uploads = append(snap.Uploads, uploadModelToModel(um))
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return snap, nil
}

// ImportSnapshotBun restores the catalog from a snapshot. It performs a
// full wipe-and-replace within a single transaction to ensure atomicity.
func ImportSnapshotBun(bdb *bun.DB, snap *model.SnapshotData) error {
	ctx := context.Background()
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Children first so foreign keys never dangle mid-import.
	for _, table := range []string{"uploads", "artifacts", "changelog", "known_hosts", "releases"} {
		if _, err := ExecRaw(ctx, tx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	// Old release IDs are remapped to the freshly assigned ones so artifact
	// and upload links survive the round trip.
	releaseIDs := make(map[int]int, len(snap.Releases))
	for _, r := range snap.Releases {
		rm := &ReleaseModel{
			Version:   r.Version,
			Channel:   r.Channel,
			Notes:     sql.NullString{String: r.Notes, Valid: r.Notes != ""},
			Status:    string(r.Status),
			CreatedAt: r.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(rm).
			Column("version", "channel", "notes", "status", "created_at").
			Returning("id").Exec(ctx); err != nil {
			return fmt.Errorf("failed to import release %s: %w", r.Version, err)
		}
		releaseIDs[r.ID] = rm.ID
	}

	artifactIDs := make(map[int]int, len(snap.Artifacts))
	for _, a := range snap.Artifacts {
		am := &ArtifactModel{
			ReleaseID:   releaseIDs[a.ReleaseID],
			Kind:        string(a.Kind),
			Name:        a.Name,
			SourcePath:  a.SourcePath,
			ArchivePath: a.ArchivePath,
			Size:        a.Size,
			Digest:      a.Digest,
			BuiltAt:     a.BuiltAt,
		}
		if _, err := tx.NewInsert().Model(am).
			Column("release_id", "kind", "name", "source_path", "archive_path", "size", "digest", "built_at").
			Returning("id").Exec(ctx); err != nil {
			return fmt.Errorf("failed to import artifact %s: %w", a.Name, err)
		}
		artifactIDs[a.ID] = am.ID
	}

	for _, c := range snap.Changelog {
		cm := &ChangelogModel{
			EntryDate:   c.Date.Format(dateLayout),
			Version:     c.Version,
			Description: c.Description,
		}
		if _, err := tx.NewInsert().Model(cm).
			Column("entry_date", "version", "description").Exec(ctx); err != nil {
			return fmt.Errorf("failed to import changelog entry for %s: %w", c.Version, err)
		}
	}

	for _, hk := range snap.HostKeys {
		if _, err := tx.NewInsert().Model(&KnownHostModel{Hostname: hk.Hostname, Key: hk.Key}).Exec(ctx); err != nil {
			return fmt.Errorf("failed to import host key for %s: %w", hk.Hostname, err)
		}
	}

	for _, u := range snap.Uploads {
		um := &UploadModel{
			ArtifactID: artifactIDs[u.ArtifactID],
			Digest:     u.Digest,
			Host:       u.Host,
			RemotePath: u.RemotePath,
			UploadedAt: u.UploadedAt,
			Verified:   u.Verified,
		}
		if _, err := tx.NewInsert().Model(um).
			Column("artifact_id", "digest", "host", "remote_path", "uploaded_at", "verified").Exec(ctx); err != nil {
			return fmt.Errorf("failed to import upload record: %w", err)
		}
	}

	return tx.Commit()
}

// IntegrateSnapshotBun merges a snapshot into the catalog in a
// non-destructive way, skipping releases, changelog entries and host keys
// that already exist.
func IntegrateSnapshotBun(bdb *bun.DB, snap *model.SnapshotData) error {
	ctx := context.Background()
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	releaseIDs := make(map[int]int, len(snap.Releases))
	skippedReleases := make(map[int]bool)
	for _, r := range snap.Releases {
		var existing int
		err := QueryRawInto(ctx, tx, &existing, "SELECT id FROM releases WHERE version = ?", r.Version)
		if err == nil {
			releaseIDs[r.ID] = existing
			skippedReleases[r.ID] = true
			continue
		}
		if err != sql.ErrNoRows {
			return err
		}
		rm := &ReleaseModel{
			Version:   r.Version,
			Channel:   r.Channel,
			Notes:     sql.NullString{String: r.Notes, Valid: r.Notes != ""},
			Status:    string(r.Status),
			CreatedAt: r.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(rm).
			Column("version", "channel", "notes", "status", "created_at").
			Returning("id").Exec(ctx); err != nil {
			return fmt.Errorf("failed to integrate release %s: %w", r.Version, err)
		}
		releaseIDs[r.ID] = rm.ID
	}

	for _, a := range snap.Artifacts {
		// Artifacts of a pre-existing release are left alone.
		if skippedReleases[a.ReleaseID] {
			continue
		}
		am := &ArtifactModel{
			ReleaseID:   releaseIDs[a.ReleaseID],
			Kind:        string(a.Kind),
			Name:        a.Name,
			SourcePath:  a.SourcePath,
			ArchivePath: a.ArchivePath,
			Size:        a.Size,
			Digest:      a.Digest,
			BuiltAt:     a.BuiltAt,
		}
		if _, err := tx.NewInsert().Model(am).
			Column("release_id", "kind", "name", "source_path", "archive_path", "size", "digest", "built_at").Exec(ctx); err != nil {
			if MapDBError(err) == ErrDuplicate {
				continue
			}
			return fmt.Errorf("failed to integrate artifact %s: %w", a.Name, err)
		}
	}

	for _, c := range snap.Changelog {
		cm := &ChangelogModel{
			EntryDate:   c.Date.Format(dateLayout),
			Version:     c.Version,
			Description: c.Description,
		}
		if _, err := tx.NewInsert().Model(cm).
			Column("entry_date", "version", "description").Exec(ctx); err != nil {
			if MapDBError(err) == ErrDuplicate {
				continue
			}
			return fmt.Errorf("failed to integrate changelog entry for %s: %w", c.Version, err)
		}
	}

	for _, hk := range snap.HostKeys {
		var existing string
		err := QueryRawInto(ctx, tx, &existing, "SELECT key FROM known_hosts WHERE hostname = ?", hk.Hostname)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return err
		}
		if _, err := tx.NewInsert().Model(&KnownHostModel{Hostname: hk.Hostname, Key: hk.Key}).Exec(ctx); err != nil {
			return fmt.Errorf("failed to integrate host key for %s: %w", hk.Hostname, err)
		}
	}

	return tx.Commit()
}
