// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"os/user"
	"time"

	"github.com/toeirei/shipyard/internal/model"
	"github.com/uptrace/bun"
)

// dateLayout is how changelog dates are stored; a plain calendar date is
// all the changelog table carries.
const dateLayout = "2006-01-02"

// ReleaseModel maps the `releases` table for Bun queries.
type ReleaseModel struct {
	bun.BaseModel `bun:"table:releases"`
	ID            int            `bun:"id,pk,autoincrement"`
	Version       string         `bun:"version"`
	Channel       string         `bun:"channel"`
	Notes         sql.NullString `bun:"notes"`
	Status        string         `bun:"status"`
	CreatedAt     time.Time      `bun:"created_at"`
}

// ArtifactModel maps the `artifacts` table.
type ArtifactModel struct {
	bun.BaseModel `bun:"table:artifacts"`
	ID            int       `bun:"id,pk,autoincrement"`
	ReleaseID     int       `bun:"release_id"`
	Kind          string    `bun:"kind"`
	Name          string    `bun:"name"`
	SourcePath    string    `bun:"source_path"`
	ArchivePath   string    `bun:"archive_path"`
	Size          int64     `bun:"size"`
	Digest        string    `bun:"digest"`
	BuiltAt       time.Time `bun:"built_at"`
}

// ChangelogModel maps the `changelog` table.
type ChangelogModel struct {
	bun.BaseModel `bun:"table:changelog"`
	ID            int    `bun:"id,pk,autoincrement"`
	EntryDate     string `bun:"entry_date"`
	Version       string `bun:"version"`
	Description   string `bun:"description"`
}

// KnownHostModel maps known_hosts.
type KnownHostModel struct {
	bun.BaseModel `bun:"table:known_hosts"`
	Hostname      string `bun:"hostname,pk"`
	Key           string `bun:"key"`
}

// UploadModel maps the `uploads` table.
type UploadModel struct {
	bun.BaseModel `bun:"table:uploads"`
	ID            int       `bun:"id,pk,autoincrement"`
	ArtifactID    int       `bun:"artifact_id"`
	Digest        string    `bun:"digest"`
	Host          string    `bun:"host"`
	RemotePath    string    `bun:"remote_path"`
	UploadedAt    time.Time `bun:"uploaded_at"`
	Verified      bool      `bun:"verified"`
}

// AuditLogModel maps the audit_log table.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int    `bun:"id,pk,autoincrement"`
	Timestamp     string `bun:"timestamp"`
	Username      string `bun:"username"`
	Action        string `bun:"action"`
	Details       string `bun:"details"`
}

// --- Mapping helpers (centralized conversions) ---

func releaseModelToModel(r ReleaseModel) model.Release {
	rel := model.Release{
		ID:        r.ID,
		Version:   r.Version,
		Channel:   r.Channel,
		Status:    model.ReleaseStatus(r.Status),
		CreatedAt: r.CreatedAt,
	}
	if r.Notes.Valid {
		rel.Notes = r.Notes.String
	}
	return rel
}

func artifactModelToModel(a ArtifactModel) model.Artifact {
	return model.Artifact{
		ID:          a.ID,
		ReleaseID:   a.ReleaseID,
		Kind:        model.ArtifactKind(a.Kind),
		Name:        a.Name,
		SourcePath:  a.SourcePath,
		ArchivePath: a.ArchivePath,
		Size:        a.Size,
		Digest:      a.Digest,
		BuiltAt:     a.BuiltAt,
	}
}

func changelogModelToModel(c ChangelogModel) model.ChangelogEntry {
	e := model.ChangelogEntry{ID: c.ID, Version: c.Version, Description: c.Description}
	if t, err := time.Parse(dateLayout, c.EntryDate); err == nil {
		e.Date = t
	}
	return e
}

func uploadModelToModel(u UploadModel) model.UploadRecord {
	return model.UploadRecord{
		ID:         u.ID,
		ArtifactID: u.ArtifactID,
		Digest:     u.Digest,
		Host:       u.Host,
		RemotePath: u.RemotePath,
		UploadedAt: u.UploadedAt,
		Verified:   u.Verified,
	}
}

// currentUsername resolves the OS user for audit rows. Falls back to
// "unknown" when the lookup fails (e.g., in minimal containers).
func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// --- Release helpers ---

// CreateReleaseBun inserts a new draft release and returns its ID.
func CreateReleaseBun(bdb *bun.DB, version, channel, notes string) (int, error) {
	ctx := context.Background()
	rm := &ReleaseModel{
		Version:   version,
		Channel:   channel,
		Notes:     sql.NullString{String: notes, Valid: notes != ""},
		Status:    string(model.StatusDraft),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := bdb.NewInsert().Model(rm).
		Column("version", "channel", "notes", "status", "created_at").
		Returning("id").Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	return rm.ID, nil
}

// GetReleaseBun returns the release with the given version, or ErrNotFound.
func GetReleaseBun(bdb *bun.DB, version string) (*model.Release, error) {
	ctx := context.Background()
	var rm ReleaseModel
	err := bdb.NewSelect().Model(&rm).Where("version = ?", version).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rel := releaseModelToModel(rm)

	arts, err := GetArtifactsForReleaseBun(bdb, rel.ID)
	if err != nil {
		return nil, err
	}
	rel.Artifacts = arts
	return &rel, nil
}

// GetAllReleasesBun returns all releases, most recent first.
func GetAllReleasesBun(bdb *bun.DB) ([]model.Release, error) {
	ctx := context.Background()
	var rms []ReleaseModel
	if err := bdb.NewSelect().Model(&rms).OrderExpr("created_at DESC, id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Release, 0, len(rms))
	for _, rm := range rms {
		out = append(out, releaseModelToModel(rm))
	}
	return out, nil
}

// UpdateReleaseStatusBun advances a release status, enforcing the
// forward-only lifecycle inside a transaction.
func UpdateReleaseStatusBun(bdb *bun.DB, id int, status model.ReleaseStatus) error {
	ctx := context.Background()
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	if err := QueryRawInto(ctx, tx, &current, "SELECT status FROM releases WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	if !model.ReleaseStatus(current).CanAdvanceTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, current, status)
	}

	if _, err := tx.NewUpdate().Model((*ReleaseModel)(nil)).
		Set("status = ?", string(status)).
		Where("id = ?", id).Exec(ctx); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Artifact helpers ---

// AddArtifactBun inserts an artifact row and returns its ID. A release can
// hold at most one artifact per kind; replacing means re-cutting.
func AddArtifactBun(bdb *bun.DB, a model.Artifact) (int, error) {
	ctx := context.Background()
	am := &ArtifactModel{
		ReleaseID:   a.ReleaseID,
		Kind:        string(a.Kind),
		Name:        a.Name,
		SourcePath:  a.SourcePath,
		ArchivePath: a.ArchivePath,
		Size:        a.Size,
		Digest:      a.Digest,
		BuiltAt:     a.BuiltAt.UTC(),
	}
	if _, err := bdb.NewInsert().Model(am).
		Column("release_id", "kind", "name", "source_path", "archive_path", "size", "digest", "built_at").
		Returning("id").Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	return am.ID, nil
}

// GetArtifactsForReleaseBun returns the artifacts of a release ordered by kind.
func GetArtifactsForReleaseBun(bdb *bun.DB, releaseID int) ([]model.Artifact, error) {
	ctx := context.Background()
	var ams []ArtifactModel
	if err := bdb.NewSelect().Model(&ams).Where("release_id = ?", releaseID).OrderExpr("kind").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Artifact, 0, len(ams))
	for _, am := range ams {
		out = append(out, artifactModelToModel(am))
	}
	return out, nil
}

// GetArtifactByDigestBun finds an artifact by digest, or ErrNotFound.
func GetArtifactByDigestBun(bdb *bun.DB, digest string) (*model.Artifact, error) {
	ctx := context.Background()
	var am ArtifactModel
	err := bdb.NewSelect().Model(&am).Where("digest = ?", digest).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a := artifactModelToModel(am)
	return &a, nil
}

// --- Changelog helpers ---

// AddChangelogEntryBun inserts one changelog row. Duplicate
// (version, description) pairs map to ErrDuplicate.
func AddChangelogEntryBun(bdb *bun.DB, date time.Time, version, description string) (int, error) {
	ctx := context.Background()
	cm := &ChangelogModel{
		EntryDate:   date.Format(dateLayout),
		Version:     version,
		Description: description,
	}
	if _, err := bdb.NewInsert().Model(cm).
		Column("entry_date", "version", "description").
		Returning("id").Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	return cm.ID, nil
}

// GetAllChangelogEntriesBun returns the changelog, most recent first.
func GetAllChangelogEntriesBun(bdb *bun.DB) ([]model.ChangelogEntry, error) {
	ctx := context.Background()
	var cms []ChangelogModel
	if err := bdb.NewSelect().Model(&cms).OrderExpr("entry_date DESC, id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.ChangelogEntry, 0, len(cms))
	for _, cm := range cms {
		out = append(out, changelogModelToModel(cm))
	}
	return out, nil
}

// --- Known host helpers ---

// GetKnownHostKeyBun returns the pinned key for a host; no key is not an
// error, it's a state.
func GetKnownHostKeyBun(bdb *bun.DB, hostname string) (string, error) {
	ctx := context.Background()
	var km KnownHostModel
	err := bdb.NewSelect().Model(&km).Where("hostname = ?", hostname).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return km.Key, nil
}

// AddKnownHostKeyBun pins (or re-pins) a host key. Delete-then-insert keeps
// the upsert portable across all three engines.
func AddKnownHostKeyBun(bdb *bun.DB, hostname, key string) error {
	ctx := context.Background()
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := ExecRaw(ctx, tx, "DELETE FROM known_hosts WHERE hostname = ?", hostname); err != nil {
		return err
	}
	if _, err := tx.NewInsert().Model(&KnownHostModel{Hostname: hostname, Key: key}).Exec(ctx); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Upload helpers ---

// RecordUploadBun inserts an upload record and returns its ID.
func RecordUploadBun(bdb *bun.DB, u model.UploadRecord) (int, error) {
	ctx := context.Background()
	um := &UploadModel{
		ArtifactID: u.ArtifactID,
		Digest:     u.Digest,
		Host:       u.Host,
		RemotePath: u.RemotePath,
		UploadedAt: u.UploadedAt.UTC(),
		Verified:   u.Verified,
	}
	if _, err := bdb.NewInsert().Model(um).
		Column("artifact_id", "digest", "host", "remote_path", "uploaded_at", "verified").
		Returning("id").Exec(ctx); err != nil {
		return 0, MapDBError(err)
	}
	return um.ID, nil
}

// MarkUploadVerifiedBun flags an upload as verified.
func MarkUploadVerifiedBun(bdb *bun.DB, id int) error {
	ctx := context.Background()
	res, err := bdb.NewUpdate().Model((*UploadModel)(nil)).
		Set("verified = ?", true).
		Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUploadsForArtifactBun returns upload records for an artifact, most recent first.
func GetUploadsForArtifactBun(bdb *bun.DB, artifactID int) ([]model.UploadRecord, error) {
	ctx := context.Background()
	var ums []UploadModel
	if err := bdb.NewSelect().Model(&ums).Where("artifact_id = ?", artifactID).OrderExpr("uploaded_at DESC, id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.UploadRecord, 0, len(ums))
	for _, um := range ums {
		out = append(out, uploadModelToModel(um))
	}
	return out, nil
}

// --- Audit log helpers ---

// LogActionBun records an audit trail event attributed to the OS user.
func LogActionBun(bdb *bun.DB, action, details string) error {
	ctx := context.Background()
	_, err := bdb.NewInsert().Model(&AuditLogModel{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Username:  currentUsername(),
		Action:    action,
		Details:   details,
	}).Column("timestamp", "username", "action", "details").Exec(ctx)
	return err
}

// GetAllAuditLogEntriesBun returns the audit log, most recent first.
func GetAllAuditLogEntriesBun(bdb *bun.DB) ([]model.AuditLogEntry, error) {
	ctx := context.Background()
	var ams []AuditLogModel
	if err := bdb.NewSelect().Model(&ams).OrderExpr("id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuditLogEntry, 0, len(ams))
	for _, am := range ams {
		out = append(out, model.AuditLogEntry{
			ID:        am.ID,
			Timestamp: am.Timestamp,
			Username:  am.Username,
			Action:    am.Action,
			Details:   am.Details,
		})
	}
	return out, nil
}
