// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

// This file contains the shared Bun-backed implementation of the Store
// interface. The per-engine store types embed bunStore and override only
// what their engine needs.
package db

import (
	"fmt"
	"time"

	"github.com/toeirei/shipyard/internal/model"
	"github.com/uptrace/bun"
)

// bunStore implements Store on top of a *bun.DB. Every mutating operation
// writes an audit_log row; reads never do.
type bunStore struct {
	bun *bun.DB
}

// CreateRelease records a new draft release and returns its ID.
func (s *bunStore) CreateRelease(version, channel, notes string) (int, error) {
	id, err := CreateReleaseBun(s.bun, version, channel, notes)
	if err == nil {
		_ = s.LogAction("CREATE_RELEASE", fmt.Sprintf("version: %s, channel: %s", version, channel))
	}
	return id, err
}

// GetRelease retrieves a release (with artifacts) by version.
func (s *bunStore) GetRelease(version string) (*model.Release, error) {
	return GetReleaseBun(s.bun, version)
}

// GetAllReleases retrieves all releases, most recent first.
func (s *bunStore) GetAllReleases() ([]model.Release, error) {
	return GetAllReleasesBun(s.bun)
}

// UpdateReleaseStatus advances a release status (forward only).
func (s *bunStore) UpdateReleaseStatus(id int, status model.ReleaseStatus) error {
	err := UpdateReleaseStatusBun(s.bun, id, status)
	if err == nil {
		_ = s.LogAction("UPDATE_RELEASE_STATUS", fmt.Sprintf("release_id: %d, status: %s", id, status))
	}
	return err
}

// AddArtifact records a packaged artifact.
func (s *bunStore) AddArtifact(a model.Artifact) (int, error) {
	id, err := AddArtifactBun(s.bun, a)
	if err == nil {
		_ = s.LogAction("ADD_ARTIFACT", fmt.Sprintf("kind: %s, name: %s, digest: %s", a.Kind, a.Name, a.Digest))
	}
	return id, err
}

// GetArtifactsForRelease retrieves the artifacts of a release.
func (s *bunStore) GetArtifactsForRelease(releaseID int) ([]model.Artifact, error) {
	return GetArtifactsForReleaseBun(s.bun, releaseID)
}

// GetArtifactByDigest finds an artifact by digest.
func (s *bunStore) GetArtifactByDigest(digest string) (*model.Artifact, error) {
	return GetArtifactByDigestBun(s.bun, digest)
}

// AddChangelogEntry records one changelog row.
func (s *bunStore) AddChangelogEntry(date time.Time, version, description string) (int, error) {
	id, err := AddChangelogEntryBun(s.bun, date, version, description)
	if err == nil {
		_ = s.LogAction("ADD_CHANGELOG", fmt.Sprintf("version: %s", version))
	}
	return id, err
}

// GetAllChangelogEntries retrieves the changelog, most recent first.
func (s *bunStore) GetAllChangelogEntries() ([]model.ChangelogEntry, error) {
	return GetAllChangelogEntriesBun(s.bun)
}

// GetKnownHostKey retrieves the pinned key for a hostname.
func (s *bunStore) GetKnownHostKey(hostname string) (string, error) {
	return GetKnownHostKeyBun(s.bun, hostname)
}

// AddKnownHostKey pins (or re-pins) a host key. Re-pinning is useful if a
// hosting server is legitimately re-provisioned.
func (s *bunStore) AddKnownHostKey(hostname, key string) error {
	err := AddKnownHostKeyBun(s.bun, hostname, key)
	if err == nil {
		_ = s.LogAction("TRUST_HOST", fmt.Sprintf("hostname: %s", hostname))
	}
	return err
}

// RecordUpload records an upload attempt.
func (s *bunStore) RecordUpload(u model.UploadRecord) (int, error) {
	id, err := RecordUploadBun(s.bun, u)
	if err == nil {
		_ = s.LogAction("RECORD_UPLOAD", fmt.Sprintf("host: %s, path: %s", u.Host, u.RemotePath))
	}
	return id, err
}

// MarkUploadVerified flags an upload as verified after readback.
func (s *bunStore) MarkUploadVerified(id int) error {
	err := MarkUploadVerifiedBun(s.bun, id)
	if err == nil {
		_ = s.LogAction("VERIFY_UPLOAD", fmt.Sprintf("upload_id: %d", id))
	}
	return err
}

// GetUploadsForArtifact retrieves upload records for an artifact.
func (s *bunStore) GetUploadsForArtifact(artifactID int) ([]model.UploadRecord, error) {
	return GetUploadsForArtifactBun(s.bun, artifactID)
}

// GetAllAuditLogEntries retrieves all audit entries, most recent first.
func (s *bunStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	return GetAllAuditLogEntriesBun(s.bun)
}

// LogAction records an audit trail event.
func (s *bunStore) LogAction(action string, details string) error {
	return LogActionBun(s.bun, action, details)
}

// ExportSnapshot reads the whole catalog as a consistent snapshot.
func (s *bunStore) ExportSnapshot() (*model.SnapshotData, error) {
	return ExportSnapshotBun(s.bun)
}

// ImportSnapshot restores the catalog from a snapshot (wipe-and-replace).
func (s *bunStore) ImportSnapshot(snap *model.SnapshotData) error {
	err := ImportSnapshotBun(s.bun, snap)
	if err == nil {
		_ = s.LogAction("IMPORT_SNAPSHOT", fmt.Sprintf("releases: %d, artifacts: %d", len(snap.Releases), len(snap.Artifacts)))
	}
	return err
}

// IntegrateSnapshot merges a snapshot non-destructively.
func (s *bunStore) IntegrateSnapshot(snap *model.SnapshotData) error {
	err := IntegrateSnapshotBun(s.bun, snap)
	if err == nil {
		_ = s.LogAction("INTEGRATE_SNAPSHOT", fmt.Sprintf("releases: %d", len(snap.Releases)))
	}
	return err
}
