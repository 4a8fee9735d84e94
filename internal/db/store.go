// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"time"

	"github.com/toeirei/shipyard/internal/model"
)

// Store defines the interface for all release-catalog operations.
// This allows for multiple database backends to be implemented.
type Store interface {
	// Release methods
	CreateRelease(version, channel, notes string) (int, error)
	GetRelease(version string) (*model.Release, error)
	GetAllReleases() ([]model.Release, error)
	UpdateReleaseStatus(id int, status model.ReleaseStatus) error

	// Artifact methods
	AddArtifact(a model.Artifact) (int, error)
	GetArtifactsForRelease(releaseID int) ([]model.Artifact, error)
	GetArtifactByDigest(digest string) (*model.Artifact, error)

	// Changelog methods
	AddChangelogEntry(date time.Time, version, description string) (int, error)
	GetAllChangelogEntries() ([]model.ChangelogEntry, error)

	// Host key methods
	GetKnownHostKey(hostname string) (string, error)
	AddKnownHostKey(hostname, key string) error

	// Upload methods
	RecordUpload(u model.UploadRecord) (int, error)
	MarkUploadVerified(id int) error
	GetUploadsForArtifact(artifactID int) ([]model.UploadRecord, error)

	// Audit Log methods
	GetAllAuditLogEntries() ([]model.AuditLogEntry, error)
	LogAction(action string, details string) error

	// Snapshot methods
	ExportSnapshot() (*model.SnapshotData, error)
	ImportSnapshot(snap *model.SnapshotData) error
	IntegrateSnapshot(snap *model.SnapshotData) error
}
