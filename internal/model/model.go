// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the core data structures for the release catalog.
package model // import "github.com/toeirei/shipyard/internal/model"

import (
	"fmt"
	"time"
)

// ArtifactKind identifies which slot of a release an artifact fills.
type ArtifactKind string

const (
	// KindBackend is the application backend bundle (e.g. backend_update.tar.gz).
	KindBackend ArtifactKind = "backend"

	// KindFrontend is the management/dashboard bundle.
	KindFrontend ArtifactKind = "frontend"

	// KindProvision is the first-boot provisioning document. It is copied,
	// not archived, and validated as cloud-init YAML before release.
	KindProvision ArtifactKind = "provision"
)

// ValidKind reports whether k is one of the known artifact kinds.
func ValidKind(k ArtifactKind) bool {
	switch k {
	case KindBackend, KindFrontend, KindProvision:
		return true
	}
	return false
}

// Artifact is a single packaged file belonging to a release.
type Artifact struct {
	ID          int
	ReleaseID   int
	Kind        ArtifactKind
	Name        string // file name as published, e.g. backend_update.tar.gz
	SourcePath  string // directory or file the artifact was built from
	ArchivePath string // staged file on local disk
	Size        int64
	Digest      string // hex SHA-256, computed once at packaging time
	BuiltAt     time.Time
}

// String returns the published name with its short digest.
func (a Artifact) String() string {
	d := a.Digest
	if len(d) > 12 {
		d = d[:12]
	}
	return fmt.Sprintf("%s (%s)", a.Name, d)
}

// ReleaseStatus tracks a release through its lifecycle. A release only
// moves forward: draft -> packaged -> published.
type ReleaseStatus string

const (
	StatusDraft     ReleaseStatus = "draft"
	StatusPackaged  ReleaseStatus = "packaged"
	StatusPublished ReleaseStatus = "published"
)

// CanAdvanceTo reports whether moving from s to next is a forward step.
func (s ReleaseStatus) CanAdvanceTo(next ReleaseStatus) bool {
	order := map[ReleaseStatus]int{StatusDraft: 0, StatusPackaged: 1, StatusPublished: 2}
	from, ok1 := order[s]
	to, ok2 := order[next]
	return ok1 && ok2 && to == from+1
}

// Release is one published (or to-be-published) version of the system.
type Release struct {
	ID        int
	Version   string
	Channel   string // release channel, e.g. "stable"
	Notes     string
	Status    ReleaseStatus
	CreatedAt time.Time
	Artifacts []Artifact
}

// String returns the version@channel representation.
func (r Release) String() string {
	return fmt.Sprintf("%s@%s", r.Version, r.Channel)
}

// ChangelogEntry is one row of the release changelog table
// (date | version | description).
type ChangelogEntry struct {
	ID          int
	Date        time.Time
	Version     string
	Description string
}

// UploadRecord tracks one artifact landing on the hosting repository.
// Verified is only set after the remote copy has been read back and its
// digest matched against the artifact record.
type UploadRecord struct {
	ID         int
	ArtifactID int
	Digest     string
	Host       string
	RemotePath string
	UploadedAt time.Time
	Verified   bool
}

// HostKey pins the SSH public key of an upload target.
type HostKey struct {
	Hostname string
	Key      string // authorized_keys format, as presented during handshake
}

// AuditLogEntry records a single catalog mutation for the audit trail.
type AuditLogEntry struct {
	ID        int
	Timestamp string
	Username  string
	Action    string
	Details   string
}

// SnapshotData is the container for a full catalog export. It is what
// `shipyard snapshot export` serializes and `import`/`integrate` consume.
type SnapshotData struct {
	Releases  []Release        `yaml:"releases"`
	Artifacts []Artifact       `yaml:"artifacts"`
	Changelog []ChangelogEntry `yaml:"changelog"`
	HostKeys  []HostKey        `yaml:"host_keys"`
	Uploads   []UploadRecord   `yaml:"uploads"`
}
