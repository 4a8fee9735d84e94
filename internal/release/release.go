// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

// package release orchestrates the pipeline: cutting a release packages
// its artifacts and records them in the catalog, publishing pushes them to
// the hosting server and verifies the remote copies before the release is
// marked published.
package release // import "github.com/toeirei/shipyard/internal/release"

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/toeirei/shipyard/internal/archive"
	"github.com/toeirei/shipyard/internal/db"
	"github.com/toeirei/shipyard/internal/logging"
	"github.com/toeirei/shipyard/internal/model"
	"github.com/toeirei/shipyard/internal/provision"
	"github.com/toeirei/shipyard/internal/publish"
	"github.com/toeirei/shipyard/util/slicest"
)

// Published artifact names, one per kind.
const (
	BackendArchiveName  = "backend_update.tar.gz"
	FrontendArchiveName = "dashboard_update.tar.gz"
	ProvisionName       = "cloud-init.yaml"
)

// CutSpec describes one release to cut. Any artifact source left empty is
// simply not part of the release.
type CutSpec struct {
	Version string
	Channel string
	Notes   string

	// Changelog is the description for the release's changelog row. Empty
	// means no changelog entry is written.
	Changelog string
	// Date is the changelog date; the zero value means today.
	Date time.Time

	// StagingDir is where packaged artifacts land, under a per-version
	// subdirectory.
	StagingDir string

	BackendDir    string
	FrontendDir   string
	ProvisionFile string
}

// Cut packages every configured artifact, records the release in the
// catalog and advances it to packaged. All packaging happens before the
// catalog is touched: a failed build leaves no release row behind, so the
// same version can simply be cut again.
func Cut(s db.Store, spec CutSpec) (*model.Release, error) {
	if strings.TrimSpace(spec.Version) == "" {
		return nil, errors.New("release version must not be empty")
	}
	if spec.Channel == "" {
		spec.Channel = "stable"
	}
	if spec.BackendDir == "" && spec.FrontendDir == "" && spec.ProvisionFile == "" {
		return nil, errors.New("nothing to package: no artifact sources configured")
	}

	if spec.ProvisionFile != "" {
		report, err := provision.ValidateFile(spec.ProvisionFile)
		if err != nil {
			return nil, fmt.Errorf("provision document: %w", err)
		}
		if !report.OK() {
			return nil, fmt.Errorf("provision document %s failed validation: %s", spec.ProvisionFile, report.Errors()[0].Message)
		}
	}

	stageDir := filepath.Join(spec.StagingDir, spec.Version)

	type buildJob struct {
		kind model.ArtifactKind
		name string
		src  string
	}
	jobs := []buildJob{}
	if spec.BackendDir != "" {
		jobs = append(jobs, buildJob{model.KindBackend, BackendArchiveName, spec.BackendDir})
	}
	if spec.FrontendDir != "" {
		jobs = append(jobs, buildJob{model.KindFrontend, FrontendArchiveName, spec.FrontendDir})
	}
	if spec.ProvisionFile != "" {
		jobs = append(jobs, buildJob{model.KindProvision, ProvisionName, spec.ProvisionFile})
	}

	staged, err := slicest.MapX(jobs, func(job buildJob) (model.Artifact, error) {
		out := filepath.Join(stageDir, job.name)
		logging.Debugf("release: staging %s from %s", job.name, job.src)

		var res *archive.Result
		var err error
		if job.kind == model.KindProvision {
			res, err = archive.CopyFile(job.src, out)
		} else {
			res, err = archive.Build(archive.BuildSpec{SourceDir: job.src, OutPath: out})
		}
		if err != nil {
			return model.Artifact{}, fmt.Errorf("package %s: %w", job.name, err)
		}
		return model.Artifact{
			Kind:        job.kind,
			Name:        job.name,
			SourcePath:  job.src,
			ArchivePath: res.Path,
			Size:        res.Size,
			Digest:      res.Digest,
			BuiltAt:     time.Now().UTC(),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	relID, err := s.CreateRelease(spec.Version, spec.Channel, spec.Notes)
	if err != nil {
		return nil, fmt.Errorf("create release %s: %w", spec.Version, err)
	}

	for _, a := range staged {
		a.ReleaseID = relID
		if _, err := s.AddArtifact(a); err != nil {
			return nil, fmt.Errorf("record artifact %s: %w", a.Name, err)
		}
	}

	if spec.Changelog != "" {
		date := spec.Date
		if date.IsZero() {
			date = time.Now().UTC()
		}
		// An entry added by hand before the cut is not an error.
		if _, err := s.AddChangelogEntry(date, spec.Version, spec.Changelog); err != nil && !errors.Is(err, db.ErrDuplicate) {
			return nil, fmt.Errorf("record changelog entry: %w", err)
		}
	}

	if err := s.UpdateReleaseStatus(relID, model.StatusPackaged); err != nil {
		return nil, fmt.Errorf("advance release to packaged: %w", err)
	}

	return s.GetRelease(spec.Version)
}

// CheckResult is the outcome of verifying one staged artifact.
type CheckResult struct {
	Artifact model.Artifact
	Err      error
}

// VerifyLocal re-checks every staged artifact of a release against the
// catalog: tarballs must decode and match their digest, the provisioning
// document must still be valid cloud-init with a matching digest.
func VerifyLocal(s db.Store, version string) ([]CheckResult, error) {
	rel, err := s.GetRelease(version)
	if err != nil {
		return nil, err
	}

	return slicest.Map(rel.Artifacts, func(a model.Artifact) CheckResult {
		var checkErr error
		switch a.Kind {
		case model.KindProvision:
			if got, err := archive.Digest(a.ArchivePath); err != nil {
				checkErr = err
			} else if !strings.EqualFold(got, a.Digest) {
				checkErr = fmt.Errorf("digest mismatch: got %s, want %s", got, a.Digest)
			} else if report, err := provision.ValidateFile(a.ArchivePath); err != nil {
				checkErr = err
			} else if !report.OK() {
				checkErr = fmt.Errorf("cloud-init validation: %s", report.Errors()[0].Message)
			}
		default:
			checkErr = archive.Verify(a.ArchivePath, a.Digest)
		}
		return CheckResult{Artifact: a, Err: checkErr}
	}), nil
}

// PublishSpec describes the upload target for a release.
type PublishSpec struct {
	Host       string
	User       string
	RemoteDir  string
	PrivateKey []byte
	Passphrase string
}

// Failure records one artifact that did not make it.
type Failure struct {
	Artifact model.Artifact
	Err      error
}

// Report summarizes a publish run.
type Report struct {
	Uploaded  int
	Skipped   int
	Verified  int
	Failures  []Failure
	Published bool
}

// uploader is the slice of publish.Uploader the orchestration needs.
type uploader interface {
	Upload(localPath, remotePath string) error
	VerifyUpload(remotePath, wantDigest string) error
	Close()
}

// dialUploader is a seam so tests can publish without a live SSH server.
var dialUploader = func(host, user string, privateKey []byte, passphrase string) (uploader, error) {
	return publish.NewUploader(host, user, privateKey, passphrase)
}

// Publish uploads every artifact of a packaged release, verifies each
// remote copy by digest readback, and marks the release published only
// when all artifacts are verified. Already-verified artifacts are skipped,
// so re-running after a partial failure finishes the job.
func Publish(s db.Store, version string, spec PublishSpec) (*Report, error) {
	rel, err := s.GetRelease(version)
	if err != nil {
		return nil, err
	}
	if rel.Status == model.StatusDraft {
		return nil, fmt.Errorf("release %s has not been packaged yet", version)
	}
	if len(rel.Artifacts) == 0 {
		return nil, fmt.Errorf("release %s has no artifacts", version)
	}

	up, err := dialUploader(spec.Host, spec.User, spec.PrivateKey, spec.Passphrase)
	if err != nil {
		return nil, err
	}
	defer up.Close()

	report := &Report{}
	for _, a := range rel.Artifacts {
		remotePath := path.Join(spec.RemoteDir, a.Name)

		if alreadyVerified(s, a.ID, spec.Host, remotePath) {
			logging.Debugf("release: %s already verified on %s, skipping", a.Name, spec.Host)
			report.Skipped++
			continue
		}

		// A corrupted staging copy must never land on the hosting server.
		if got, err := archive.Digest(a.ArchivePath); err != nil {
			report.Failures = append(report.Failures, Failure{a, fmt.Errorf("staged artifact unreadable: %w", err)})
			continue
		} else if !strings.EqualFold(got, a.Digest) {
			report.Failures = append(report.Failures, Failure{a, fmt.Errorf("staged artifact digest mismatch: got %s, want %s", got, a.Digest)})
			continue
		}

		if err := up.Upload(a.ArchivePath, remotePath); err != nil {
			report.Failures = append(report.Failures, Failure{a, err})
			continue
		}
		report.Uploaded++

		upID, err := s.RecordUpload(model.UploadRecord{
			ArtifactID: a.ID,
			Digest:     a.Digest,
			Host:       spec.Host,
			RemotePath: remotePath,
			UploadedAt: time.Now().UTC(),
		})
		if err != nil {
			report.Failures = append(report.Failures, Failure{a, fmt.Errorf("record upload: %w", err)})
			continue
		}

		if err := up.VerifyUpload(remotePath, a.Digest); err != nil {
			report.Failures = append(report.Failures, Failure{a, err})
			continue
		}
		if err := s.MarkUploadVerified(upID); err != nil {
			report.Failures = append(report.Failures, Failure{a, fmt.Errorf("mark upload verified: %w", err)})
			continue
		}
		report.Verified++
	}

	if len(report.Failures) == 0 && report.Skipped+report.Verified == len(rel.Artifacts) {
		if rel.Status == model.StatusPackaged {
			if err := s.UpdateReleaseStatus(rel.ID, model.StatusPublished); err != nil {
				return report, fmt.Errorf("advance release to published: %w", err)
			}
		}
		report.Published = true
	}

	return report, nil
}

// alreadyVerified reports whether the artifact has a verified upload for
// this host and remote path.
func alreadyVerified(s db.Store, artifactID int, host, remotePath string) bool {
	uploads, err := s.GetUploadsForArtifact(artifactID)
	if err != nil {
		return false
	}
	return len(slicest.Filter(uploads, func(u model.UploadRecord) bool {
		return u.Verified && u.Host == host && u.RemotePath == remotePath
	})) > 0
}
