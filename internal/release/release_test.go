// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package release

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/toeirei/shipyard/internal/archive"
	"github.com/toeirei/shipyard/internal/db"
	"github.com/toeirei/shipyard/internal/model"
)

const goodProvisionDoc = `#cloud-config
write_files:
  - path: /etc/systemd/system/backend.service
    content: |
      [Unit]
      Description=Backend
runcmd:
  - systemctl daemon-reload
  - systemctl enable backend
`

func newTestStore(t *testing.T) db.Store {
	t.Helper()
	dsn := "file:release_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	s, err := db.New("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to initialize test database: %v", err)
	}
	return s
}

// newSources lays out a backend source tree and a provisioning document.
func newSources(t *testing.T) (backendDir, provisionFile string) {
	t.Helper()
	dir := t.TempDir()
	backendDir = filepath.Join(dir, "backend")
	if err := os.MkdirAll(filepath.Join(backendDir, "app"), 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"app/main.py":      "print('hello')\n",
		"requirements.txt": "requests==2.31.0\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(backendDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	provisionFile = filepath.Join(dir, "cloud-init.yaml")
	if err := os.WriteFile(provisionFile, []byte(goodProvisionDoc), 0644); err != nil {
		t.Fatal(err)
	}
	return backendDir, provisionFile
}

func cutTestRelease(t *testing.T, s db.Store, version string) *model.Release {
	t.Helper()
	backendDir, provisionFile := newSources(t)
	rel, err := Cut(s, CutSpec{
		Version:       version,
		Changelog:     "Test release " + version,
		Date:          time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
		StagingDir:    t.TempDir(),
		BackendDir:    backendDir,
		ProvisionFile: provisionFile,
	})
	if err != nil {
		t.Fatalf("Cut failed: %v", err)
	}
	return rel
}

func TestCut(t *testing.T) {
	s := newTestStore(t)
	rel := cutTestRelease(t, s, "2.5")

	if rel.Status != model.StatusPackaged {
		t.Errorf("expected packaged, got %s", rel.Status)
	}
	if len(rel.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(rel.Artifacts))
	}
	for _, a := range rel.Artifacts {
		if a.Digest == "" || a.Size == 0 {
			t.Errorf("artifact %s missing digest or size: %+v", a.Name, a)
		}
		if _, err := os.Stat(a.ArchivePath); err != nil {
			t.Errorf("staged artifact missing on disk: %v", err)
		}
	}

	entries, err := s.GetAllChangelogEntries()
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 changelog entry, got %d (%v)", len(entries), err)
	}
	if entries[0].Version != "2.5" {
		t.Errorf("changelog entry for wrong version: %s", entries[0].Version)
	}
}

func TestCutRejectsBadProvision(t *testing.T) {
	s := newTestStore(t)
	backendDir, _ := newSources(t)
	bad := filepath.Join(t.TempDir(), "cloud-init.yaml")
	if err := os.WriteFile(bad, []byte("no header here\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Cut(s, CutSpec{
		Version:       "2.5",
		StagingDir:    t.TempDir(),
		BackendDir:    backendDir,
		ProvisionFile: bad,
	})
	if err == nil {
		t.Fatal("expected validation error for bad provision document")
	}
	// Nothing must have been recorded.
	if _, err := s.GetRelease("2.5"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("release should not exist after failed cut, got %v", err)
	}
}

// A packaging failure must leave the catalog untouched so the same
// version can simply be cut again once the sources are fixed.
func TestCutFailureLeavesNoRelease(t *testing.T) {
	s := newTestStore(t)
	staging := t.TempDir()

	_, err := Cut(s, CutSpec{
		Version:    "9.9",
		StagingDir: staging,
		BackendDir: t.TempDir(), // empty, nothing to package
	})
	if err == nil {
		t.Fatal("expected Cut to fail for an empty backend dir")
	}

	if _, err := s.GetRelease("9.9"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected no release row after failed cut, got %v", err)
	}

	backendDir, provisionFile := newSources(t)
	rel, err := Cut(s, CutSpec{
		Version:       "9.9",
		StagingDir:    staging,
		BackendDir:    backendDir,
		ProvisionFile: provisionFile,
	})
	if err != nil {
		t.Fatalf("retry after failed cut: %v", err)
	}
	if rel.Status != model.StatusPackaged {
		t.Errorf("expected packaged after retry, got %s", rel.Status)
	}
}

// An entry recorded by hand via 'changelog add' before the cut must not
// make the cut fail.
func TestCutToleratesExistingChangelogEntry(t *testing.T) {
	s := newTestStore(t)
	date := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	if _, err := s.AddChangelogEntry(date, "2.5", "Test release 2.5"); err != nil {
		t.Fatal(err)
	}

	rel := cutTestRelease(t, s, "2.5")
	if rel.Status != model.StatusPackaged {
		t.Errorf("expected packaged, got %s", rel.Status)
	}

	entries, err := s.GetAllChangelogEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected the existing entry to be kept as-is, got %d entries", len(entries))
	}
}

func TestCutDuplicateVersion(t *testing.T) {
	s := newTestStore(t)
	cutTestRelease(t, s, "2.5")

	backendDir, provisionFile := newSources(t)
	_, err := Cut(s, CutSpec{
		Version:       "2.5",
		StagingDir:    t.TempDir(),
		BackendDir:    backendDir,
		ProvisionFile: provisionFile,
	})
	if !errors.Is(err, db.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestCutRequiresSources(t *testing.T) {
	s := newTestStore(t)
	if _, err := Cut(s, CutSpec{Version: "2.5", StagingDir: t.TempDir()}); err == nil {
		t.Error("expected error when no artifact sources are configured")
	}
	if _, err := Cut(s, CutSpec{StagingDir: t.TempDir(), BackendDir: "x"}); err == nil {
		t.Error("expected error for empty version")
	}
}

func TestVerifyLocal(t *testing.T) {
	s := newTestStore(t)
	rel := cutTestRelease(t, s, "2.5")

	results, err := VerifyLocal(s, "2.5")
	if err != nil {
		t.Fatalf("VerifyLocal failed: %v", err)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("artifact %s should verify: %v", r.Artifact.Name, r.Err)
		}
	}

	// Flip a byte in the staged tarball and expect the check to fail.
	var tarball model.Artifact
	for _, a := range rel.Artifacts {
		if a.Kind == model.KindBackend {
			tarball = a
		}
	}
	data, err := os.ReadFile(tarball.ArchivePath)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(tarball.ArchivePath, data, 0644); err != nil {
		t.Fatal(err)
	}

	results, err = VerifyLocal(s, "2.5")
	if err != nil {
		t.Fatalf("VerifyLocal failed: %v", err)
	}
	var sawFailure bool
	for _, r := range results {
		if r.Artifact.Kind == model.KindBackend && r.Err != nil {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("corrupted tarball should fail verification")
	}
}

// fakeUploader simulates the hosting server in memory.
type fakeUploader struct {
	files      map[string]string // remotePath -> digest of the uploaded file
	failUpload map[string]bool   // artifact name -> refuse upload
	corrupt    map[string]bool   // artifact name -> corrupt after upload
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		files:      make(map[string]string),
		failUpload: make(map[string]bool),
		corrupt:    make(map[string]bool),
	}
}

func (f *fakeUploader) Upload(localPath, remotePath string) error {
	if f.failUpload[path.Base(remotePath)] {
		return errors.New("simulated upload failure")
	}
	d, err := archive.Digest(localPath)
	if err != nil {
		return err
	}
	f.files[remotePath] = d
	return nil
}

func (f *fakeUploader) VerifyUpload(remotePath, wantDigest string) error {
	got, ok := f.files[remotePath]
	if !ok {
		return errors.New("remote file missing")
	}
	if f.corrupt[path.Base(remotePath)] {
		got = "0000"
	}
	if !strings.EqualFold(got, wantDigest) {
		return fmt.Errorf("remote digest mismatch: got %s, want %s", got, wantDigest)
	}
	return nil
}

func (f *fakeUploader) Close() {}

// withFakeUploader swaps the dial seam for the test's lifetime.
func withFakeUploader(t *testing.T, f *fakeUploader) {
	t.Helper()
	orig := dialUploader
	dialUploader = func(host, user string, privateKey []byte, passphrase string) (uploader, error) {
		return f, nil
	}
	t.Cleanup(func() { dialUploader = orig })
}

func testPublishSpec() PublishSpec {
	return PublishSpec{Host: "files.example.com", User: "deploy", RemoteDir: "/srv/files"}
}

func TestPublish(t *testing.T) {
	s := newTestStore(t)
	cutTestRelease(t, s, "2.5")
	fake := newFakeUploader()
	withFakeUploader(t, fake)

	report, err := Publish(s, "2.5", testPublishSpec())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !report.Published || report.Verified != 2 || report.Uploaded != 2 || len(report.Failures) != 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	rel, err := s.GetRelease("2.5")
	if err != nil {
		t.Fatal(err)
	}
	if rel.Status != model.StatusPublished {
		t.Errorf("expected published, got %s", rel.Status)
	}
	for _, a := range rel.Artifacts {
		ups, err := s.GetUploadsForArtifact(a.ID)
		if err != nil || len(ups) != 1 || !ups[0].Verified {
			t.Errorf("artifact %s should have one verified upload: %+v", a.Name, ups)
		}
	}

	// Re-publishing is a no-op that skips everything.
	report, err = Publish(s, "2.5", testPublishSpec())
	if err != nil {
		t.Fatalf("re-Publish failed: %v", err)
	}
	if !report.Published || report.Skipped != 2 || report.Uploaded != 0 {
		t.Errorf("unexpected re-publish report: %+v", report)
	}
}

func TestPublishPartialFailure(t *testing.T) {
	s := newTestStore(t)
	cutTestRelease(t, s, "2.5")
	fake := newFakeUploader()
	fake.failUpload[BackendArchiveName] = true
	withFakeUploader(t, fake)

	report, err := Publish(s, "2.5", testPublishSpec())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if report.Published {
		t.Error("release must not be published after a failed upload")
	}
	if len(report.Failures) != 1 || report.Verified != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	rel, _ := s.GetRelease("2.5")
	if rel.Status != model.StatusPackaged {
		t.Errorf("release should stay packaged, got %s", rel.Status)
	}

	// A retry uploads only the missing artifact and completes the release.
	fake.failUpload = map[string]bool{}
	report, err = Publish(s, "2.5", testPublishSpec())
	if err != nil {
		t.Fatalf("retry Publish failed: %v", err)
	}
	if !report.Published || report.Skipped != 1 || report.Uploaded != 1 {
		t.Errorf("unexpected retry report: %+v", report)
	}
	rel, _ = s.GetRelease("2.5")
	if rel.Status != model.StatusPublished {
		t.Errorf("expected published after retry, got %s", rel.Status)
	}
}

func TestPublishDetectsRemoteCorruption(t *testing.T) {
	s := newTestStore(t)
	cutTestRelease(t, s, "2.5")
	fake := newFakeUploader()
	fake.corrupt[ProvisionName] = true
	withFakeUploader(t, fake)

	report, err := Publish(s, "2.5", testPublishSpec())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if report.Published {
		t.Error("corrupted remote copy must block publication")
	}
	if len(report.Failures) != 1 {
		t.Errorf("expected 1 failure, got %+v", report.Failures)
	}

	// The failed upload is recorded but unverified.
	rel, _ := s.GetRelease("2.5")
	for _, a := range rel.Artifacts {
		if a.Name != ProvisionName {
			continue
		}
		ups, _ := s.GetUploadsForArtifact(a.ID)
		if len(ups) != 1 || ups[0].Verified {
			t.Errorf("expected one unverified upload for %s: %+v", a.Name, ups)
		}
	}
}

func TestPublishRefusesDraft(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateRelease("3.0", "stable", ""); err != nil {
		t.Fatal(err)
	}
	withFakeUploader(t, newFakeUploader())
	if _, err := Publish(s, "3.0", testPublishSpec()); err == nil {
		t.Error("expected error publishing a draft release")
	}
}
