// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/toeirei/shipyard/internal/config"
	"github.com/toeirei/shipyard/internal/db"
	"github.com/toeirei/shipyard/internal/model"
)

// cutTestRelease runs 'release cut' against temp sources and returns the
// staging directory used.
func cutTestRelease(t *testing.T, version string) string {
	t.Helper()

	staging := t.TempDir()
	backend := writeBackendTree(t)
	provision := writeProvisionFile(t)

	output := executeCommand(t, "release", "cut", version,
		"--changelog", "Automated packaging pipeline",
		"--date", "2024-05-01",
		"--staging-dir", staging,
		"--backend-dir", backend,
		"--provision-file", provision,
	)
	if !strings.Contains(output, "Cut release "+version) {
		t.Fatalf("expected cut success message, got:\n%s", output)
	}
	return staging
}

func TestReleaseCutCmd(t *testing.T) {
	setupTestDB(t)
	staging := cutTestRelease(t, "1.2.3")

	rel, err := db.GetRelease("1.2.3")
	if err != nil {
		t.Fatalf("release not recorded: %v", err)
	}
	if rel.Status != model.StatusPackaged {
		t.Errorf("expected status packaged, got %s", rel.Status)
	}
	if len(rel.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(rel.Artifacts))
	}

	if _, err := os.Stat(filepath.Join(staging, "1.2.3", "backend_update.tar.gz")); err != nil {
		t.Errorf("backend tarball not staged: %v", err)
	}
	if _, err := os.Stat(filepath.Join(staging, "1.2.3", "cloud-init.yaml")); err != nil {
		t.Errorf("provision document not staged: %v", err)
	}

	entries, err := db.GetAllChangelogEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Version != "1.2.3" {
		t.Errorf("expected one changelog entry for 1.2.3, got %+v", entries)
	}
}

func TestReleaseCutCmdRejectsBadDate(t *testing.T) {
	setupTestDB(t)

	_, err := executeCommandErr(t, "release", "cut", "1.0",
		"--changelog", "bad date", "--date", "01.05.2024",
		"--backend-dir", writeBackendTree(t), "--staging-dir", t.TempDir())
	if err == nil {
		t.Fatal("expected error for malformed --date")
	}
}

func TestReleaseListCmd(t *testing.T) {
	setupTestDB(t)

	output := executeCommand(t, "release", "list")
	if !strings.Contains(output, "No releases") {
		t.Errorf("expected empty-catalog message, got:\n%s", output)
	}

	cutTestRelease(t, "2.0.0")

	output = executeCommand(t, "release", "list")
	if !strings.Contains(output, "2.0.0") || !strings.Contains(output, "packaged") {
		t.Errorf("expected listing with version and status, got:\n%s", output)
	}
}

func TestReleaseShowCmd(t *testing.T) {
	setupTestDB(t)
	cutTestRelease(t, "3.1.4")

	output := executeCommand(t, "release", "show", "3.1.4")
	if !strings.Contains(output, "3.1.4@stable") {
		t.Errorf("expected version@channel header, got:\n%s", output)
	}
	if !strings.Contains(output, "backend_update.tar.gz") {
		t.Errorf("expected artifact names, got:\n%s", output)
	}

	if _, err := executeCommandErr(t, "release", "show", "no-such-version"); err == nil {
		t.Error("expected error for unknown release")
	}
}

func TestReleaseVerifyCmd(t *testing.T) {
	setupTestDB(t)
	staging := cutTestRelease(t, "4.0.0")

	output := executeCommand(t, "release", "verify", "4.0.0")
	if strings.Count(output, "OK") != 2 {
		t.Errorf("expected both artifacts to verify, got:\n%s", output)
	}

	// Truncate the staged tarball and verification must fail.
	archivePath := filepath.Join(staging, "4.0.0", "backend_update.tar.gz")
	if err := os.Truncate(archivePath, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := executeCommandErr(t, "release", "verify", "4.0.0"); err == nil {
		t.Error("expected truncated artifact to fail verification")
	}
}

func TestVerifyCmd(t *testing.T) {
	setupTestDB(t)
	staging := cutTestRelease(t, "1.0.0")

	archivePath := filepath.Join(staging, "1.0.0", "backend_update.tar.gz")
	output := executeCommand(t, "verify", archivePath)
	if !strings.Contains(output, "OK") {
		t.Errorf("expected verification to pass, got:\n%s", output)
	}

	// Flip a byte and the same file must fail verification.
	data, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(archivePath, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := executeCommandErr(t, "verify", archivePath); err == nil {
		t.Error("expected corrupted archive to fail verification")
	}
}

func TestPackageCmd(t *testing.T) {
	setupTestDB(t)

	staging := t.TempDir()
	output := executeCommand(t, "package",
		"--staging-dir", staging,
		"--backend-dir", writeBackendTree(t),
		"--provision-file", writeProvisionFile(t),
	)
	if !strings.Contains(output, "backend_update.tar.gz") {
		t.Errorf("expected built artifact in output, got:\n%s", output)
	}

	if _, err := os.Stat(filepath.Join(staging, "backend_update.tar.gz")); err != nil {
		t.Errorf("backend tarball not written: %v", err)
	}
}

func TestPackageCmdRejectsInvalidProvision(t *testing.T) {
	setupTestDB(t)

	bad := filepath.Join(t.TempDir(), "cloud-init.yaml")
	if err := os.WriteFile(bad, []byte("runcmd:\n  - whoami\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := executeCommandErr(t, "package",
		"--staging-dir", t.TempDir(), "--provision-file", bad)
	if err == nil {
		t.Fatal("expected validation failure for document without #cloud-config header")
	}
}

func TestChangelogCmds(t *testing.T) {
	setupTestDB(t)

	output := executeCommand(t, "changelog", "list")
	if !strings.Contains(output, "Changelog is empty") {
		t.Errorf("expected empty message, got:\n%s", output)
	}

	executeCommand(t, "changelog", "add", "2.5", "Switched to webhook execution", "--date", "2024-04-02")

	output = executeCommand(t, "changelog", "list")
	if !strings.Contains(output, "2024-04-02") || !strings.Contains(output, "2.5") {
		t.Errorf("expected entry in listing, got:\n%s", output)
	}

	output = executeCommand(t, "changelog", "render")
	if !strings.Contains(output, "| Date") || !strings.Contains(output, "| 2024-04-02 | 2.5") {
		t.Errorf("expected Markdown table, got:\n%s", output)
	}
}

func TestChangelogRenderToFile(t *testing.T) {
	setupTestDB(t)
	executeCommand(t, "changelog", "add", "1.0", "Initial release", "--date", "2024-01-15")

	out := filepath.Join(t.TempDir(), "CHANGELOG.md")
	executeCommand(t, "changelog", "render", "--out", out)

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "| 2024-01-15 | 1.0") {
		t.Errorf("rendered file missing entry:\n%s", data)
	}
}

func TestChangelogImportCmd(t *testing.T) {
	setupTestDB(t)

	table := `| Date | Version | Description |
|------|---------|-------------|
| 2024-01-15 | 1.0 | Initial release |
| 2024-04-02 | 2.5 | Switched to webhook execution |
`
	file := filepath.Join(t.TempDir(), "changelog.md")
	if err := os.WriteFile(file, []byte(table), 0644); err != nil {
		t.Fatal(err)
	}

	output := executeCommand(t, "changelog", "import", file)
	if !strings.Contains(output, "Imported 2 changelog entries (0 skipped)") {
		t.Errorf("unexpected import summary:\n%s", output)
	}

	// A second import only skips.
	output = executeCommand(t, "changelog", "import", file)
	if !strings.Contains(output, "Imported 0 changelog entries (2 skipped)") {
		t.Errorf("expected idempotent re-import, got:\n%s", output)
	}
}

func TestAuditCmd(t *testing.T) {
	setupTestDB(t)

	output := executeCommand(t, "audit")
	if !strings.Contains(output, "Audit log is empty") {
		t.Errorf("expected empty audit message, got:\n%s", output)
	}

	executeCommand(t, "changelog", "add", "1.0", "Initial release")

	output = executeCommand(t, "audit")
	if !strings.Contains(output, "ADD_CHANGELOG") {
		t.Errorf("expected ADD_CHANGELOG in audit trail, got:\n%s", output)
	}
}

func TestSnapshotCmds(t *testing.T) {
	setupTestDB(t)
	executeCommand(t, "changelog", "add", "1.0", "Initial release", "--date", "2024-01-15")

	file := filepath.Join(t.TempDir(), "catalog.snap")
	output := executeCommand(t, "snapshot", "export", file)
	if !strings.Contains(output, "Snapshot written to") {
		t.Errorf("unexpected export output:\n%s", output)
	}

	// Add local-only data, then restore the snapshot over it.
	executeCommand(t, "changelog", "add", "9.9", "Local only entry")

	output = executeCommand(t, "snapshot", "import", file, "--yes")
	if !strings.Contains(output, "Snapshot imported") {
		t.Errorf("unexpected import output:\n%s", output)
	}

	entries, err := db.GetAllChangelogEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Version != "1.0" {
		t.Errorf("expected catalog replaced by snapshot, got %+v", entries)
	}

	// Integrate must keep local data.
	executeCommand(t, "changelog", "add", "2.0", "Kept through integrate")
	output = executeCommand(t, "snapshot", "integrate", file)
	if !strings.Contains(output, "Snapshot integrated") {
		t.Errorf("unexpected integrate output:\n%s", output)
	}
	entries, err = db.GetAllChangelogEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected both entries after integrate, got %+v", entries)
	}
}

func TestConfigInitCmd(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("user config dir is not controlled by XDG_CONFIG_HOME here")
	}
	setupTestDB(t)
	confHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", confHome)

	output := executeCommand(t, "config", "init")
	if !strings.Contains(output, "Configuration written to") {
		t.Errorf("unexpected config init output:\n%s", output)
	}

	path, err := config.GetConfigPath(false)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected persisted config: %v", err)
	}
	if !strings.Contains(string(data), "database") {
		t.Errorf("persisted config missing settings:\n%s", data)
	}
}

func TestMaintenanceCmd(t *testing.T) {
	setupTestDB(t)

	output := executeCommand(t, "maintenance")
	if !strings.Contains(output, "Database maintenance completed") {
		t.Errorf("unexpected maintenance output:\n%s", output)
	}
}

func TestPublishCmdRequiresHost(t *testing.T) {
	setupTestDB(t)
	cutTestRelease(t, "1.0.0")

	_, err := executeCommandErr(t, "publish", "1.0.0", "--host", "")
	if err == nil || !strings.Contains(err.Error(), "no upload host configured") {
		t.Fatalf("expected missing-host error, got %v", err)
	}
}

func TestTrustHostCmdHelp(t *testing.T) {
	cmd := findSubcommand(newRootCmd(), "trust-host")
	if cmd == nil {
		t.Fatal("trust-host command not found")
	}
	if !strings.Contains(cmd.Long, "fingerprint") {
		t.Errorf("trust-host help should mention the fingerprint, got: %s", cmd.Long)
	}
}

func TestPublishCmdHelp(t *testing.T) {
	cmd := findSubcommand(newRootCmd(), "publish")
	if cmd == nil {
		t.Fatal("publish command not found")
	}
	if !strings.Contains(cmd.Long, "SFTP") || !strings.Contains(cmd.Long, "digest") {
		t.Errorf("publish help should mention SFTP and digests, got: %s", cmd.Long)
	}
}
