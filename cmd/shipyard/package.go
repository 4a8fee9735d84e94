// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/shipyard/internal/archive"
	"github.com/toeirei/shipyard/internal/db"
	"github.com/toeirei/shipyard/internal/i18n"
	"github.com/toeirei/shipyard/internal/provision"
	"github.com/toeirei/shipyard/internal/release"
)

// newPackageCmd builds the 'package' command. It stages artifacts without
// touching the catalog; 'release cut' is the recording variant.
func newPackageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Build release artifacts into the staging directory",
		Long: `Packages the configured sources into their publishable form: the
backend and dashboard directories become deterministic .tar.gz archives,
the provisioning document is validated and staged as-is. Nothing is
recorded in the catalog; use 'release cut' for that.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			staging := stringFlagOr(cmd, "staging-dir", "staging.dir")
			backendDir := stringFlagOr(cmd, "backend-dir", "source.backend_dir")
			frontendDir := stringFlagOr(cmd, "frontend-dir", "source.frontend_dir")
			provisionFile := stringFlagOr(cmd, "provision-file", "source.provision_file")

			if backendDir == "" && frontendDir == "" && provisionFile == "" {
				return errors.New("nothing to package: no artifact sources configured")
			}

			type job struct{ name, src string }
			var jobs []job
			if backendDir != "" {
				jobs = append(jobs, job{release.BackendArchiveName, backendDir})
			}
			if frontendDir != "" {
				jobs = append(jobs, job{release.FrontendArchiveName, frontendDir})
			}

			for _, j := range jobs {
				fmt.Println(i18n.T("package.building", j.name, j.src))
				res, err := archive.Build(archive.BuildSpec{
					SourceDir: j.src,
					OutPath:   filepath.Join(staging, j.name),
				})
				if err != nil {
					return fmt.Errorf(i18n.T("package.error_build", err))
				}
				fmt.Println(i18n.T("package.built", res.Path, res.Size, res.Digest))
			}

			if provisionFile != "" {
				report, err := provision.ValidateFile(provisionFile)
				if err != nil {
					return fmt.Errorf(i18n.T("package.error_build", err))
				}
				printProvisionReport(report)
				if !report.OK() {
					return errors.New(i18n.T("provision.invalid"))
				}
				res, err := archive.CopyFile(provisionFile, filepath.Join(staging, release.ProvisionName))
				if err != nil {
					return fmt.Errorf(i18n.T("package.error_build", err))
				}
				fmt.Println(i18n.T("package.copied", res.Path, res.Size, res.Digest))
			}

			return nil
		},
	}

	cmd.Flags().String("staging-dir", "", "Directory to stage artifacts in")
	cmd.Flags().String("backend-dir", "", "Backend source directory")
	cmd.Flags().String("frontend-dir", "", "Dashboard source directory")
	cmd.Flags().String("provision-file", "", "Provisioning document (cloud-init YAML)")
	return cmd
}

// stringFlagOr returns the flag's value when set on the command line and the
// viper setting otherwise. Several commands share these config keys, so the
// flags are resolved per invocation instead of bound globally.
func stringFlagOr(cmd *cobra.Command, flag, viperKey string) string {
	if v, err := cmd.Flags().GetString(flag); err == nil && v != "" {
		return v
	}
	return viper.GetString(viperKey)
}

// printProvisionReport prints validation findings, warnings first.
func printProvisionReport(report *provision.Report) {
	for _, f := range report.Findings {
		if f.Fatal {
			fmt.Println(i18n.T("provision.error", f.Message))
		} else {
			fmt.Println(i18n.T("provision.warning", f.Message))
		}
	}
}

// newVerifyCmd builds the 'verify' command: the executable version of the
// runbook's "confirm the file is not corrupted" step.
func newVerifyCmd() *cobra.Command {
	var wantDigest string

	cmd := &cobra.Command{
		Use:   "verify <artifact>",
		Short: "Check an artifact's integrity",
		Long: `Verifies a staged artifact. Tarballs must decode end to end and match
the expected SHA-256; provisioning documents are re-validated as
cloud-init. Without --digest the file's digest is looked up in the
catalog instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			digest, err := archive.Digest(path)
			if err != nil {
				return fmt.Errorf(i18n.T("verify.failed", path, err))
			}

			expected := wantDigest
			if expected == "" {
				// No digest given: the catalog must know this exact file.
				art, err := db.GetArtifactByDigest(digest)
				if err != nil {
					return fmt.Errorf(i18n.T("verify.failed", path, fmt.Errorf("not in catalog (digest %s): %w", digest, err)))
				}
				expected = art.Digest
			}

			if isProvisionDoc(path) {
				if !strings.EqualFold(digest, expected) {
					return fmt.Errorf(i18n.T("verify.failed", path, fmt.Errorf("digest mismatch: got %s, want %s", digest, expected)))
				}
				report, err := provision.ValidateFile(path)
				if err != nil {
					return fmt.Errorf(i18n.T("verify.failed", path, err))
				}
				printProvisionReport(report)
				if !report.OK() {
					return errors.New(i18n.T("provision.invalid"))
				}
			} else {
				if err := archive.Verify(path, expected); err != nil {
					return fmt.Errorf(i18n.T("verify.failed", path, err))
				}
			}

			fmt.Println(i18n.T("verify.ok", path, digest))
			return nil
		},
	}

	cmd.Flags().StringVar(&wantDigest, "digest", "", "Expected hex SHA-256")
	return cmd
}

// isProvisionDoc decides whether a path is a provisioning document rather
// than a tarball.
func isProvisionDoc(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
