// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/shipyard/internal/config"
	"github.com/toeirei/shipyard/internal/db"
	"github.com/toeirei/shipyard/internal/i18n"
	"github.com/toeirei/shipyard/internal/publish"
	"github.com/toeirei/shipyard/internal/release"
	"github.com/toeirei/shipyard/internal/state"
	"golang.org/x/term"
)

func newReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Manage releases in the catalog",
	}
	cmd.AddCommand(newReleaseCutCmd())
	cmd.AddCommand(newReleaseListCmd())
	cmd.AddCommand(newReleaseShowCmd())
	cmd.AddCommand(newReleaseVerifyCmd())
	return cmd
}

func newReleaseCutCmd() *cobra.Command {
	var channel, notes, changelogDesc, dateStr string

	cmd := &cobra.Command{
		Use:   "cut <version>",
		Short: "Package all artifacts and record a new release",
		Long: `Packages the configured sources, records the release with its
artifacts in the catalog, writes the changelog row and advances the
release to packaged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Time{}
			if dateStr != "" {
				var err error
				date, err = time.Parse("2006-01-02", dateStr)
				if err != nil {
					return fmt.Errorf(i18n.T("changelog.error_date", dateStr))
				}
			}

			rel, err := release.Cut(db.ActiveStore(), release.CutSpec{
				Version:       args[0],
				Channel:       channel,
				Notes:         notes,
				Changelog:     changelogDesc,
				Date:          date,
				StagingDir:    stringFlagOr(cmd, "staging-dir", "staging.dir"),
				BackendDir:    stringFlagOr(cmd, "backend-dir", "source.backend_dir"),
				FrontendDir:   stringFlagOr(cmd, "frontend-dir", "source.frontend_dir"),
				ProvisionFile: stringFlagOr(cmd, "provision-file", "source.provision_file"),
			})
			if err != nil {
				return fmt.Errorf(i18n.T("release.error_cut", err))
			}

			fmt.Println(i18n.T("release.cut_success", rel.Version, len(rel.Artifacts)))
			for _, a := range rel.Artifacts {
				fmt.Printf("  %s\n", a.String())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "stable", "Release channel")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form release notes")
	cmd.Flags().StringVar(&changelogDesc, "changelog", "", "Changelog description for this release")
	cmd.Flags().StringVar(&dateStr, "date", "", "Changelog date (YYYY-MM-DD, default today)")
	cmd.Flags().String("staging-dir", "", "Directory to stage artifacts in")
	cmd.Flags().String("backend-dir", "", "Backend source directory")
	cmd.Flags().String("frontend-dir", "", "Dashboard source directory")
	cmd.Flags().String("provision-file", "", "Provisioning document (cloud-init YAML)")
	return cmd
}

func newReleaseListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all releases, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			releases, err := db.GetAllReleases()
			if err != nil {
				return err
			}
			if len(releases) == 0 {
				fmt.Println(i18n.T("release.none"))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, i18n.T("release.header"))
			for _, r := range releases {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Version, r.Channel, r.Status, r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func newReleaseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <version>",
		Short: "Show a release with its artifacts and uploads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rel, err := db.GetRelease(args[0])
			if err != nil {
				return fmt.Errorf(i18n.T("release.not_found", args[0]))
			}

			fmt.Printf("%s  (%s)\n", rel.String(), rel.Status)
			if rel.Notes != "" {
				fmt.Printf("  %s\n", rel.Notes)
			}
			fmt.Println(i18n.T("release.show_artifacts"))
			for _, a := range rel.Artifacts {
				fmt.Printf("  %-28s %10d  %s\n", a.Name, a.Size, a.Digest)
				uploads, err := db.GetUploadsForArtifact(a.ID)
				if err != nil || len(uploads) == 0 {
					continue
				}
				for _, u := range uploads {
					mark := " "
					if u.Verified {
						mark = "*"
					}
					fmt.Printf("    %s %s:%s (%s)\n", mark, u.Host, u.RemotePath, u.UploadedAt.Format("2006-01-02 15:04"))
				}
			}
			return nil
		},
	}
}

func newReleaseVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <version>",
		Short: "Re-check every staged artifact of a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := release.VerifyLocal(db.ActiveStore(), args[0])
			if err != nil {
				return fmt.Errorf(i18n.T("release.not_found", args[0]))
			}
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Println(i18n.T("verify.failed", r.Artifact.Name, r.Err))
					continue
				}
				fmt.Println(i18n.T("verify.ok", r.Artifact.Name, r.Artifact.Digest))
			}
			if failed > 0 {
				return fmt.Errorf("%d artifact(s) failed verification", failed)
			}
			return nil
		},
	}
}

// uploadConfig is the typed view of the upload section of shipyard.yaml.
type uploadConfig struct {
	Upload struct {
		Host    string `mapstructure:"host"`
		User    string `mapstructure:"user"`
		Path    string `mapstructure:"path"`
		KeyPath string `mapstructure:"key_path"`
	} `mapstructure:"upload"`
}

func newPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <version>",
		Short: "Upload a release to the hosting server and verify it",
		Long: `Uploads every artifact of a packaged release over SFTP, reads each
remote copy back and compares digests. The release is marked published
only when every artifact verified. Re-running skips artifacts that are
already verified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadUploadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Upload.Host == "" {
				return fmt.Errorf("no upload host configured (set upload.host or --host)")
			}

			spec := release.PublishSpec{
				Host:      cfg.Upload.Host,
				User:      cfg.Upload.User,
				RemoteDir: cfg.Upload.Path,
			}

			if cfg.Upload.KeyPath != "" {
				key, passphrase, err := loadUploadKey(cfg.Upload.KeyPath)
				if err != nil {
					return err
				}
				spec.PrivateKey = key
				spec.Passphrase = passphrase
			}

			fmt.Println(i18n.T("publish.uploading", args[0], spec.Host))
			report, err := release.Publish(db.ActiveStore(), args[0], spec)
			if err != nil {
				return fmt.Errorf(i18n.T("publish.error_upload", args[0], err))
			}

			for _, f := range report.Failures {
				fmt.Println(i18n.T("publish.error_upload", f.Artifact.Name, f.Err))
			}
			if report.Published {
				fmt.Println(i18n.T("publish.success", args[0]))
				return nil
			}
			total := report.Skipped + report.Verified + len(report.Failures)
			fmt.Println(i18n.T("publish.partial", args[0], report.Skipped+report.Verified, total))
			return fmt.Errorf("%d artifact(s) failed", len(report.Failures))
		},
	}

	cmd.Flags().String("host", "", "Hosting server (host or host:port)")
	cmd.Flags().String("user", "", "SSH user on the hosting server")
	cmd.Flags().String("remote-dir", "", "Remote directory for artifacts")
	cmd.Flags().String("key", "", "Private key file for authentication")
	_ = viper.BindPFlag("upload.host", cmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("upload.user", cmd.Flags().Lookup("user"))
	_ = viper.BindPFlag("upload.path", cmd.Flags().Lookup("remote-dir"))
	_ = viper.BindPFlag("upload.key_path", cmd.Flags().Lookup("key"))

	return cmd
}

// loadUploadConfig resolves the upload target through the config package so
// file, environment and flags all apply.
func loadUploadConfig(cmd *cobra.Command) (uploadConfig, error) {
	defaults := map[string]any{
		"upload.host":     viper.GetString("upload.host"),
		"upload.user":     viper.GetString("upload.user"),
		"upload.path":     viper.GetString("upload.path"),
		"upload.key_path": viper.GetString("upload.key_path"),
	}
	return config.LoadConfig[uploadConfig](cmd, defaults, &cfgFile)
}

// loadUploadKey reads the private key and collects its passphrase when the
// key is encrypted. The passphrase is kept in the in-memory mailbox so a
// batch of publishes only prompts once.
func loadUploadKey(keyPath string) ([]byte, string, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read private key %s: %w", keyPath, err)
	}

	if _, err := publish.ParseSigner(key, ""); err == nil {
		return key, "", nil
	} else if !publish.NeedsPassphrase(err) {
		return nil, "", fmt.Errorf("unable to parse private key %s: %w", keyPath, err)
	}

	if cached := state.PassphraseCache.Get(); cached != nil {
		return key, string(cached), nil
	}

	fmt.Print(i18n.T("passphrase.prompt", keyPath))
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	state.PassphraseCache.Set(pass)
	return key, string(pass), nil
}
