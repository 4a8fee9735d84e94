// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

// package archive builds and verifies the tarball artifacts that make up a
// release. Archives are deterministic: entries are written in sorted order
// with slash-normalized names so the same tree produces the same bytes on
// every platform.
package archive // import "github.com/toeirei/shipyard/internal/archive"

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// DefaultExcludes are path patterns skipped during packaging. They cover
// VCS metadata, Python bytecode caches, local env files and editor
// droppings that must never ship inside a release artifact.
var DefaultExcludes = []string{
	".git",
	".hg",
	".svn",
	"__pycache__",
	"*.pyc",
	".env",
	".venv",
	"venv",
	"node_modules",
	".DS_Store",
	"*.swp",
	"*~",
}

// BuildSpec describes one archive to produce.
type BuildSpec struct {
	// SourceDir is the directory tree to package.
	SourceDir string
	// OutPath is the .tar.gz file to write.
	OutPath string
	// Excludes are additional patterns on top of DefaultExcludes. A pattern
	// matches a base name (glob) or any path segment (literal).
	Excludes []string
	// Prefix, when set, is prepended to every entry name inside the archive.
	Prefix string
}

// Result reports what was built.
type Result struct {
	Path   string
	Size   int64
	Digest string // hex SHA-256 of the finished archive file
	Files  int
}

// Build packages spec.SourceDir into spec.OutPath and returns the archive
// size and digest. An empty source directory is an error: an empty release
// artifact is always a packaging mistake.
func Build(spec BuildSpec) (*Result, error) {
	info, err := os.Stat(spec.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", spec.SourceDir)
	}

	entries, err := collectEntries(spec.SourceDir, append(append([]string{}, DefaultExcludes...), spec.Excludes...))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("source directory %s contains no files to package", spec.SourceDir)
	}

	if err := os.MkdirAll(filepath.Dir(spec.OutPath), 0o755); err != nil {
		return nil, fmt.Errorf("could not create staging directory: %w", err)
	}

	// Write to a temp file first so a failed build never leaves a truncated
	// archive at the final path.
	tmp, err := os.CreateTemp(filepath.Dir(spec.OutPath), ".shipyard-build-*")
	if err != nil {
		return nil, fmt.Errorf("could not create temporary archive: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	count, err := writeTarGz(tmp, spec, entries)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	if err := os.Rename(tmpName, spec.OutPath); err != nil {
		return nil, fmt.Errorf("could not move archive into place: %w", err)
	}
	tmpName = ""

	size, digest, err := fileDigest(spec.OutPath)
	if err != nil {
		return nil, err
	}
	return &Result{Path: spec.OutPath, Size: size, Digest: digest, Files: count}, nil
}

// collectEntries walks root and returns the relative, slash-normalized
// entry names to archive, sorted for determinism.
func collectEntries(root string, excludes []string) ([]string, error) {
	var entries []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if excluded(rel, excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source tree: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

// excluded reports whether the relative path matches any exclusion
// pattern, either as a glob against the base name or as a literal path
// segment anywhere in the path.
func excluded(rel string, patterns []string) bool {
	base := path.Base(rel)
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, base); ok {
			return true
		}
		for _, seg := range strings.Split(rel, "/") {
			if seg == pat {
				return true
			}
		}
	}
	return false
}

// writeTarGz streams the sorted entries into a gzip-compressed tar.
// Symlinks are stored as links and never followed; following a link out of
// the source tree would leak files into the artifact.
func writeTarGz(w io.Writer, spec BuildSpec, entries []string) (int, error) {
	gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(gz)

	count := 0
	for _, rel := range entries {
		full := filepath.Join(spec.SourceDir, filepath.FromSlash(rel))
		fi, err := os.Lstat(full)
		if err != nil {
			return 0, fmt.Errorf("stat %s: %w", rel, err)
		}

		var link string
		if fi.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(full); err != nil {
				return 0, fmt.Errorf("readlink %s: %w", rel, err)
			}
		}

		hdr, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return 0, fmt.Errorf("header for %s: %w", rel, err)
		}
		hdr.Name = rel
		if spec.Prefix != "" {
			hdr.Name = path.Join(spec.Prefix, rel)
		}
		if fi.IsDir() {
			hdr.Name += "/"
		}
		// Drop owner info and truncate times so archives are reproducible.
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""
		hdr.ModTime = fi.ModTime().UTC().Truncate(time.Second)
		hdr.AccessTime = time.Time{}
		hdr.ChangeTime = time.Time{}

		if err := tw.WriteHeader(hdr); err != nil {
			return 0, fmt.Errorf("write header %s: %w", rel, err)
		}
		if fi.Mode().IsRegular() {
			f, err := os.Open(full)
			if err != nil {
				return 0, fmt.Errorf("open %s: %w", rel, err)
			}
			_, err = io.Copy(tw, f)
			f.Close()
			if err != nil {
				return 0, fmt.Errorf("copy %s: %w", rel, err)
			}
		}
		count++
	}

	if err := tw.Close(); err != nil {
		return 0, err
	}
	if err := gz.Close(); err != nil {
		return 0, err
	}
	return count, nil
}

// Verify re-reads the archive at path: the gzip stream must decode end to
// end and, when wantDigest is non-empty, the file's SHA-256 must match.
// This is the executable form of the "confirm the file is not corrupted"
// release checklist step.
func Verify(path, wantDigest string) error {
	_, digest, err := fileDigest(path)
	if err != nil {
		return err
	}
	if wantDigest != "" && !strings.EqualFold(digest, wantDigest) {
		return fmt.Errorf("digest mismatch for %s: have %s, want %s", path, digest, wantDigest)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s is not a valid gzip stream: %w", path, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		_, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("corrupt tar stream in %s: %w", path, err)
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return fmt.Errorf("corrupt entry data in %s: %w", path, err)
		}
	}
	return nil
}

// CopyFile copies src to dst (used for the provisioning document, which
// ships as-is rather than archived), fsyncs the destination and returns
// its size and digest.
func CopyFile(src, dst string) (*Result, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("could not create staging directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return nil, err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return nil, fmt.Errorf("copy to %s failed: %w", dst, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	size, digest, err := fileDigest(dst)
	if err != nil {
		return nil, err
	}
	return &Result{Path: dst, Size: size, Digest: digest, Files: 1}, nil
}

// Digest returns the hex SHA-256 of the file at path.
func Digest(path string) (string, error) {
	_, d, err := fileDigest(path)
	return d, err
}

func fileDigest(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
