// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

// package provision validates the cloud-init provisioning document that
// ships alongside the release archives. The document's content is owned by
// the provisioning team; Shipyard only checks that it is structurally
// sound cloud-init YAML before letting it into a release.
package provision // import "github.com/toeirei/shipyard/internal/provision"

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Header is the comment line cloud-init requires on the first line of a
// user-data document.
const Header = "#cloud-config"

// Finding is a single validation result.
type Finding struct {
	// Fatal findings block the release; non-fatal ones are warnings.
	Fatal   bool
	Message string
}

// Report collects everything the validator found. A document with no
// fatal findings is acceptable for release.
type Report struct {
	Findings []Finding
}

// OK reports whether the document had no fatal findings.
func (r *Report) OK() bool {
	for _, f := range r.Findings {
		if f.Fatal {
			return false
		}
	}
	return true
}

// Errors returns only the fatal findings.
func (r *Report) Errors() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Fatal {
			out = append(out, f)
		}
	}
	return out
}

func (r *Report) fatal(format string, v ...any) {
	r.Findings = append(r.Findings, Finding{Fatal: true, Message: fmt.Sprintf(format, v...)})
}

func (r *Report) warn(format string, v ...any) {
	r.Findings = append(r.Findings, Finding{Fatal: false, Message: fmt.Sprintf(format, v...)})
}

// ValidateFile reads and validates the provisioning document at path.
func ValidateFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read provisioning document: %w", err)
	}
	return Validate(data), nil
}

// Validate checks a cloud-init user-data document. It collects all
// findings instead of failing on the first one, so the operator sees the
// whole picture in one run.
func Validate(data []byte) *Report {
	r := &Report{}

	text := strings.TrimPrefix(string(data), "\ufeff") // tolerate a UTF-8 BOM
	firstLine, _, _ := strings.Cut(text, "\n")
	if strings.TrimRight(firstLine, " \t\r") != Header {
		r.fatal("first line must be %q, found %q", Header, strings.TrimSpace(firstLine))
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		r.fatal("document is not valid YAML: %v", err)
		return r
	}
	if len(doc) == 0 {
		r.warn("document has no directives")
		return r
	}

	if wf, ok := doc["write_files"]; ok {
		checkWriteFiles(r, wf)
	}
	if rc, ok := doc["runcmd"]; ok {
		checkRuncmd(r, rc)
	}
	if pkgs, ok := doc["packages"]; ok {
		if _, isList := pkgs.([]any); !isList {
			r.fatal("packages must be a list")
		}
	}
	return r
}

// checkWriteFiles enforces the shape cloud-init requires: a list of
// mappings, each carrying a path.
func checkWriteFiles(r *Report, v any) {
	list, ok := v.([]any)
	if !ok {
		r.fatal("write_files must be a list")
		return
	}
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			r.fatal("write_files[%d] must be a mapping", i)
			continue
		}
		p, has := entry["path"]
		if !has {
			r.fatal("write_files[%d] is missing required key 'path'", i)
			continue
		}
		ps, ok := p.(string)
		if !ok || ps == "" {
			r.fatal("write_files[%d] path must be a non-empty string", i)
			continue
		}
		if !strings.HasPrefix(ps, "/") {
			r.warn("write_files[%d] path %q is not absolute", i, ps)
		}
	}
}

// checkRuncmd enforces that runcmd is a list whose items are strings or
// argv-style string lists.
func checkRuncmd(r *Report, v any) {
	list, ok := v.([]any)
	if !ok {
		r.fatal("runcmd must be a list")
		return
	}
	for i, item := range list {
		switch cmd := item.(type) {
		case string:
			if strings.TrimSpace(cmd) == "" {
				r.warn("runcmd[%d] is empty", i)
			}
		case []any:
			for j, arg := range cmd {
				if _, ok := arg.(string); !ok {
					r.fatal("runcmd[%d][%d] must be a string", i, j)
				}
			}
		default:
			r.fatal("runcmd[%d] must be a string or a list of strings", i)
		}
	}
}
