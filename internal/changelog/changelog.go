// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

// package changelog renders the release changelog as a Markdown table and
// imports existing tables back into the catalog. The catalog is the source
// of truth; the Markdown rendering is a publishing format.
package changelog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/toeirei/shipyard/internal/db"
	"github.com/toeirei/shipyard/internal/model"
	"github.com/toeirei/shipyard/util/slicest"
)

const dateLayout = "2006-01-02"

// dateLayouts are the formats accepted when parsing a table. Hand-edited
// changelogs drift, so a couple of common date spellings are tolerated.
var dateLayouts = []string{dateLayout, "02.01.2006", "2006/01/02"}

// ErrNoTable is returned when the input contains no changelog table rows.
var ErrNoTable = errors.New("no changelog table found")

// Render produces the changelog as a Markdown table, oldest entry first.
// Column widths are padded so the raw Markdown stays readable.
func Render(entries []model.ChangelogEntry) string {
	// Entries arrive most recent first from the catalog; the published
	// table reads top-down in chronological order.
	ordered := slicest.Reversed(entries)

	verWidth, descWidth := len("Version"), len("Description")
	for _, e := range ordered {
		if len(e.Version) > verWidth {
			verWidth = len(e.Version)
		}
		if len(e.Description) > descWidth {
			descWidth = len(e.Description)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "| %-10s | %-*s | %-*s |\n", "Date", verWidth, "Version", descWidth, "Description")
	fmt.Fprintf(&b, "|%s|%s|%s|\n", strings.Repeat("-", 12), strings.Repeat("-", verWidth+2), strings.Repeat("-", descWidth+2))
	for _, e := range ordered {
		fmt.Fprintf(&b, "| %-10s | %-*s | %-*s |\n", e.Date.Format(dateLayout), verWidth, e.Version, descWidth, e.Description)
	}
	return b.String()
}

// Parse reads a Markdown changelog table and returns its entries. Header
// and separator rows are skipped, as is any prose around the table. Rows
// with an unparseable date are an error rather than silently dropped.
func Parse(r io.Reader) ([]model.ChangelogEntry, error) {
	var entries []model.ChangelogEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "|") {
			continue
		}
		cells := splitRow(line)
		if len(cells) < 3 {
			continue
		}
		if isSeparatorRow(cells) || isHeaderRow(cells) {
			continue
		}
		date, err := parseDate(cells[0])
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", line, err)
		}
		entries = append(entries, model.ChangelogEntry{
			Date:        date,
			Version:     cells[1],
			Description: cells[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoTable
	}
	return entries, nil
}

// Import parses a Markdown table and records its rows in the catalog.
// Rows already present count as skipped, not as errors, so re-importing
// the published changelog is harmless.
func Import(s db.Store, r io.Reader) (added, skipped int, err error) {
	entries, err := Parse(r)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		if _, err := s.AddChangelogEntry(e.Date, e.Version, e.Description); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				skipped++
				continue
			}
			return added, skipped, fmt.Errorf("import entry for %s: %w", e.Version, err)
		}
		added++
	}
	return added, skipped, nil
}

func splitRow(line string) []string {
	line = strings.Trim(line, "|")
	return slicest.Map(strings.Split(line, "|"), strings.TrimSpace)
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if c == "" {
			continue
		}
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}

func isHeaderRow(cells []string) bool {
	first := strings.ToLower(cells[0])
	return first == "date" || first == "datum"
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
