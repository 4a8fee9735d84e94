// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package changelog

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/toeirei/shipyard/internal/db"
	"github.com/toeirei/shipyard/internal/model"
)

func newTestStore(t *testing.T) db.Store {
	t.Helper()
	dsn := "file:changelog_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	s, err := db.New("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to initialize test database: %v", err)
	}
	return s
}

func TestRenderRoundTrip(t *testing.T) {
	entries := []model.ChangelogEntry{
		{Date: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), Version: "2.5", Description: "Added webhook retries"},
		{Date: time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC), Version: "2.4", Description: "Initial public release"},
	}

	table := Render(entries)
	if !strings.Contains(table, "| Date") {
		t.Errorf("rendered table missing header:\n%s", table)
	}
	// Oldest first in the published table.
	if strings.Index(table, "2.4") > strings.Index(table, "2.5") {
		t.Errorf("expected chronological order:\n%s", table)
	}

	parsed, err := Parse(strings.NewReader(table))
	if err != nil {
		t.Fatalf("Parse of rendered table failed: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(parsed))
	}
	if parsed[0].Version != "2.4" || parsed[1].Version != "2.5" {
		t.Errorf("round trip order wrong: %+v", parsed)
	}
	if !parsed[1].Date.Equal(entries[0].Date) {
		t.Errorf("date mismatch after round trip: %s", parsed[1].Date)
	}
}

func TestParseToleratesProseAndGermanDates(t *testing.T) {
	input := `# Changelog

Some introduction text.

| Datum      | Version | Beschreibung |
|------------|---------|--------------|
| 25.03.2024 | 2.4     | Erstes Release |

Trailing text.
`
	entries, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	want := time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)
	if !entries[0].Date.Equal(want) {
		t.Errorf("expected %s, got %s", want, entries[0].Date)
	}
}

func TestParseBadDate(t *testing.T) {
	input := "| sometime | 2.4 | text |\n"
	if _, err := Parse(strings.NewReader(input)); err == nil {
		t.Error("expected error for unparseable date")
	}
}

func TestParseNoTable(t *testing.T) {
	if _, err := Parse(strings.NewReader("just prose, no table")); !errors.Is(err, ErrNoTable) {
		t.Errorf("expected ErrNoTable, got %v", err)
	}
}

func TestImport(t *testing.T) {
	s := newTestStore(t)
	input := `| Date       | Version | Description |
|------------|---------|-------------|
| 2024-03-25 | 2.4     | Initial public release |
| 2024-04-02 | 2.5     | Added webhook retries |
`
	added, skipped, err := Import(s, strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if added != 2 || skipped != 0 {
		t.Errorf("expected 2 added / 0 skipped, got %d / %d", added, skipped)
	}

	// Re-import is idempotent.
	added, skipped, err = Import(s, strings.NewReader(input))
	if err != nil {
		t.Fatalf("re-Import failed: %v", err)
	}
	if added != 0 || skipped != 2 {
		t.Errorf("expected 0 added / 2 skipped, got %d / %d", added, skipped)
	}

	entries, err := s.GetAllChangelogEntries()
	if err != nil {
		t.Fatalf("GetAllChangelogEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 catalog entries, got %d", len(entries))
	}
	if entries[0].Version != "2.5" {
		t.Errorf("catalog should list most recent first, got %s", entries[0].Version)
	}
}
