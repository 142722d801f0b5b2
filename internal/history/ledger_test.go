package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tunecast/internal/domain"
	"tunecast/internal/log"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(
		filepath.Join(dir, "history.json"),
		filepath.Join(dir, "history_index.json"),
		filepath.Join(dir, "logs"),
		log.NullLogger(),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l, dir
}

func entry(url, title string) domain.HistoryEntry {
	return domain.HistoryEntry{Type: domain.EntryTypeSingle, TrackURL: url, Title: title}
}

func TestPlayCountMonotonicity(t *testing.T) {
	l, _ := newTestLedger(t)

	for i := 0; i < 3; i++ {
		if err := l.RecordCompletion(entry("u1", "Song One")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.RecordCompletion(entry("u2", "Song Two"))

	got := l.Query("", "")
	want := []int{1, 2, 3, 1}
	if len(got) != len(want) {
		t.Fatalf("entries = %d, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.PlayCount != want[i] {
			t.Errorf("entry %d play_count = %d, want %d", i, e.PlayCount, want[i])
		}
	}
}

func TestCountsSurviveReopen(t *testing.T) {
	l, dir := newTestLedger(t)
	l.RecordCompletion(entry("u1", "Song One"))
	l.RecordCompletion(entry("u1", "Song One"))

	l2, err := Open(
		filepath.Join(dir, "history.json"),
		filepath.Join(dir, "history_index.json"),
		filepath.Join(dir, "logs"),
		log.NullLogger(),
	)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if l2.PlayCount("u1") != 2 {
		t.Errorf("play count after reopen = %d, want 2", l2.PlayCount("u1"))
	}
	l2.RecordCompletion(entry("u1", "Song One"))
	entries := l2.Query("", "")
	if entries[len(entries)-1].PlayCount != 3 {
		t.Errorf("count not continued across reopen: %+v", entries[len(entries)-1])
	}
}

func TestQueryFilters(t *testing.T) {
	l, _ := newTestLedger(t)
	l.RecordCompletion(domain.HistoryEntry{Type: domain.EntryTypeSingle, TrackURL: "u1", Title: "Midnight City"})
	l.RecordCompletion(domain.HistoryEntry{Type: domain.EntryTypePlaylistEntry, TrackURL: "u2", Title: "Starlight", PlaylistURL: "pl"})
	l.RecordCompletion(domain.HistoryEntry{Type: domain.EntryTypeSingle, TrackURL: "u3", Title: "Dusk Till Dawn"})

	tests := []struct {
		name   string
		byType domain.EntryType
		title  string
		want   int
	}{
		{"no filter", "", "", 3},
		{"singles only", domain.EntryTypeSingle, "", 2},
		{"playlist entries only", domain.EntryTypePlaylistEntry, "", 1},
		{"title substring case-folded", "", "midnight", 1},
		{"type and title", domain.EntryTypeSingle, "dusk", 1},
		{"no match", "", "zzzzzz", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(l.Query(tt.byType, tt.title)); got != tt.want {
				t.Errorf("Query(%q, %q) = %d entries, want %d", tt.byType, tt.title, got, tt.want)
			}
		})
	}
}

func TestQueryPreservesLedgerOrder(t *testing.T) {
	l, _ := newTestLedger(t)
	for _, u := range []string{"a", "b", "c"} {
		l.RecordCompletion(entry(u, "Title "+u))
	}
	got := l.Query("", "")
	for i, u := range []string{"a", "b", "c"} {
		if got[i].TrackURL != u {
			t.Fatalf("order broken: %v", got)
		}
	}
}

func TestExportJSONVerbatim(t *testing.T) {
	l, _ := newTestLedger(t)
	l.RecordCompletion(entry("u1", "Song One"))
	l.RecordCompletion(entry("u2", "Song Two"))

	subset := l.Query("", "two")
	path, err := l.ExportFiltered(subset, FormatJSON)
	if err != nil {
		t.Fatalf("ExportFiltered: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var exported []domain.HistoryEntry
	if err := json.Unmarshal(data, &exported); err != nil {
		t.Fatalf("export not valid JSON: %v", err)
	}
	if len(exported) != 1 || exported[0].TrackURL != "u2" {
		t.Errorf("exported = %+v", exported)
	}
	// Export never mutates the ledger
	if len(l.Query("", "")) != 2 {
		t.Errorf("ledger mutated by export")
	}
}

func TestExportCSVHeaderAndRows(t *testing.T) {
	l, _ := newTestLedger(t)
	l.RecordCompletion(entry("u1", "Song, With Comma"))

	path, err := l.ExportFiltered(l.Query("", ""), FormatCSV)
	if err != nil {
		t.Fatalf("ExportFiltered: %v", err)
	}
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want header + 1 row: %q", len(lines), string(data))
	}
	if !strings.HasPrefix(lines[0], "type,track_url") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], `"Song, With Comma"`) {
		t.Errorf("comma title not quoted: %q", lines[1])
	}
}

func TestClearAllErasesBothFiles(t *testing.T) {
	l, dir := newTestLedger(t)
	l.RecordCompletion(entry("u1", "Song One"))

	if err := l.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if len(l.Query("", "")) != 0 || l.PlayCount("u1") != 0 {
		t.Errorf("in-memory state survived clear")
	}
	for _, f := range []string{"history.json", "history_index.json"} {
		if _, err := os.Stat(filepath.Join(dir, f)); !os.IsNotExist(err) {
			t.Errorf("%s still present after ClearAll", f)
		}
	}
}

func TestCorruptFilesTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "history.json")
	indexPath := filepath.Join(dir, "history_index.json")
	os.WriteFile(ledgerPath, []byte("{not json"), 0644)
	os.WriteFile(indexPath, []byte("[[["), 0644)

	l, err := Open(ledgerPath, indexPath, filepath.Join(dir, "logs"), log.NullLogger())
	if err != nil {
		t.Fatalf("Open must not fail on corrupt files: %v", err)
	}
	if len(l.Query("", "")) != 0 {
		t.Errorf("corrupt ledger should read as empty")
	}
	if err := l.RecordCompletion(entry("u1", "Song")); err != nil {
		t.Fatalf("recording after recovery: %v", err)
	}
	if l.PlayCount("u1") != 1 {
		t.Errorf("count after recovery = %d, want 1", l.PlayCount("u1"))
	}
}
