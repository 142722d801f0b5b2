package history

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"tunecast/internal/domain"
)

// Ledger is the durable playback history: an append-only entry log plus
// a play-count index persisted after every increment. It is the only
// writer of both files.
type Ledger struct {
	ledgerPath string
	indexPath  string
	exportDir  string
	logger     *slog.Logger

	entries []domain.HistoryEntry
	counts  map[string]int
}

// Open loads (or initializes) the ledger and index files. An
// unparseable file is treated as absent with a warning, never a crash.
func Open(ledgerPath, indexPath, exportDir string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		ledgerPath: ledgerPath,
		indexPath:  indexPath,
		exportDir:  exportDir,
		logger:     logger,
		counts:     map[string]int{},
	}

	if data, err := os.ReadFile(ledgerPath); err == nil {
		if err := json.Unmarshal(data, &l.entries); err != nil {
			logger.Warn("history ledger unreadable, starting empty", "path", ledgerPath, "error", err)
			l.entries = nil
		}
	}
	if data, err := os.ReadFile(indexPath); err == nil {
		if err := json.Unmarshal(data, &l.counts); err != nil {
			logger.Warn("play-count index unreadable, starting empty", "path", indexPath, "error", err)
			l.counts = map[string]int{}
		}
	}
	return l, nil
}

// RecordCompletion increments the track's play count, persists the
// index, then appends the entry with the post-increment count. The
// index write precedes the ledger append so a crash between the two
// under-counts rather than over-counts.
func (l *Ledger) RecordCompletion(entry domain.HistoryEntry) error {
	l.counts[entry.TrackURL]++
	if err := writeAtomic(l.indexPath, l.counts); err != nil {
		l.counts[entry.TrackURL]--
		return fmt.Errorf("failed to persist play-count index: %w", err)
	}

	entry.PlayCount = l.counts[entry.TrackURL]
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}
	l.entries = append(l.entries, entry)
	if err := writeAtomic(l.ledgerPath, l.entries); err != nil {
		return fmt.Errorf("failed to persist history ledger: %w", err)
	}
	l.logger.Debug("recorded completion", "track", entry.TrackURL, "count", entry.PlayCount)
	return nil
}

// PlayCount returns the current counter for a track identifier
func (l *Ledger) PlayCount(trackURL string) int {
	return l.counts[trackURL]
}

// Query returns entries in ledger order (oldest first), optionally
// filtered by type and/or a title match. The title filter accepts
// case-folded substrings and close fuzzy matches.
func (l *Ledger) Query(filterType domain.EntryType, titleSubstring string) []domain.HistoryEntry {
	var out []domain.HistoryEntry
	for _, e := range l.entries {
		if filterType != "" && e.Type != filterType {
			continue
		}
		if titleSubstring != "" && !titleMatches(titleSubstring, e.Title) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func titleMatches(needle, title string) bool {
	if strings.Contains(strings.ToLower(title), strings.ToLower(needle)) {
		return true
	}
	return fuzzy.MatchNormalizedFold(needle, title)
}

// ExportFormat selects an export serialization
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ExportFiltered serializes the given entries verbatim to a snapshot
// file under the export directory and returns its path. The ledger is
// never mutated.
func (l *Ledger) ExportFiltered(entries []domain.HistoryEntry, format ExportFormat) (string, error) {
	if err := os.MkdirAll(l.exportDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(l.exportDir, "history_export."+string(format))

	switch format {
	case FormatCSV:
		f, err := os.Create(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		w := csv.NewWriter(f)
		if err := w.Write([]string{"type", "track_url", "playlist_url", "title", "timestamp_unix", "play_count"}); err != nil {
			return "", err
		}
		for _, e := range entries {
			rec := []string{
				string(e.Type), e.TrackURL, e.PlaylistURL, e.Title,
				strconv.FormatInt(e.Timestamp, 10), strconv.Itoa(e.PlayCount),
			}
			if err := w.Write(rec); err != nil {
				return "", err
			}
		}
		w.Flush()
		return path, w.Error()

	case FormatJSON:
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return "", err
		}
		return path, nil

	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}
}

// ClearAll erases both the ledger and the index. Irreversible; callers
// are responsible for confirming first.
func (l *Ledger) ClearAll() error {
	l.entries = nil
	l.counts = map[string]int{}
	for _, p := range []string{l.ledgerPath, l.indexPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// writeAtomic marshals v and renames a temp file over path so a torn
// write never corrupts the previous generation.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
