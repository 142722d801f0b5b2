package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"tunecast/internal/domain"
)

// printFormat asks the downloader for one tab-separated line per entry.
const printFormat = "%(id)s\t%(title)s\t%(channel)s\t%(duration)s\t%(webpage_url)s"

// Resolver answers search queries and expands playlists by invoking the
// external downloader tool in metadata-only mode.
type Resolver struct {
	command     string
	cookiesFile string
	limit       int
	logger      *slog.Logger

	// run is swapped in tests to avoid spawning the real tool
	run func(ctx context.Context, args ...string) ([]byte, error)
}

// New creates a Resolver around the given downloader command
func New(command, cookiesFile string, limit int, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 10
	}
	r := &Resolver{
		command:     command,
		cookiesFile: cookiesFile,
		limit:       limit,
		logger:      logger,
	}
	r.run = func(ctx context.Context, args ...string) ([]byte, error) {
		cmd := exec.CommandContext(ctx, r.command, args...)
		return cmd.Output()
	}
	return r
}

// IsURL reports whether the input is a direct link rather than a query
func IsURL(text string) bool {
	text = strings.TrimSpace(text)
	return strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://")
}

// IsPlaylistURL reports whether a link points at a playlist
func IsPlaylistURL(url string) bool {
	return strings.Contains(url, "playlist") || strings.Contains(url, "list=")
}

// Resolve maps a query or direct URL to track references. Queries return
// up to the configured search limit; a video URL returns one entry.
// Failures are non-fatal to the caller and wrap ErrResolutionFailed.
func (r *Resolver) Resolve(ctx context.Context, queryOrURL string) ([]domain.TrackRef, error) {
	queryOrURL = strings.TrimSpace(queryOrURL)
	if queryOrURL == "" {
		return nil, fmt.Errorf("%w: empty input", domain.ErrResolutionFailed)
	}

	if IsURL(queryOrURL) {
		if IsPlaylistURL(queryOrURL) {
			return r.ResolvePlaylist(ctx, queryOrURL)
		}
		return r.resolvePrint(ctx, queryOrURL, nil, "")
	}

	target := fmt.Sprintf("ytsearch%d:%s", r.limit, queryOrURL)
	r.logger.Debug("searching remote service", "query", queryOrURL, "limit", r.limit)
	return r.resolvePrint(ctx, target, nil, "")
}

// ResolvePlaylist expands a playlist URL into its entries without
// downloading anything. Entries carry the parent playlist URL.
func (r *Resolver) ResolvePlaylist(ctx context.Context, url string) ([]domain.TrackRef, error) {
	r.logger.Debug("expanding playlist", "url", url)
	return r.resolvePrint(ctx, url, []string{"--flat-playlist"}, url)
}

func (r *Resolver) resolvePrint(ctx context.Context, target string, extra []string, parent string) ([]domain.TrackRef, error) {
	args := []string{
		"--print", printFormat,
		"--skip-download",
		"--no-warnings",
		"--quiet",
	}
	args = append(args, extra...)
	if r.cookiesFile != "" {
		if _, err := os.Stat(r.cookiesFile); err == nil {
			args = append(args, "--cookies", r.cookiesFile)
		}
	}
	args = append(args, target)

	out, err := r.run(ctx, args...)
	if err != nil {
		r.logger.Error("metadata lookup failed", "target", target, "error", err)
		return nil, fmt.Errorf("%w: %s", domain.ErrResolutionFailed, target)
	}

	tracks := parsePrintOutput(string(out), parent)
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no entries for %s", domain.ErrResolutionFailed, target)
	}
	r.logger.Debug("resolved entries", "target", target, "count", len(tracks))
	return tracks, nil
}

// parsePrintOutput converts tab-separated --print lines into track refs.
// Malformed lines are skipped.
func parsePrintOutput(out, parent string) []domain.TrackRef {
	var tracks []domain.TrackRef
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if parts[0] == "" || parts[0] == "NA" {
			continue
		}
		t := domain.TrackRef{
			SourceURL:         watchURL(parts[0]),
			IsPlaylistEntry:   parent != "",
			ParentPlaylistURL: parent,
		}
		if len(parts) > 1 && parts[1] != "NA" {
			t.Title = parts[1]
		}
		if len(parts) > 2 && parts[2] != "NA" {
			t.Channel = parts[2]
		}
		if len(parts) > 3 {
			if secs, err := strconv.ParseFloat(parts[3], 64); err == nil {
				t.DurationSeconds = int(secs)
			}
		}
		if len(parts) > 4 && strings.HasPrefix(parts[4], "http") {
			t.SourceURL = parts[4]
		}
		tracks = append(tracks, t)
	}
	return tracks
}

func watchURL(id string) string {
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		return id
	}
	return "https://www.youtube.com/watch?v=" + id
}
