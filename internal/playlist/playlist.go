package playlist

import (
	"bufio"
	"context"
	"log/slog"
	"math/rand"
	"os"
	"strings"

	"tunecast/internal/domain"
	"tunecast/internal/resolver"
)

// Resolver is the metadata collaborator the expander consumes
type Resolver interface {
	Resolve(ctx context.Context, queryOrURL string) ([]domain.TrackRef, error)
	ResolvePlaylist(ctx context.Context, url string) ([]domain.TrackRef, error)
}

// Load reads a playlist file: one URL or search query per line, blank
// lines and #-comments skipped.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// Expander turns playlist-file lines into a flat ordered track sequence.
// Expansion is a one-shot pass; no recursive structure is kept.
type Expander struct {
	resolver Resolver
	logger   *slog.Logger
	rng      *rand.Rand
}

// NewExpander creates an Expander. rng may be nil for the default source.
func NewExpander(r Resolver, logger *slog.Logger, rng *rand.Rand) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{resolver: r, logger: logger, rng: rng}
}

// Flatten expands every line into tracks. shuffle permutes the
// top-level lines before expansion, so tracks from one line stay
// adjacent and in order; shuffleAll permutes the fully flattened track
// sequence instead. Lines that fail to expand are logged and skipped.
func (e *Expander) Flatten(ctx context.Context, lines []string, shuffle, shuffleAll bool) []domain.TrackRef {
	lines = append([]string(nil), lines...)
	if shuffle && !shuffleAll {
		e.shuffleFn(len(lines), func(i, j int) { lines[i], lines[j] = lines[j], lines[i] })
	}

	var flat []domain.TrackRef
	for _, line := range lines {
		tracks, err := e.expandLine(ctx, line)
		if err != nil {
			e.logger.Warn("skipping unresolvable playlist line", "line", line, "error", err)
			continue
		}
		flat = append(flat, tracks...)
	}

	if shuffleAll {
		e.shuffleFn(len(flat), func(i, j int) { flat[i], flat[j] = flat[j], flat[i] })
	}
	return flat
}

func (e *Expander) expandLine(ctx context.Context, line string) ([]domain.TrackRef, error) {
	if resolver.IsURL(line) && resolver.IsPlaylistURL(line) {
		return e.resolver.ResolvePlaylist(ctx, line)
	}
	tracks, err := e.resolver.Resolve(ctx, line)
	if err != nil {
		return nil, err
	}
	if !resolver.IsURL(line) && len(tracks) > 1 {
		// A query line means one track: take the top match
		tracks = tracks[:1]
	}
	return tracks, nil
}

func (e *Expander) shuffleFn(n int, swap func(i, j int)) {
	if e.rng != nil {
		e.rng.Shuffle(n, swap)
		return
	}
	rand.Shuffle(n, swap)
}
