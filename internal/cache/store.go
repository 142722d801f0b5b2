package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"tunecast/internal/domain"
)

var bucketEntries = []byte("entries")

// Downloader writes one track's media to a local file, running the
// external downloader tool to completion.
type Downloader interface {
	DownloadToFile(ctx context.Context, track domain.TrackRef, path string) error
}

// Store is the bounded on-disk media cache. It owns the cache directory
// and all entry metadata; nothing else writes either.
type Store struct {
	db         *bolt.DB
	dir        string
	maxFiles   int
	downloader Downloader
	logger     *slog.Logger

	maxAttempts int
	backoffBase time.Duration

	// now is swapped in tests to control eviction ordering
	now func() time.Time
}

// NewStore opens (creating if needed) the cache directory and its
// metadata database.
func NewStore(dir string, maxFiles int, downloader Downloader, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxFiles <= 0 {
		maxFiles = 25
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &domain.CacheIOError{Op: "mkdir", Path: dir, Err: err}
	}

	db, err := bolt.Open(filepath.Join(dir, "cache.db"), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache metadata db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:          db,
		dir:         dir,
		maxFiles:    maxFiles,
		downloader:  downloader,
		logger:      logger,
		maxAttempts: 3,
		backoffBase: 500 * time.Millisecond,
		now:         time.Now,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// cacheKey derives the stable on-disk name for a source URL
func cacheKey(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:8])
}

// Fetch returns a local path for the track's media, downloading on a
// miss or when forceRefresh is set. A hit updates last_accessed_at and
// performs zero downloads.
func (s *Store) Fetch(ctx context.Context, track domain.TrackRef, forceRefresh bool) (string, error) {
	if entry, ok := s.get(track.SourceURL); ok && !forceRefresh {
		entry.LastAccessedAt = s.now()
		if err := s.put(entry); err != nil {
			s.logger.Warn("could not update access time", "url", track.SourceURL, "error", err)
		}
		s.logger.Debug("cache hit", "url", track.SourceURL, "path", entry.LocalPath)
		return entry.LocalPath, nil
	}

	path := filepath.Join(s.dir, cacheKey(track.SourceURL)+".m4a")
	if err := s.download(ctx, track, path); err != nil {
		return "", err
	}

	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	entry := domain.CacheEntry{
		SourceURL:      track.SourceURL,
		Title:          track.Title,
		LocalPath:      path,
		SizeBytes:      size,
		CreatedAt:      s.now(),
		LastAccessedAt: s.now(),
	}
	if err := s.put(entry); err != nil {
		return "", err
	}

	if err := s.EvictIfOverflow(track.SourceURL); err != nil {
		s.logger.Warn("eviction failed", "error", err)
	}
	return path, nil
}

// download runs the downloader with exponential backoff. Exhausting the
// attempt budget surfaces a DownloadError, never a crash.
func (s *Store) download(ctx context.Context, track domain.TrackRef, path string) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		lastErr = s.downloader.DownloadToFile(ctx, track, path)
		if lastErr == nil {
			return nil
		}
		s.logger.Warn("download attempt failed",
			"url", track.SourceURL, "attempt", attempt, "of", s.maxAttempts, "error", lastErr)
		if attempt == s.maxAttempts {
			break
		}
		delay := s.backoffBase << (attempt - 1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	os.Remove(path) // drop any partial file
	return &domain.DownloadError{URL: track.SourceURL, Attempts: s.maxAttempts, Err: lastErr}
}

// EvictIfOverflow removes the oldest-created entries while the entry
// count exceeds the maximum. The entry named by justWritten is never
// selected.
func (s *Store) EvictIfOverflow(justWritten string) error {
	for {
		entries, err := s.List()
		if err != nil {
			return err
		}
		if len(entries) <= s.maxFiles {
			return nil
		}

		oldest := -1
		for i, e := range entries {
			if e.SourceURL == justWritten {
				continue
			}
			if oldest < 0 || e.CreatedAt.Before(entries[oldest].CreatedAt) {
				oldest = i
			}
		}
		if oldest < 0 {
			return nil
		}
		victim := entries[oldest]
		s.logger.Debug("evicting cache entry", "url", victim.SourceURL, "created_at", victim.CreatedAt)
		if err := s.Remove(victim.SourceURL); err != nil {
			return err
		}
	}
}

// Get returns the live entry for a source URL, ErrCacheMiss when there
// is none (or its backing file vanished).
func (s *Store) Get(sourceURL string) (domain.CacheEntry, error) {
	if entry, ok := s.get(sourceURL); ok {
		return entry, nil
	}
	return domain.CacheEntry{}, fmt.Errorf("%w: %s", domain.ErrCacheMiss, sourceURL)
}

// List produces all live entries in unspecified order
func (s *Store) List() ([]domain.CacheEntry, error) {
	var entries []domain.CacheEntry
	var corrupt [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var e domain.CacheEntry
			if err := json.Unmarshal(v, &e); err != nil {
				s.logger.Warn("dropping unreadable cache record", "key", string(k))
				corrupt = append(corrupt, append([]byte(nil), k...))
				return nil
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for _, k := range corrupt {
		s.deleteRecord(string(k))
	}
	return entries, nil
}

// Remove deletes one entry and its backing file
func (s *Store) Remove(sourceURL string) error {
	if entry, ok := s.get(sourceURL); ok {
		if err := os.Remove(entry.LocalPath); err != nil && !os.IsNotExist(err) {
			return &domain.CacheIOError{Op: "remove", Path: entry.LocalPath, Err: err}
		}
	}
	return s.deleteRecord(sourceURL)
}

// Clear removes every entry and backing file
func (s *Store) Clear() error {
	entries, err := s.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.Remove(e.SourceURL); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) get(sourceURL string) (domain.CacheEntry, bool) {
	var entry domain.CacheEntry
	found := false
	s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketEntries).Get([]byte(sourceURL))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			s.logger.Warn("unreadable cache record treated as absent", "url", sourceURL)
			return nil
		}
		// A record whose file vanished is not a live entry
		if _, err := os.Stat(entry.LocalPath); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return entry, found
}

func (s *Store) put(entry domain.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(entry.SourceURL), data)
	})
}

func (s *Store) deleteRecord(sourceURL string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(sourceURL))
	})
}
