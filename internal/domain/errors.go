package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for session operations
var (
	// ErrResolutionFailed indicates a query or link could not be resolved
	ErrResolutionFailed = errors.New("could not resolve track")

	// ErrCacheMiss indicates no live cache entry exists for a source URL
	ErrCacheMiss = errors.New("no cache entry for source")

	// ErrNoCheckpoint indicates no checkpoint record exists on disk
	ErrNoCheckpoint = errors.New("no checkpoint present")
)

// DownloadError reports an exhausted download retry budget. Non-fatal:
// the session skips the track.
type DownloadError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed for %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ProcessLaunchError reports a missing or broken external tool. Fatal to
// the current session only, never to the whole program.
type ProcessLaunchError struct {
	Tool string
	Err  error
}

func (e *ProcessLaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Tool, e.Err)
}

func (e *ProcessLaunchError) Unwrap() error { return e.Err }

// CacheIOError reports a filesystem failure inside the cache store.
// The fetch or eviction that hit it aborts; the session continues.
type CacheIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CacheIOError) Unwrap() error { return e.Err }
