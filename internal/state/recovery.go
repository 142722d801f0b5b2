package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"tunecast/internal/domain"
)

// Manager owns the single playback checkpoint file. A checkpoint is
// written when a track starts and deleted when it ends cleanly, so its
// presence at startup means the previous run died mid-track.
type Manager struct {
	path   string
	logger *slog.Logger

	// killPID is swapped in tests to observe termination attempts
	killPID func(pid int) error
}

// NewManager creates a Manager over the given checkpoint file path
func NewManager(path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		path:    path,
		logger:  logger,
		killPID: killProcess,
	}
}

// Checkpoint overwrites the checkpoint record. Called when playback of
// a track begins, before any control command is accepted.
func (m *Manager) Checkpoint(snap domain.SessionSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return os.Rename(tmp, m.path)
}

// Clear deletes the checkpoint record. Idempotent.
func (m *Manager) Clear() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}

// Exists reports whether a checkpoint is currently on disk
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// read returns the current checkpoint, ErrNoCheckpoint when absent.
// An unparseable file is treated as absent with a warning.
func (m *Manager) read() (domain.SessionSnapshot, error) {
	var snap domain.SessionSnapshot
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, domain.ErrNoCheckpoint
		}
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		m.logger.Warn("checkpoint unreadable, treating as absent", "path", m.path, "error", err)
		os.Remove(m.path)
		return snap, domain.ErrNoCheckpoint
	}
	return snap, nil
}

// RecoverOnStartup reconciles a leftover checkpoint: any recorded
// process IDs still alive are terminated, then the checkpoint is
// cleared. It never resumes the interrupted track. Returns the
// previous snapshot when one was found.
func (m *Manager) RecoverOnStartup() (*domain.SessionSnapshot, error) {
	snap, err := m.read()
	if err != nil {
		if errors.Is(err, domain.ErrNoCheckpoint) {
			return nil, nil
		}
		return nil, err
	}

	m.logger.Warn("previous run did not shut down cleanly",
		"track", snap.Track.DisplayTitle(), "started_at", snap.StartedAt)

	for _, pid := range []int{snap.PlayerPID, snap.DownloaderPID} {
		if pid <= 0 {
			continue
		}
		if err := m.killPID(pid); err != nil {
			// Already gone: nothing to clean up
			m.logger.Debug("recorded process not running", "pid", pid)
			continue
		}
		m.logger.Info("terminated stray process", "pid", pid)
	}

	if err := m.Clear(); err != nil {
		return &snap, err
	}
	return &snap, nil
}
