package domain

import (
	"fmt"
	"time"
)

// EntryType distinguishes how a history entry was produced
type EntryType string

const (
	EntryTypeSingle        EntryType = "single"
	EntryTypePlaylistEntry EntryType = "playlist_entry"
)

// TrackRef identifies one playable track. Immutable once resolved;
// Title/DurationSeconds may be zero until metadata resolves.
type TrackRef struct {
	SourceURL         string `json:"source_url"`
	Title             string `json:"title,omitempty"`
	Channel           string `json:"channel,omitempty"`
	DurationSeconds   int    `json:"duration_seconds,omitempty"`
	IsPlaylistEntry   bool   `json:"is_playlist_entry,omitempty"`
	ParentPlaylistURL string `json:"parent_playlist_url,omitempty"`
}

// DisplayTitle returns the title, falling back to the source URL
func (t TrackRef) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return t.SourceURL
}

// FormattedDuration returns the duration in a human-readable format
func (t TrackRef) FormattedDuration() string {
	if t.DurationSeconds <= 0 {
		return "?"
	}
	d := time.Duration(t.DurationSeconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// CacheEntry describes one cached media file. At most one live entry
// exists per source URL; a re-download overwrites it.
type CacheEntry struct {
	SourceURL      string    `json:"source_url"`
	Title          string    `json:"title,omitempty"`
	LocalPath      string    `json:"local_path"`
	SizeBytes      int64     `json:"size_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// HistoryEntry is one append-only playback record. PlayCount carries the
// post-increment counter value at the time the entry was written.
type HistoryEntry struct {
	Type        EntryType `json:"type"`
	TrackURL    string    `json:"track_url"`
	PlaylistURL string    `json:"playlist_url,omitempty"`
	Title       string    `json:"title"`
	Timestamp   int64     `json:"timestamp_unix"`
	PlayCount   int       `json:"play_count"`
}

// SessionMode names the entry point that produced a session
type SessionMode string

const (
	ModeSingle   SessionMode = "single"
	ModePlaylist SessionMode = "playlist"
	ModeOffline  SessionMode = "offline"
)

// SessionSnapshot is the durable checkpoint of what is currently playing.
// Its presence on disk at startup is the sole signal of a prior crash.
type SessionSnapshot struct {
	ID            string      `json:"id"`
	Mode          SessionMode `json:"mode"`
	Track         TrackRef    `json:"current_track"`
	QueuePosition int         `json:"queue_position,omitempty"`
	PlayerPID     int         `json:"pid_of_player,omitempty"`
	DownloaderPID int         `json:"pid_of_downloader,omitempty"`
	StartedAt     time.Time   `json:"started_at"`
}

// Command is a playback control decoded from a keypress
type Command int

const (
	CmdNext Command = iota
	CmdReplay
	CmdQuit
	CmdPause
	CmdResume
)

func (c Command) String() string {
	switch c {
	case CmdNext:
		return "next"
	case CmdReplay:
		return "replay"
	case CmdQuit:
		return "quit"
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of a session entry point
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeQuit
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeQuit:
		return "quit"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
