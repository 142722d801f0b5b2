package player

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"tunecast/internal/domain"
)

// Strategy selects how a track reaches the player
type Strategy string

const (
	// StrategyPipe streams downloader stdout straight into the player
	StrategyPipe Strategy = "pipe"
	// StrategyCache downloads to a local file first, then plays it
	StrategyCache Strategy = "cache"
)

// Side names which child process a failure came from
type Side string

const (
	SidePlayer     Side = "player"
	SideDownloader Side = "downloader"
)

// Result is the unified outcome of one track's process pair
type Result struct {
	Err        error
	FailedSide Side
}

// Fetcher maps a track to a local media file (the cache store)
type Fetcher interface {
	Fetch(ctx context.Context, track domain.TrackRef, forceRefresh bool) (string, error)
}

// Orchestrator owns the lifecycle of one downloader and one player
// child process per track.
type Orchestrator struct {
	downloaderCmd string
	playerCmd     string
	cookiesFile   string
	fetcher       Fetcher
	forceRefresh  bool
	debug         bool
	logger        *slog.Logger

	termTimeout time.Duration
}

// NewOrchestrator creates an Orchestrator. fetcher may be nil when the
// cache strategy is never used.
func NewOrchestrator(downloaderCmd, playerCmd, cookiesFile string, fetcher Fetcher, forceRefresh, debug bool, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		downloaderCmd: downloaderCmd,
		playerCmd:     playerCmd,
		cookiesFile:   cookiesFile,
		fetcher:       fetcher,
		forceRefresh:  forceRefresh,
		debug:         debug,
		logger:        logger,
		termTimeout:   3 * time.Second,
	}
}

// SetFetcher wires the cache store in after construction. The store
// downloads through this same orchestrator, so neither can be built
// with the other already in hand.
func (o *Orchestrator) SetFetcher(f Fetcher) {
	o.fetcher = f
}

// Start launches playback of one track under the given strategy.
// videoMode selects the player variant and is fixed for the whole track.
func (o *Orchestrator) Start(ctx context.Context, track domain.TrackRef, strategy Strategy, videoMode bool) (*Handle, error) {
	if _, err := exec.LookPath(o.playerCmd); err != nil {
		return nil, &domain.ProcessLaunchError{Tool: o.playerCmd, Err: err}
	}

	switch strategy {
	case StrategyCache:
		if o.fetcher == nil {
			return nil, fmt.Errorf("cache strategy requires a cache store")
		}
		path, err := o.fetcher.Fetch(ctx, track, o.forceRefresh)
		if err != nil {
			return nil, err
		}
		return o.startFile(ctx, path)
	default:
		return o.startPipe(ctx, track, videoMode)
	}
}

// StartLocal plays an already-local file (offline mode)
func (o *Orchestrator) StartLocal(ctx context.Context, path string) (*Handle, error) {
	if _, err := exec.LookPath(o.playerCmd); err != nil {
		return nil, &domain.ProcessLaunchError{Tool: o.playerCmd, Err: err}
	}
	return o.startFile(ctx, path)
}

func (o *Orchestrator) startPipe(ctx context.Context, track domain.TrackRef, videoMode bool) (*Handle, error) {
	if _, err := exec.LookPath(o.downloaderCmd); err != nil {
		return nil, &domain.ProcessLaunchError{Tool: o.downloaderCmd, Err: err}
	}

	dl := exec.CommandContext(ctx, o.downloaderCmd, o.downloaderArgs(track.SourceURL, "-", videoMode)...)
	pl := exec.Command(o.playerCmd, o.playerArgs("-", videoMode)...)

	pipe, err := dl.StdoutPipe()
	if err != nil {
		return nil, &domain.ProcessLaunchError{Tool: o.downloaderCmd, Err: err}
	}
	pl.Stdin = pipe
	if o.debug {
		dl.Stderr = os.Stderr
		pl.Stderr = os.Stderr
	}

	if err := dl.Start(); err != nil {
		return nil, &domain.ProcessLaunchError{Tool: o.downloaderCmd, Err: err}
	}
	if err := pl.Start(); err != nil {
		dl.Process.Kill()
		dl.Wait()
		return nil, &domain.ProcessLaunchError{Tool: o.playerCmd, Err: err}
	}

	o.logger.Debug("pipe playback started",
		"url", track.SourceURL, "downloader_pid", dl.Process.Pid, "player_pid", pl.Process.Pid)
	return newHandle(pl, dl, o.termTimeout, o.logger), nil
}

func (o *Orchestrator) startFile(ctx context.Context, path string) (*Handle, error) {
	pl := exec.CommandContext(ctx, o.playerCmd, o.localPlayerArgs(path)...)
	if o.debug {
		pl.Stderr = os.Stderr
	}
	if err := pl.Start(); err != nil {
		return nil, &domain.ProcessLaunchError{Tool: o.playerCmd, Err: err}
	}
	o.logger.Debug("local playback started", "path", path, "player_pid", pl.Process.Pid)
	return newHandle(pl, nil, o.termTimeout, o.logger), nil
}

// DownloadToFile runs the downloader to completion against a target
// path. Satisfies the cache store's Downloader contract.
func (o *Orchestrator) DownloadToFile(ctx context.Context, track domain.TrackRef, path string) error {
	if _, err := exec.LookPath(o.downloaderCmd); err != nil {
		return &domain.ProcessLaunchError{Tool: o.downloaderCmd, Err: err}
	}
	args := o.downloaderArgs(track.SourceURL, path, false)
	args = append(args, "--force-overwrites", "--no-playlist")
	cmd := exec.CommandContext(ctx, o.downloaderCmd, args...)
	if o.debug {
		cmd.Stderr = os.Stderr
	}
	o.logger.Debug("downloading to cache", "url", track.SourceURL, "path", path)
	return cmd.Run()
}

func (o *Orchestrator) downloaderArgs(url, target string, videoMode bool) []string {
	format := "bestaudio"
	if videoMode {
		format = "best"
	}
	args := []string{"-f", format, "-o", target, "--no-warnings", "--quiet"}
	if o.cookiesFile != "" {
		if _, err := os.Stat(o.cookiesFile); err == nil {
			args = append(args, "--cookies", o.cookiesFile)
		}
	}
	return append(args, url)
}

// localPlayerArgs is the argv for cache-backed files. Cached media is
// downloaded audio-only, so the display stays off whatever the
// session's video mode is.
func (o *Orchestrator) localPlayerArgs(path string) []string {
	return o.playerArgs(path, false)
}

func (o *Orchestrator) playerArgs(input string, videoMode bool) []string {
	logLevel := "quiet"
	if o.debug {
		logLevel = "info"
	}
	args := []string{"-i", input, "-autoexit", "-loglevel", logLevel}
	if !videoMode {
		args = append(args, "-nodisp")
	}
	return args
}

// Handle supervises one running track: the player process and, in pipe
// mode, the downloader feeding it.
type Handle struct {
	player     *exec.Cmd
	downloader *exec.Cmd
	done       chan Result
	dlDone     chan error
	exited     chan struct{}
	logger     *slog.Logger

	termTimeout time.Duration
	termOnce    sync.Once
	termErr     error
}

func newHandle(player, downloader *exec.Cmd, termTimeout time.Duration, logger *slog.Logger) *Handle {
	h := &Handle{
		player:      player,
		downloader:  downloader,
		done:        make(chan Result, 1),
		dlDone:      make(chan error, 1),
		exited:      make(chan struct{}),
		logger:      logger,
		termTimeout: termTimeout,
	}
	if downloader != nil {
		go func() { h.dlDone <- downloader.Wait() }()
	} else {
		h.dlDone <- nil
	}
	go h.supervise()
	return h
}

// supervise waits for the player, reaps the downloader, and publishes a
// unified result. Waiting on the player alone cannot hang: a dead
// downloader closes the player's stdin and -autoexit ends it.
func (h *Handle) supervise() {
	plErr := h.player.Wait()

	if h.downloader != nil && h.downloader.Process != nil {
		// Player gone: nothing is consuming the pipe anymore
		h.downloader.Process.Kill()
	}
	var dlErr error
	select {
	case dlErr = <-h.dlDone:
	case <-time.After(h.termTimeout):
		dlErr = fmt.Errorf("downloader did not exit")
	}

	res := Result{}
	switch {
	case plErr == nil:
		// Clean playback; a downloader killed after the fact is expected
	case dlErr != nil:
		res = Result{Err: dlErr, FailedSide: SideDownloader}
	default:
		res = Result{Err: plErr, FailedSide: SidePlayer}
	}
	h.done <- res
	close(h.exited)
}

// Done delivers the unified outcome exactly once
func (h *Handle) Done() <-chan Result {
	return h.done
}

// PIDs returns the player and downloader process ids (0 when absent)
func (h *Handle) PIDs() (playerPID, downloaderPID int) {
	if h.player != nil && h.player.Process != nil {
		playerPID = h.player.Process.Pid
	}
	if h.downloader != nil && h.downloader.Process != nil {
		downloaderPID = h.downloader.Process.Pid
	}
	return playerPID, downloaderPID
}

// SendControl forwards a pause/resume signal to the player process.
// Platforms or players without support make this a silent no-op.
func (h *Handle) SendControl(cmd domain.Command) {
	if h.player == nil || h.player.Process == nil {
		return
	}
	switch cmd {
	case domain.CmdPause:
		if err := suspendProcess(h.player.Process); err != nil {
			h.logger.Debug("pause unsupported", "error", err)
		}
	case domain.CmdResume:
		if err := resumeProcess(h.player.Process); err != nil {
			h.logger.Debug("resume unsupported", "error", err)
		}
	}
}

// Terminate stops both child processes and does not return until they
// are confirmed gone or the termination timeout forces a kill.
// Idempotent.
func (h *Handle) Terminate() error {
	h.termOnce.Do(func() {
		for _, cmd := range []*exec.Cmd{h.downloader, h.player} {
			if cmd == nil || cmd.Process == nil {
				continue
			}
			if err := terminateProcess(cmd.Process); err != nil {
				h.logger.Debug("terminate signal failed", "pid", cmd.Process.Pid, "error", err)
			}
		}

		select {
		case <-h.exited:
		case <-time.After(h.termTimeout):
			h.logger.Warn("termination timeout, forcing kill")
			for _, cmd := range []*exec.Cmd{h.downloader, h.player} {
				if cmd != nil && cmd.Process != nil {
					cmd.Process.Kill()
				}
			}
			select {
			case <-h.exited:
			case <-time.After(h.termTimeout):
				h.termErr = fmt.Errorf("child processes did not exit after kill")
			}
		}
	})
	return h.termErr
}
