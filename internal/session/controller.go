package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"tunecast/internal/domain"
	"tunecast/internal/player"
	"tunecast/internal/playlist"
)

// Resolver is the metadata/search collaborator
type Resolver interface {
	Resolve(ctx context.Context, queryOrURL string) ([]domain.TrackRef, error)
	ResolvePlaylist(ctx context.Context, url string) ([]domain.TrackRef, error)
}

// Handle supervises one running track's child processes
type Handle interface {
	Done() <-chan player.Result
	PIDs() (playerPID, downloaderPID int)
	SendControl(cmd domain.Command)
	Terminate() error
}

// Starter launches playback; implemented by the process orchestrator.
// Local files are cached audio downloads, so StartLocal takes no video
// flag.
type Starter interface {
	Start(ctx context.Context, track domain.TrackRef, strategy player.Strategy, videoMode bool) (Handle, error)
	StartLocal(ctx context.Context, path string) (Handle, error)
}

// Checkpointer persists the crash-recovery checkpoint
type Checkpointer interface {
	Checkpoint(snap domain.SessionSnapshot) error
	Clear() error
}

// Recorder appends completed plays to the history ledger
type Recorder interface {
	RecordCompletion(entry domain.HistoryEntry) error
}

// CacheLister enumerates cached media for offline playback
type CacheLister interface {
	List() ([]domain.CacheEntry, error)
}

// ListenerFactory starts a control-input listener for one session and
// returns its command queue plus a stop function.
type ListenerFactory func() (<-chan domain.Command, func(), error)

// orchestratorStarter lifts the concrete orchestrator's *Handle
// returns into the Starter interface.
type orchestratorStarter struct {
	o *player.Orchestrator
}

// WrapOrchestrator adapts a process orchestrator to the Starter
// collaborator.
func WrapOrchestrator(o *player.Orchestrator) Starter {
	return orchestratorStarter{o: o}
}

func (s orchestratorStarter) Start(ctx context.Context, track domain.TrackRef, strategy player.Strategy, videoMode bool) (Handle, error) {
	h, err := s.o.Start(ctx, track, strategy, videoMode)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s orchestratorStarter) StartLocal(ctx context.Context, path string) (Handle, error) {
	h, err := s.o.StartLocal(ctx, path)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Deps are the collaborators a Controller composes
type Deps struct {
	Resolver Resolver
	Cache    CacheLister
	Starter  Starter
	Recovery Checkpointer
	Ledger   Recorder
	Listener ListenerFactory
	Logger   *slog.Logger
	Out      io.Writer
	Rng      *rand.Rand
}

// Controller drives one playback session to completion. It owns no
// persisted state itself, only the in-memory queue and mode flags; it
// is the single entry point, so two sessions never run concurrently.
type Controller struct {
	resolver Resolver
	cache    CacheLister
	starter  Starter
	recovery Checkpointer
	ledger   Recorder
	listener ListenerFactory
	logger   *slog.Logger
	out      io.Writer
	rng      *rand.Rand

	strategy  player.Strategy
	videoMode bool

	maxStartRetries  int
	endPromptTimeout time.Duration
	tickInterval     time.Duration
}

// NewController creates a Controller using the given strategy for
// remote tracks.
func NewController(deps Deps, strategy player.Strategy, videoMode bool) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	return &Controller{
		resolver:         deps.Resolver,
		cache:            deps.Cache,
		starter:          deps.Starter,
		recovery:         deps.Recovery,
		ledger:           deps.Ledger,
		listener:         deps.Listener,
		logger:           deps.Logger,
		out:              deps.Out,
		rng:              deps.Rng,
		strategy:         strategy,
		videoMode:        videoMode,
		maxStartRetries:  3,
		endPromptTimeout: 3 * time.Second,
		tickInterval:     time.Second,
	}
}

// queueItem pairs a track with an optional already-local file
type queueItem struct {
	track     domain.TrackRef
	localPath string
}

type seqOpts struct {
	mode       domain.SessionMode
	auto       bool
	allowPause bool
}

// RunSingle resolves one query or URL and plays it. Replay loops on
// the same track; an unresolvable track reports failure and returns to
// idle.
func (c *Controller) RunSingle(ctx context.Context, queryOrURL string) domain.Outcome {
	tracks, err := c.resolver.Resolve(ctx, queryOrURL)
	if err != nil || len(tracks) == 0 {
		c.reportError(fmt.Errorf("%w: %s", domain.ErrResolutionFailed, queryOrURL))
		return domain.OutcomeFailed
	}
	return c.playSequence(ctx, []queueItem{{track: tracks[0]}}, seqOpts{mode: domain.ModeSingle})
}

// RunTracks plays an already-resolved selection (e.g. search picks)
func (c *Controller) RunTracks(ctx context.Context, tracks []domain.TrackRef) domain.Outcome {
	items := make([]queueItem, len(tracks))
	for i, t := range tracks {
		items[i] = queueItem{track: t}
	}
	return c.playSequence(ctx, items, seqOpts{mode: domain.ModePlaylist})
}

// RunPlaylist expands playlist-file lines and plays the result.
// shuffle permutes only the top-level lines before expansion;
// shuffleAll flattens every nested playlist first and permutes the
// whole track sequence. In auto mode no control input is read.
func (c *Controller) RunPlaylist(ctx context.Context, lines []string, shuffle, shuffleAll, auto bool) domain.Outcome {
	expander := playlist.NewExpander(c.resolver, c.logger, c.rng)
	tracks := expander.Flatten(ctx, lines, shuffle, shuffleAll)
	if len(tracks) == 0 {
		c.reportError(errors.New("playlist produced no playable tracks"))
		return domain.OutcomeFailed
	}

	items := make([]queueItem, len(tracks))
	for i, t := range tracks {
		items[i] = queueItem{track: t}
	}
	return c.playSequence(ctx, items, seqOpts{mode: domain.ModePlaylist, auto: auto})
}

// RunOffline plays cached files in random order, with best-effort
// pause/resume.
func (c *Controller) RunOffline(ctx context.Context) domain.Outcome {
	entries, err := c.cache.List()
	if err != nil {
		c.reportError(err)
		return domain.OutcomeFailed
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, dimStyle.Render("Nothing cached yet."))
		return domain.OutcomeCompleted
	}

	c.shuffleEntries(entries)
	return c.RunCached(ctx, entries)
}

// RunCached plays the given cache entries in order, e.g. a picker's
// selection. Offline semantics: local files, pause available.
func (c *Controller) RunCached(ctx context.Context, entries []domain.CacheEntry) domain.Outcome {
	items := make([]queueItem, len(entries))
	for i, e := range entries {
		items[i] = queueItem{
			track:     domain.TrackRef{SourceURL: e.SourceURL, Title: e.Title},
			localPath: e.LocalPath,
		}
	}
	return c.playSequence(ctx, items, seqOpts{mode: domain.ModeOffline, allowPause: true})
}

func (c *Controller) shuffleEntries(entries []domain.CacheEntry) {
	swap := func(i, j int) { entries[i], entries[j] = entries[j], entries[i] }
	if c.rng != nil {
		c.rng.Shuffle(len(entries), swap)
	} else {
		rand.Shuffle(len(entries), swap)
	}
}

type trackStatus int

const (
	statusCompleted trackStatus = iota
	statusSkipped
	statusQuit
	statusFailed // non-fatal: advance to the next track
	statusFatal  // aborts the session (broken external tool)
	statusRetry
	statusReplay
)

// playSequence drives the queue. Per-track failures are non-fatal and
// advance; a ProcessLaunchError aborts the session.
func (c *Controller) playSequence(ctx context.Context, items []queueItem, opts seqOpts) domain.Outcome {
	commands, stopListener, err := c.startListener(opts.auto)
	if err != nil {
		c.logger.Warn("control input unavailable", "error", err)
		commands = nil
	}
	defer stopListener()

	sessionID := uuid.NewString()
	failed := 0
	for i, item := range items {
		c.announce(item.track, i, len(items), opts)
		status := c.playTrack(ctx, item, opts, sessionID, i, commands)
		switch status {
		case statusQuit:
			return domain.OutcomeQuit
		case statusFatal:
			return domain.OutcomeFailed
		case statusFailed:
			failed++
		}
	}
	if failed == len(items) {
		return domain.OutcomeFailed
	}
	fmt.Fprintln(c.out, okStyle.Render("End of queue."))
	return domain.OutcomeCompleted
}

func (c *Controller) startListener(auto bool) (<-chan domain.Command, func(), error) {
	if auto || c.listener == nil {
		// A nil channel never delivers: auto mode reads no input
		return nil, func() {}, nil
	}
	return c.listener()
}

// playTrack plays one queue item, looping on replay and retrying
// abnormal player exits up to the retry budget.
func (c *Controller) playTrack(ctx context.Context, item queueItem, opts seqOpts, sessionID string, queuePos int, commands <-chan domain.Command) trackStatus {
	attempts := 0
	for {
		handle, err := c.start(ctx, item)
		if err != nil {
			c.reportError(err)
			var launchErr *domain.ProcessLaunchError
			if errors.As(err, &launchErr) {
				return statusFatal
			}
			return statusFailed
		}

		playerPID, downloaderPID := handle.PIDs()
		snap := domain.SessionSnapshot{
			ID:            sessionID,
			Mode:          opts.mode,
			Track:         item.track,
			QueuePosition: queuePos,
			PlayerPID:     playerPID,
			DownloaderPID: downloaderPID,
			StartedAt:     time.Now(),
		}
		// Checkpoint before any control command is accepted
		if err := c.recovery.Checkpoint(snap); err != nil {
			c.logger.Warn("could not write checkpoint", "error", err)
		}

		status := c.superviseTrack(ctx, item, opts, handle, commands)
		switch status {
		case statusReplay:
			attempts = 0
			continue
		case statusRetry:
			attempts++
			if attempts < c.maxStartRetries {
				fmt.Fprintln(c.out, errStyle.Render(
					fmt.Sprintf("  Player exited abnormally, retrying (%d/%d)...", attempts, c.maxStartRetries)))
				continue
			}
			return statusFailed
		default:
			return status
		}
	}
}

func (c *Controller) start(ctx context.Context, item queueItem) (Handle, error) {
	if item.localPath != "" {
		return c.starter.StartLocal(ctx, item.localPath)
	}
	return c.starter.Start(ctx, item.track, c.strategy, c.videoMode)
}

// superviseTrack multiplexes the process outcome, the control queue
// and the elapsed-time ticker for one running track.
func (c *Controller) superviseTrack(ctx context.Context, item queueItem, opts seqOpts, handle Handle, commands <-chan domain.Command) trackStatus {
	started := time.Now()
	paused := false
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case res := <-handle.Done():
			if res.Err != nil {
				c.logger.Warn("playback process failed",
					"track", item.track.SourceURL, "side", string(res.FailedSide), "error", res.Err)
				c.recovery.Clear()
				return statusRetry
			}
			// History recording happens before the checkpoint is cleared
			c.record(item.track)
			c.recovery.Clear()
			return c.endOfTrackPrompt(opts, commands)

		case cmd := <-commands:
			switch cmd {
			case domain.CmdNext:
				handle.Terminate()
				c.recovery.Clear()
				return statusSkipped
			case domain.CmdReplay:
				handle.Terminate()
				c.recovery.Clear()
				return statusReplay
			case domain.CmdQuit:
				handle.Terminate()
				c.recovery.Clear()
				return statusQuit
			case domain.CmdPause:
				if !opts.allowPause {
					continue
				}
				if paused {
					handle.SendControl(domain.CmdResume)
					fmt.Fprint(c.out, "\r"+dimStyle.Render("  resumed ")+"\r")
				} else {
					handle.SendControl(domain.CmdPause)
					fmt.Fprint(c.out, "\r"+dimStyle.Render("  paused  ")+"\r")
				}
				paused = !paused
			}

		case <-ticker.C:
			if !paused {
				c.printElapsed(item.track, time.Since(started))
			}

		case <-ctx.Done():
			handle.Terminate()
			c.recovery.Clear()
			return statusQuit
		}
	}
}

// endOfTrackPrompt gives the user a short window to replay or quit
// after natural completion before auto-advancing.
func (c *Controller) endOfTrackPrompt(opts seqOpts, commands <-chan domain.Command) trackStatus {
	if opts.auto || commands == nil {
		return statusCompleted
	}
	fmt.Fprintln(c.out, dimStyle.Render(
		fmt.Sprintf("Track ended. [n]ext, [r]eplay, [q]uit? (auto-next in %s)", c.endPromptTimeout)))

	timer := time.NewTimer(c.endPromptTimeout)
	defer timer.Stop()
	for {
		select {
		case cmd := <-commands:
			switch cmd {
			case domain.CmdReplay:
				return statusReplay
			case domain.CmdQuit:
				return statusQuit
			case domain.CmdNext:
				return statusCompleted
			}
		case <-timer.C:
			return statusCompleted
		}
	}
}

func (c *Controller) record(track domain.TrackRef) {
	entryType := domain.EntryTypeSingle
	if track.IsPlaylistEntry {
		entryType = domain.EntryTypePlaylistEntry
	}
	entry := domain.HistoryEntry{
		Type:        entryType,
		TrackURL:    track.SourceURL,
		PlaylistURL: track.ParentPlaylistURL,
		Title:       track.DisplayTitle(),
		Timestamp:   time.Now().Unix(),
	}
	if err := c.ledger.RecordCompletion(entry); err != nil {
		c.logger.Error("could not record play", "track", track.SourceURL, "error", err)
	}
}

func (c *Controller) announce(track domain.TrackRef, pos, total int, opts seqOpts) {
	title := titleStyle.Render(track.DisplayTitle())
	fmt.Fprintf(c.out, "\n%s [%d/%d] %s\n", accentStyle.Render("Now playing:"), pos+1, total, title)
	if opts.auto {
		return
	}
	keys := "[n]ext, [r]eplay, [q]uit"
	if opts.allowPause {
		keys = "[p]ause, " + keys
	}
	fmt.Fprintln(c.out, dimStyle.Render("  Controls: "+keys))
}

func (c *Controller) printElapsed(track domain.TrackRef, elapsed time.Duration) {
	e := int(elapsed.Seconds())
	line := fmt.Sprintf("  %02d:%02d", e/60, e%60)
	if track.DurationSeconds > 0 {
		line += " / " + track.FormattedDuration()
	}
	fmt.Fprint(c.out, "\r"+dimStyle.Render(line))
}

func (c *Controller) reportError(err error) {
	c.logger.Error("session error", "error", err)
	fmt.Fprintln(c.out, errStyle.Render("  "+err.Error()))
}
