package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tunecast/internal/cache"
	"tunecast/internal/config"
	"tunecast/internal/domain"
	"tunecast/internal/history"
	"tunecast/internal/input"
	"tunecast/internal/log"
	"tunecast/internal/player"
	"tunecast/internal/playlist"
	"tunecast/internal/resolver"
	"tunecast/internal/session"
	"tunecast/internal/state"
	"tunecast/internal/viewer"
)

// Version is set at build time via -ldflags
var Version = "dev"

type options struct {
	playlistFile string
	shuffle      bool
	shuffleAll   bool
	auto         bool
	offline      bool
	refresh      bool
	video        bool
	historyView  bool
	debug        bool
	input        string
}

func main() {
	var showVersion bool
	opts := options{}

	flag.StringVar(&opts.playlistFile, "playlist", "", "play a playlist file (one URL or query per line)")
	flag.BoolVar(&opts.shuffle, "shuffle", false, "shuffle playlist lines before expansion")
	flag.BoolVar(&opts.shuffleAll, "shuffle-all", false, "flatten nested playlists and shuffle every track")
	flag.BoolVar(&opts.auto, "auto", false, "unattended mode: no keyboard control, auto-advance")
	flag.BoolVar(&opts.offline, "offline", false, "play cached tracks without network")
	flag.BoolVar(&opts.refresh, "refresh", false, "re-download cached tracks")
	flag.BoolVar(&opts.video, "video", false, "play video instead of audio-only")
	flag.BoolVar(&opts.historyView, "history", false, "browse play history")
	flag.BoolVar(&opts.debug, "debug", false, "verbose logging and player output")
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.Parse()

	if showVersion {
		fmt.Printf("tunecast %s\n", Version)
		return
	}
	opts.input = strings.TrimSpace(strings.Join(flag.Args(), " "))

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.debug {
		cfg.Debug = true
		cfg.Logging.Level = "debug"
	}
	if opts.refresh {
		cfg.Cache.ForceRefresh = true
	}
	if opts.video {
		cfg.Playback.Video = true
	}

	logger, err := log.SetupLogger(&cfg.Logging)
	if err != nil {
		logger = log.NullLogger()
	}
	slog.SetDefault(logger)
	logger.Info("starting tunecast", "version", Version)

	// Kill any children a crashed previous run left behind
	recovery := state.NewManager(cfg.CheckpointPath(), logger)
	if snap, err := recovery.RecoverOnStartup(); err != nil {
		logger.Warn("startup recovery incomplete", "error", err)
	} else if snap != nil {
		fmt.Printf("Recovered from interrupted session (%s: %s)\n", snap.Mode, snap.Track.DisplayTitle())
	}

	ledger, err := history.Open(cfg.HistoryPath(), cfg.IndexPath(), cfg.ExportDir(), logger)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}

	if opts.historyView {
		return viewer.RunHistoryBrowser(ledger)
	}

	res := resolver.New(cfg.Tools.Downloader, cfg.Search.CookiesFile, cfg.Search.Limit, logger)
	orch := player.NewOrchestrator(cfg.Tools.Downloader, cfg.Tools.Player,
		cfg.Search.CookiesFile, nil, cfg.Cache.ForceRefresh, cfg.Debug, logger)

	store, err := cache.NewStore(cfg.Cache.Dir, cfg.Cache.MaxFiles, orch, logger)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer store.Close()
	orch.SetFetcher(store)

	strategy := player.StrategyPipe
	if cfg.Playback.Method == config.MethodCache {
		strategy = player.StrategyCache
	}

	deps := app{store: store, ledger: ledger, res: res}
	ctrl := session.NewController(session.Deps{
		Resolver: res,
		Cache:    store,
		Starter:  session.WrapOrchestrator(orch),
		Recovery: recovery,
		Ledger:   ledger,
		Listener: func() (<-chan domain.Command, func(), error) {
			l := input.NewListener(logger)
			ch, err := l.Start()
			if err != nil {
				return nil, func() {}, err
			}
			return ch, l.Stop, nil
		},
		Logger: logger,
	}, strategy, cfg.Playback.Video)

	// SIGINT/SIGTERM funnel into context cancellation; the session
	// terminates its children and clears the checkpoint on that path.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case opts.offline:
		if ctrl.RunOffline(ctx) == domain.OutcomeFailed {
			return fmt.Errorf("offline playback failed")
		}
		return nil
	case opts.playlistFile != "":
		return runPlaylistFile(ctx, ctrl, opts)
	case opts.input != "":
		if ctrl.RunSingle(ctx, opts.input) == domain.OutcomeFailed {
			return fmt.Errorf("could not play %q", opts.input)
		}
		return nil
	default:
		return runPrompt(ctx, ctrl, deps)
	}
}

// app bundles the collaborators the interactive prompt needs
type app struct {
	store  *cache.Store
	ledger *history.Ledger
	res    *resolver.Resolver
}

func runPlaylistFile(ctx context.Context, ctrl *session.Controller, opts options) error {
	lines, err := playlist.Load(opts.playlistFile)
	if err != nil {
		return fmt.Errorf("failed to read playlist: %w", err)
	}
	if len(lines) == 0 {
		return fmt.Errorf("playlist %s has no entries", opts.playlistFile)
	}
	if ctrl.RunPlaylist(ctx, lines, opts.shuffle, opts.shuffleAll, opts.auto) == domain.OutcomeFailed {
		return fmt.Errorf("no playable tracks in %s", opts.playlistFile)
	}
	return nil
}

// runPrompt is the interactive loop: each line is a URL, a search
// query, or one of a few built-in commands.
func runPrompt(ctx context.Context, ctrl *session.Controller, deps app) error {
	fmt.Println("Type a URL or search query. Commands: offline, pick, history, quit.")
	reader := bufio.NewReader(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Print("tunecast> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil // EOF ends the loop
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "":
			continue
		case line == "quit" || line == "exit" || line == "q":
			return nil
		case line == "offline":
			ctrl.RunOffline(ctx)
		case line == "pick":
			if err := pickCached(ctx, ctrl, deps.store); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}
		case line == "history":
			if err := viewer.RunHistoryBrowser(deps.ledger); err != nil {
				fmt.Fprintf(os.Stderr, "history view failed: %v\n", err)
			}
		case resolver.IsURL(line):
			ctrl.RunSingle(ctx, line)
		default:
			if err := searchAndPlay(ctx, ctrl, deps.res, line); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}
		}
	}
}

// pickCached selects one cached track by fuzzy title and plays it
func pickCached(ctx context.Context, ctrl *session.Controller, store *cache.Store) error {
	entries, err := store.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Nothing cached yet.")
		return nil
	}

	items := make([]viewer.PickItem, len(entries))
	for i, e := range entries {
		title := e.Title
		if title == "" {
			title = e.SourceURL
		}
		items[i] = viewer.PickItem{Title: title, Subtitle: e.SourceURL}
	}
	idx, err := viewer.Pick("Cached tracks", items)
	if err != nil {
		return err
	}
	if idx < 0 {
		return nil
	}

	// The file may have been evicted while the picker was open
	entry, err := store.Get(entries[idx].SourceURL)
	if err != nil {
		return err
	}
	ctrl.RunCached(ctx, []domain.CacheEntry{entry})
	return nil
}

func searchAndPlay(ctx context.Context, ctrl *session.Controller, res *resolver.Resolver, query string) error {
	fmt.Println("Searching...")
	tracks, err := res.Resolve(ctx, query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(tracks) == 0 {
		return fmt.Errorf("no results for %q", query)
	}

	items := make([]viewer.PickItem, len(tracks))
	for i, t := range tracks {
		items[i] = viewer.PickItem{
			Title:    t.DisplayTitle(),
			Subtitle: t.Channel + "  " + t.FormattedDuration(),
		}
	}
	idx, err := viewer.Pick("Search results", items)
	if err != nil {
		return err
	}
	if idx < 0 {
		return nil
	}
	ctrl.RunTracks(ctx, []domain.TrackRef{tracks[idx]})
	return nil
}
