package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"tunecast/internal/domain"
	"tunecast/internal/log"
	"tunecast/internal/player"
)

type fakeHandle struct {
	mu         sync.Mutex
	done       chan player.Result
	terminated bool
	controls   []domain.Command
}

func newFakeHandle(result *player.Result) *fakeHandle {
	h := &fakeHandle{done: make(chan player.Result, 1)}
	if result != nil {
		h.done <- *result
	}
	return h
}

func (h *fakeHandle) Done() <-chan player.Result { return h.done }
func (h *fakeHandle) PIDs() (int, int)           { return 101, 202 }

func (h *fakeHandle) SendControl(cmd domain.Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controls = append(h.controls, cmd)
}

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated = true
	return nil
}

type startRecord struct {
	url   string
	local string
}

// fakeStarter scripts one result per start; a nil script entry (or an
// exhausted script) yields a handle that never finishes on its own.
type fakeStarter struct {
	mu        sync.Mutex
	script    []*player.Result
	launchErr error
	starts    []startRecord
	handles   []*fakeHandle
}

func (s *fakeStarter) next(rec startRecord) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.launchErr != nil {
		return nil, s.launchErr
	}
	var result *player.Result
	if len(s.starts) < len(s.script) {
		result = s.script[len(s.starts)]
	}
	s.starts = append(s.starts, rec)
	h := newFakeHandle(result)
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeStarter) Start(ctx context.Context, track domain.TrackRef, strategy player.Strategy, videoMode bool) (Handle, error) {
	return s.next(startRecord{url: track.SourceURL})
}

func (s *fakeStarter) StartLocal(ctx context.Context, path string) (Handle, error) {
	return s.next(startRecord{local: path})
}

// opLog records checkpoint, record and clear calls in order so tests
// can assert the durability ordering.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeRecovery struct{ log *opLog }

func (f *fakeRecovery) Checkpoint(snap domain.SessionSnapshot) error {
	f.log.add("checkpoint:" + snap.Track.SourceURL)
	return nil
}

func (f *fakeRecovery) Clear() error {
	f.log.add("clear")
	return nil
}

type fakeLedger struct {
	log     *opLog
	entries []domain.HistoryEntry
}

func (f *fakeLedger) RecordCompletion(entry domain.HistoryEntry) error {
	f.log.add("record:" + entry.TrackURL)
	f.entries = append(f.entries, entry)
	return nil
}

type fakeResolver struct {
	tracks map[string][]domain.TrackRef
}

func (f *fakeResolver) Resolve(ctx context.Context, queryOrURL string) ([]domain.TrackRef, error) {
	if tracks, ok := f.tracks[queryOrURL]; ok {
		return tracks, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrResolutionFailed, queryOrURL)
}

func (f *fakeResolver) ResolvePlaylist(ctx context.Context, url string) ([]domain.TrackRef, error) {
	return f.Resolve(ctx, url)
}

type fakeCache struct {
	entries []domain.CacheEntry
	err     error
}

func (f *fakeCache) List() ([]domain.CacheEntry, error) { return f.entries, f.err }

type fixture struct {
	ctrl          *Controller
	starter       *fakeStarter
	recovery      *fakeRecovery
	ledger        *fakeLedger
	resolver      *fakeResolver
	cache         *fakeCache
	commands      chan domain.Command
	log           *opLog
	listenerCalls int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ops := &opLog{}
	f := &fixture{
		starter:  &fakeStarter{},
		recovery: &fakeRecovery{log: ops},
		ledger:   &fakeLedger{log: ops},
		resolver: &fakeResolver{tracks: map[string][]domain.TrackRef{}},
		cache:    &fakeCache{},
		commands: make(chan domain.Command, 8),
		log:      ops,
	}
	f.ctrl = NewController(Deps{
		Resolver: f.resolver,
		Cache:    f.cache,
		Starter:  f.starter,
		Recovery: f.recovery,
		Ledger:   f.ledger,
		Listener: func() (<-chan domain.Command, func(), error) {
			f.listenerCalls++
			return f.commands, func() {}, nil
		},
		Logger: log.NullLogger(),
		Out:    io.Discard,
		Rng:    rand.New(rand.NewSource(1)),
	}, player.StrategyPipe, false)
	f.ctrl.endPromptTimeout = 30 * time.Millisecond
	f.ctrl.tickInterval = time.Hour
	return f
}

func success() *player.Result { return &player.Result{} }

func failure() *player.Result {
	return &player.Result{Err: errors.New("exit status 1"), FailedSide: player.SidePlayer}
}

func TestSingleTrackCompletesAndRecords(t *testing.T) {
	f := newFixture(t)
	f.resolver.tracks["lofi beats"] = []domain.TrackRef{{SourceURL: "https://x/v1", Title: "Lofi"}}
	f.starter.script = []*player.Result{success()}

	outcome := f.ctrl.RunSingle(context.Background(), "lofi beats")

	if outcome != domain.OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", outcome)
	}
	want := []string{"checkpoint:https://x/v1", "record:https://x/v1", "clear"}
	got := f.log.snapshot()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("op order = %v, want %v", got, want)
	}
	if len(f.ledger.entries) != 1 || f.ledger.entries[0].Type != domain.EntryTypeSingle {
		t.Errorf("ledger entries = %+v", f.ledger.entries)
	}
}

func TestSingleUnresolvableReportsFailure(t *testing.T) {
	f := newFixture(t)

	outcome := f.ctrl.RunSingle(context.Background(), "no such thing")

	if outcome != domain.OutcomeFailed {
		t.Errorf("outcome = %v, want failed", outcome)
	}
	if len(f.starter.starts) != 0 {
		t.Errorf("starts = %v, want none", f.starter.starts)
	}
}

func TestAbnormalExitRetriesUpToThree(t *testing.T) {
	f := newFixture(t)
	f.resolver.tracks["u"] = []domain.TrackRef{{SourceURL: "u"}}
	f.starter.script = []*player.Result{failure(), failure(), failure()}

	outcome := f.ctrl.RunSingle(context.Background(), "u")

	if outcome != domain.OutcomeFailed {
		t.Errorf("outcome = %v, want failed", outcome)
	}
	if len(f.starter.starts) != 3 {
		t.Errorf("starts = %d, want 3", len(f.starter.starts))
	}
	if len(f.ledger.entries) != 0 {
		t.Errorf("failed playback must not be recorded: %+v", f.ledger.entries)
	}
	ops := f.log.snapshot()
	if ops[len(ops)-1] != "clear" {
		t.Errorf("checkpoint left behind after failure: %v", ops)
	}
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	f := newFixture(t)
	f.resolver.tracks["u"] = []domain.TrackRef{{SourceURL: "u"}}
	f.starter.script = []*player.Result{failure(), success()}

	outcome := f.ctrl.RunSingle(context.Background(), "u")

	if outcome != domain.OutcomeCompleted {
		t.Errorf("outcome = %v, want completed", outcome)
	}
	if len(f.starter.starts) != 2 {
		t.Errorf("starts = %d, want 2", len(f.starter.starts))
	}
	if len(f.ledger.entries) != 1 {
		t.Errorf("completions recorded = %d, want 1", len(f.ledger.entries))
	}
}

func TestQuitCommandEndsSession(t *testing.T) {
	f := newFixture(t)
	f.commands <- domain.CmdQuit
	tracks := []domain.TrackRef{{SourceURL: "a"}, {SourceURL: "b"}}

	outcome := f.ctrl.RunTracks(context.Background(), tracks)

	if outcome != domain.OutcomeQuit {
		t.Fatalf("outcome = %v, want quit", outcome)
	}
	if len(f.starter.starts) != 1 {
		t.Errorf("starts = %v, want only the first track", f.starter.starts)
	}
	if !f.starter.handles[0].terminated {
		t.Error("quit did not terminate the running track")
	}
	if len(f.ledger.entries) != 0 {
		t.Errorf("quit mid-track must not record a play: %+v", f.ledger.entries)
	}
}

func TestNextSkipsToFollowingTrack(t *testing.T) {
	f := newFixture(t)
	f.starter.script = []*player.Result{nil, success()}
	f.commands <- domain.CmdNext
	tracks := []domain.TrackRef{{SourceURL: "a"}, {SourceURL: "b"}}

	outcome := f.ctrl.RunTracks(context.Background(), tracks)

	if outcome != domain.OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", outcome)
	}
	if len(f.starter.starts) != 2 || f.starter.starts[1].url != "b" {
		t.Errorf("starts = %v", f.starter.starts)
	}
	if !f.starter.handles[0].terminated {
		t.Error("skip did not terminate the first track")
	}
	if len(f.ledger.entries) != 1 || f.ledger.entries[0].TrackURL != "b" {
		t.Errorf("only the finished track should be recorded: %+v", f.ledger.entries)
	}
}

func TestReplayRestartsSameTrack(t *testing.T) {
	f := newFixture(t)
	f.resolver.tracks["u"] = []domain.TrackRef{{SourceURL: "u"}}
	f.starter.script = []*player.Result{nil, success()}
	f.commands <- domain.CmdReplay

	outcome := f.ctrl.RunSingle(context.Background(), "u")

	if outcome != domain.OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", outcome)
	}
	if len(f.starter.starts) != 2 || f.starter.starts[0].url != "u" || f.starter.starts[1].url != "u" {
		t.Errorf("starts = %v, want the same track twice", f.starter.starts)
	}
	want := []string{"checkpoint:u", "clear", "checkpoint:u", "record:u", "clear"}
	if got := f.log.snapshot(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("op order = %v, want %v", got, want)
	}
}

func TestAutoModeReadsNoInput(t *testing.T) {
	f := newFixture(t)
	f.resolver.tracks["https://x/a"] = []domain.TrackRef{{SourceURL: "https://x/a"}}
	f.resolver.tracks["https://x/b"] = []domain.TrackRef{{SourceURL: "https://x/b"}}
	f.starter.script = []*player.Result{success(), success()}

	start := time.Now()
	outcome := f.ctrl.RunPlaylist(context.Background(), []string{"https://x/a", "https://x/b"}, false, false, true)

	if outcome != domain.OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", outcome)
	}
	if f.listenerCalls != 0 {
		t.Error("auto mode must not start a control listener")
	}
	if elapsed := time.Since(start); elapsed > f.ctrl.endPromptTimeout {
		t.Errorf("auto mode waited on the end-of-track prompt (%v)", elapsed)
	}
	if len(f.ledger.entries) != 2 {
		t.Errorf("completions recorded = %d, want 2", len(f.ledger.entries))
	}
}

func TestLaunchFailureAbortsSession(t *testing.T) {
	f := newFixture(t)
	f.starter.launchErr = &domain.ProcessLaunchError{Tool: "ffplay", Err: errors.New("not found")}
	tracks := []domain.TrackRef{{SourceURL: "a"}, {SourceURL: "b"}}

	outcome := f.ctrl.RunTracks(context.Background(), tracks)

	if outcome != domain.OutcomeFailed {
		t.Errorf("outcome = %v, want failed", outcome)
	}
	if len(f.starter.starts) != 0 {
		t.Errorf("starts recorded despite launch failure: %v", f.starter.starts)
	}
}

func TestUnplayableTracksAreSkippedNotFatal(t *testing.T) {
	f := newFixture(t)
	// Track "a" burns the whole retry budget, "b" succeeds
	f.starter.script = []*player.Result{failure(), failure(), failure(), success()}
	tracks := []domain.TrackRef{{SourceURL: "a"}, {SourceURL: "b"}}

	outcome := f.ctrl.RunTracks(context.Background(), tracks)

	if outcome != domain.OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", outcome)
	}
	if len(f.ledger.entries) != 1 || f.ledger.entries[0].TrackURL != "b" {
		t.Errorf("ledger entries = %+v", f.ledger.entries)
	}
}

func TestOfflinePauseTogglesAndQuits(t *testing.T) {
	f := newFixture(t)
	f.cache.entries = []domain.CacheEntry{{SourceURL: "u", Title: "Cached", LocalPath: "/tmp/u.m4a"}}
	f.commands <- domain.CmdPause
	f.commands <- domain.CmdPause
	f.commands <- domain.CmdQuit

	outcome := f.ctrl.RunOffline(context.Background())

	if outcome != domain.OutcomeQuit {
		t.Fatalf("outcome = %v, want quit", outcome)
	}
	if len(f.starter.starts) != 1 || f.starter.starts[0].local != "/tmp/u.m4a" {
		t.Errorf("starts = %v, want the cached file", f.starter.starts)
	}
	h := f.starter.handles[0]
	h.mu.Lock()
	controls := append([]domain.Command(nil), h.controls...)
	h.mu.Unlock()
	if fmt.Sprint(controls) != fmt.Sprint([]domain.Command{domain.CmdPause, domain.CmdResume}) {
		t.Errorf("controls = %v, want pause then resume", controls)
	}
}

func TestRunCachedPlaysGivenOrder(t *testing.T) {
	f := newFixture(t)
	f.starter.script = []*player.Result{success(), success()}
	entries := []domain.CacheEntry{
		{SourceURL: "u1", Title: "First", LocalPath: "/tmp/1.m4a"},
		{SourceURL: "u2", Title: "Second", LocalPath: "/tmp/2.m4a"},
	}

	outcome := f.ctrl.RunCached(context.Background(), entries)

	if outcome != domain.OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", outcome)
	}
	if len(f.starter.starts) != 2 ||
		f.starter.starts[0].local != "/tmp/1.m4a" || f.starter.starts[1].local != "/tmp/2.m4a" {
		t.Errorf("starts = %v, want the given order", f.starter.starts)
	}
}

func TestOfflineCacheFailureReportsFailure(t *testing.T) {
	f := newFixture(t)
	f.cache.err = errors.New("metadata store unreadable")

	outcome := f.ctrl.RunOffline(context.Background())

	if outcome != domain.OutcomeFailed {
		t.Errorf("outcome = %v, want failed", outcome)
	}
	if len(f.starter.starts) != 0 {
		t.Errorf("starts = %v, want none", f.starter.starts)
	}
}

func TestOfflineEmptyCacheIsClean(t *testing.T) {
	f := newFixture(t)

	outcome := f.ctrl.RunOffline(context.Background())

	if outcome != domain.OutcomeCompleted {
		t.Errorf("outcome = %v, want completed", outcome)
	}
	if len(f.starter.starts) != 0 {
		t.Errorf("starts = %v, want none", f.starter.starts)
	}
}

func TestPauseIgnoredOutsideOfflineMode(t *testing.T) {
	f := newFixture(t)
	f.starter.script = []*player.Result{nil}
	f.commands <- domain.CmdPause
	f.commands <- domain.CmdQuit

	outcome := f.ctrl.RunTracks(context.Background(), []domain.TrackRef{{SourceURL: "a"}})

	if outcome != domain.OutcomeQuit {
		t.Fatalf("outcome = %v, want quit", outcome)
	}
	h := f.starter.handles[0]
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.controls) != 0 {
		t.Errorf("streamed playback forwarded pause controls: %v", h.controls)
	}
}
