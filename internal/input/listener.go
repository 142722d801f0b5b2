package input

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"tunecast/internal/domain"
)

// deadlineReader is the subset of os.File the listener needs to make a
// blocking Read interruptible.
type deadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// Listener reads single keypresses off the terminal without blocking
// the playback loop, publishing recognized commands on a buffered
// channel. Unrecognized keys are discarded silently. It never outlives
// the session that started it.
type Listener struct {
	reader io.Reader
	logger *slog.Logger

	// makeRaw is swapped in tests to avoid touching a real terminal
	makeRaw func() (restore func(), err error)

	// poll bounds how long a Read may block before the goroutine
	// rechecks whether Stop was called (deadline-capable readers only)
	poll time.Duration

	commands    chan domain.Command
	stopped     chan struct{}
	stopOnce    sync.Once
	restore     func()
	restoreOnce sync.Once
}

// NewListener creates a Listener over stdin
func NewListener(logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		reader: os.Stdin,
		logger: logger,
		makeRaw: func() (func(), error) {
			fd := int(os.Stdin.Fd())
			if !term.IsTerminal(fd) {
				// Piped stdin: read plain bytes, nothing to restore
				return func() {}, nil
			}
			old, err := term.MakeRaw(fd)
			if err != nil {
				return nil, err
			}
			return func() { term.Restore(fd, old) }, nil
		},
		poll:     200 * time.Millisecond,
		commands: make(chan domain.Command, 4),
		stopped:  make(chan struct{}),
	}
}

// Start puts the terminal into raw mode and begins decoding keys.
// The returned channel is the single-consumer command queue.
func (l *Listener) Start() (<-chan domain.Command, error) {
	restore, err := l.makeRaw()
	if err != nil {
		return nil, err
	}
	l.restore = restore

	// Deadline-capable readers (os.Stdin on the supported platforms)
	// are polled so Stop takes effect without waiting for a keypress.
	// Readers without deadline support fall back to a blocking Read.
	dr, _ := l.reader.(deadlineReader)
	if dr != nil && dr.SetReadDeadline(time.Now().Add(l.poll)) != nil {
		dr = nil
	}

	go func() {
		defer l.runRestore()
		buf := make([]byte, 1)
		for {
			select {
			case <-l.stopped:
				return
			default:
			}
			if dr != nil {
				dr.SetReadDeadline(time.Now().Add(l.poll))
			}
			n, err := l.reader.Read(buf)
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if err != nil {
				return
			}
			select {
			case <-l.stopped:
				return
			default:
			}
			if n == 0 {
				continue
			}
			cmd, ok := decodeKey(buf[0])
			if !ok {
				continue
			}
			l.logger.Debug("control key", "command", cmd.String())
			select {
			case l.commands <- cmd:
			default:
				// Consumer is busy; stale commands are droppable
			}
		}
	}()

	return l.commands, nil
}

// Stop ends the listener with its owning session. The terminal is
// restored immediately, without waiting for another keypress.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopped)
		l.runRestore()
	})
}

// runRestore leaves raw mode exactly once, whether the goroutine exits
// on its own (EOF) or Stop gets there first.
func (l *Listener) runRestore() {
	l.restoreOnce.Do(func() {
		if l.restore != nil {
			l.restore()
		}
	})
}

// decodeKey maps a keypress to a playback command
func decodeKey(b byte) (domain.Command, bool) {
	switch b {
	case 'n', 'N':
		return domain.CmdNext, true
	case 'r', 'R':
		return domain.CmdReplay, true
	case 'q', 'Q', 3: // 3 is Ctrl-C in raw mode
		return domain.CmdQuit, true
	case 'p', 'P', ' ':
		return domain.CmdPause, true
	default:
		return 0, false
	}
}
