// Package eventloop runs pollable sources and posted calls on one goroutine.
//
// A Source signals readiness from any goroutine through the wake function it
// is handed on Add. The loop then calls Dispatch on its own goroutine, so
// everything reachable from Dispatch, Post and Defer is single-threaded.
package eventloop

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Source is a unit the loop polls.
type Source interface {
	// Attach hands the source the function to call when it has input.
	// wake is safe to call from any goroutine and coalesces repeats.
	Attach(wake func())
	// Dispatch handles all pending input without blocking. Returning false
	// removes and closes the source.
	Dispatch() bool
	Close() error
}

type entry struct {
	name     string
	src      Source
	signaled atomic.Bool
	removed  bool
}

type Loop struct {
	log *log.Logger

	ready chan *entry
	calls chan func()
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	entries []*entry

	deferred []func()
}

func New(logger *log.Logger) *Loop {
	return &Loop{
		log:   logger,
		ready: make(chan *entry, 64),
		calls: make(chan func(), 64),
		done:  make(chan struct{}),
	}
}

// Add registers a source. It may be called before Run or from the loop.
func (l *Loop) Add(name string, src Source) {
	e := &entry{name: name, src: src}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	src.Attach(func() { l.wake(e) })
}

func (l *Loop) wake(e *entry) {
	if !e.signaled.CompareAndSwap(false, true) {
		return
	}
	select {
	case l.ready <- e:
	case <-l.done:
	}
}

// Post queues fn to run on the loop goroutine. It reports false once the
// loop has stopped. Calls from the loop itself should use Defer.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.calls <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Defer runs fn once the current dispatch or call returns. Only valid on
// the loop goroutine.
func (l *Loop) Defer(fn func()) {
	l.deferred = append(l.deferred, fn)
}

// Run blocks until ctx is done, then closes every remaining source.
func (l *Loop) Run(ctx context.Context) error {
	defer l.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-l.ready:
			e.signaled.Store(false)
			if e.removed {
				continue
			}
			if !e.src.Dispatch() {
				l.remove(e)
			}
		case fn := <-l.calls:
			fn()
		}
		l.runDeferred()
	}
}

func (l *Loop) runDeferred() {
	for len(l.deferred) > 0 {
		fns := l.deferred
		l.deferred = nil
		for _, fn := range fns {
			fn()
		}
	}
}

func (l *Loop) remove(e *entry) {
	e.removed = true

	l.mu.Lock()
	for i, other := range l.entries {
		if other == e {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	l.mu.Unlock()

	l.log.Debug("source removed", "source", e.name)
	if err := e.src.Close(); err != nil {
		l.log.Warn("failed to close source", "source", e.name, "err", err)
	}
}

// Sources reports how many sources are registered.
func (l *Loop) Sources() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close stops a loop that is not running and closes its sources. Run
// does the same on return.
func (l *Loop) Close() {
	l.shutdown()
}

func (l *Loop) shutdown() {
	l.once.Do(func() {
		close(l.done)

		l.mu.Lock()
		entries := l.entries
		l.entries = nil
		l.mu.Unlock()

		for _, e := range entries {
			e.removed = true
			if err := e.src.Close(); err != nil {
				l.log.Warn("failed to close source", "source", e.name, "err", err)
			}
		}
	})
}
