// Package rotator assembles the event loop, the X source, the protocol
// session and the screen registry into one service with a defined teardown.
package rotator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/charmbracelet/log"

	"rotations/internal/eventloop"
	"rotations/internal/metrics"
	"rotations/internal/screen"
	"rotations/internal/session"
	"rotations/internal/xconn"
	"rotations/internal/xsource"
)

type Options struct {
	Observer      screen.Observer
	Timeout       time.Duration
	SweepInterval time.Duration
	Logger        *log.Logger
	Metrics       *metrics.Metrics
}

// Service is the context every component hangs off. Only the loop
// goroutine touches Session and Registry once Run has started.
type Service struct {
	Loop     *eventloop.Loop
	Source   *xsource.Source
	Session  *session.Session
	Registry *screen.Registry

	client xconn.Client
	log    *log.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	finished chan struct{}
	lostErr  error
}

func New(client xconn.Client, opts Options) *Service {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	s := &Service{client: client, log: opts.Logger}
	s.Loop = eventloop.New(opts.Logger.WithPrefix("loop"))
	s.Source = xsource.New(client, opts.Logger.WithPrefix("xsource"), opts.Metrics)
	s.Session = session.New(client, s.Source, opts.Logger.WithPrefix("session"), opts.Metrics, session.Options{
		Timeout: opts.Timeout,
		OnLost:  s.lost,
	})
	s.Registry = screen.NewRegistry(s.Session, opts.Observer, opts.Logger.WithPrefix("screen"), opts.Metrics)

	s.Session.Bind(s.Registry)
	s.Source.Bind(s.Session)
	s.Loop.Add("x11", s.Source)

	if opts.Timeout > 0 {
		interval := opts.SweepInterval
		if interval <= 0 || interval > opts.Timeout {
			interval = opts.Timeout
		}
		s.Loop.Add("expiry", eventloop.NewTicker(interval, s.Session.Expire))
	}
	return s
}

// Run enumerates the screens and runs the loop until ctx is done or the
// connection is lost, which is the only error it reports.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	finished := make(chan struct{})
	defer close(finished)

	s.mu.Lock()
	s.cancel = cancel
	s.finished = finished
	s.mu.Unlock()

	roots := s.client.Roots()
	s.Loop.Post(func() {
		s.log.Info("enumerating screens", "count", len(roots))
		s.Registry.Enumerate(roots)
	})

	err := s.Loop.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lostErr != nil {
		return s.lostErr
	}
	return err
}

// lost runs on the loop goroutine from Session.HandleLost.
func (s *Service) lost(err error) {
	s.Registry.Close()

	s.mu.Lock()
	s.lostErr = err
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// RequestRotation hands a user's choice to the loop. Refusals are logged,
// the menu keeps showing the confirmed state.
func (s *Service) RequestRotation(root xproto.Window, o screen.Orientation) {
	ok := s.Loop.Post(func() {
		err := s.Registry.RequestRotation(root, o)
		switch {
		case err == nil:
		case errors.Is(err, screen.ErrNotReady):
			s.log.Warn("dropping rotation request for a screen still being enumerated", "root", root)
		default:
			s.log.Warn("rotation request failed", "root", root, "orientation", o, "err", err)
		}
	})
	if !ok {
		s.log.Warn("dropping rotation request, service stopped", "root", root)
	}
}

// Do runs fn on the loop goroutine.
func (s *Service) Do(fn func()) bool {
	return s.Loop.Post(fn)
}

// Close stops the loop, ends the session, drops the registry and closes
// the connection. It is safe to call before, during or after Run.
func (s *Service) Close() {
	s.mu.Lock()
	cancel, finished := s.cancel, s.finished
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-finished
	} else {
		s.Loop.Close()
	}
	s.Session.Close()
	s.Registry.Close()
	s.Source.Close()
}
