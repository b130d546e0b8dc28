// Package xsource turns the X connection into an eventloop.Source.
//
// xgb reads the socket on its own goroutine. A pump goroutine moves events
// and out-of-band errors from it into an inbound queue, and one waiter
// goroutine per request does the same for replies. Dispatch drains the
// whole queue on the loop goroutine, so a single wake-up never leaves a
// message behind for a later one.
package xsource

import (
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/charmbracelet/log"
	"github.com/eapache/queue"

	"rotations/internal/metrics"
	"rotations/internal/xconn"
)

// Kind classifies an inbound message.
type Kind int

const (
	KindError Kind = iota
	KindEvent
	KindReply
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindEvent:
		return "event"
	case KindReply:
		return "reply"
	}
	return "unknown"
}

// Message is one drained inbound item.
type Message struct {
	Kind  Kind
	Event xgb.Event
	Err   error
	Token xconn.Token
	Reply interface{}
}

// Handler consumes classified messages on the loop goroutine.
type Handler interface {
	HandleEvent(code byte, ev xgb.Event)
	HandleReply(token xconn.Token, reply interface{}, err error)
	HandleLost(err error)
}

const closeWait = time.Second

type Source struct {
	client  xconn.Client
	handler Handler
	log     *log.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	inbound *queue.Queue
	wake    func()
	lost    bool
	closed  bool
	started bool

	pumpDone  chan struct{}
	closeOnce sync.Once
}

func New(client xconn.Client, logger *log.Logger, m *metrics.Metrics) *Source {
	return &Source{
		client:   client,
		log:      logger,
		metrics:  m,
		inbound:  queue.New(),
		pumpDone: make(chan struct{}),
	}
}

// Bind sets the handler messages are forwarded to.
func (s *Source) Bind(h Handler) {
	s.handler = h
}

// Attach starts reading the connection. Messages queued before it are
// signalled straight away.
func (s *Source) Attach(wake func()) {
	s.mu.Lock()
	s.wake = wake
	pending := s.inbound.Length() > 0 || s.lost
	start := !s.started && !s.closed
	s.started = true
	s.mu.Unlock()

	if start {
		go s.pump()
	}
	if pending {
		wake()
	}
}

func (s *Source) pump() {
	defer close(s.pumpDone)
	for {
		ev, err := s.client.WaitForEvent()
		if ev == nil && err == nil {
			s.markLost()
			return
		}
		if err != nil {
			s.push(Message{Kind: KindError, Err: err})
		}
		if ev != nil {
			s.push(Message{Kind: KindEvent, Event: ev})
		}
	}
}

// Track waits for cookie without blocking the loop and queues the reply
// under token. Waiters still blocked when the connection closes are
// abandoned.
func (s *Source) Track(token xconn.Token, cookie xconn.Cookie) {
	go func() {
		reply, err := cookie()
		s.push(Message{Kind: KindReply, Token: token, Reply: reply, Err: err})
	}()
}

func (s *Source) push(m Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.inbound.Add(m)
	wake := s.wake
	s.mu.Unlock()

	if wake != nil {
		wake()
	}
}

func (s *Source) markLost() {
	s.mu.Lock()
	s.lost = true
	wake := s.wake
	s.mu.Unlock()

	if wake != nil {
		wake()
	}
}

func (s *Source) next() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inbound.Length() == 0 {
		return Message{}, false
	}
	return s.inbound.Remove().(Message), true
}

// Dispatch handles every queued message, then checks the connection. It
// returns false once the connection is gone.
func (s *Source) Dispatch() bool {
	for {
		m, ok := s.next()
		if !ok {
			break
		}
		s.handle(m)
	}

	if !s.Healthy() {
		s.handler.HandleLost(xconn.ErrConnectionLost)
		return false
	}
	return true
}

func (s *Source) handle(m Message) {
	s.metrics.Messages.WithLabelValues(m.Kind.String()).Inc()

	switch m.Kind {
	case KindError:
		s.log.Warn("X protocol error", "err", m.Err)
	case KindEvent:
		code, ok := eventCode(m.Event)
		if !ok {
			s.log.Debug("ignoring event", "event", m.Event)
			return
		}
		s.log.Debug("RandR event", "code", code, "wire_code", s.client.FirstEvent()+code)
		s.handler.HandleEvent(code, m.Event)
	case KindReply:
		s.handler.HandleReply(m.Token, m.Reply, m.Err)
	}
}

// eventCode maps a decoded RandR event back to its code relative to the
// extension's first event.
func eventCode(ev xgb.Event) (byte, bool) {
	switch ev.(type) {
	case randr.ScreenChangeNotifyEvent:
		return randr.ScreenChangeNotify, true
	case randr.NotifyEvent:
		return randr.Notify, true
	}
	return 0, false
}

// Healthy is false once the server side of the connection has gone away.
func (s *Source) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lost
}

// Queued reports how many messages wait for the next Dispatch.
func (s *Source) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inbound.Length()
}

// Close drops queued messages, closes the connection and waits briefly
// for the pump to exit.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.inbound = queue.New()
		started := s.started
		s.mu.Unlock()

		s.client.Close()
		if !started {
			return
		}
		select {
		case <-s.pumpDone:
		case <-time.After(closeWait):
			s.log.Warn("event pump did not stop after close")
		}
	})
	return nil
}
