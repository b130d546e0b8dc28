// Package session issues RandR requests and correlates their replies.
//
// Every request gets a fresh token. The pending table maps a token to the
// meaning of its reply; an entry leaves the table exactly once, when the
// reply or error is consumed, when it expires, or when the session ends.
package session

import (
	"fmt"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"rotations/internal/metrics"
	"rotations/internal/screen"
	"rotations/internal/xconn"
)

// Kind is what a pending reply means.
type Kind int

const (
	KindScreenInfo Kind = iota
	KindResources
	KindOutputInfo
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindScreenInfo:
		return "screen info"
	case KindResources:
		return "screen resources"
	case KindOutputInfo:
		return "output info"
	case KindConfig:
		return "screen config"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Pending is one request waiting for its reply.
type Pending struct {
	Token     xconn.Token
	Kind      Kind
	Root      xproto.Window
	Output    randr.Output
	Requested screen.Orientation
	Issued    time.Time
}

// Sink receives decoded replies and notifications. The registry is one.
type Sink interface {
	Populate(root xproto.Window, info screen.Info)
	OutputNamed(root xproto.Window, name string)
	Changed(root xproto.Window, o screen.Orientation, ts xproto.Timestamp, sizeID uint16)
	Confirmed(root xproto.Window, token xconn.Token, ts xproto.Timestamp)
	Rejected(root xproto.Window, token xconn.Token, ts xproto.Timestamp, err error)
}

// Tracker waits for a cookie and hands the reply back to HandleReply on the
// loop goroutine.
type Tracker interface {
	Track(token xconn.Token, cookie xconn.Cookie)
}

type Options struct {
	// Timeout bounds how long a request may stay pending. Zero disables it.
	Timeout time.Duration
	// OnLost runs once when the connection is lost.
	OnLost func(error)
	Now    func() time.Time
}

type Session struct {
	ID string

	client  xconn.Client
	tracker Tracker
	sink    Sink
	log     *log.Logger
	metrics *metrics.Metrics
	opts    Options

	last    xconn.Token
	pending map[xconn.Token]Pending
	closed  bool
}

func New(client xconn.Client, tracker Tracker, logger *log.Logger, m *metrics.Metrics, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	id := uuid.NewString()
	return &Session{
		ID:      id,
		client:  client,
		tracker: tracker,
		log:     logger.With("session", id[:8]),
		metrics: m,
		opts:    opts,
		pending: map[xconn.Token]Pending{},
	}
}

// Bind sets where decoded replies go.
func (s *Session) Bind(sink Sink) {
	s.sink = sink
}

// SelectNotifications asks for screen change notifications on root. No
// reply is expected; selecting twice is harmless.
func (s *Session) SelectNotifications(root xproto.Window) error {
	if s.closed {
		return xconn.ErrConnectionLost
	}
	s.client.SelectInput(root, randr.NotifyMaskScreenChange)
	return nil
}

// QueryResources asks for root's rotation capabilities and current config.
func (s *Session) QueryResources(root xproto.Window) (xconn.Token, error) {
	if s.closed {
		return 0, xconn.ErrConnectionLost
	}
	return s.issue(Pending{Kind: KindScreenInfo, Root: root}, s.client.GetScreenInfo(root)), nil
}

// QueryOutputs asks for the outputs driving root, to name the screen.
func (s *Session) QueryOutputs(root xproto.Window) (xconn.Token, error) {
	if s.closed {
		return 0, xconn.ErrConnectionLost
	}
	return s.issue(Pending{Kind: KindResources, Root: root}, s.client.GetScreenResources(root)), nil
}

// QueryOutputInfo asks for one output's details at the given generation.
func (s *Session) QueryOutputInfo(root xproto.Window, output randr.Output, generation xproto.Timestamp) (xconn.Token, error) {
	if s.closed {
		return 0, xconn.ErrConnectionLost
	}
	return s.issue(Pending{Kind: KindOutputInfo, Root: root, Output: output},
		s.client.GetOutputInfo(output, generation)), nil
}

// SubmitRotation sends a config change built from st's current timestamp
// and size. It does not wait for the server.
func (s *Session) SubmitRotation(st screen.State, o screen.Orientation) (xconn.Token, error) {
	if s.closed {
		return 0, xconn.ErrConnectionLost
	}
	if st.Phase != screen.Ready {
		return 0, screen.ErrNotReady
	}
	if st.Changing != 0 {
		return 0, fmt.Errorf("%w: a change for this screen is still in flight", ErrStaleTimestamp)
	}

	s.log.Debug("submitting rotation", "root", st.Root, "orientation", o, "config_timestamp", st.ConfigTimestamp)
	cookie := s.client.SetScreenConfig(st.Root, st.ConfigTimestamp, st.SizeID, o.Mask())
	return s.issue(Pending{Kind: KindConfig, Root: st.Root, Requested: o}, cookie), nil
}

func (s *Session) issue(p Pending, cookie xconn.Cookie) xconn.Token {
	s.last++
	p.Token = s.last
	p.Issued = s.opts.Now()
	s.pending[p.Token] = p
	s.metrics.Pending.Set(float64(len(s.pending)))

	s.tracker.Track(p.Token, cookie)
	return p.Token
}

// HandleReply consumes the reply or error for token.
func (s *Session) HandleReply(token xconn.Token, reply interface{}, err error) {
	if s.closed {
		return
	}
	p, ok := s.pending[token]
	if !ok {
		s.log.Debug("reply for a request no longer pending", "cookie", token)
		return
	}
	delete(s.pending, token)
	s.metrics.Pending.Set(float64(len(s.pending)))

	if err != nil {
		perr := &ProtocolError{Kind: p.Kind, Err: err}
		s.log.Warn("request failed", "cookie", token, "root", p.Root, "err", perr)
		if p.Kind == KindConfig {
			s.sink.Rejected(p.Root, p.Token, 0, perr)
		}
		return
	}

	switch p.Kind {
	case KindScreenInfo:
		s.screenInfo(p, reply)
	case KindResources:
		s.resources(p, reply)
	case KindOutputInfo:
		s.outputInfo(p, reply)
	case KindConfig:
		s.config(p, reply)
	}
}

func (s *Session) screenInfo(p Pending, reply interface{}) {
	r, ok := reply.(*randr.GetScreenInfoReply)
	if !ok {
		s.unexpected(p, reply)
		return
	}
	active, err := screen.OrientationFromMask(uint16(r.Rotation))
	if err != nil {
		s.log.Warn("screen info has no usable rotation", "root", p.Root, "err", err)
		return
	}
	s.sink.Populate(p.Root, screen.Info{
		Capabilities:    screen.CapabilitiesFromMask(uint16(r.Rotations)),
		Active:          active,
		ConfigTimestamp: r.ConfigTimestamp,
		SizeID:          r.SizeID,
	})
}

func (s *Session) resources(p Pending, reply interface{}) {
	r, ok := reply.(*randr.GetScreenResourcesCurrentReply)
	if !ok {
		s.unexpected(p, reply)
		return
	}
	for _, output := range r.Outputs {
		if _, err := s.QueryOutputInfo(p.Root, output, r.ConfigTimestamp); err != nil {
			return
		}
	}
}

func (s *Session) outputInfo(p Pending, reply interface{}) {
	r, ok := reply.(*randr.GetOutputInfoReply)
	if !ok {
		s.unexpected(p, reply)
		return
	}
	if r.Connection != randr.ConnectionConnected {
		return
	}
	s.sink.OutputNamed(p.Root, string(r.Name))
}

func (s *Session) config(p Pending, reply interface{}) {
	r, ok := reply.(*randr.SetScreenConfigReply)
	if !ok {
		s.unexpected(p, reply)
		s.sink.Rejected(p.Root, p.Token, 0, fmt.Errorf("%w: unexpected reply", xconn.ErrNoReply))
		return
	}
	if r.Status != randr.SetConfigSuccess {
		s.metrics.Rejected.Inc()
		s.sink.Rejected(p.Root, p.Token, r.ConfigTimestamp, &RejectedError{Status: r.Status})
		return
	}
	s.log.Debug("rotation acknowledged", "root", p.Root, "requested", p.Requested, "config_timestamp", r.ConfigTimestamp)
	s.sink.Confirmed(p.Root, p.Token, r.ConfigTimestamp)
}

func (s *Session) unexpected(p Pending, reply interface{}) {
	s.log.Warn("unexpected reply type", "kind", p.Kind, "root", p.Root, "type", fmt.Sprintf("%T", reply))
}

// HandleEvent consumes a RandR event; code is relative to the extension's
// first event.
func (s *Session) HandleEvent(code byte, ev xgb.Event) {
	if s.closed {
		return
	}
	switch code {
	case randr.ScreenChangeNotify:
		e, ok := ev.(randr.ScreenChangeNotifyEvent)
		if !ok {
			return
		}
		o, err := screen.OrientationFromMask(uint16(e.Rotation))
		if err != nil {
			s.log.Warn("screen change has no usable rotation", "root", e.Root, "err", err)
			return
		}
		s.log.Debug("screen changed", "root", e.Root, "orientation", o, "config_timestamp", e.ConfigTimestamp)
		s.sink.Changed(e.Root, o, e.ConfigTimestamp, e.SizeID)
	default:
		s.log.Debug("ignoring RandR event", "code", code)
	}
}

// HandleLost abandons every pending request and ends the session.
func (s *Session) HandleLost(err error) {
	if s.closed {
		return
	}
	abandoned := len(s.pending)
	s.shutdown()
	s.log.Error("display connection lost", "abandoned", abandoned, "err", err)
	if s.opts.OnLost != nil {
		s.opts.OnLost(err)
	}
}

// Expire drops requests older than the timeout. A dropped config change
// counts as refused so the screen can be changed again.
func (s *Session) Expire(now time.Time) {
	if s.closed || s.opts.Timeout <= 0 {
		return
	}
	for token, p := range s.pending {
		if now.Sub(p.Issued) < s.opts.Timeout {
			continue
		}
		delete(s.pending, token)
		s.metrics.Expired.Inc()
		s.log.Warn("request expired", "cookie", token, "kind", p.Kind, "root", p.Root)
		if p.Kind == KindConfig {
			s.sink.Rejected(p.Root, p.Token, 0, ErrRequestExpired)
		}
	}
	s.metrics.Pending.Set(float64(len(s.pending)))
}

// Pending returns a copy of the pending table.
func (s *Session) Pending() []Pending {
	out := make([]Pending, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out
}

func (s *Session) Closed() bool {
	return s.closed
}

// Close ends the session without treating it as a failure.
func (s *Session) Close() {
	if !s.closed {
		s.shutdown()
	}
}

func (s *Session) shutdown() {
	s.closed = true
	s.pending = map[xconn.Token]Pending{}
	s.metrics.Pending.Set(0)
}
