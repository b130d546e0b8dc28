// Package screen tracks the rotation state of every screen and reconciles
// server notifications, replies to our own changes and user requests.
//
// A Registry is owned by the event loop goroutine. Observers receive value
// snapshots and never see the registry's own records.
package screen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/charmbracelet/log"

	"rotations/internal/metrics"
	"rotations/internal/xconn"
)

var (
	ErrNotReady      = errors.New("screen is still being enumerated")
	ErrUnknownScreen = errors.New("unknown screen")
	ErrUnsupported   = errors.New("orientation not supported by screen")
)

type Phase int

const (
	Uninitialized Phase = iota
	Ready
)

func (p Phase) String() string {
	if p == Ready {
		return "ready"
	}
	return "uninitialized"
}

// State is one screen's record. Values handed out are copies.
type State struct {
	Root  xproto.Window
	Index int
	Phase Phase

	Capabilities    Capabilities
	Active          Orientation
	ConfigTimestamp xproto.Timestamp
	SizeID          uint16

	Outputs []string

	// Changing is the token of the change we submitted and have not seen
	// resolved, zero when there is none.
	Changing xconn.Token
	// LastError is the reason the most recent change was refused.
	LastError error
	// Refused counts our changes the server refused or never answered.
	Refused int
}

// Title names the screen after its outputs.
func (s State) Title() string {
	if len(s.Outputs) == 0 {
		return fmt.Sprintf("Display %d", s.Index+1)
	}
	return strings.Join(s.Outputs, ", ")
}

func (s State) clone() State {
	s.Outputs = append([]string(nil), s.Outputs...)
	return s
}

// Info is what a screen info reply tells us.
type Info struct {
	Capabilities    Capabilities
	Active          Orientation
	ConfigTimestamp xproto.Timestamp
	SizeID          uint16
}

// Requester issues protocol requests on behalf of the registry.
type Requester interface {
	SelectNotifications(root xproto.Window) error
	QueryResources(root xproto.Window) (xconn.Token, error)
	QueryOutputs(root xproto.Window) (xconn.Token, error)
	SubmitRotation(state State, o Orientation) (xconn.Token, error)
}

// Observer is told about every state a screen settles in. programmatic is
// true when the update was caused by server data rather than a click, so
// presenting it must not be taken as a new request.
type Observer interface {
	ScreenReady(s State)
	ScreenUpdated(s State, programmatic bool)
}

type Registry struct {
	req     Requester
	obs     Observer
	log     *log.Logger
	metrics *metrics.Metrics

	order   []xproto.Window
	screens map[xproto.Window]*State
	closed  bool
}

func NewRegistry(req Requester, obs Observer, logger *log.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		req:     req,
		obs:     obs,
		log:     logger,
		metrics: m,
		screens: map[xproto.Window]*State{},
	}
}

// Enumerate records each root and asks for its resources. Roots already
// known are skipped.
func (r *Registry) Enumerate(roots []xproto.Window) {
	for _, root := range roots {
		if r.closed {
			return
		}
		if _, ok := r.screens[root]; ok {
			continue
		}
		r.screens[root] = &State{Root: root, Index: len(r.order)}
		r.order = append(r.order, root)

		if _, err := r.req.QueryResources(root); err != nil {
			r.log.Warn("could not query screen", "root", root, "err", err)
		}
	}
}

// Populate applies a screen info reply and makes the screen Ready.
func (r *Registry) Populate(root xproto.Window, info Info) {
	s := r.lookup(root)
	if s == nil {
		return
	}

	s.Capabilities = r.widen(s, info.Capabilities, info.Active)
	s.Active = info.Active
	s.ConfigTimestamp = info.ConfigTimestamp
	s.SizeID = info.SizeID

	if s.Phase == Ready {
		r.publish(s, "enumeration")
		return
	}

	s.Phase = Ready
	r.metrics.Updates.WithLabelValues("enumeration").Inc()
	r.log.Debug("screen ready", "root", root, "active", s.Active, "capabilities", s.Capabilities)
	if r.obs != nil {
		r.obs.ScreenReady(s.clone())
	}

	if err := r.req.SelectNotifications(root); err != nil {
		r.log.Warn("could not select screen notifications", "root", root, "err", err)
	}
	if _, err := r.req.QueryOutputs(root); err != nil {
		r.log.Warn("could not query outputs", "root", root, "err", err)
	}
}

// OutputNamed adds an output name to the screen. Names are informational.
func (r *Registry) OutputNamed(root xproto.Window, name string) {
	s := r.lookup(root)
	if s == nil || name == "" {
		return
	}
	for _, known := range s.Outputs {
		if known == name {
			return
		}
	}
	s.Outputs = append(s.Outputs, name)
	if s.Phase == Ready {
		r.publish(s, "output")
	}
}

// Changed applies a server notification unconditionally. It is the source
// of truth for changes made by anyone, including us.
func (r *Registry) Changed(root xproto.Window, o Orientation, ts xproto.Timestamp, sizeID uint16) {
	s := r.lookup(root)
	if s == nil {
		return
	}

	s.Capabilities = r.widen(s, s.Capabilities, o)
	s.Active = o
	s.ConfigTimestamp = ts
	s.SizeID = sizeID
	s.Changing = 0
	s.LastError = nil

	if s.Phase == Ready {
		r.publish(s, "notification")
	}
}

// Confirmed applies the reply to our own change. The rotation itself comes
// from the notification. Only the reply to the change still in flight
// clears the marker; the timestamp is taken from any reply.
func (r *Registry) Confirmed(root xproto.Window, token xconn.Token, ts xproto.Timestamp) {
	s := r.lookup(root)
	if s == nil {
		return
	}

	s.ConfigTimestamp = ts
	if r.resolve(s, token) {
		s.LastError = nil
	}
	r.publish(s, "reply")
}

// Rejected records a refused or abandoned change. Active is left as it was.
// A zero ts keeps the current timestamp. The refusal of a change that has
// been superseded does not touch the one in flight.
func (r *Registry) Rejected(root xproto.Window, token xconn.Token, ts xproto.Timestamp, err error) {
	s := r.lookup(root)
	if s == nil {
		return
	}

	if ts != 0 {
		s.ConfigTimestamp = ts
	}
	if r.resolve(s, token) {
		s.LastError = err
		s.Refused++
		r.log.Warn("rotation change refused", "root", root, "active", s.Active, "err", err)
	} else {
		r.log.Debug("refusal for a superseded change", "root", root, "cookie", token, "err", err)
	}
	r.publish(s, "rejection")
}

func (r *Registry) resolve(s *State, token xconn.Token) bool {
	if token == 0 || s.Changing != token {
		return false
	}
	s.Changing = 0
	return true
}

// RequestRotation submits a user's choice. Active is not touched until the
// server confirms it.
func (r *Registry) RequestRotation(root xproto.Window, o Orientation) error {
	if r.closed {
		return xconn.ErrConnectionLost
	}
	s, ok := r.screens[root]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownScreen, root)
	}
	if s.Phase != Ready {
		return ErrNotReady
	}
	if !s.Capabilities.Allows(o) {
		return fmt.Errorf("%w: %s", ErrUnsupported, o)
	}
	if o == s.Active && s.Changing == 0 {
		r.log.Debug("rotation already active", "root", root, "active", o)
		return nil
	}

	token, err := r.req.SubmitRotation(s.clone(), o)
	if err != nil {
		return err
	}
	s.Changing = token
	s.LastError = nil
	return nil
}

// List returns every screen in enumeration order.
func (r *Registry) List() []State {
	out := make([]State, 0, len(r.order))
	for _, root := range r.order {
		out = append(out, r.screens[root].clone())
	}
	return out
}

func (r *Registry) Get(root xproto.Window) (State, bool) {
	s, ok := r.screens[root]
	if !ok {
		return State{}, false
	}
	return s.clone(), true
}

// Close stops all further mutation and drops the observer.
func (r *Registry) Close() {
	r.closed = true
	r.obs = nil
}

func (r *Registry) lookup(root xproto.Window) *State {
	if r.closed {
		return nil
	}
	s, ok := r.screens[root]
	if !ok {
		r.log.Debug("ignoring update for unknown screen", "root", root)
		return nil
	}
	return s
}

// widen keeps the active orientation inside the capabilities. The server
// reported it, so it is supported whatever the earlier reply said.
func (r *Registry) widen(s *State, caps Capabilities, active Orientation) Capabilities {
	if caps.Allows(active) {
		return caps
	}
	r.log.Warn("server reported an orientation outside the screen capabilities",
		"root", s.Root, "active", active, "capabilities", caps)
	return caps.with(active)
}

func (r *Registry) publish(s *State, origin string) {
	r.metrics.Updates.WithLabelValues(origin).Inc()
	if r.obs != nil {
		r.obs.ScreenUpdated(s.clone(), true)
	}
}
