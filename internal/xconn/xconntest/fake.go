// Package xconntest provides an in-memory xconn.Client for tests.
package xconntest

import (
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"

	"rotations/internal/xconn"
)

// DefaultFirstEvent matches what a typical Xorg server assigns to RandR.
const DefaultFirstEvent = 89

// ConfigCall records one SetScreenConfig request.
type ConfigCall struct {
	Root            xproto.Window
	ConfigTimestamp xproto.Timestamp
	SizeID          uint16
	Rotation        uint16
}

type inbound struct {
	ev  xgb.Event
	err xgb.Error
}

// Fake answers requests from its maps. Replies are computed when the cookie
// is waited on, so OnSetScreenConfig may block to delay a reply.
type Fake struct {
	mu     sync.Mutex
	roots  []xproto.Window
	events chan inbound
	closed bool

	selected map[xproto.Window]uint16
	configs  []ConfigCall

	ScreenInfo        map[xproto.Window]*randr.GetScreenInfoReply
	Resources         map[xproto.Window]*randr.GetScreenResourcesCurrentReply
	Outputs           map[randr.Output]*randr.GetOutputInfoReply
	OnSetScreenConfig func(ConfigCall) (*randr.SetScreenConfigReply, error)
}

var _ xconn.Client = (*Fake)(nil)

func New(roots ...xproto.Window) *Fake {
	return &Fake{
		roots:      roots,
		events:     make(chan inbound, 256),
		selected:   map[xproto.Window]uint16{},
		ScreenInfo: map[xproto.Window]*randr.GetScreenInfoReply{},
		Resources:  map[xproto.Window]*randr.GetScreenResourcesCurrentReply{},
		Outputs:    map[randr.Output]*randr.GetOutputInfoReply{},
	}
}

func (f *Fake) Roots() []xproto.Window {
	return append([]xproto.Window(nil), f.roots...)
}

func (f *Fake) FirstEvent() byte {
	return DefaultFirstEvent
}

func (f *Fake) SelectInput(root xproto.Window, mask uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected[root] |= mask
}

// Selected reports the notification mask selected on root.
func (f *Fake) Selected(root xproto.Window) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected[root]
}

func (f *Fake) GetScreenInfo(root xproto.Window) xconn.Cookie {
	f.mu.Lock()
	reply, ok := f.ScreenInfo[root]
	f.mu.Unlock()
	return func() (interface{}, error) {
		if !ok {
			return nil, badValue(uint32(root))
		}
		return reply, nil
	}
}

func (f *Fake) GetScreenResources(root xproto.Window) xconn.Cookie {
	f.mu.Lock()
	reply, ok := f.Resources[root]
	f.mu.Unlock()
	return func() (interface{}, error) {
		if !ok {
			return &randr.GetScreenResourcesCurrentReply{}, nil
		}
		return reply, nil
	}
}

func (f *Fake) GetOutputInfo(output randr.Output, _ xproto.Timestamp) xconn.Cookie {
	f.mu.Lock()
	reply, ok := f.Outputs[output]
	f.mu.Unlock()
	return func() (interface{}, error) {
		if !ok {
			return nil, badValue(uint32(output))
		}
		return reply, nil
	}
}

func (f *Fake) SetScreenConfig(root xproto.Window, configTimestamp xproto.Timestamp, sizeID, rotation uint16) xconn.Cookie {
	call := ConfigCall{Root: root, ConfigTimestamp: configTimestamp, SizeID: sizeID, Rotation: rotation}

	f.mu.Lock()
	f.configs = append(f.configs, call)
	respond := f.OnSetScreenConfig
	f.mu.Unlock()

	return func() (interface{}, error) {
		if respond == nil {
			return &randr.SetScreenConfigReply{
				Status:          randr.SetConfigSuccess,
				Root:            root,
				ConfigTimestamp: configTimestamp + 1,
			}, nil
		}
		reply, err := respond(call)
		if err != nil {
			return nil, err
		}
		return reply, nil
	}
}

// ConfigCalls returns every SetScreenConfig request issued so far.
func (f *Fake) ConfigCalls() []ConfigCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ConfigCall(nil), f.configs...)
}

// Push queues an event for WaitForEvent.
func (f *Fake) Push(ev xgb.Event) {
	f.send(inbound{ev: ev})
}

// PushError queues an out-of-band protocol error for WaitForEvent.
func (f *Fake) PushError(err xgb.Error) {
	f.send(inbound{err: err})
}

func (f *Fake) send(m inbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- m
}

func (f *Fake) WaitForEvent() (xgb.Event, xgb.Error) {
	m, ok := <-f.events
	if !ok {
		return nil, nil
	}
	return m.ev, m.err
}

// Disconnect simulates the server dropping the connection.
func (f *Fake) Disconnect() {
	f.Close()
}

func (f *Fake) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.events)
}

// Closed reports whether Close or Disconnect was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func badValue(v uint32) xgb.Error {
	return xproto.ValueError{BadValue: v}
}

// ScreenChange builds the notification the server sends after a rotation.
func ScreenChange(root xproto.Window, rotation byte, configTimestamp xproto.Timestamp, sizeID uint16) randr.ScreenChangeNotifyEvent {
	return randr.ScreenChangeNotifyEvent{
		Rotation:        rotation,
		Root:            root,
		RequestWindow:   root,
		ConfigTimestamp: configTimestamp,
		SizeID:          sizeID,
	}
}
