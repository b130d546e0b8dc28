// Package xconn is the boundary to the X server: the handful of RandR
// requests the rotation core issues, with replies deferred behind cookies.
package xconn

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
)

// ErrConnectionLost is returned once the display connection is unusable.
var ErrConnectionLost = errors.New("display connection lost")

// ErrNoReply is returned by a cookie when the server answered with nothing.
var ErrNoReply = errors.New("empty reply")

// Token correlates a request with its eventual reply. Tokens are never
// reused within a process.
type Token uint64

// Cookie blocks until the reply for one request arrives.
type Cookie func() (interface{}, error)

// Client is the subset of the X protocol the rotation core drives.
type Client interface {
	Roots() []xproto.Window
	FirstEvent() byte

	SelectInput(root xproto.Window, mask uint16)
	GetScreenInfo(root xproto.Window) Cookie
	GetScreenResources(root xproto.Window) Cookie
	GetOutputInfo(output randr.Output, generation xproto.Timestamp) Cookie
	SetScreenConfig(root xproto.Window, configTimestamp xproto.Timestamp, sizeID, rotation uint16) Cookie

	WaitForEvent() (xgb.Event, xgb.Error)
	Close()
}

// X is a Client backed by a real xgb connection.
type X struct {
	conn  *xgb.Conn
	roots []xproto.Window
	first byte

	wait      func() (xgb.Event, xgb.Error)
	closeConn func()

	mu        sync.Mutex
	lost      bool
	closeOnce sync.Once
}

// Dial connects to the named display ("" uses $DISPLAY) and initialises RandR.
func Dial(display string) (*X, error) {
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("could not connect to X server: %w", err)
	}

	if err = randr.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("RandR extension missing: %w", err)
	}

	ext, err := xproto.QueryExtension(conn, uint16(len("RANDR")), "RANDR").Reply()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to query RandR extension: %w", err)
	}
	if ext == nil || !ext.Present {
		conn.Close()
		return nil, errors.New("RandR extension missing")
	}

	x := &X{conn: conn, first: ext.FirstEvent, wait: conn.WaitForEvent, closeConn: conn.Close}
	for _, screen := range xproto.Setup(conn).Roots {
		x.roots = append(x.roots, screen.Root)
	}
	return x, nil
}

// Roots lists the root window of every screen, in setup order.
func (x *X) Roots() []xproto.Window {
	return append([]xproto.Window(nil), x.roots...)
}

// FirstEvent is the event code the server assigned to the first RandR event.
func (x *X) FirstEvent() byte {
	return x.first
}

// SelectInput is unchecked, errors arrive through WaitForEvent.
func (x *X) SelectInput(root xproto.Window, mask uint16) {
	randr.SelectInput(x.conn, root, mask)
}

func (x *X) GetScreenInfo(root xproto.Window) Cookie {
	return wrap(randr.GetScreenInfo(x.conn, root).Reply)
}

func (x *X) GetScreenResources(root xproto.Window) Cookie {
	return wrap(randr.GetScreenResourcesCurrent(x.conn, root).Reply)
}

func (x *X) GetOutputInfo(output randr.Output, generation xproto.Timestamp) Cookie {
	return wrap(randr.GetOutputInfo(x.conn, output, generation).Reply)
}

// SetScreenConfig keeps the current refresh rate (rate 0).
func (x *X) SetScreenConfig(root xproto.Window, configTimestamp xproto.Timestamp, sizeID, rotation uint16) Cookie {
	return wrap(randr.SetScreenConfig(x.conn, root, xproto.TimeCurrentTime, configTimestamp,
		sizeID, rotation, 0).Reply)
}

// WaitForEvent returns (nil, nil) once xgb has lost the connection. xgb
// has closed the connection itself by then.
func (x *X) WaitForEvent() (xgb.Event, xgb.Error) {
	ev, err := x.wait()
	if ev == nil && err == nil {
		x.mu.Lock()
		x.lost = true
		x.mu.Unlock()
	}
	return ev, err
}

// Close is safe to call more than once, and does nothing after a loss:
// closing an xgb connection twice panics.
func (x *X) Close() {
	x.closeOnce.Do(func() {
		x.mu.Lock()
		lost := x.lost
		x.mu.Unlock()
		if !lost {
			x.closeConn()
		}
	})
}

func wrap[R any](reply func() (*R, error)) Cookie {
	return func() (interface{}, error) {
		r, err := reply()
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, ErrNoReply
		}
		return r, nil
	}
}
