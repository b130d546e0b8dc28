package rotator

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rotations/internal/screen"
	"rotations/internal/session"
	"rotations/internal/xconn"
	"rotations/internal/xconn/xconntest"
)

const root = xproto.Window(0x4a3)

type observer struct {
	mu      sync.Mutex
	ready   []screen.State
	updates []screen.State
}

func (o *observer) ScreenReady(s screen.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ready = append(o.ready, s)
}

func (o *observer) ScreenUpdated(s screen.State, programmatic bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if programmatic {
		o.updates = append(o.updates, s)
	}
}

func (o *observer) last() (screen.State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.updates) == 0 {
		if len(o.ready) == 0 {
			return screen.State{}, false
		}
		return o.ready[len(o.ready)-1], true
	}
	return o.updates[len(o.updates)-1], true
}

func (o *observer) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ready) + len(o.updates)
}

func newClient() *xconntest.Fake {
	client := xconntest.New(root)
	client.ScreenInfo[root] = &randr.GetScreenInfoReply{
		Rotations:       randr.RotationRotate0 | randr.RotationRotate90 | randr.RotationRotate180 | randr.RotationRotate270,
		Rotation:        randr.RotationRotate0,
		ConfigTimestamp: 100,
		SizeID:          0,
	}
	client.Resources[root] = &randr.GetScreenResourcesCurrentReply{Outputs: []randr.Output{1}, ConfigTimestamp: 100}
	client.Outputs[1] = &randr.GetOutputInfoReply{Connection: randr.ConnectionConnected, Name: []byte("eDP-1")}
	return client
}

func start(t *testing.T, client *xconntest.Fake, obs *observer) (*Service, <-chan error) {
	t.Helper()
	svc := New(client, Options{
		Observer: obs,
		Timeout:  time.Minute,
		Logger:   log.New(io.Discard),
	})
	errc := make(chan error, 1)
	go func() { errc <- svc.Run(context.Background()) }()
	t.Cleanup(svc.Close)

	require.Eventually(t, func() bool {
		s, ok := obs.last()
		return ok && len(s.Outputs) == 1
	}, time.Second, time.Millisecond)
	return svc, errc
}

// registry reads the registry from the loop goroutine.
func registry(t *testing.T, svc *Service) screen.State {
	t.Helper()
	got := make(chan screen.State, 1)
	require.True(t, svc.Do(func() {
		s, _ := svc.Registry.Get(root)
		got <- s
	}))
	return <-got
}

func TestStartupEnumeratesScreens(t *testing.T) {
	client := newClient()
	obs := &observer{}
	svc, _ := start(t, client, obs)

	s := registry(t, svc)
	assert.Equal(t, screen.Ready, s.Phase)
	assert.Equal(t, "eDP-1", s.Title())
	assert.Equal(t, screen.Orientation{Rotation: screen.Landscape}, s.Active)
	assert.Equal(t, uint16(randr.NotifyMaskScreenChange), client.Selected(root))
}

func TestRotationRoundTrip(t *testing.T) {
	client := newClient()
	obs := &observer{}
	svc, _ := start(t, client, obs)

	want := screen.Orientation{Rotation: screen.Portrait}
	svc.RequestRotation(root, want)

	require.Eventually(t, func() bool { return len(client.ConfigCalls()) == 1 }, time.Second, time.Millisecond)
	call := client.ConfigCalls()[0]
	assert.Equal(t, xproto.Timestamp(100), call.ConfigTimestamp)
	assert.Equal(t, uint16(randr.RotationRotate90), call.Rotation)

	// The reply alone does not move the active rotation.
	require.Eventually(t, func() bool {
		s, _ := obs.last()
		return s.ConfigTimestamp == 101
	}, time.Second, time.Millisecond)
	s, _ := obs.last()
	assert.Equal(t, screen.Landscape, s.Active.Rotation)

	client.Push(xconntest.ScreenChange(root, randr.RotationRotate90, 102, 0))
	require.Eventually(t, func() bool {
		s, _ := obs.last()
		return s.Active == want
	}, time.Second, time.Millisecond)

	s = registry(t, svc)
	assert.Equal(t, want, s.Active)
	assert.Equal(t, xproto.Timestamp(102), s.ConfigTimestamp)
	assert.Zero(t, s.Changing)
	assert.Len(t, client.ConfigCalls(), 1, "the notification is not echoed back as a request")
}

func TestExternalChangeIsApplied(t *testing.T) {
	client := newClient()
	obs := &observer{}
	svc, _ := start(t, client, obs)

	client.Push(xconntest.ScreenChange(root, randr.RotationRotate180|randr.RotationReflectX, 150, 0))
	require.Eventually(t, func() bool {
		s, _ := obs.last()
		return s.Active.Rotation == screen.LandscapeFlipped
	}, time.Second, time.Millisecond)

	s := registry(t, svc)
	assert.True(t, s.Active.ReflectX)
	assert.True(t, s.Capabilities.ReflectX(), "capabilities widened to what the server reported")
	assert.Empty(t, client.ConfigCalls())
}

func TestConnectionLostMidSession(t *testing.T) {
	client := newClient()
	release := make(chan struct{})
	client.OnSetScreenConfig = func(c xconntest.ConfigCall) (*randr.SetScreenConfigReply, error) {
		<-release
		return &randr.SetScreenConfigReply{Status: randr.SetConfigSuccess, ConfigTimestamp: c.ConfigTimestamp + 1}, nil
	}
	defer close(release)

	obs := &observer{}
	svc, errc := start(t, client, obs)

	svc.RequestRotation(root, screen.Orientation{Rotation: screen.Portrait})
	require.Eventually(t, func() bool { return len(client.ConfigCalls()) == 1 }, time.Second, time.Millisecond)

	var pending []session.Pending
	require.Eventually(t, func() bool {
		done := make(chan struct{})
		if !svc.Do(func() { pending = svc.Session.Pending(); close(done) }) {
			return false
		}
		<-done
		return len(pending) == 1
	}, time.Second, time.Millisecond)

	seen := obs.count()
	client.Disconnect()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, xconn.ErrConnectionLost)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the connection was lost")
	}

	assert.Empty(t, svc.Session.Pending(), "pending requests abandoned")
	assert.True(t, svc.Session.Closed())
	assert.False(t, svc.Do(func() {}), "the loop no longer accepts work")
	assert.Equal(t, seen, obs.count(), "no updates after the loss")
	assert.ErrorIs(t, svc.Registry.RequestRotation(root, screen.Orientation{Rotation: screen.Portrait}), xconn.ErrConnectionLost)
}

func TestCloseBeforeRun(t *testing.T) {
	client := newClient()
	svc := New(client, Options{Logger: log.New(io.Discard)})
	svc.Close()
	assert.True(t, client.Closed())
}
