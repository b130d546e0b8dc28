package cmd

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/BurntSushi/xgb/randr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rotations/internal/screen"
)

func screens() []screen.State {
	caps := screen.CapabilitiesFromMask(randr.RotationRotate0 | randr.RotationRotate90 | randr.RotationReflectX)
	return []screen.State{
		{Root: 0x1a3, Index: 0, Phase: screen.Ready, Capabilities: caps,
			Active: screen.Orientation{Rotation: screen.Landscape}, ConfigTimestamp: 812, Outputs: []string{"eDP-1"}},
		{Root: 0x2b4, Index: 1, Phase: screen.Ready, Capabilities: caps,
			Active: screen.Orientation{Rotation: screen.Portrait, ReflectX: true}, Outputs: []string{"HDMI-1", "DP-2"}},
	}
}

func TestPickScreen(t *testing.T) {
	list := screens()

	s, err := pickScreen(list, "2")
	require.NoError(t, err)
	assert.Equal(t, list[1].Root, s.Root)

	s, err = pickScreen(list, "DP-2")
	require.NoError(t, err)
	assert.Equal(t, list[1].Root, s.Root)

	_, err = pickScreen(list, "3")
	assert.ErrorIs(t, err, screen.ErrUnknownScreen)
	_, err = pickScreen(list, "VGA-1")
	assert.ErrorIs(t, err, screen.ErrUnknownScreen)
}

func TestRenderScreens(t *testing.T) {
	out := renderScreens(screens())
	for _, want := range []string{"SCREEN", "0x1a3", "eDP-1", "HDMI-1, DP-2", "Portrait +X", "812", "Landscape, Portrait, Reflect X"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, renderScreens(nil), "No screens found")
}

func TestSettledScreens(t *testing.T) {
	list := screens()
	list[1].Phase = screen.Uninitialized

	_, ok := settledScreens(false, 1, list)
	assert.False(t, ok, "a reply is still outstanding")
	_, ok = settledScreens(false, 0, nil)
	assert.False(t, ok, "screens not enumerated yet")
	_, ok = settledScreens(true, 0, list)
	assert.False(t, ok)

	got, ok := settledScreens(false, 0, list)
	require.True(t, ok, "a screen that never became ready does not hold up the rest")
	assert.Equal(t, list, got)
	assert.Contains(t, renderScreens(got), "uninitialized")
}

func TestWatcherWait(t *testing.T) {
	target := screens()[0]
	want := screen.Orientation{Rotation: screen.Portrait}

	t.Run("applied", func(t *testing.T) {
		w := newWatcher()
		other := screens()[1]
		w.ScreenUpdated(other, true)
		confirmed := target
		confirmed.ConfigTimestamp++
		w.ScreenUpdated(confirmed, true)
		applied := confirmed
		applied.Active = want
		w.ScreenUpdated(applied, true)

		s, err := w.wait(target, want, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, s.Active)
	})

	t.Run("refused", func(t *testing.T) {
		w := newWatcher()
		refused := target
		refused.LastError = errors.New("stale configuration timestamp")
		w.ScreenUpdated(refused, true)

		_, err := w.wait(target, want, time.Second)
		assert.ErrorIs(t, err, refused.LastError)
	})

	t.Run("timeout", func(t *testing.T) {
		w := newWatcher()
		_, err := w.wait(target, want, 10*time.Millisecond)
		assert.Error(t, err)
	})

	t.Run("drain", func(t *testing.T) {
		w := newWatcher()
		refused := target
		refused.LastError = errors.New("old")
		w.ScreenUpdated(refused, true)
		w.drain()
		_, err := w.wait(target, want, 10*time.Millisecond)
		assert.NotErrorIs(t, err, refused.LastError)
	})
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, buf.String(), "rotations "+Version)
}
