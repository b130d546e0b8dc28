package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"rotations/internal/screen"
	"rotations/internal/xconn"
)

var (
	setReflectX bool
	setReflectY bool
)

var setCmd = &cobra.Command{
	Use:   "set <screen> <rotation>",
	Short: "Rotate one screen and wait for the server to apply it",
	Long: `Rotate a screen without the tray. The screen is its number from "rotations list"
or the name of one of its outputs. The rotation is one of landscape, portrait,
landscape-flipped or portrait-flipped (normal, left, inverted and right also work).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rotation, err := screen.ParseRotation(args[1])
		if err != nil {
			return err
		}
		want := screen.Orientation{Rotation: rotation, ReflectX: setReflectX, ReflectY: setReflectY}

		w := newWatcher()
		r, err := start(w)
		if err != nil {
			return err
		}
		defer r.Close()

		screens, err := r.settled(waitTimeout())
		if err != nil {
			return err
		}
		target, err := pickScreen(screens, args[0])
		if err != nil {
			return err
		}
		if target.Active == want {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is already %s\n", target.Title(), want)
			return nil
		}

		w.drain()
		submitted := make(chan error, 1)
		if !r.svc.Do(func() {
			submitted <- r.svc.Registry.RequestRotation(target.Root, want)
		}) {
			return xconn.ErrConnectionLost
		}
		select {
		case err := <-submitted:
			if err != nil {
				return err
			}
		case <-time.After(waitTimeout()):
			return errors.New("timed out submitting the rotation")
		}

		s, err := w.wait(target, want, waitTimeout())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", s.Title(), s.Active)
		return nil
	},
}

func init() {
	setCmd.Flags().BoolVarP(&setReflectX, "reflect-x", "x", false, "Reflect along the X axis")
	setCmd.Flags().BoolVarP(&setReflectY, "reflect-y", "y", false, "Reflect along the Y axis")
	rootCmd.AddCommand(setCmd)
}

func pickScreen(screens []screen.State, name string) (screen.State, error) {
	if n, err := strconv.Atoi(name); err == nil {
		if n < 1 || n > len(screens) {
			return screen.State{}, fmt.Errorf("%w: no screen %d", screen.ErrUnknownScreen, n)
		}
		return screens[n-1], nil
	}
	for _, s := range screens {
		for _, output := range s.Outputs {
			if output == name {
				return s, nil
			}
		}
	}
	return screen.State{}, fmt.Errorf("%w: no output named %q", screen.ErrUnknownScreen, name)
}

// watcher forwards registry updates from the loop goroutine.
type watcher struct {
	updates chan screen.State
}

func newWatcher() *watcher {
	return &watcher{updates: make(chan screen.State, 64)}
}

func (w *watcher) ScreenReady(s screen.State) {}

func (w *watcher) ScreenUpdated(s screen.State, programmatic bool) {
	select {
	case w.updates <- s:
	default:
	}
}

// drain drops updates from before the request.
func (w *watcher) drain() {
	for {
		select {
		case <-w.updates:
		default:
			return
		}
	}
}

// wait returns once target reports want, or fails if the change is refused.
func (w *watcher) wait(target screen.State, want screen.Orientation, timeout time.Duration) (screen.State, error) {
	deadline := time.After(timeout)
	for {
		select {
		case s := <-w.updates:
			if s.Root != target.Root {
				continue
			}
			if s.Active == want {
				return s, nil
			}
			if s.LastError != nil {
				return s, fmt.Errorf("%s: %w", s.Title(), s.LastError)
			}
		case <-deadline:
			return target, errors.New("timed out waiting for the server to apply the rotation")
		}
	}
}
