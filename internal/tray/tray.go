// Package tray presents screen rotations as a system tray menu.
//
// Observer callbacks arrive on the event loop goroutine and are marshalled
// onto the UI goroutine before any menu item is touched. Menu clicks go to
// the Requester; a check mark only moves when the server reports the change.
package tray

import (
	"fmt"

	"fyne.io/fyne/v2"
	"github.com/BurntSushi/xgb/xproto"

	"rotations/internal/screen"
)

// Requester accepts rotation choices made in the menu.
type Requester interface {
	RequestRotation(root xproto.Window, o screen.Orientation)
}

type Options struct {
	// ShowReflections adds reflect toggles for screens that support them.
	ShowReflections bool
	// Do runs fn on the UI goroutine. Defaults to fyne.Do.
	Do func(fn func())
	// Install shows menu, again after every change.
	Install func(menu *fyne.Menu)
	// About is run by the About item; the item is left out when nil.
	About func()
	// Notify reports a refused change to the user. Optional.
	Notify func(title, body string)
}

type screenMenu struct {
	state     screen.State
	title     *fyne.MenuItem
	rotations map[screen.Rotation]*fyne.MenuItem
	reflectX  *fyne.MenuItem
	reflectY  *fyne.MenuItem
}

type Tray struct {
	opts Options
	req  Requester
	menu *fyne.Menu

	order    []xproto.Window
	screens  map[xproto.Window]*screenMenu
	applying bool
}

var _ screen.Observer = (*Tray)(nil)

func New(opts Options) *Tray {
	if opts.Do == nil {
		opts.Do = fyne.Do
	}
	if opts.Install == nil {
		opts.Install = func(*fyne.Menu) {}
	}
	t := &Tray{
		opts:    opts,
		screens: map[xproto.Window]*screenMenu{},
	}
	t.menu = fyne.NewMenu("Rotations", t.footer()...)
	return t
}

// Bind sets where menu choices go.
func (t *Tray) Bind(req Requester) {
	t.req = req
}

// Menu returns the menu as last installed. UI goroutine only.
func (t *Tray) Menu() *fyne.Menu {
	return t.menu
}

// Start shows the menu before any screen is known. It is called on the UI
// goroutine before the app runs.
func (t *Tray) Start() {
	t.opts.Install(t.menu)
}

func (t *Tray) ScreenReady(s screen.State) {
	t.opts.Do(func() {
		if _, ok := t.screens[s.Root]; !ok {
			t.order = append(t.order, s.Root)
		}
		t.screens[s.Root] = t.build(s)
		t.rebuild()
	})
}

func (t *Tray) ScreenUpdated(s screen.State, programmatic bool) {
	t.opts.Do(func() {
		m, ok := t.screens[s.Root]
		if !ok {
			return
		}
		refused := s.LastError != nil && s.Refused > m.state.Refused
		if s.Capabilities != m.state.Capabilities {
			t.screens[s.Root] = t.build(s)
			t.rebuild()
		} else {
			t.apply(m, s, programmatic)
			t.opts.Install(t.menu)
		}

		if refused && t.opts.Notify != nil {
			t.opts.Notify(s.Title(), fmt.Sprintf("Rotation not applied: %v", s.LastError))
		}
	})
}

func (t *Tray) build(s screen.State) *screenMenu {
	m := &screenMenu{
		title:     &fyne.MenuItem{Label: s.Title(), Disabled: true},
		rotations: map[screen.Rotation]*fyne.MenuItem{},
	}
	root := s.Root
	for _, r := range s.Capabilities.Rotations() {
		r := r
		m.rotations[r] = &fyne.MenuItem{
			Label:  r.String(),
			Action: func() { t.selectRotation(root, r) },
		}
	}
	if t.opts.ShowReflections {
		if s.Capabilities.ReflectX() {
			m.reflectX = &fyne.MenuItem{Label: "Reflect X", Action: func() { t.toggleReflection(root, true) }}
		}
		if s.Capabilities.ReflectY() {
			m.reflectY = &fyne.MenuItem{Label: "Reflect Y", Action: func() { t.toggleReflection(root, false) }}
		}
	}
	t.apply(m, s, true)
	return m
}

// apply moves the check marks to s. Clicks are ignored while a
// programmatic update is being applied.
func (t *Tray) apply(m *screenMenu, s screen.State, programmatic bool) {
	t.applying = programmatic
	defer func() { t.applying = false }()

	m.state = s
	m.title.Label = s.Title()
	if s.LastError != nil {
		m.title.Label += " (change refused)"
	}
	for r, item := range m.rotations {
		item.Checked = r == s.Active.Rotation
	}
	if m.reflectX != nil {
		m.reflectX.Checked = s.Active.ReflectX
	}
	if m.reflectY != nil {
		m.reflectY.Checked = s.Active.ReflectY
	}
}

func (t *Tray) rebuild() {
	var items []*fyne.MenuItem
	for _, root := range t.order {
		m := t.screens[root]
		if len(items) > 0 {
			items = append(items, fyne.NewMenuItemSeparator())
		}
		items = append(items, m.title)
		for _, r := range screen.Rotations {
			if item, ok := m.rotations[r]; ok {
				items = append(items, item)
			}
		}
		if m.reflectX != nil {
			items = append(items, m.reflectX)
		}
		if m.reflectY != nil {
			items = append(items, m.reflectY)
		}
	}
	if footer := t.footer(); len(footer) > 0 {
		if len(items) > 0 {
			items = append(items, fyne.NewMenuItemSeparator())
		}
		items = append(items, footer...)
	}
	t.menu.Items = items
	t.opts.Install(t.menu)
}

func (t *Tray) footer() []*fyne.MenuItem {
	if t.opts.About == nil {
		return nil
	}
	return []*fyne.MenuItem{fyne.NewMenuItem("About", t.opts.About)}
}

func (t *Tray) selectRotation(root xproto.Window, r screen.Rotation) {
	m, ok := t.screens[root]
	if !ok || t.applying || t.req == nil {
		return
	}
	o := m.state.Active
	o.Rotation = r
	t.req.RequestRotation(root, o)
}

func (t *Tray) toggleReflection(root xproto.Window, x bool) {
	m, ok := t.screens[root]
	if !ok || t.applying || t.req == nil {
		return
	}
	o := m.state.Active
	if x {
		o.ReflectX = !o.ReflectX
	} else {
		o.ReflectY = !o.ReflectY
	}
	t.req.RequestRotation(root, o)
}
