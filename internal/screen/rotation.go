package screen

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb/randr"
)

// Rotation is one orientation of the rotation axis. Exactly one is active
// on a screen at a time.
type Rotation int

const (
	Landscape Rotation = iota
	Portrait
	LandscapeFlipped
	PortraitFlipped
)

// Rotations lists every rotation in menu order.
var Rotations = []Rotation{Landscape, Portrait, LandscapeFlipped, PortraitFlipped}

const (
	rotationMask   = randr.RotationRotate0 | randr.RotationRotate90 | randr.RotationRotate180 | randr.RotationRotate270
	reflectionMask = randr.RotationReflectX | randr.RotationReflectY
)

var rotationBits = map[Rotation]uint16{
	Landscape:        randr.RotationRotate0,
	Portrait:         randr.RotationRotate90,
	LandscapeFlipped: randr.RotationRotate180,
	PortraitFlipped:  randr.RotationRotate270,
}

var rotationNames = map[Rotation]string{
	Landscape:        "Landscape",
	Portrait:         "Portrait",
	LandscapeFlipped: "Landscape Flipped",
	PortraitFlipped:  "Portrait Flipped",
}

func (r Rotation) String() string {
	if name, ok := rotationNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Rotation(%d)", int(r))
}

func (r Rotation) bit() uint16 {
	return rotationBits[r]
}

// ParseRotation accepts the menu names in kebab case as well as the names
// xrandr uses (normal, left, inverted, right).
func ParseRotation(s string) (Rotation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "landscape", "normal", "0":
		return Landscape, nil
	case "portrait", "left", "90":
		return Portrait, nil
	case "landscape-flipped", "inverted", "180":
		return LandscapeFlipped, nil
	case "portrait-flipped", "right", "270":
		return PortraitFlipped, nil
	}
	return 0, fmt.Errorf("unknown rotation %q", s)
}

// Orientation is a rotation plus the two independent reflection toggles.
type Orientation struct {
	Rotation Rotation
	ReflectX bool
	ReflectY bool
}

// Mask encodes o as a RandR rotation mask.
func (o Orientation) Mask() uint16 {
	mask := o.Rotation.bit()
	if o.ReflectX {
		mask |= randr.RotationReflectX
	}
	if o.ReflectY {
		mask |= randr.RotationReflectY
	}
	return mask
}

func (o Orientation) String() string {
	s := o.Rotation.String()
	if o.ReflectX {
		s += " +X"
	}
	if o.ReflectY {
		s += " +Y"
	}
	return s
}

// OrientationFromMask decodes a RandR rotation mask. The mask must carry
// exactly one rotation bit.
func OrientationFromMask(mask uint16) (Orientation, error) {
	var found []Rotation
	for _, r := range Rotations {
		if mask&r.bit() != 0 {
			found = append(found, r)
		}
	}
	if len(found) != 1 {
		return Orientation{}, fmt.Errorf("rotation mask %#x has %d rotation bits", mask, len(found))
	}
	return Orientation{
		Rotation: found[0],
		ReflectX: mask&randr.RotationReflectX != 0,
		ReflectY: mask&randr.RotationReflectY != 0,
	}, nil
}

// Capabilities is the set of rotations and reflections a screen supports.
type Capabilities struct {
	mask uint16
}

func CapabilitiesFromMask(mask uint16) Capabilities {
	return Capabilities{mask: mask & (rotationMask | reflectionMask)}
}

func (c Capabilities) Mask() uint16 {
	return c.mask
}

func (c Capabilities) Supports(r Rotation) bool {
	return c.mask&r.bit() != 0
}

func (c Capabilities) ReflectX() bool {
	return c.mask&randr.RotationReflectX != 0
}

func (c Capabilities) ReflectY() bool {
	return c.mask&randr.RotationReflectY != 0
}

// Allows reports whether every part of o is supported.
func (c Capabilities) Allows(o Orientation) bool {
	return c.mask&o.Mask() == o.Mask()
}

// Rotations lists the supported rotations in menu order.
func (c Capabilities) Rotations() []Rotation {
	var out []Rotation
	for _, r := range Rotations {
		if c.Supports(r) {
			out = append(out, r)
		}
	}
	return out
}

func (c Capabilities) with(o Orientation) Capabilities {
	return Capabilities{mask: c.mask | o.Mask()}
}

func (c Capabilities) String() string {
	var parts []string
	for _, r := range c.Rotations() {
		parts = append(parts, r.String())
	}
	if c.ReflectX() {
		parts = append(parts, "Reflect X")
	}
	if c.ReflectY() {
		parts = append(parts, "Reflect Y")
	}
	return strings.Join(parts, ", ")
}
