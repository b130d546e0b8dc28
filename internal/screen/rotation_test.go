package screen

import (
	"testing"

	"github.com/BurntSushi/xgb/randr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrientationMask(t *testing.T) {
	tests := []struct {
		name string
		o    Orientation
		mask uint16
	}{
		{"landscape", Orientation{Rotation: Landscape}, randr.RotationRotate0},
		{"portrait", Orientation{Rotation: Portrait}, randr.RotationRotate90},
		{"flipped with x reflection", Orientation{Rotation: LandscapeFlipped, ReflectX: true},
			randr.RotationRotate180 | randr.RotationReflectX},
		{"portrait flipped with both", Orientation{Rotation: PortraitFlipped, ReflectX: true, ReflectY: true},
			randr.RotationRotate270 | randr.RotationReflectX | randr.RotationReflectY},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.mask, tt.o.Mask())

			got, err := OrientationFromMask(tt.mask)
			require.NoError(t, err)
			assert.Equal(t, tt.o, got)
		})
	}
}

func TestOrientationFromMaskRequiresOneRotation(t *testing.T) {
	_, err := OrientationFromMask(0)
	assert.Error(t, err)

	_, err = OrientationFromMask(randr.RotationReflectX)
	assert.Error(t, err, "reflection alone is not an orientation")

	_, err = OrientationFromMask(randr.RotationRotate0 | randr.RotationRotate90)
	assert.Error(t, err, "two rotation bits are never active at once")
}

func TestCapabilities(t *testing.T) {
	caps := CapabilitiesFromMask(randr.RotationRotate0 | randr.RotationRotate90 | randr.RotationReflectY)

	assert.Equal(t, []Rotation{Landscape, Portrait}, caps.Rotations())
	assert.True(t, caps.Supports(Portrait))
	assert.False(t, caps.Supports(LandscapeFlipped))
	assert.False(t, caps.ReflectX())
	assert.True(t, caps.ReflectY())

	assert.True(t, caps.Allows(Orientation{Rotation: Portrait, ReflectY: true}))
	assert.False(t, caps.Allows(Orientation{Rotation: Portrait, ReflectX: true}))
	assert.False(t, caps.Allows(Orientation{Rotation: PortraitFlipped}))

	wider := caps.with(Orientation{Rotation: PortraitFlipped})
	assert.True(t, wider.Supports(PortraitFlipped))
	assert.Equal(t, "Landscape, Portrait, Portrait Flipped, Reflect Y", wider.String())
}

func TestParseRotation(t *testing.T) {
	for in, want := range map[string]Rotation{
		"landscape":         Landscape,
		"Normal":            Landscape,
		"left":              Portrait,
		"portrait":          Portrait,
		"inverted":          LandscapeFlipped,
		"landscape-flipped": LandscapeFlipped,
		"right":             PortraitFlipped,
		"270":               PortraitFlipped,
	} {
		got, err := ParseRotation(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseRotation("sideways")
	assert.Error(t, err)
}
