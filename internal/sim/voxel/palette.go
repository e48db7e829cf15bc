package voxel

import (
	"fmt"
	"math/rand/v2"

	"github.com/lucasb-eyer/go-colorful"
)

// Named palette colours (0xRRGGBB).
const (
	HexDark  uint32 = 0x4A3728
	HexLight uint32 = 0x654321
	HexWhite uint32 = 0xF0F0F0
	HexGold  uint32 = 0xFFD700
	HexBlack uint32 = 0x111111
	HexWood  uint32 = 0x3B2F2F
	HexGreen uint32 = 0x228B22
	HexTalon uint32 = 0xE5C100
	HexWater uint32 = 0x3B82F6
	HexIce   uint32 = 0xA5F3FC
	HexSteam uint32 = 0xE2E8F0
	HexSnow  uint32 = 0xFFFFFF
	HexHail  uint32 = 0xDBEAFE
	HexGlass uint32 = 0xE0F2FE
	HexSand  uint32 = 0xE6C288
	HexGrass uint32 = 0x4ADE80
	HexDirt  uint32 = 0x8D6E63
	HexStone uint32 = 0x94A3B8

	HexDeepWater uint32 = 0x1E3A8A
)

var (
	ColorWater     = FromHex(HexWater)
	ColorIce       = FromHex(HexIce)
	ColorSteam     = FromHex(HexSteam)
	ColorSnow      = FromHex(HexSnow)
	ColorHail      = FromHex(HexHail)
	ColorGlass     = FromHex(HexGlass)
	ColorDeepWater = FromHex(HexDeepWater)
	ColorFoam      = ColorWater.BlendRgb(colorful.Color{R: 1, G: 1, B: 1}, 0.5)
)

// FromHex converts 0xRRGGBB into a colour with channels in [0,1].
func FromHex(h uint32) colorful.Color {
	return colorful.Color{
		R: float64((h>>16)&0xFF) / 255,
		G: float64((h>>8)&0xFF) / 255,
		B: float64(h&0xFF) / 255,
	}
}

// ToHex packs a colour into 0xRRGGBB, clamping out-of-range channels.
func ToHex(c colorful.Color) uint32 {
	r, g, b := c.Clamped().RGB255()
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// ParseHex accepts "#rrggbb".
func ParseHex(s string) (colorful.Color, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return colorful.Color{}, fmt.Errorf("parse colour %q: %w", s, err)
	}
	return c, nil
}

// SpawnColor is the colour weather spawns carry for a phase.
func SpawnColor(t Type) colorful.Color {
	switch t {
	case Snow:
		return ColorSnow
	case Hail:
		return ColorHail
	default:
		return ColorWater
	}
}

// JitterLightness offsets HSL lightness by a uniform amount in [-spread/2, spread/2).
func JitterLightness(c colorful.Color, rng *rand.Rand, spread float64) colorful.Color {
	h, s, l := c.Hsl()
	l += rng.Float64()*spread - spread/2
	if l < 0 {
		l = 0
	}
	if l > 1 {
		l = 1
	}
	return colorful.Hsl(h, s, l)
}
