package biome

import "strings"

// Kind is the closed set of terrain themes a run can be started with.
type Kind uint8

const (
	Grass Kind = iota
	Desert
	Moon
	Mars
	Forest
)

// Default is used whenever a tag cannot be resolved.
const Default = Grass

func Kinds() []Kind {
	return []Kind{Grass, Desert, Moon, Mars, Forest}
}

func (k Kind) String() string {
	switch k {
	case Grass:
		return "GRASS"
	case Desert:
		return "DESERT"
	case Moon:
		return "MOON"
	case Mars:
		return "MARS"
	case Forest:
		return "FOREST"
	default:
		return "GRASS"
	}
}

// Parse resolves a biome tag. Unknown tags resolve to Default with ok=false;
// callers treat that as a fallback, not a failure.
func Parse(tag string) (Kind, bool) {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "GRASS":
		return Grass, true
	case "DESERT":
		return Desert, true
	case "MOON":
		return Moon, true
	case "MARS":
		return Mars, true
	case "FOREST":
		return Forest, true
	default:
		return Default, false
	}
}

type Style struct {
	Fill       uint32
	Stroke     uint32
	Background string
}

// Noise is the dominant waveform of a biome: amplitude in world units,
// frequency in radians per world unit.
type Noise struct {
	Amplitude float64
	Frequency float64
}

type Profile struct {
	Kind     Kind
	Style    Style
	Friction float64
	Noise    Noise
	Gravity  float64

	// Hazardous biomes scatter static rocks; vegetated biomes scatter trees.
	Hazardous bool
	Vegetated bool

	UnlockCost int
}

func ProfileOf(k Kind) Profile {
	switch k {
	case Desert:
		return Profile{
			Kind:       Desert,
			Style:      Style{Fill: 0xE67E22, Stroke: 0xD35400, Background: "#F6DDCC"},
			Friction:   0.7,
			Noise:      Noise{Amplitude: 400, Frequency: 0.002},
			Gravity:    1.0,
			Hazardous:  true,
			UnlockCost: 500,
		}
	case Moon:
		return Profile{
			Kind:       Moon,
			Style:      Style{Fill: 0xBDC3C7, Stroke: 0x7F8C8D, Background: "#2C3E50"},
			Friction:   0.6,
			Noise:      Noise{Amplitude: 180, Frequency: 0.01},
			Gravity:    0.4,
			UnlockCost: 5000,
		}
	case Mars:
		return Profile{
			Kind:       Mars,
			Style:      Style{Fill: 0xC0392B, Stroke: 0x922B21, Background: "#FADBD8"},
			Friction:   0.8,
			Noise:      Noise{Amplitude: 250, Frequency: 0.004},
			Gravity:    0.6,
			Hazardous:  true,
			UnlockCost: 3000,
		}
	case Forest:
		return Profile{
			Kind:       Forest,
			Style:      Style{Fill: 0x229954, Stroke: 0x145A32, Background: "#D5F5E3"},
			Friction:   0.85,
			Noise:      Noise{Amplitude: 350, Frequency: 0.003},
			Gravity:    1.0,
			Vegetated:  true,
			UnlockCost: 1500,
		}
	default:
		return Profile{
			Kind:     Grass,
			Style:    Style{Fill: 0x4CAF50, Stroke: 0x388E3C, Background: "#87CEEB"},
			Friction: 0.9,
			Noise:    Noise{Amplitude: 300, Frequency: 0.003},
			Gravity:  1.0,
		}
	}
}
