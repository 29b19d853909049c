package store

import (
	"fmt"

	"hillracer.ai/internal/sim/terrain/gen"
)

type Config struct {
	Params gen.Params
	Rules  gen.PlacementRules

	// Lookahead chunks beyond the agent's chunk always exist; at most
	// Retention chunks stay resident; PreRoll chunks are built by Init.
	Lookahead int
	Retention int
	PreRoll   int

	// Seed drives entity placement. Zero picks a fresh seed per run.
	Seed int64
}

func DefaultConfig() Config {
	return Config{
		Params:    gen.DefaultParams(),
		Rules:     gen.DefaultRules(),
		Lookahead: 2,
		Retention: 5,
		PreRoll:   3,
	}
}

func (c Config) Validate() error {
	p := c.Params
	if !(p.ChunkWidth > 0) {
		return fmt.Errorf("chunk width must be positive, got %v", p.ChunkWidth)
	}
	if p.Steps < 1 {
		return fmt.Errorf("steps must be >= 1, got %d", p.Steps)
	}
	if !(p.Bottom > p.Baseline) {
		return fmt.Errorf("bottom (%v) must lie below baseline (%v)", p.Bottom, p.Baseline)
	}
	if p.LaunchPadSamples < 0 || p.LaunchPadSamples > p.Steps {
		return fmt.Errorf("launch pad samples must be in [0,%d], got %d", p.Steps, p.LaunchPadSamples)
	}
	if c.Lookahead < 1 {
		return fmt.Errorf("lookahead must be >= 1, got %d", c.Lookahead)
	}
	if c.PreRoll < c.Lookahead+1 {
		return fmt.Errorf("pre-roll (%d) must exceed lookahead (%d)", c.PreRoll, c.Lookahead)
	}
	if c.Retention < c.PreRoll {
		return fmt.Errorf("retention (%d) must be >= pre-roll (%d)", c.Retention, c.PreRoll)
	}
	return nil
}
