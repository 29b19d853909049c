package tuning

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"hillracer.ai/internal/sim/run"
	"hillracer.ai/internal/sim/terrain/biome"
	"hillracer.ai/internal/sim/terrain/gen"
	"hillracer.ai/internal/sim/terrain/store"
)

//go:embed tuning.schema.json
var schemaJSON string

type Tuning struct {
	TickRateHz         int     `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	AgentSpeed         float64 `yaml:"agent_speed" json:"agent_speed"`
	AgentRadius        float64 `yaml:"agent_radius" json:"agent_radius"`
	Biome              string  `yaml:"biome" json:"biome"`
	Seed               int64   `yaml:"seed" json:"seed"`
	FuelUpgrades       int     `yaml:"fuel_upgrades" json:"fuel_upgrades"`
	RestartAfterTicks  int     `yaml:"restart_after_ticks" json:"restart_after_ticks"`
	SnapshotEveryTicks int     `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`

	Terrain   Terrain   `yaml:"terrain" json:"terrain"`
	Window    Window    `yaml:"window" json:"window"`
	Placement Placement `yaml:"placement" json:"placement"`
	Session   Session   `yaml:"session" json:"session"`

	// UnknownBiome holds a biome tag Parse could not resolve; Biome then
	// carries the fallback.
	UnknownBiome string `yaml:"-" json:"-"`
}

type Terrain struct {
	ChunkWidth       float64 `yaml:"chunk_width" json:"chunk_width"`
	Steps            int     `yaml:"steps" json:"steps"`
	Baseline         float64 `yaml:"baseline" json:"baseline"`
	Bottom           float64 `yaml:"bottom" json:"bottom"`
	LaunchPadSamples int     `yaml:"launch_pad_samples" json:"launch_pad_samples"`
}

type Window struct {
	Lookahead int `yaml:"lookahead" json:"lookahead"`
	Retention int `yaml:"retention" json:"retention"`
	PreRoll   int `yaml:"pre_roll" json:"pre_roll"`
}

type Placement struct {
	Collectibles Collectibles `yaml:"collectibles" json:"collectibles"`
	Rocks        Rocks        `yaml:"rocks" json:"rocks"`
	Trees        Trees        `yaml:"trees" json:"trees"`
	Crates       Crates       `yaml:"crates" json:"crates"`
}

type Collectibles struct {
	Stride    int     `yaml:"stride" json:"stride"`
	Chance    float64 `yaml:"chance" json:"chance"`
	FuelShare float64 `yaml:"fuel_share" json:"fuel_share"`
	Offset    float64 `yaml:"offset" json:"offset"`
	Radius    float64 `yaml:"radius" json:"radius"`
}

type Rocks struct {
	Stride    int     `yaml:"stride" json:"stride"`
	Chance    float64 `yaml:"chance" json:"chance"`
	RadiusMin float64 `yaml:"radius_min" json:"radius_min"`
	RadiusMax float64 `yaml:"radius_max" json:"radius_max"`
	Embed     float64 `yaml:"embed" json:"embed"`
	Friction  float64 `yaml:"friction" json:"friction"`
}

type Trees struct {
	Stride    int     `yaml:"stride" json:"stride"`
	Chance    float64 `yaml:"chance" json:"chance"`
	HeightMin float64 `yaml:"height_min" json:"height_min"`
	HeightMax float64 `yaml:"height_max" json:"height_max"`
	WidthMin  float64 `yaml:"width_min" json:"width_min"`
	WidthMax  float64 `yaml:"width_max" json:"width_max"`
	Density   float64 `yaml:"density" json:"density"`
	Friction  float64 `yaml:"friction" json:"friction"`
}

type Crates struct {
	Stride   int     `yaml:"stride" json:"stride"`
	Chance   float64 `yaml:"chance" json:"chance"`
	Size     float64 `yaml:"size" json:"size"`
	Density  float64 `yaml:"density" json:"density"`
	Friction float64 `yaml:"friction" json:"friction"`
}

type Session struct {
	StartFuel      float64 `yaml:"start_fuel" json:"start_fuel"`
	FuelPerUpgrade float64 `yaml:"fuel_per_upgrade" json:"fuel_per_upgrade"`
	FuelCap        float64 `yaml:"fuel_cap" json:"fuel_cap"`
	FuelPickup     float64 `yaml:"fuel_pickup" json:"fuel_pickup"`
	CoinValue      int     `yaml:"coin_value" json:"coin_value"`
	CrateBonus     int     `yaml:"crate_bonus" json:"crate_bonus"`
	DrainThrottle  float64 `yaml:"drain_throttle" json:"drain_throttle"`
	DrainIdle      float64 `yaml:"drain_idle" json:"drain_idle"`
	FrameMs        int     `yaml:"frame_ms" json:"frame_ms"`
}

// Defaults mirrors the package defaults of store, run and gen so an empty
// tuning file changes nothing.
func Defaults() Tuning {
	sc := store.DefaultConfig()
	rc := run.DefaultRunnerConfig()
	rr := run.DefaultRules()
	p, pr := sc.Params, sc.Rules
	return Tuning{
		TickRateHz:        rc.TickRateHz,
		AgentSpeed:        rc.AgentSpeed,
		AgentRadius:       rc.AgentRadius,
		Biome:             rc.Biome.String(),
		RestartAfterTicks: rc.RestartAfterTicks,
		Terrain: Terrain{
			ChunkWidth:       p.ChunkWidth,
			Steps:            p.Steps,
			Baseline:         p.Baseline,
			Bottom:           p.Bottom,
			LaunchPadSamples: p.LaunchPadSamples,
		},
		Window: Window{Lookahead: sc.Lookahead, Retention: sc.Retention, PreRoll: sc.PreRoll},
		Placement: Placement{
			Collectibles: Collectibles{
				Stride:    pr.Collectibles.Stride,
				Chance:    pr.Collectibles.Chance,
				FuelShare: pr.Collectibles.FuelShare,
				Offset:    pr.Collectibles.Offset,
				Radius:    pr.Collectibles.Radius,
			},
			Rocks: Rocks{
				Stride:    pr.Rocks.Stride,
				Chance:    pr.Rocks.Chance,
				RadiusMin: pr.Rocks.Radius.Min,
				RadiusMax: pr.Rocks.Radius.Max,
				Embed:     pr.Rocks.Embed,
				Friction:  pr.Rocks.Friction,
			},
			Trees: Trees{
				Stride:    pr.Trees.Stride,
				Chance:    pr.Trees.Chance,
				HeightMin: pr.Trees.Height.Min,
				HeightMax: pr.Trees.Height.Max,
				WidthMin:  pr.Trees.Width.Min,
				WidthMax:  pr.Trees.Width.Max,
				Density:   pr.Trees.Density,
				Friction:  pr.Trees.Friction,
			},
			Crates: Crates{
				Stride:   pr.Crates.Stride,
				Chance:   pr.Crates.Chance,
				Size:     pr.Crates.Size,
				Density:  pr.Crates.Density,
				Friction: pr.Crates.Friction,
			},
		},
		Session: Session{
			StartFuel:      rr.StartFuel,
			FuelPerUpgrade: rr.FuelPerUpgrade,
			FuelCap:        rr.FuelCap,
			FuelPickup:     rr.FuelPickup,
			CoinValue:      rr.CoinValue,
			CrateBonus:     rr.CrateBonus,
			DrainThrottle:  rr.DrainThrottle,
			DrainIdle:      rr.DrainIdle,
			FrameMs:        int(rr.FrameTime / time.Millisecond),
		},
	}
}

// Load reads a tuning file over Defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	return Parse(raw)
}

// Parse checks raw YAML against the tuning schema, then decodes it over
// Defaults and validates the result.
func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := checkSchema(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.UnknownBiome = t.ResolveBiome()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

var schema = jsonschema.MustCompileString("tuning.schema.json", schemaJSON)

func checkSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees JSON types.
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return schema.Validate(v)
}

// ResolveBiome normalises Biome to a known tag. An unknown tag falls back to
// the default biome and is returned so the caller can log it.
func (t *Tuning) ResolveBiome() (unknown string) {
	tag := strings.TrimSpace(t.Biome)
	k, ok := biome.Parse(tag)
	if !ok {
		unknown = tag
	}
	t.Biome = k.String()
	return unknown
}

// Validate checks the cross-field rules the schema cannot express.
func (t Tuning) Validate() error {
	if err := t.StoreConfig().Validate(); err != nil {
		return err
	}
	if err := t.RunnerConfig().Validate(); err != nil {
		return err
	}
	if err := t.Rules().Validate(); err != nil {
		return err
	}
	pl := t.Placement
	if pl.Rocks.RadiusMin > pl.Rocks.RadiusMax {
		return fmt.Errorf("rock radius_min > radius_max")
	}
	if pl.Trees.HeightMin > pl.Trees.HeightMax || pl.Trees.WidthMin > pl.Trees.WidthMax {
		return fmt.Errorf("tree min > max")
	}
	return nil
}

func (t Tuning) StoreConfig() store.Config {
	pl := t.Placement
	return store.Config{
		Params: gen.Params{
			ChunkWidth:       t.Terrain.ChunkWidth,
			Steps:            t.Terrain.Steps,
			Baseline:         t.Terrain.Baseline,
			Bottom:           t.Terrain.Bottom,
			LaunchPadSamples: t.Terrain.LaunchPadSamples,
		},
		Rules: gen.PlacementRules{
			Collectibles: gen.CollectibleRule{
				Stride:    pl.Collectibles.Stride,
				Chance:    pl.Collectibles.Chance,
				FuelShare: pl.Collectibles.FuelShare,
				Offset:    pl.Collectibles.Offset,
				Radius:    pl.Collectibles.Radius,
			},
			Rocks: gen.RockRule{
				Stride:   pl.Rocks.Stride,
				Chance:   pl.Rocks.Chance,
				Radius:   gen.Range{Min: pl.Rocks.RadiusMin, Max: pl.Rocks.RadiusMax},
				Embed:    pl.Rocks.Embed,
				Friction: pl.Rocks.Friction,
			},
			Trees: gen.TreeRule{
				Stride:   pl.Trees.Stride,
				Chance:   pl.Trees.Chance,
				Height:   gen.Range{Min: pl.Trees.HeightMin, Max: pl.Trees.HeightMax},
				Width:    gen.Range{Min: pl.Trees.WidthMin, Max: pl.Trees.WidthMax},
				Density:  pl.Trees.Density,
				Friction: pl.Trees.Friction,
			},
			Crates: gen.CrateRule{
				Stride:   pl.Crates.Stride,
				Chance:   pl.Crates.Chance,
				Size:     pl.Crates.Size,
				Density:  pl.Crates.Density,
				Friction: pl.Crates.Friction,
			},
		},
		Lookahead: t.Window.Lookahead,
		Retention: t.Window.Retention,
		PreRoll:   t.Window.PreRoll,
		Seed:      t.Seed,
	}
}

func (t Tuning) RunnerConfig() run.RunnerConfig {
	k, _ := biome.Parse(t.Biome)
	return run.RunnerConfig{
		TickRateHz:         t.TickRateHz,
		AgentSpeed:         t.AgentSpeed,
		AgentRadius:        t.AgentRadius,
		Biome:              k,
		FuelUpgrades:       t.FuelUpgrades,
		RestartAfterTicks:  t.RestartAfterTicks,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
	}
}

func (t Tuning) Rules() run.Rules {
	s := t.Session
	return run.Rules{
		StartFuel:      s.StartFuel,
		FuelPerUpgrade: s.FuelPerUpgrade,
		FuelCap:        s.FuelCap,
		FuelPickup:     s.FuelPickup,
		CoinValue:      s.CoinValue,
		CrateBonus:     s.CrateBonus,
		DrainThrottle:  s.DrainThrottle,
		DrainIdle:      s.DrainIdle,
		FrameTime:      time.Duration(s.FrameMs) * time.Millisecond,
	}
}
