// Package run is the gameplay side of the terrain stream: it scores
// contacts, burns fuel and decides when a run is over.
package run

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"hillracer.ai/internal/persistence/snapshot"
	"hillracer.ai/internal/sim/physics"
	"hillracer.ai/internal/sim/terrain/biome"
	"hillracer.ai/internal/sim/terrain/gen"
	"hillracer.ai/internal/sim/terrain/store"
)

type Rules struct {
	StartFuel float64
	// FuelPerUpgrade is added to StartFuel per purchased fuel upgrade. Pickups
	// still cap at FuelCap.
	FuelPerUpgrade float64
	FuelCap        float64
	FuelPickup     float64
	CoinValue      int
	CrateBonus     int

	// Drain is per frame of FrameTime.
	DrainThrottle float64
	DrainIdle     float64
	FrameTime     time.Duration
}

func DefaultRules() Rules {
	return Rules{
		StartFuel:      100,
		FuelPerUpgrade: 20,
		FuelCap:        100,
		FuelPickup:     40,
		CoinValue:      1,
		CrateBonus:     100,
		DrainThrottle:  0.08,
		DrainIdle:      0.01,
		FrameTime:      16 * time.Millisecond,
	}
}

func (r Rules) Validate() error {
	if !(r.StartFuel > 0) || !(r.FuelCap > 0) {
		return fmt.Errorf("start fuel and fuel cap must be positive")
	}
	if r.FuelPickup < 0 || r.FuelPerUpgrade < 0 || r.CoinValue < 0 || r.CrateBonus < 0 {
		return fmt.Errorf("rewards must not be negative")
	}
	if r.DrainThrottle < 0 || r.DrainIdle < 0 {
		return fmt.Errorf("fuel drain must not be negative")
	}
	if r.FrameTime <= 0 {
		return fmt.Errorf("frame time must be positive")
	}
	return nil
}

type Reason string

const (
	ReasonOutOfFuel Reason = "out_of_fuel"
	ReasonStopped   Reason = "stopped"
)

// Reward is the outcome of one contact.
type Reward struct {
	Kind     gen.EntityKind
	Coins    int
	Fuel     float64
	Consumed bool
}

type Summary struct {
	RunID    string
	Biome    string
	Reason   Reason
	Ticks    uint64
	Distance float64
	Coins    int
	Fuel     float64
}

// Meters converts world distance to the figure shown to players.
func (s Summary) Meters() float64 { return s.Distance / 100 }

type Status struct {
	RunID    string
	Biome    biome.Kind
	Gravity  float64
	Coins    int
	Fuel     float64
	Distance float64
	Ticks    uint64
	Over     bool
	Reason   Reason
}

// Session tracks one player's runs over a single stream. It is not safe for
// concurrent use; the runner loop owns it.
type Session struct {
	stream *store.Stream
	rules  Rules
	log    *log.Logger
	onEnd  func(Summary)

	coins    int
	fuel     float64
	distance float64
	ticks    uint64
	over     bool
	reason   Reason
	runID    string

	unlocked map[biome.Kind]bool
}

var ErrCannotAfford = errors.New("not enough coins")

func NewSession(stream *store.Stream, rules Rules, logger *log.Logger) (*Session, error) {
	if stream == nil {
		return nil, fmt.Errorf("run session: nil stream")
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Session{stream: stream, rules: rules, log: logger, unlocked: map[biome.Kind]bool{}}
	for _, k := range biome.Kinds() {
		if biome.ProfileOf(k).UnlockCost == 0 {
			s.unlocked[k] = true
		}
	}
	return s, nil
}

// OnEnd registers a callback invoked once per finished run.
func (s *Session) OnEnd(fn func(Summary)) { s.onEnd = fn }

func (s *Session) Stream() *store.Stream { return s.stream }

// Start begins a new run in biome k. Coins carry over between runs.
func (s *Session) Start(k biome.Kind, fuelUpgrades int) {
	if fuelUpgrades < 0 {
		fuelUpgrades = 0
	}
	s.stream.Init(k)
	s.begin(s.rules.StartFuel + float64(fuelUpgrades)*s.rules.FuelPerUpgrade)
	s.log.Printf("run %s started: biome=%s fuel=%.0f", s.runID, k, s.fuel)
}

// Resume restores a saved window and continues it with a full tank.
func (s *Session) Resume(snap snapshot.WindowV1, fuelUpgrades int) error {
	if err := s.stream.ImportSnapshot(snap); err != nil {
		return err
	}
	s.begin(s.rules.StartFuel + float64(max(fuelUpgrades, 0))*s.rules.FuelPerUpgrade)
	if lo, ok := s.stream.Chunk(s.stream.Resident()[0]); ok {
		s.distance = lo.Lo
	}
	s.log.Printf("run %s resumed at chunk %d", s.runID, s.stream.NextIndex()-1)
	return nil
}

func (s *Session) begin(fuel float64) {
	s.fuel = fuel
	s.distance = 0
	s.ticks = 0
	s.over = false
	s.reason = ""
	s.runID = s.stream.RunID()
}

// HandleContact applies the effect of the agent touching body id. Bodies that
// are not placed entities (ground, unknown ids) yield false.
func (s *Session) HandleContact(id physics.BodyID) (Reward, bool) {
	if s.over {
		return Reward{}, false
	}
	c, ok := s.stream.Contact(id)
	if !ok {
		return Reward{}, false
	}
	rw := Reward{Kind: c.Kind}
	switch c.Kind {
	case gen.Coin:
		rw.Coins = s.rules.CoinValue
		rw.Consumed = true
	case gen.Fuel:
		before := s.fuel
		s.fuel = math.Max(before, math.Min(s.rules.FuelCap, before+s.rules.FuelPickup))
		rw.Fuel = s.fuel - before
		rw.Consumed = true
	case gen.Crate:
		rw.Coins = s.rules.CrateBonus
		rw.Consumed = true
	default:
		// Rocks and trees stay where they are.
		return rw, true
	}
	s.coins += rw.Coins
	s.stream.Remove(id)
	return rw, true
}

// Tick advances the run by dt with the agent at agentX.
func (s *Session) Tick(agentX float64, throttle bool, dt time.Duration) store.UpdateResult {
	if s.over || s.stream.State() != store.StateStreaming {
		return store.UpdateResult{}
	}
	s.ticks++
	if agentX > s.distance {
		s.distance = agentX
	}
	drain := s.rules.DrainIdle
	if throttle {
		drain = s.rules.DrainThrottle
	}
	s.fuel -= drain * float64(dt) / float64(s.rules.FrameTime)

	res := s.stream.Update(agentX)
	if s.fuel <= 0 {
		s.fuel = 0
		s.End(ReasonOutOfFuel)
	}
	return res
}

// End finishes the current run and drains the stream.
func (s *Session) End(reason Reason) {
	if s.over || s.runID == "" {
		return
	}
	s.over = true
	s.reason = reason
	sum := s.summary()
	s.stream.Reset()
	s.log.Printf("run %s over: %s distance=%.0fm coins=%d", sum.RunID, reason, sum.Meters(), sum.Coins)
	if s.onEnd != nil {
		s.onEnd(sum)
	}
}

func (s *Session) summary() Summary {
	return Summary{
		RunID:    s.runID,
		Biome:    s.stream.Biome().String(),
		Reason:   s.reason,
		Ticks:    s.ticks,
		Distance: s.distance,
		Coins:    s.coins,
		Fuel:     s.fuel,
	}
}

func (s *Session) Status() Status {
	return Status{
		RunID:    s.runID,
		Biome:    s.stream.Biome(),
		Gravity:  s.stream.Profile().Gravity,
		Coins:    s.coins,
		Fuel:     s.fuel,
		Distance: s.distance,
		Ticks:    s.ticks,
		Over:     s.over,
		Reason:   s.reason,
	}
}

// Unlocked reports whether biome k has been bought (or is free).
func (s *Session) Unlocked(k biome.Kind) bool { return s.unlocked[k] }

// CanAfford reports whether the coin balance covers biome k's unlock cost.
func (s *Session) CanAfford(k biome.Kind) bool {
	return s.coins >= biome.ProfileOf(k).UnlockCost
}

// Unlock spends the unlock cost of biome k and records it as unlocked.
// Unlocking an already unlocked biome costs nothing.
func (s *Session) Unlock(k biome.Kind) error {
	if s.unlocked[k] {
		return nil
	}
	cost := biome.ProfileOf(k).UnlockCost
	if s.coins < cost {
		return fmt.Errorf("unlock %s: %w (have %d, need %d)", k, ErrCannotAfford, s.coins, cost)
	}
	s.coins -= cost
	s.unlocked[k] = true
	s.log.Printf("unlocked %s for %d coins", k, cost)
	return nil
}

// SetCoins seeds the coin balance carried between runs.
func (s *Session) SetCoins(n int) { s.coins = max(n, 0) }
