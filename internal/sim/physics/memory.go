package physics

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Body is the record Memory keeps per registered body.
type Body struct {
	ID       BodyID
	Label    string
	Category Category
	Static   bool
	Sensor   bool
	Density  float64
	Friction float64

	FrictionStatic float64

	// Polygon is set for static ground bodies; Shape/Position for entities.
	Polygon  []Vec2
	Position Vec2
	Shape    Shape
}

// Memory is an in-process Backend. It keeps bodies in a map, validates
// geometry the way a real engine would reject it, and answers the ray casts
// the vehicle uses for ground detection. It does not integrate motion.
type Memory struct {
	mu         sync.RWMutex
	nextID     BodyID
	bodies     map[BodyID]*Body
	categories map[string]Category
	nextBit    Category
	failNext   int
}

func NewMemory() *Memory {
	return &Memory{
		bodies:     map[BodyID]*Body{},
		categories: map[string]Category{"default": 1},
		nextBit:    2,
	}
}

// FailNext makes the next n registrations fail with ErrRefused.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	m.failNext = n
	m.mu.Unlock()
}

func (m *Memory) refuseLocked() bool {
	if m.failNext > 0 {
		m.failNext--
		return true
	}
	return false
}

func (m *Memory) Category(tag string) Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.categories[tag]; ok {
		return c
	}
	c := m.nextBit
	m.nextBit <<= 1
	m.categories[tag] = c
	return c
}

func (m *Memory) RegisterStatic(def StaticBodyDef) (BodyID, error) {
	if !Simple(def.Polygon) {
		return 0, fmt.Errorf("%w: %d vertices", ErrInvalidPolygon, len(def.Polygon))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refuseLocked() {
		return 0, ErrRefused
	}
	m.nextID++
	poly := make([]Vec2, len(def.Polygon))
	copy(poly, def.Polygon)
	m.bodies[m.nextID] = &Body{
		ID:             m.nextID,
		Label:          def.Label,
		Category:       def.Category,
		Static:         true,
		Friction:       def.Friction,
		FrictionStatic: def.FrictionStatic,
		Polygon:        poly,
		Position:       Centre(poly),
	}
	return m.nextID, nil
}

func (m *Memory) RegisterEntity(def EntityBodyDef) (BodyID, error) {
	if !finite(def.Position) {
		return 0, fmt.Errorf("%w: non-finite position", ErrInvalidShape)
	}
	switch def.Shape.Kind {
	case Circle:
		if !(def.Shape.Radius > 0) {
			return 0, fmt.Errorf("%w: radius %v", ErrInvalidShape, def.Shape.Radius)
		}
	case Rect:
		if !(def.Shape.Width > 0) || !(def.Shape.Height > 0) {
			return 0, fmt.Errorf("%w: rect %vx%v", ErrInvalidShape, def.Shape.Width, def.Shape.Height)
		}
	default:
		return 0, fmt.Errorf("%w: kind %d", ErrInvalidShape, def.Shape.Kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refuseLocked() {
		return 0, ErrRefused
	}
	m.nextID++
	m.bodies[m.nextID] = &Body{
		ID:       m.nextID,
		Label:    def.Label,
		Category: def.Category,
		Static:   def.Static,
		Sensor:   def.Sensor,
		Density:  def.Density,
		Friction: def.Friction,
		Position: def.Position,
		Shape:    def.Shape,
	}
	return m.nextID, nil
}

func (m *Memory) Unregister(id BodyID) {
	m.mu.Lock()
	delete(m.bodies, id)
	m.mu.Unlock()
}

func (m *Memory) Body(id BodyID) (Body, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bodies[id]
	if !ok {
		return Body{}, false
	}
	return *b, true
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bodies)
}

// CountLabel returns the number of live bodies carrying label.
func (m *Memory) CountLabel(label string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, b := range m.bodies {
		if b.Label == label {
			n++
		}
	}
	return n
}

// GroundAt casts a ray straight down at x against static bodies in category
// cat and returns the highest surface hit.
func (m *Memory) GroundAt(x float64, cat Category) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	best := math.Inf(1)
	hit := false
	for _, b := range m.bodies {
		if !b.Static || b.Category&cat == 0 || len(b.Polygon) == 0 {
			continue
		}
		if y, ok := TopAt(b.Polygon, x); ok && y < best {
			best = y
			hit = true
		}
	}
	return best, hit
}

// Overlapping returns entity bodies whose extent intersects the circle at c
// with radius r, ordered by id.
func (m *Memory) Overlapping(c Vec2, r float64) []BodyID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []BodyID
	for id, b := range m.bodies {
		if len(b.Polygon) != 0 {
			continue
		}
		var reach float64
		switch b.Shape.Kind {
		case Circle:
			reach = b.Shape.Radius
		case Rect:
			reach = math.Hypot(b.Shape.Width, b.Shape.Height) / 2
		}
		if math.Hypot(b.Position.X-c.X, b.Position.Y-c.Y) <= reach+r {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
