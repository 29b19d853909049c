// Package physics describes the rigid-body back end the terrain engine feeds.
//
// The engine only creates and removes bodies; stepping, contacts and vehicle
// dynamics belong to the back end.
package physics

import "errors"

var (
	ErrInvalidPolygon = errors.New("physics: invalid polygon")
	ErrInvalidShape   = errors.New("physics: invalid shape")
	ErrRefused        = errors.New("physics: registration refused")
)

type BodyID uint64

// Category is a collision-filter bit.
type Category uint32

type Vec2 struct {
	X, Y float64
}

type ShapeKind uint8

const (
	Circle ShapeKind = iota + 1
	Rect
)

type Shape struct {
	Kind   ShapeKind
	Radius float64 // Circle
	Width  float64 // Rect
	Height float64 // Rect
}

// StaticBodyDef is an immovable ground polygon.
type StaticBodyDef struct {
	Polygon        []Vec2
	Friction       float64
	FrictionStatic float64
	Label          string
	Category       Category
}

// EntityBodyDef is a placed entity. Position is the body centre.
type EntityBodyDef struct {
	Position Vec2
	Shape    Shape
	Sensor   bool
	Static   bool
	Density  float64
	Friction float64
	Label    string
	Category Category
}

type Backend interface {
	RegisterStatic(def StaticBodyDef) (BodyID, error)
	RegisterEntity(def EntityBodyDef) (BodyID, error)
	Unregister(id BodyID)
	// Category returns the filter bit for tag, allocating one on first use.
	Category(tag string) Category
}
