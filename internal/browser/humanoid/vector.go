package humanoid

import "math"

// Vector2D is a point or displacement in CSS pixels.
type Vector2D struct {
	X, Y float64
}

func (v Vector2D) Add(o Vector2D) Vector2D { return Vector2D{X: v.X + o.X, Y: v.Y + o.Y} }

func (v Vector2D) Sub(o Vector2D) Vector2D { return Vector2D{X: v.X - o.X, Y: v.Y - o.Y} }

func (v Vector2D) Mul(f float64) Vector2D { return Vector2D{X: v.X * f, Y: v.Y * f} }

// Mag is the Euclidean length.
func (v Vector2D) Mag() float64 { return math.Hypot(v.X, v.Y) }

// Dist is the distance between two points.
func (v Vector2D) Dist(o Vector2D) float64 { return v.Sub(o).Mag() }

// Normalize returns the unit vector, or the zero vector for a zero input.
func (v Vector2D) Normalize() Vector2D {
	m := v.Mag()
	if m == 0 {
		return Vector2D{}
	}
	return v.Mul(1 / m)
}

// Box is an element's layout box in viewport coordinates.
type Box struct {
	X, Y, Width, Height float64
}

// Center is the middle of the box.
func (b Box) Center() Vector2D {
	return Vector2D{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}
