// Package humanoid moves a browser pointer the way a hand does: a
// spring-damped approach towards an aim point inside the element, with slow
// Perlin drift and Gaussian tremor layered on top.
package humanoid

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
)

const (
	// maxVelocity caps the pointer speed in pixels per second.
	maxVelocity = 6000.0
	// maxSimulationTime bounds one movement if the target is never settled on.
	maxSimulationTime = 10 * time.Second
	perlinFrequency   = 0.8
	// A movement ends within this distance of the target at low speed.
	arriveDistance = 1.0
	arriveSpeed    = 50.0
	// Targets closer than this are not worth a movement.
	minMoveDistance = 1.5
)

// Config tunes the motion model.
type Config struct {
	// Omega is the spring's natural frequency; higher moves faster.
	Omega float64
	// Zeta is the damping ratio; below 1 the pointer overshoots slightly.
	Zeta             float64
	PerlinAmplitude  float64
	GaussianStrength float64
	// ClickNoise is the standard deviation, in pixels, added to the aim point.
	ClickNoise float64
	// TimeStep is both the simulation step and the pause between events.
	TimeStep time.Duration
}

// DefaultConfig returns the parameters used for every browser tab.
func DefaultConfig() Config {
	return Config{
		Omega:            30.0,
		Zeta:             0.8,
		PerlinAmplitude:  2.0,
		GaussianStrength: 0.5,
		ClickNoise:       1.0,
		TimeStep:         5 * time.Millisecond,
	}
}

// Dispatcher delivers one pointer move to the page.
type Dispatcher func(ctx context.Context, at Vector2D) error

// Pointer is the cursor of one tab. Movements on a pointer are serialized.
type Pointer struct {
	mu     sync.Mutex
	cfg    Config
	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
	pos    Vector2D
}

// NewPointer creates a pointer resting at the origin. The seed fixes every
// random choice, so equal seeds give equal paths.
func NewPointer(cfg Config, seed int64) *Pointer {
	if cfg.TimeStep <= 0 {
		cfg.TimeStep = DefaultConfig().TimeStep
	}
	return &Pointer{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		noiseX: perlin.NewPerlin(2, 2, 3, seed),
		noiseY: perlin.NewPerlin(2, 2, 3, seed+1),
	}
}

// Position is where the last movement ended.
func (p *Pointer) Position() Vector2D {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// TargetPoint picks where in b to aim: normally distributed around the
// centre over the inner 80% of the box, plus click noise, and never closer
// than one pixel to the edge.
func (p *Pointer) TargetPoint(b Box) Vector2D {
	p.mu.Lock()
	defer p.mu.Unlock()

	center := b.Center()
	if b.Width <= 2 || b.Height <= 2 {
		return center
	}
	// 99.7% of draws land within three standard deviations.
	stdX := b.Width * 0.8 / 6
	stdY := b.Height * 0.8 / 6
	x := center.X + p.rng.NormFloat64()*stdX + p.rng.NormFloat64()*p.cfg.ClickNoise
	y := center.Y + p.rng.NormFloat64()*stdY + p.rng.NormFloat64()*p.cfg.ClickNoise

	x = math.Max(b.X+1, math.Min(b.X+b.Width-1, x))
	y = math.Max(b.Y+1, math.Min(b.Y+b.Height-1, y))
	return Vector2D{X: x, Y: y}
}

// MoveTo walks the pointer from its current position to target, handing each
// intermediate point to dispatch and pausing one time step in between. The
// final point is target itself. The pointer keeps the last point dispatched
// when the movement is cut short.
func (p *Pointer) MoveTo(ctx context.Context, target Vector2D, dispatch Dispatcher) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pos.Dist(target) < minMoveDistance {
		return nil
	}
	path := p.path(p.pos, target)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for i, at := range path {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := dispatch(ctx, at); err != nil {
			return err
		}
		p.pos = at
		if i == len(path)-1 {
			break
		}
		// Jitter the pause so events are not perfectly periodic.
		timer.Reset(p.cfg.TimeStep + time.Duration(p.rng.Intn(3)-1)*time.Millisecond)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Path simulates a movement from start to end without dispatching it.
func (p *Pointer) Path(start, end Vector2D) []Vector2D {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path(start, end)
}

// path integrates a unit-mass spring pulling towards end, damped against the
// velocity, with semi-implicit Euler steps. Noise is applied to the emitted
// points only, so it never feeds back into the dynamics. p.mu must be held.
func (p *Pointer) path(start, end Vector2D) []Vector2D {
	omega, zeta := p.cfg.Omega, p.cfg.Zeta
	dt := p.cfg.TimeStep.Seconds()

	pos := start
	var velocity Vector2D
	var out []Vector2D
	for t := time.Duration(0); t < maxSimulationTime; t += p.cfg.TimeStep {
		if pos.Dist(end) < arriveDistance && velocity.Mag() < arriveSpeed {
			break
		}

		spring := end.Sub(pos).Mul(omega * omega)
		damping := velocity.Mul(-2 * zeta * omega)
		velocity = velocity.Add(spring.Add(damping).Mul(dt))
		if velocity.Mag() > maxVelocity {
			velocity = velocity.Normalize().Mul(maxVelocity)
		}
		pos = pos.Add(velocity.Mul(dt))

		elapsed := t.Seconds() * perlinFrequency
		drift := Vector2D{
			X: p.noiseX.Noise1D(elapsed) * p.cfg.PerlinAmplitude,
			Y: p.noiseY.Noise1D(elapsed) * p.cfg.PerlinAmplitude,
		}
		out = append(out, p.tremor(pos.Add(drift)))
	}
	return append(out, end)
}

// tremor adds high-frequency Gaussian noise to a point.
func (p *Pointer) tremor(v Vector2D) Vector2D {
	strength := p.cfg.GaussianStrength * (0.5 + p.rng.Float64())
	return Vector2D{
		X: v.X + p.rng.NormFloat64()*strength,
		Y: v.Y + p.rng.NormFloat64()*strength,
	}
}
