package wipe

import (
	"math"
	"time"

	"github.com/charmbracelet/harmonica"
)

// Motion advances a position toward a target over one frame.
type Motion interface {
	Step(pos, vel, target float64, dt time.Duration) (float64, float64)
	Settled(pos, vel, target float64) bool
}

// Spring is a damped harmonic motion. The step size is fixed at
// construction, so frames must be delivered at the same interval.
type Spring struct {
	spring harmonica.Spring
}

// NewSpring builds a spring for the given frame interval. A damping ratio
// of 1 is critically damped and never overshoots.
func NewSpring(frame time.Duration, angularFrequency, dampingRatio float64) *Spring {
	return &Spring{spring: harmonica.NewSpring(frame.Seconds(), angularFrequency, dampingRatio)}
}

func (s *Spring) Step(pos, vel, target float64, _ time.Duration) (float64, float64) {
	return s.spring.Update(pos, vel, target)
}

func (s *Spring) Settled(pos, vel, target float64) bool {
	return math.Abs(pos-target) < 0.1 && math.Abs(vel) < 0.5
}

// Linear covers the full 0..100 range in Duration at constant speed.
type Linear struct {
	Duration time.Duration
}

func (l Linear) Step(pos, _, target float64, dt time.Duration) (float64, float64) {
	d := l.Duration
	if d <= 0 {
		d = 600 * time.Millisecond
	}
	speed := 100 / d.Seconds()
	step := speed * dt.Seconds()
	switch {
	case pos < target:
		pos = math.Min(pos+step, target)
		return pos, speed
	case pos > target:
		pos = math.Max(pos-step, target)
		return pos, -speed
	}
	return pos, 0
}

func (l Linear) Settled(pos, _, target float64) bool {
	return math.Abs(pos-target) < 1e-9
}
