package economy

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// Cycle is a slow market sentiment wave sampled once per epoch. It keeps
// booms and recessions clustered instead of independent coin flips.
type Cycle struct {
	noise  opensimplex.Noise
	period float64 // Epochs per rough wavelength
}

// NewCycle creates a deterministic cycle from seed.
func NewCycle(seed int64) *Cycle {
	return &Cycle{
		noise:  opensimplex.New(seed),
		period: 12,
	}
}

// Phase returns the sentiment for an epoch in [-1, 1]. A nil cycle is flat.
func (c *Cycle) Phase(epoch int64) float64 {
	if c == nil {
		return 0
	}
	x := float64(epoch) / c.period
	// Two octaves: a slow trend plus a faster wobble.
	v := 0.7*c.noise.Eval2(x, 0) + 0.3*c.noise.Eval2(x*3, 17.5)
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
