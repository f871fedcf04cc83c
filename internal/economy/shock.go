package economy

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// Shock perturbs each firm's productivity with smooth noise over rounds, so
// good and bad stretches persist instead of flipping every day.
type Shock struct {
	noise     opensimplex.Noise
	Amplitude float64
	Frequency float64
}

// NewShock creates a shock source. An amplitude of zero disables it.
func NewShock(seed int64, amplitude, frequency float64) *Shock {
	return &Shock{
		noise:     opensimplex.NewNormalized(seed),
		Amplitude: amplitude,
		Frequency: frequency,
	}
}

// Factor returns the productivity multiplier for firm n in round r, within
// [1-Amplitude, 1+Amplitude].
func (s *Shock) Factor(n int, r uint64) float64 {
	if s == nil || s.Amplitude == 0 {
		return 1
	}
	// NewNormalized yields [0, 1]; recentre on zero.
	v := s.noise.Eval2(float64(r)*s.Frequency, float64(n)*7.3)*2 - 1
	return 1 + s.Amplitude*v
}
