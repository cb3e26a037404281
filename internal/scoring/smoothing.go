package scoring

import (
	"math"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
)

// Smooth applies one EWMA step: alpha*current + (1-alpha)*prev.
func Smooth(prev, current, alpha float64) (float64, error) {
	if err := checkAlpha(alpha); err != nil {
		return 0, err
	}
	return alpha*current + (1-alpha)*prev, nil
}

// SmoothComponents smooths every component plus the final score against
// the prior set. A nil prior initializes the state to the current values.
func SmoothComponents(prev *domain.ComponentSet, current domain.ComponentSet, alpha float64) (domain.ComponentSet, error) {
	if err := checkAlpha(alpha); err != nil {
		return domain.ComponentSet{}, err
	}
	if prev == nil {
		return current, nil
	}
	step := func(p, c float64) float64 { return alpha*c + (1-alpha)*p }
	return domain.ComponentSet{
		TxAccel:            step(prev.TxAccel, current.TxAccel),
		VolMomentum:        step(prev.VolMomentum, current.VolMomentum),
		TokenFreshness:     step(prev.TokenFreshness, current.TokenFreshness),
		OrderflowImbalance: step(prev.OrderflowImbalance, current.OrderflowImbalance),
		FinalScore:         step(prev.FinalScore, current.FinalScore),
	}, nil
}

func checkAlpha(alpha float64) error {
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return domain.ErrInvalidAlpha
	}
	return nil
}
