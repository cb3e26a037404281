// Package scoring derives the four momentum components from market
// metrics, smooths them with a persisted-state EWMA and writes score
// snapshots.
package scoring

import "math"

// TxAccel compares the 5-minute transaction rate to the hourly one.
// Zero hourly activity yields 0. No upper clamp.
func TxAccel(tx5m, tx1h float64) float64 {
	if tx1h <= 0 {
		return 0
	}
	v := (tx5m / 5) / (tx1h / 60)
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// VolMomentum compares 5-minute volume to the average 5-minute slice of
// the hourly volume.
func VolMomentum(v5m, v1h float64) float64 {
	if v1h <= 0 {
		return 0
	}
	v := v5m / (v1h / 12)
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// TokenFreshness decays linearly from 1 at creation to 0 at the horizon.
func TokenFreshness(hours, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	v := (threshold - hours) / threshold
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// OrderflowImbalance is the normalized buy/sell volume skew in [-1, 1].
func OrderflowImbalance(buysVolume, sellsVolume float64) float64 {
	denom := buysVolume + sellsVolume
	if denom <= 0 {
		return 0
	}
	v := (buysVolume - sellsVolume) / denom
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// TxArbitrageActivity is the alternative TX component: a blend of absolute
// 5m activity against the [minTx, optimalTx] band and the short-term
// acceleration ratio.
func TxArbitrageActivity(tx5m, tx1h, minTx, optimalTx, accelWeight float64) float64 {
	var absolute float64
	switch {
	case tx5m >= optimalTx:
		absolute = 1
	case tx5m < minTx:
		absolute = 0
	case optimalTx > minTx:
		absolute = (tx5m - minTx) / (optimalTx - minTx)
	}

	var acceleration float64
	rate1h := tx1h / 60
	if rate1h > 0 {
		ratio := (tx5m / 5) / rate1h
		switch {
		case ratio >= 2:
			acceleration = 1
		case ratio >= 1:
			acceleration = ratio - 1
		}
	}

	if accelWeight < 0 {
		accelWeight = 0
	} else if accelWeight > 1 {
		accelWeight = 1
	}
	return (1-accelWeight)*absolute + accelWeight*acceleration
}
