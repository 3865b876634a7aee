package stealth

import (
	"math"
	"math/rand"
	"time"
)

// JitteredInterval spreads a base interval across a triangular
// distribution of +/- pct, peaked at the base. A fixed cadence is an
// easy automation signal; a triangular spread keeps the mean stable.
func JitteredInterval(rng *rand.Rand, base time.Duration, pct float64) time.Duration {
	if base <= 0 || pct <= 0 {
		return base
	}
	spread := float64(base) * pct
	lo := float64(base) - spread
	hi := float64(base) + spread
	return time.Duration(triangular(rng, lo, hi, float64(base)))
}

// HumanDelay draws a log-normal "think time" between min and max. The
// distribution is centered on the midpoint and clamped to [min, 2*max].
func HumanDelay(rng *rand.Rand, min, max time.Duration) time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	mid := float64(min+max) / 2
	mu := math.Log(mid)
	const sigma = 0.5
	d := time.Duration(math.Exp(mu + sigma*rng.NormFloat64()))
	if d < min {
		d = min
	}
	if d > 2*max {
		d = 2 * max
	}
	return d
}

// ScrollStep returns one human-looking scroll distance in pixels.
// Roughly one in ten steps scrolls back up a little.
func ScrollStep(rng *rand.Rand) int {
	px := 300 + rng.Intn(601)
	if rng.Float64() < 0.10 {
		return -(px / 3)
	}
	return px
}

// ScrollPause returns the pause after one scroll step. About a fifth of
// pauses run longer, as if the reader stopped on something.
func ScrollPause(rng *rand.Rand) time.Duration {
	if rng.Float64() < 0.20 {
		return HumanDelay(rng, 1500*time.Millisecond, 4*time.Second)
	}
	return HumanDelay(rng, 400*time.Millisecond, 1200*time.Millisecond)
}

func triangular(rng *rand.Rand, lo, hi, mode float64) float64 {
	u := rng.Float64()
	c := (mode - lo) / (hi - lo)
	if u < c {
		return lo + math.Sqrt(u*(hi-lo)*(mode-lo))
	}
	return hi - math.Sqrt((1-u)*(hi-lo)*(hi-mode))
}
