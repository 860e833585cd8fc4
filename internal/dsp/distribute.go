package dsp

import "math"

const (
	// SensitivityEpsilon is the smallest usable sensitivity; anything at or
	// below it is replaced by 1.0.
	SensitivityEpsilon = 1e-6
	// MinSignalSum is the normalized signal sum below which no split is made.
	MinSignalSum = 1e-4

	weightEpsilon = 1e-4
)

// Split is the result of distributing a gross weight across four channels.
type Split struct {
	Weights  [4]float64
	Percents [4]float64
}

// SafeSensitivity clamps invalid sensitivities to 1.0.
func SafeSensitivity(s float64) float64 {
	if s > SensitivityEpsilon {
		return s
	}
	return 1.0
}

// Distribute splits gross across channels in proportion to |signal|/sensitivity.
// This is an approximation from a single summed reading, not an independent
// per-channel measurement.
func Distribute(gross float64, signals [4]float64, sensitivities [4]float64) Split {
	var norm [4]float64
	var sum float64
	for i := range signals {
		norm[i] = math.Abs(signals[i]) / SafeSensitivity(sensitivities[i])
		sum += norm[i]
	}

	var out Split
	if sum <= MinSignalSum || gross == 0 {
		return out
	}
	denom := math.Max(math.Abs(gross), weightEpsilon)
	for i := range norm {
		out.Weights[i] = gross * norm[i] / sum
		out.Percents[i] = math.Abs(out.Weights[i]) / denom * 100
	}
	return out
}

// Deadband zeroes signals whose magnitude is below band. band <= 0 disables it.
func Deadband(signals [4]int16, band float64) [4]float64 {
	var out [4]float64
	for i, s := range signals {
		v := float64(s)
		if band > 0 && math.Abs(v) < band {
			v = 0
		}
		out[i] = v
	}
	return out
}
