package imagediff

import "fmt"

// Reduction turns difference stats into a scalar error. A run uses exactly
// one reduction; scores from different reductions are not comparable.
type Reduction interface {
	Name() string
	Reduce(stats Stats) float64
}

// CubedRMS sums the per-channel RMS and cubes the total, which stretches the
// gap between near and far candidates.
type CubedRMS struct{}

func (CubedRMS) Name() string { return "cubed_rms" }

func (CubedRMS) Reduce(stats Stats) float64 {
	sum := stats.RMS[0] + stats.RMS[1] + stats.RMS[2]
	return sum * sum * sum
}

// RMS sums the per-channel RMS.
type RMS struct{}

func (RMS) Name() string { return "rms" }

func (RMS) Reduce(stats Stats) float64 {
	return stats.RMS[0] + stats.RMS[1] + stats.RMS[2]
}

// AbsSum is the raw sum of absolute channel differences over all pixels.
type AbsSum struct{}

func (AbsSum) Name() string { return "abs_sum" }

func (AbsSum) Reduce(stats Stats) float64 {
	return stats.Sum[0] + stats.Sum[1] + stats.Sum[2]
}

func ReductionFromName(name string) (Reduction, error) {
	switch name {
	case "", "cubed_rms":
		return CubedRMS{}, nil
	case "rms":
		return RMS{}, nil
	case "abs_sum":
		return AbsSum{}, nil
	default:
		return nil, fmt.Errorf("unsupported fitness reduction: %s", name)
	}
}
