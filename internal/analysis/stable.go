// Package analysis locates the stable plateau of a finished recording and
// computes outlier-robust averages over it. Everything here is a pure
// function of its input.
package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/JakubPetorvec/PVFSWeight/internal/dsp"
	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

// Options tunes the stable window search.
type Options struct {
	ActiveThreshold    float64 // samples at or above this belong to a load event
	MaxHoles           int     // consecutive sub-threshold samples tolerated inside a segment
	MedianWindow       int     // centered median width, forced odd
	PlateauRangeFactor float64 // plateau margin below max, as a fraction of max-min
	LooseFactor        float64 // margin multiplier for the second plateau attempt
	TakeFraction       float64 // share of the plateau used for averaging
	MinStableSamples   int
	MadK               float64 // outlier cut in scaled-MAD units
}

// DefaultOptions returns the tuning used by the weighing station reports.
func DefaultOptions() Options {
	return Options{
		ActiveThreshold:    5.0,
		MaxHoles:           3,
		MedianWindow:       7,
		PlateauRangeFactor: 0.06,
		LooseFactor:        1.8,
		TakeFraction:       0.60,
		MinStableSamples:   12,
		MadK:               3.5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxHoles < 0 {
		o.MaxHoles = d.MaxHoles
	}
	if o.MedianWindow <= 0 {
		o.MedianWindow = d.MedianWindow
	}
	if o.PlateauRangeFactor <= 0 {
		o.PlateauRangeFactor = d.PlateauRangeFactor
	}
	if o.LooseFactor <= 0 {
		o.LooseFactor = d.LooseFactor
	}
	if o.TakeFraction <= 0 || o.TakeFraction > 1 {
		o.TakeFraction = d.TakeFraction
	}
	if o.MinStableSamples <= 0 {
		o.MinStableSamples = d.MinStableSamples
	}
	if o.MadK <= 0 {
		o.MadK = d.MadK
	}
	return o
}

// ActiveSegment returns the last run of values at or above threshold, allowing
// up to maxHoles consecutive sub-threshold samples inside it. When nothing
// reaches the threshold the whole sequence is returned.
func ActiveSegment(values []float64, threshold float64, maxHoles int) (start, end int) {
	end = -1
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] >= threshold {
			end = i
			break
		}
	}
	if end < 0 {
		return 0, len(values) - 1
	}

	start = end
	holes := 0
	for start > 0 {
		if values[start-1] >= threshold {
			holes = 0
		} else {
			holes++
			if holes > maxHoles {
				break
			}
		}
		start--
	}
	for start < end && values[start] < threshold {
		start++
	}
	return start, end
}

// CenteredMedian applies a centered rolling median. Even windows are widened by
// one. Near the edges the window is truncated and the upper middle element of
// the truncated window is used.
func CenteredMedian(data []float64, window int) []float64 {
	out := make([]float64, len(data))
	if window <= 1 {
		copy(out, data)
		return out
	}
	if window%2 == 0 {
		window++
	}
	half := window / 2
	tmp := make([]float64, 0, window)
	for i := range data {
		a := max(0, i-half)
		b := min(len(data)-1, i+half)
		tmp = append(tmp[:0], data[a:b+1]...)
		sort.Float64s(tmp)
		out[i] = tmp[len(tmp)/2]
	}
	return out
}

// argMax returns the first index of the maximum.
func argMax(data []float64) int {
	idx := 0
	best := math.Inf(-1)
	for i, v := range data {
		if v > best {
			best = v
			idx = i
		}
	}
	return idx
}

func expand(smooth []float64, from int, threshold float64) (left, right int) {
	left, right = from, from
	for left > 0 && smooth[left-1] >= threshold {
		left--
	}
	for right < len(smooth)-1 && smooth[right+1] >= threshold {
		right++
	}
	return left, right
}

// Plateau finds the run around the maximum of smooth whose values stay within
// factor*(max-min) of the maximum, retrying once with a looser margin when the
// run is shorter than minLen.
func Plateau(smooth []float64, factor, looseFactor float64, minLen int) (left, right int) {
	if len(smooth) == 0 {
		return 0, -1
	}
	maxIdx := argMax(smooth)
	hi := smooth[maxIdx]
	lo := hi
	for _, v := range smooth {
		lo = math.Min(lo, v)
	}
	span := math.Max(1e-9, hi-lo)

	left, right = expand(smooth, maxIdx, hi-span*factor)
	if right-left+1 < minLen {
		left, right = expand(smooth, maxIdx, hi-span*factor*looseFactor)
	}
	return left, right
}

// FindStableWindow locates the averaging window in values.
func FindStableWindow(values []float64, opts Options) model.StableWindow {
	opts = opts.withDefaults()
	if len(values) == 0 {
		return model.StableWindow{Start: 0, End: -1}
	}

	segStart, segEnd := ActiveSegment(values, opts.ActiveThreshold, opts.MaxHoles)
	segment := values[segStart : segEnd+1]
	smooth := CenteredMedian(segment, opts.MedianWindow)
	left, right := Plateau(smooth, opts.PlateauRangeFactor, opts.LooseFactor, opts.MinStableSamples)
	plateauLen := right - left + 1

	var ws, we int
	if plateauLen >= opts.MinStableSamples {
		take := int(math.RoundToEven(float64(plateauLen) * opts.TakeFraction))
		take = max(opts.MinStableSamples, min(plateauLen, take))
		mid := left + plateauLen/2
		ws = max(left, mid-take/2)
		we = ws + take - 1
		if we > right {
			we = right
			ws = max(left, we-take+1)
		}
	} else {
		n := len(segment)
		ws = n / 3
		we = 2*n/3 - 1
		if we <= ws {
			ws, we = 0, n-1
		}
	}

	last := len(values) - 1
	absStart := clamp(segStart+ws, 0, last)
	absEnd := clamp(segStart+we, 0, last)
	if absEnd < absStart {
		absStart, absEnd = absEnd, absStart
	}
	return model.StableWindow{Start: absStart, End: absEnd}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// MADFilter drops values further than k scaled MADs from the median. Inputs
// with fewer than 6 values or a degenerate MAD are returned unchanged.
func MADFilter(values []float64, k float64) []float64 {
	if len(values) < 6 {
		return values
	}
	med := dsp.Median(append([]float64(nil), values...))
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - med)
	}
	mad := dsp.Median(dev)
	if mad < 1e-12 {
		return values
	}
	sigma := 1.4826 * mad
	lo, hi := med-k*sigma, med+k*sigma
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v >= lo && v <= hi {
			out = append(out, v)
		}
	}
	return out
}

// RobustAverage is the mean of values[w.Start..w.End] after MAD filtering. If
// the filter keeps fewer than max(5, n/2) values the unfiltered mean is used.
// An empty window averages to 0.
func RobustAverage(values []float64, w model.StableWindow, madK float64) float64 {
	if w.Len() == 0 || w.Start < 0 || w.End >= len(values) {
		return 0
	}
	in := values[w.Start : w.End+1]
	used := MADFilter(in, madK)
	if len(used) < max(5, len(in)/2) {
		used = in
	}
	return stat.Mean(used, nil)
}
