// Package dsp holds the per-poll signal processing: rolling median smoothing
// and the proportional split of a gross weight across load cell channels.
package dsp

import "sort"

// MedianSmoother is a fixed-capacity FIFO returning the median of its contents.
type MedianSmoother struct {
	window int
	buf    []float64
	tmp    []float64
}

// NewMedianSmoother returns a smoother holding at most window samples (min 1).
func NewMedianSmoother(window int) *MedianSmoother {
	if window < 1 {
		window = 1
	}
	return &MedianSmoother{
		window: window,
		buf:    make([]float64, 0, window),
		tmp:    make([]float64, 0, window),
	}
}

// Window returns the configured capacity.
func (m *MedianSmoother) Window() int { return m.window }

// Len returns the number of buffered samples.
func (m *MedianSmoother) Len() int { return len(m.buf) }

// Push admits v, evicting the oldest sample when full, and returns the median.
func (m *MedianSmoother) Push(v float64) float64 {
	if len(m.buf) == m.window {
		copy(m.buf, m.buf[1:])
		m.buf = m.buf[:len(m.buf)-1]
	}
	m.buf = append(m.buf, v)
	m.tmp = append(m.tmp[:0], m.buf...)
	return Median(m.tmp)
}

// Reset drops all buffered samples.
func (m *MedianSmoother) Reset() {
	m.buf = m.buf[:0]
}

// Median sorts values in place and returns the middle value, or the mean of
// the two middle values for an even count. It returns 0 for an empty slice.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sort.Float64s(values)
	mid := n / 2
	if n%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}
