package analysis

import (
	"math"
	"sort"

	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

// Selector picks the analysed value out of a recorded sample.
type Selector func(model.RecordedSample) float64

// TotalField selects the grand total.
func TotalField(s model.RecordedSample) float64 { return s.Total }

// DeviceField selects one device's weight. Missing devices read as 0.
func DeviceField(name string) Selector {
	return func(s model.RecordedSample) float64 { return s.Devices[name] }
}

// GroupField selects one group's weight. Missing groups read as 0.
func GroupField(name string) Selector {
	return func(s model.RecordedSample) float64 { return s.Groups[name] }
}

// Values projects samples through sel.
func Values(samples []model.RecordedSample, sel Selector) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = sel(s)
	}
	return out
}

// Analyze finds the stable window of the selected field and its robust average.
func Analyze(samples []model.RecordedSample, sel Selector, opts Options) (model.StableWindow, float64) {
	opts = opts.withDefaults()
	values := Values(samples, sel)
	w := FindStableWindow(values, opts)
	return w, RobustAverage(values, w, opts.MadK)
}

// FieldAverage is a robust average together with its display value.
type FieldAverage struct {
	Name    string  `json:"name"`
	Average float64 `json:"average"`
	Rounded int64   `json:"rounded"`
}

func newFieldAverage(name string, avg float64) FieldAverage {
	return FieldAverage{Name: name, Average: avg, Rounded: RoundHalfAway(avg)}
}

// Report summarises a finished recording. All averages share the window found
// on the total.
type Report struct {
	Samples    int                   `json:"samples"`
	Window     model.StableWindow    `json:"window"`
	Total      FieldAverage          `json:"total"`
	Devices    []FieldAverage        `json:"devices"`
	Groups     []FieldAverage        `json:"groups"`
	LastActive *model.RecordedSample `json:"last_active,omitempty"`
}

// BuildReport analyses samples. Device and group names are taken from the
// samples themselves and reported in sorted order.
func BuildReport(samples []model.RecordedSample, opts Options) Report {
	opts = opts.withDefaults()
	totals := Values(samples, TotalField)
	w := FindStableWindow(totals, opts)

	r := Report{
		Samples: len(samples),
		Window:  w,
		Total:   newFieldAverage("total", RobustAverage(totals, w, opts.MadK)),
	}
	for _, name := range fieldNames(samples, func(s model.RecordedSample) map[string]float64 { return s.Devices }) {
		avg := RobustAverage(Values(samples, DeviceField(name)), w, opts.MadK)
		r.Devices = append(r.Devices, newFieldAverage(name, avg))
	}
	for _, name := range fieldNames(samples, func(s model.RecordedSample) map[string]float64 { return s.Groups }) {
		avg := RobustAverage(Values(samples, GroupField(name)), w, opts.MadK)
		r.Groups = append(r.Groups, newFieldAverage(name, avg))
	}

	if len(samples) > 0 {
		last := samples[len(samples)-1]
		if i := LastActiveIndex(totals, opts.ActiveThreshold); i >= 0 {
			last = samples[i]
		}
		r.LastActive = &last
	}
	return r
}

// LastActiveIndex returns the index of the last value at or above threshold,
// or -1.
func LastActiveIndex(values []float64, threshold float64) int {
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] >= threshold {
			return i
		}
	}
	return -1
}

// RoundHalfAway rounds to the nearest whole unit, halves away from zero.
func RoundHalfAway(v float64) int64 {
	return int64(math.Round(v))
}

func fieldNames(samples []model.RecordedSample, field func(model.RecordedSample) map[string]float64) []string {
	seen := make(map[string]struct{})
	for _, s := range samples {
		for k := range field(s) {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
