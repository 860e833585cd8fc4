package collector

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/logger"
	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

// RxTimeLayout formats per-device receive times in recorded samples.
const RxTimeLayout = "15:04:05.000"

// SnapshotSource yields the current aggregated snapshot.
type SnapshotSource interface {
	Snapshot() *model.AggregatedSnapshot
}

// Recorder keeps a bounded, time-ordered sequence of RecordedSample rows
// captured from a SnapshotSource.
type Recorder struct {
	source   SnapshotSource
	devices  []string
	interval time.Duration
	capacity int
	// Active gates the periodic loop; nil means always active.
	Active func() bool

	mu       sync.Mutex
	samples  []model.RecordedSample
	seq      int
	onAppend []func(model.RecordedSample)

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecorder returns a stopped recorder. devices fixes the per-device columns
// of every sample, so a disconnected device still appears with zero weight.
func NewRecorder(source SnapshotSource, devices []string, interval time.Duration, capacity int) *Recorder {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if capacity <= 0 {
		capacity = 5000
	}
	return &Recorder{
		source:   source,
		devices:  append([]string(nil), devices...),
		interval: interval,
		capacity: capacity,
	}
}

// OnAppend registers fn to run after every appended sample.
func (r *Recorder) OnAppend(fn func(model.RecordedSample)) {
	r.mu.Lock()
	r.onAppend = append(r.onAppend, fn)
	r.mu.Unlock()
}

// Append captures the current snapshot as one sample.
func (r *Recorder) Append() model.RecordedSample {
	snap := r.source.Snapshot()

	r.mu.Lock()
	r.seq++
	s := buildSample(r.seq, time.Now(), snap, r.devices)
	r.samples = append(r.samples, s)
	if over := len(r.samples) - r.capacity; over > 0 {
		r.samples = append(r.samples[:0], r.samples[over:]...)
	}
	hooks := append([]func(model.RecordedSample){}, r.onAppend...)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(s)
	}
	return s
}

func buildSample(seq int, now time.Time, snap *model.AggregatedSnapshot, devices []string) model.RecordedSample {
	s := model.RecordedSample{
		Seq:        seq,
		RecordedAt: now,
		ReceivedAt: make(map[string]string),
		Devices:    make(map[string]float64),
		Groups:     make(map[string]float64),
	}
	if snap == nil {
		return s
	}
	names := devices
	if len(names) == 0 {
		for name := range snap.Scales {
			names = append(names, name)
		}
	}
	for _, name := range names {
		sc, ok := snap.Scales[name]
		if !ok {
			s.ReceivedAt[name] = ""
			s.Devices[name] = 0
			continue
		}
		s.ReceivedAt[name] = sc.Timestamp.Format(RxTimeLayout)
		s.Devices[name] = Round2(sc.Weight)
	}
	s.Total = Round2(snap.Total)
	for _, g := range snap.GroupOrder {
		s.Groups[g] = Round2(snap.GroupSums[g])
	}
	return s
}

// Round2 rounds to display precision.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Samples returns a copy of the recorded sequence.
func (r *Recorder) Samples() []model.RecordedSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.RecordedSample(nil), r.samples...)
}

// Len returns the number of recorded samples.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Clear drops every sample.
func (r *Recorder) Clear() {
	r.mu.Lock()
	r.samples = nil
	r.mu.Unlock()
}

// Recording reports whether the periodic loop runs.
func (r *Recorder) Recording() bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.cancel != nil
}

// Start begins periodic recording. It returns false if already recording.
func (r *Recorder) Start(ctx context.Context) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel != nil {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	go func() {
		defer close(done)
		r.loop(loopCtx)
	}()
	logger.Info("recording started, interval %s", r.interval)
	return true
}

// Stop ends periodic recording and waits for the loop. Idempotent.
func (r *Recorder) Stop() bool {
	r.runMu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.runMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	logger.Info("recording stopped, %d samples", r.Len())
	return true
}

func (r *Recorder) loop(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if r.Active == nil || r.Active() {
				r.Append()
			}
		}
	}
}
