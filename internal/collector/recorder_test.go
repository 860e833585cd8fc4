package collector

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

type staticSource struct{ snap *model.AggregatedSnapshot }

func (s staticSource) Snapshot() *model.AggregatedSnapshot { return s.snap }

func testSnapshot() *model.AggregatedSnapshot {
	rx := time.Date(2026, 1, 2, 10, 11, 12, 345_000_000, time.Local)
	return &model.AggregatedSnapshot{
		Scales: map[string]model.ScaleReading{
			"scale1": {Device: "scale1", Timestamp: rx, Weight: 100.456},
		},
		Total:      100.456,
		GroupSums:  map[string]float64{"G1": 40.123, "G2": 60.333},
		GroupOrder: []string{"G1", "G2"},
	}
}

func TestRecorderAppendRoundsAndStamps(t *testing.T) {
	t.Parallel()
	r := NewRecorder(staticSource{testSnapshot()}, []string{"scale1", "scale2"}, 0, 0)

	var hooked atomic.Int32
	r.OnAppend(func(model.RecordedSample) { hooked.Add(1) })

	s := r.Append()
	if s.Seq != 1 || s.Total != 100.46 || s.Devices["scale1"] != 100.46 {
		t.Fatalf("unexpected sample %+v", s)
	}
	if s.ReceivedAt["scale1"] != "10:11:12.345" || s.ReceivedAt["scale2"] != "" || s.Devices["scale2"] != 0 {
		t.Fatalf("unexpected device columns %+v", s)
	}
	if s.Groups["G1"] != 40.12 || s.Groups["G2"] != 60.33 {
		t.Fatalf("unexpected groups %+v", s.Groups)
	}
	if hooked.Load() != 1 {
		t.Fatalf("append hook not called")
	}
}

func TestRecorderCapDropsOldest(t *testing.T) {
	t.Parallel()
	r := NewRecorder(staticSource{testSnapshot()}, nil, 0, 3)
	for i := 0; i < 5; i++ {
		r.Append()
	}
	got := r.Samples()
	if len(got) != 3 || got[0].Seq != 3 || got[2].Seq != 5 {
		t.Fatalf("unexpected samples after cap: %+v", got)
	}
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("clear left %d samples", r.Len())
	}
}

func TestRecorderLoopRespectsActive(t *testing.T) {
	t.Parallel()
	r := NewRecorder(staticSource{testSnapshot()}, nil, 10*time.Millisecond, 100)
	var active atomic.Bool
	r.Active = active.Load

	if !r.Start(context.Background()) || r.Start(context.Background()) {
		t.Fatalf("Start must succeed once")
	}
	time.Sleep(50 * time.Millisecond)
	if r.Len() != 0 {
		t.Fatalf("recorded %d samples while inactive", r.Len())
	}

	active.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for r.Len() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !r.Stop() || r.Stop() {
		t.Fatalf("Stop must succeed once")
	}
	n := r.Len()
	if n < 3 {
		t.Fatalf("expected periodic samples, got %d", n)
	}
	time.Sleep(30 * time.Millisecond)
	if r.Len() != n || r.Recording() {
		t.Fatalf("recorder kept running after Stop")
	}
}
