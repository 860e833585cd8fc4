package collector

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

type scriptedReader struct {
	mu    sync.Mutex
	steps []func() (*model.ScaleReading, error)
	calls int
}

func (r *scriptedReader) ReadScale(ctx context.Context, weightPerCount float64) (*model.ScaleReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	r.calls++
	if i >= len(r.steps) {
		return nil, errors.New("script exhausted")
	}
	return r.steps[i]()
}

func (r *scriptedReader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func reading(weight float64, signals [4]int16) func() (*model.ScaleReading, error) {
	return func() (*model.ScaleReading, error) {
		return &model.ScaleReading{Device: "scale1", Timestamp: time.Now(), Weight: weight, Stable: true, Signals: signals}, nil
	}
}

func failing() (*model.ScaleReading, error) { return nil, errors.New("i/o timeout") }

func TestPollerPublishesSmoothedReadings(t *testing.T) {
	t.Parallel()
	r := &scriptedReader{steps: []func() (*model.ScaleReading, error){
		reading(100, [4]int16{10, 10, 0, 0}),
		failing,
		reading(10, [4]int16{10, 10, 0, 0}),
		func() (*model.ScaleReading, error) { return nil, nil },
		reading(40, [4]int16{10, 10, 0, 0}),
	}}
	got := make(chan model.DeviceUpdate, 10)
	p := NewPoller("scale1", r, PollerConfig{Interval: time.Millisecond, MedianWindow: 3, Sensitivities: [4]float64{1, 1, 1, 1}},
		func(u model.DeviceUpdate) { got <- u })
	p.Start(context.Background())
	defer p.Close()

	var weights []float64
	for len(weights) < 3 {
		select {
		case u := <-got:
			weights = append(weights, u.Scale.Weight)
			if u.Channels[2].Weight != 0 || u.Channels[3].Weight != 0 {
				t.Fatalf("idle channels received weight: %+v", u.Channels)
			}
			if u.Channels[0].Percent != 50 {
				t.Fatalf("expected 50%% share, got %v", u.Channels[0].Percent)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", weights)
		}
	}
	// medians of [100], [100 10], [100 10 40]
	want := []float64{100, 55, 40}
	for i := range want {
		if weights[i] != want[i] {
			t.Fatalf("smoothed weights %v, want %v", weights, want)
		}
	}
}

func TestPollerStartStopIdempotent(t *testing.T) {
	t.Parallel()
	r := &scriptedReader{}
	p := NewPoller("scale1", r, PollerConfig{Interval: time.Millisecond}, nil)
	if p.cfg.Interval != MinPollInterval {
		t.Fatalf("interval not clamped: %v", p.cfg.Interval)
	}

	p.Stop()
	p.Close()
	p.Start(context.Background())
	p.Start(context.Background())
	if !p.Running() {
		t.Fatalf("expected running poller")
	}
	p.Stop()
	p.Stop()
	if p.Running() {
		t.Fatalf("expected stopped poller")
	}
	p.Close()

	calls := r.Calls()
	time.Sleep(3 * MinPollInterval)
	if r.Calls() != calls {
		t.Fatalf("stopped poller kept reading")
	}
}

func TestPollerProcessZeroToleranceAndDeadband(t *testing.T) {
	t.Parallel()
	p := NewPoller("scale1", &scriptedReader{}, PollerConfig{
		MedianWindow:   1,
		Sensitivities:  [4]float64{2, 2, 2, 2},
		SignalDeadband: 5,
		ZeroTolerance:  0.5,
	}, nil)

	u := p.process(model.ScaleReading{Device: "scale1", Weight: 0.3, Signals: [4]int16{100, 0, 0, 0}})
	if u.Scale.Weight != 0 || u.Channels[0].Weight != 0 {
		t.Fatalf("weight within zero tolerance must read 0: %+v", u)
	}

	u = p.process(model.ScaleReading{Device: "scale1", Weight: 80, Signals: [4]int16{300, 100, 4, -3}})
	if math.Abs(u.Channels[0].Weight-60) > 1e-9 || math.Abs(u.Channels[1].Weight-20) > 1e-9 {
		t.Fatalf("unexpected split %+v", u.Channels)
	}
	if u.Channels[2].Weight != 0 || u.Channels[3].Weight != 0 {
		t.Fatalf("deadband not applied %+v", u.Channels)
	}
	if u.Channels[2].Signal != 4 || u.Channels[3].ID.Channel != 4 {
		t.Fatalf("raw signal or id lost %+v", u.Channels[2:])
	}
}

func TestPollerRestartDropsOldSamples(t *testing.T) {
	t.Parallel()
	// later reads fail until the script is extended, leaving the smoothers alone
	r := &scriptedReader{steps: []func() (*model.ScaleReading, error){
		reading(100, [4]int16{10, 0, 0, 0}),
	}}
	got := make(chan model.DeviceUpdate, 10)
	p := NewPoller("scale1", r, PollerConfig{Interval: time.Millisecond, MedianWindow: 5, Sensitivities: [4]float64{1, 1, 1, 1}},
		func(u model.DeviceUpdate) { got <- u })

	p.Start(context.Background())
	select {
	case u := <-got:
		if u.Scale.Weight != 100 {
			t.Fatalf("first reading = %v, want 100", u.Scale.Weight)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first reading")
	}
	p.Close()
	for len(got) > 0 {
		<-got
	}

	r.mu.Lock()
	r.steps = make([]func() (*model.ScaleReading, error), r.calls+1)
	r.steps[r.calls] = reading(0, [4]int16{10, 0, 0, 0})
	r.mu.Unlock()

	p.Start(context.Background())
	defer p.Close()
	select {
	case u := <-got:
		if u.Scale.Weight != 0 || u.Channels[0].Weight != 0 {
			t.Fatalf("restarted poller mixed in old samples: gross %v channel %v", u.Scale.Weight, u.Channels[0].Weight)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reading after restart")
	}
}
