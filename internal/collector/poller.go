package collector

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/dsp"
	"github.com/JakubPetorvec/PVFSWeight/internal/logger"
	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

// MinPollInterval bounds how fast a single transmitter is polled.
const MinPollInterval = 50 * time.Millisecond

// closeGrace is how long Close waits for the loop to notice cancellation.
const closeGrace = 250 * time.Millisecond

// ScaleReader is the device side of a poller. dgt4.Session implements it.
// A nil reading with a nil error means the device is not connected.
type ScaleReader interface {
	ReadScale(ctx context.Context, weightPerCount float64) (*model.ScaleReading, error)
}

// PollerConfig holds the per-device processing settings.
type PollerConfig struct {
	Interval       time.Duration
	MedianWindow   int
	WeightPerCount float64
	Sensitivities  [model.ChannelsPerDevice]float64
	SignalDeadband float64
	ZeroTolerance  float64
}

// PollerConfigFrom extracts the poller settings of a device entry.
func PollerConfigFrom(d DeviceConfig) PollerConfig {
	return PollerConfig{
		Interval:       d.PollInterval,
		MedianWindow:   d.MedianWindow,
		WeightPerCount: d.WeightPerCount,
		Sensitivities:  d.SensitivityArray(),
		SignalDeadband: d.SignalDeadband,
		ZeroTolerance:  d.ZeroTolerance,
	}
}

// Poller runs the read, smooth, distribute, publish loop for one device.
type Poller struct {
	name    string
	reader  ScaleReader
	cfg     PollerConfig
	publish func(model.DeviceUpdate)

	gross    *dsp.MedianSmoother
	channels [model.ChannelsPerDevice]*dsp.MedianSmoother

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller builds a stopped poller. publish is called from the poll goroutine
// after every successful read.
func NewPoller(name string, reader ScaleReader, cfg PollerConfig, publish func(model.DeviceUpdate)) *Poller {
	if cfg.Interval < MinPollInterval {
		cfg.Interval = MinPollInterval
	}
	if cfg.WeightPerCount == 0 {
		cfg.WeightPerCount = 1
	}
	p := &Poller{
		name:    name,
		reader:  reader,
		cfg:     cfg,
		publish: publish,
		gross:   dsp.NewMedianSmoother(cfg.MedianWindow),
	}
	for i := range p.channels {
		p.channels[i] = dsp.NewMedianSmoother(cfg.MedianWindow)
	}
	return p
}

// Running reports whether the loop has been started and not stopped.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Start spawns the poll loop with empty smoothers. It is a no-op when already
// running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	if p.done != nil {
		// a previous loop may still be finishing its last read
		<-p.done
	}
	p.gross.Reset()
	for _, m := range p.channels {
		m.Reset()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go func() {
		defer close(done)
		p.loop(loopCtx)
	}()
}

// Stop requests cancellation. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
}

// Close stops the loop and waits briefly for it to exit.
func (p *Poller) Close() {
	p.Stop()
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(closeGrace):
		logger.Warn("poller %s: loop still busy after %s", p.name, closeGrace)
	}
}

func (p *Poller) loop(ctx context.Context) {
	logger.Debug("poller %s started, interval %s", p.name, p.cfg.Interval)
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("poller %s stopped", p.name)
			return
		case <-t.C:
		}
		p.pollOnce(ctx)
		t.Reset(p.cfg.Interval)
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	r, err := p.reader.ReadScale(ctx, p.cfg.WeightPerCount)
	if err != nil {
		// stale-but-present: the last published reading stays current
		logger.Debug("poller %s read: %v", p.name, err)
		return
	}
	if r == nil || ctx.Err() != nil {
		return
	}
	if p.publish != nil {
		p.publish(p.process(*r))
	}
}

// process smooths one raw reading and derives its channel readings.
func (p *Poller) process(r model.ScaleReading) model.DeviceUpdate {
	w := r.Weight
	if p.cfg.ZeroTolerance > 0 && math.Abs(w) < p.cfg.ZeroTolerance {
		w = 0
	}
	r.Weight = p.gross.Push(w)

	split := dsp.Distribute(r.Weight, dsp.Deadband(r.Signals, p.cfg.SignalDeadband), p.cfg.Sensitivities)
	u := model.DeviceUpdate{Scale: r}
	for i := range u.Channels {
		u.Channels[i] = model.ChannelReading{
			ID:        model.ChannelID{Device: r.Device, Channel: i + 1},
			Timestamp: r.Timestamp,
			Signal:    r.Signals[i],
			Weight:    p.channels[i].Push(split.Weights[i]),
			Percent:   split.Percents[i],
		}
	}
	return u
}
