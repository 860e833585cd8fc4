package collector

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

// Aggregator keeps the latest reading of every device and republishes a
// complete AggregatedSnapshot on each update. Readers load the current
// snapshot atomically and never observe a partial rebuild.
type Aggregator struct {
	groups []model.GroupDefinition

	mu       sync.Mutex
	scales   map[string]model.ScaleReading
	channels map[model.ChannelID]model.ChannelReading
	subs     map[int]func(*model.AggregatedSnapshot)
	nextSub  int

	current atomic.Pointer[model.AggregatedSnapshot]
}

// NewAggregator returns an aggregator for the given ordered groups.
func NewAggregator(groups []model.GroupDefinition) *Aggregator {
	a := &Aggregator{
		groups:   groups,
		scales:   make(map[string]model.ScaleReading),
		channels: make(map[model.ChannelID]model.ChannelReading),
		subs:     make(map[int]func(*model.AggregatedSnapshot)),
	}
	a.mu.Lock()
	a.rebuildLocked(time.Now())
	a.mu.Unlock()
	return a
}

// Update stores one device's poll result and publishes a new snapshot.
func (a *Aggregator) Update(u model.DeviceUpdate) {
	a.mu.Lock()
	a.scales[u.Scale.Device] = u.Scale
	for _, c := range u.Channels {
		a.channels[c.ID] = c
	}
	snap := a.rebuildLocked(u.Scale.Timestamp)
	subs := a.subscribersLocked()
	a.mu.Unlock()
	notify(subs, snap)
}

// Remove drops a device from the aggregation and publishes a new snapshot.
func (a *Aggregator) Remove(device string) {
	a.mu.Lock()
	if _, ok := a.scales[device]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.scales, device)
	for id := range a.channels {
		if id.Device == device {
			delete(a.channels, id)
		}
	}
	snap := a.rebuildLocked(time.Now())
	subs := a.subscribersLocked()
	a.mu.Unlock()
	notify(subs, snap)
}

// Snapshot returns the current snapshot. It is never nil and must not be modified.
func (a *Aggregator) Snapshot() *model.AggregatedSnapshot {
	return a.current.Load()
}

// Subscribe registers fn for every published snapshot and returns a cancel
// function. fn runs on the publishing goroutine and must not block.
func (a *Aggregator) Subscribe(fn func(*model.AggregatedSnapshot)) func() {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

func (a *Aggregator) subscribersLocked() []func(*model.AggregatedSnapshot) {
	out := make([]func(*model.AggregatedSnapshot), 0, len(a.subs))
	for _, fn := range a.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(*model.AggregatedSnapshot), snap *model.AggregatedSnapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

func (a *Aggregator) rebuildLocked(ts time.Time) *model.AggregatedSnapshot {
	snap := &model.AggregatedSnapshot{
		Timestamp:  ts,
		Scales:     make(map[string]model.ScaleReading, len(a.scales)),
		Channels:   make(map[model.ChannelID]model.ChannelReading, len(a.channels)),
		GroupSums:  make(map[string]float64, len(a.groups)),
		GroupOrder: make([]string, 0, len(a.groups)),
	}
	names := make([]string, 0, len(a.scales))
	for name, s := range a.scales {
		snap.Scales[name] = s
		names = append(names, name)
	}
	// fixed summation order keeps the total reproducible
	sort.Strings(names)
	for _, name := range names {
		snap.Total += a.scales[name].Weight
	}
	for id, c := range a.channels {
		snap.Channels[id] = c
	}
	for _, g := range a.groups {
		var sum float64
		for _, m := range g.Members {
			sum += a.channels[m].Weight
		}
		snap.GroupSums[g.Name] = sum
		snap.GroupOrder = append(snap.GroupOrder, g.Name)
	}
	a.current.Store(snap)
	return snap
}
