package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ChannelsPerDevice is fixed by the live page register map.
const ChannelsPerDevice = 4

// DeviceEndpoint identifies one transmitter. It is immutable once a session is
// built from it; changing the address means building a new session.
type DeviceEndpoint struct {
	Name         string
	Address      string
	Port         int
	UnitID       uint8
	PollInterval time.Duration
}

// ChannelID names one load cell channel (1..4) of a device.
type ChannelID struct {
	Device  string `json:"device"`
	Channel int    `json:"channel"`
}

func (c ChannelID) String() string { return fmt.Sprintf("%s:%d", c.Device, c.Channel) }

// ParseChannelID parses the "device:channel" form used in configuration.
func ParseChannelID(s string) (ChannelID, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return ChannelID{}, fmt.Errorf("channel %q: want device:channel", s)
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return ChannelID{}, fmt.Errorf("channel %q: %w", s, err)
	}
	if n < 1 || n > ChannelsPerDevice {
		return ChannelID{}, fmt.Errorf("channel %q: index must be 1..%d", s, ChannelsPerDevice)
	}
	return ChannelID{Device: strings.TrimSpace(s[:i]), Channel: n}, nil
}

// ScaleReading is the device-level gross reading published by a poller.
type ScaleReading struct {
	Device      string                   `json:"device"`
	Timestamp   time.Time                `json:"timestamp"`
	Weight      float64                  `json:"weight"`
	Stable      bool                     `json:"stable"`
	RawGross    int32                    `json:"raw_gross"`
	InputStatus uint16                   `json:"input_status"`
	Signals     [ChannelsPerDevice]int16 `json:"signals"`
}

// ChannelReading is the per-channel share derived from a ScaleReading.
type ChannelReading struct {
	ID        ChannelID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Signal    int16     `json:"signal"`
	Weight    float64   `json:"weight"`
	Percent   float64   `json:"percent"`
}

// DeviceUpdate is one poll cycle's output for a device.
type DeviceUpdate struct {
	Scale    ScaleReading
	Channels [ChannelsPerDevice]ChannelReading
}

// GroupDefinition is a named, ordered set of channels whose weights are summed.
type GroupDefinition struct {
	Name    string
	Members []ChannelID
}

// AggregatedSnapshot is rebuilt on every update and never mutated afterwards.
type AggregatedSnapshot struct {
	Timestamp  time.Time                    `json:"timestamp"`
	Scales     map[string]ScaleReading      `json:"scales"`
	Channels   map[ChannelID]ChannelReading `json:"-"`
	Total      float64                      `json:"total"`
	GroupSums  map[string]float64           `json:"group_sums"`
	GroupOrder []string                     `json:"group_order"`
}

// GroupShare returns the group's percentage of the grand total.
func (s *AggregatedSnapshot) GroupShare(name string) float64 {
	if s == nil || s.Total <= 0.0001 {
		return 0
	}
	return s.GroupSums[name] / s.Total * 100
}

// ChannelList returns channel readings ordered by device then channel index.
func (s *AggregatedSnapshot) ChannelList() []ChannelReading {
	if s == nil {
		return nil
	}
	out := make([]ChannelReading, 0, len(s.Channels))
	for _, c := range s.Channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return lessChannel(out[i].ID, out[j].ID) })
	return out
}

func lessChannel(a, b ChannelID) bool {
	if a.Device != b.Device {
		return a.Device < b.Device
	}
	return a.Channel < b.Channel
}

// RecordedSample is one row of a recording. Values are already rounded to
// display precision.
type RecordedSample struct {
	Seq        int                `json:"seq"`
	RecordedAt time.Time          `json:"recorded_at"`
	ReceivedAt map[string]string  `json:"received_at"`
	Total      float64            `json:"total"`
	Devices    map[string]float64 `json:"devices"`
	Groups     map[string]float64 `json:"groups"`
}

// StableWindow is the closed index range [Start, End] of a sample sequence.
// An empty window has End < Start.
type StableWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns End-Start+1, or 0 for an empty window.
func (w StableWindow) Len() int {
	if w.End < w.Start {
		return 0
	}
	return w.End - w.Start + 1
}
