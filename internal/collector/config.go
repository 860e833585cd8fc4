package collector

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JakubPetorvec/PVFSWeight/internal/analysis"
	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

// RootConfig mirrors config/weighd.yaml.
type RootConfig struct {
	System    SystemConfig     `yaml:"system"`
	Defaults  DeviceDefaults   `yaml:"defaults"`
	Devices   []DeviceConfig   `yaml:"devices"`
	Groups    []GroupConfig    `yaml:"groups"`
	Recording RecordingConfig  `yaml:"recording"`
	Analysis  AnalysisConfig   `yaml:"analysis"`
	Simulator *SimulatorConfig `yaml:"simulator,omitempty"`
}

type SystemConfig struct {
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | plain
	} `yaml:"logging"`
	API struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"`
	} `yaml:"api"`
	Storage struct {
		Enabled      bool   `yaml:"enabled"`
		Dir          string `yaml:"dir"`
		FileType     string `yaml:"file_type"` // jsonl | csv | both
		MaxQueueSize int    `yaml:"max_queue_size"`
		DBPath       string `yaml:"db_path"`
	} `yaml:"storage"`
}

// DeviceDefaults fill in anything a device entry leaves unset.
type DeviceDefaults struct {
	Port           int           `yaml:"port"`
	UnitID         uint8         `yaml:"unit_id"`
	Timeout        time.Duration `yaml:"timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MedianWindow   int           `yaml:"median_window"`
	WeightPerCount float64       `yaml:"weight_per_count"`
}

type DeviceConfig struct {
	Name           string        `yaml:"name"`
	Address        string        `yaml:"address"`
	Port           int           `yaml:"port"`
	UnitID         uint8         `yaml:"unit_id"`
	Timeout        time.Duration `yaml:"timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MedianWindow   int           `yaml:"median_window"`
	WeightPerCount float64       `yaml:"weight_per_count"`
	Sensitivities  []float64     `yaml:"sensitivities"`
	SignalDeadband float64       `yaml:"signal_deadband"`
	ZeroTolerance  float64       `yaml:"zero_tolerance"`
}

type GroupConfig struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

type RecordingConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MaxSamples int           `yaml:"max_samples"`
	AutoStart  bool          `yaml:"auto_start"`
}

type AnalysisConfig struct {
	ActiveThreshold    float64 `yaml:"active_threshold"`
	MedianWindow       int     `yaml:"median_window"`
	PlateauRangeFactor float64 `yaml:"plateau_range_factor"`
	LooseFactor        float64 `yaml:"loose_factor"`
	TakeFraction       float64 `yaml:"take_fraction"`
	MinStableSamples   int     `yaml:"min_stable_samples"`
	MaxHoles           *int    `yaml:"max_holes"`
	MadK               float64 `yaml:"mad_k"`
}

// SimulatorConfig drives cmd/simulator. Each device in Devices gets one
// transmitter listening on its configured port.
type SimulatorConfig struct {
	Host    string        `yaml:"host"`
	Profile []LoadStep    `yaml:"profile"`
	Noise   int16         `yaml:"noise"`
	Step    time.Duration `yaml:"step"`
}

// LoadStep holds a gross load for a duration. Split gives each channel's share
// in percent; an empty split spreads the load evenly.
type LoadStep struct {
	Gross    int32         `yaml:"gross"`
	Duration time.Duration `yaml:"duration"`
	Split    []float64     `yaml:"split"`
}

// LoadYAML reads path, loads an optional .env next to the working directory,
// applies environment overrides and defaults, and validates the result.
func LoadYAML(path string) (RootConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RootConfig{}, err
	}
	return ParseYAML(b)
}

// ParseYAML is LoadYAML without the file read.
func ParseYAML(b []byte) (RootConfig, error) {
	var cfg RootConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return RootConfig{}, err
	}
	_ = godotenv.Load() // ignore missing file
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return RootConfig{}, err
	}
	return cfg, nil
}

func (c *RootConfig) applyEnv() {
	if v := os.Getenv("PVFS_LOG_LEVEL"); v != "" {
		c.System.Logging.Level = v
	}
	if v := os.Getenv("PVFS_API_LISTEN"); v != "" {
		c.System.API.Listen = v
		c.System.API.Enabled = true
	}
	if v := os.Getenv("PVFS_DB_PATH"); v != "" {
		c.System.Storage.DBPath = v
	}
	for i := range c.Devices {
		if v := os.Getenv(envDeviceKey(c.Devices[i].Name)); v != "" {
			c.Devices[i].Address = v
		}
	}
}

func envDeviceKey(name string) string {
	up := strings.ToUpper(name)
	up = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, up)
	return "PVFS_DEVICE_" + up + "_ADDRESS"
}

func (c *RootConfig) applyDefaults() {
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.System.API.Listen == "" {
		c.System.API.Listen = ":8080"
	}
	if c.System.Storage.Dir == "" {
		c.System.Storage.Dir = "data"
	}
	if c.System.Storage.MaxQueueSize <= 0 {
		c.System.Storage.MaxQueueSize = 1000
	}

	d := &c.Defaults
	if d.Port <= 0 {
		d.Port = 502
	}
	if d.UnitID == 0 {
		d.UnitID = 1
	}
	if d.Timeout <= 0 {
		d.Timeout = 1500 * time.Millisecond
	}
	if d.PollInterval <= 0 {
		d.PollInterval = 200 * time.Millisecond
	}
	if d.MedianWindow <= 0 {
		d.MedianWindow = 5
	}
	if d.WeightPerCount == 0 {
		d.WeightPerCount = 1
	}

	for i := range c.Devices {
		dev := &c.Devices[i]
		if dev.Port <= 0 {
			dev.Port = d.Port
		}
		if dev.UnitID == 0 {
			dev.UnitID = d.UnitID
		}
		if dev.Timeout <= 0 {
			dev.Timeout = d.Timeout
		}
		if dev.PollInterval <= 0 {
			dev.PollInterval = d.PollInterval
		}
		if dev.MedianWindow <= 0 {
			dev.MedianWindow = d.MedianWindow
		}
		if dev.WeightPerCount == 0 {
			dev.WeightPerCount = d.WeightPerCount
		}
		if len(dev.Sensitivities) == 0 {
			dev.Sensitivities = []float64{1, 1, 1, 1}
		}
	}

	if c.Recording.Interval <= 0 {
		c.Recording.Interval = 250 * time.Millisecond
	}
	if c.Recording.MaxSamples <= 0 {
		c.Recording.MaxSamples = 5000
	}

	def := analysis.DefaultOptions()
	a := &c.Analysis
	if a.ActiveThreshold <= 0 {
		a.ActiveThreshold = def.ActiveThreshold
	}
	if a.MedianWindow <= 0 {
		a.MedianWindow = def.MedianWindow
	}
	if a.PlateauRangeFactor <= 0 {
		a.PlateauRangeFactor = def.PlateauRangeFactor
	}
	if a.LooseFactor <= 0 {
		a.LooseFactor = def.LooseFactor
	}
	if a.TakeFraction <= 0 {
		a.TakeFraction = def.TakeFraction
	}
	if a.MinStableSamples <= 0 {
		a.MinStableSamples = def.MinStableSamples
	}
	if a.MaxHoles == nil {
		holes := def.MaxHoles
		a.MaxHoles = &holes
	}
	if a.MadK <= 0 {
		a.MadK = def.MadK
	}
}

// Validate checks the structural rules of the configuration.
func (c RootConfig) Validate() error {
	if len(c.Devices) == 0 {
		return fmt.Errorf("no devices configured")
	}
	names := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("device without name")
		}
		if names[d.Name] {
			return fmt.Errorf("duplicate device %q", d.Name)
		}
		names[d.Name] = true
		if d.Address == "" {
			return fmt.Errorf("device %q: address is required", d.Name)
		}
		if len(d.Sensitivities) != model.ChannelsPerDevice {
			return fmt.Errorf("device %q: want %d sensitivities, got %d", d.Name, model.ChannelsPerDevice, len(d.Sensitivities))
		}
	}
	seen := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("group without name")
		}
		if seen[g.Name] {
			return fmt.Errorf("duplicate group %q", g.Name)
		}
		seen[g.Name] = true
		for _, m := range g.Members {
			id, err := model.ParseChannelID(m)
			if err != nil {
				return fmt.Errorf("group %q: %w", g.Name, err)
			}
			if !names[id.Device] {
				return fmt.Errorf("group %q: unknown device %q", g.Name, id.Device)
			}
		}
	}
	return nil
}

// GroupDefinitions converts the validated group entries.
func (c RootConfig) GroupDefinitions() []model.GroupDefinition {
	out := make([]model.GroupDefinition, 0, len(c.Groups))
	for _, g := range c.Groups {
		def := model.GroupDefinition{Name: g.Name}
		for _, m := range g.Members {
			if id, err := model.ParseChannelID(m); err == nil {
				def.Members = append(def.Members, id)
			}
		}
		out = append(out, def)
	}
	return out
}

// AnalysisOptions converts the analysis section.
func (c RootConfig) AnalysisOptions() analysis.Options {
	opts := analysis.DefaultOptions()
	a := c.Analysis
	opts.ActiveThreshold = a.ActiveThreshold
	opts.MedianWindow = a.MedianWindow
	opts.PlateauRangeFactor = a.PlateauRangeFactor
	opts.LooseFactor = a.LooseFactor
	opts.TakeFraction = a.TakeFraction
	opts.MinStableSamples = a.MinStableSamples
	if a.MaxHoles != nil {
		opts.MaxHoles = *a.MaxHoles
	}
	opts.MadK = a.MadK
	return opts
}

// Endpoint builds the immutable endpoint for a device entry.
func (d DeviceConfig) Endpoint() model.DeviceEndpoint {
	return model.DeviceEndpoint{
		Name:         d.Name,
		Address:      d.Address,
		Port:         d.Port,
		UnitID:       d.UnitID,
		PollInterval: d.PollInterval,
	}
}

// SensitivityArray returns the four channel sensitivities.
func (d DeviceConfig) SensitivityArray() [model.ChannelsPerDevice]float64 {
	var out [model.ChannelsPerDevice]float64
	copy(out[:], d.Sensitivities)
	return out
}
