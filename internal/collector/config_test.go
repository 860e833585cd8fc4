package collector

import (
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
system:
  logging:
    level: debug
devices:
  - name: scale1
    address: 192.168.199.123
    sensitivities: [2.0047, 2.0016, 2.0070, 2.0042]
  - name: scale2
    address: 192.168.199.124
    port: 1502
    poll_interval: 100ms
groups:
  - name: G1
    members: ["scale1:1", "scale1:2"]
  - name: G3
    members: ["scale2:1", "scale2:2"]
recording:
  max_samples: 100
analysis:
  max_holes: 0
`

func TestParseYAMLDefaults(t *testing.T) {
	cfg, err := ParseYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}
	d1, d2 := cfg.Devices[0], cfg.Devices[1]
	if d1.Port != 502 || d1.UnitID != 1 || d1.Timeout != 1500*time.Millisecond || d1.PollInterval != 200*time.Millisecond {
		t.Fatalf("defaults not applied: %+v", d1)
	}
	if d2.Port != 1502 || d2.PollInterval != 100*time.Millisecond {
		t.Fatalf("explicit values overwritten: %+v", d2)
	}
	if d2.SensitivityArray() != [4]float64{1, 1, 1, 1} {
		t.Fatalf("expected unity sensitivities, got %v", d2.Sensitivities)
	}
	if cfg.Recording.Interval != 250*time.Millisecond || cfg.Recording.MaxSamples != 100 {
		t.Fatalf("unexpected recording config %+v", cfg.Recording)
	}
	opts := cfg.AnalysisOptions()
	if opts.MaxHoles != 0 || opts.MedianWindow != 7 || opts.MinStableSamples != 12 {
		t.Fatalf("unexpected analysis options %+v", opts)
	}
	groups := cfg.GroupDefinitions()
	if len(groups) != 2 || groups[1].Members[1].Device != "scale2" || groups[1].Members[1].Channel != 2 {
		t.Fatalf("unexpected groups %+v", groups)
	}
}

func TestParseYAMLEnvOverrides(t *testing.T) {
	t.Setenv("PVFS_DEVICE_SCALE1_ADDRESS", "10.0.0.5")
	t.Setenv("PVFS_API_LISTEN", ":9090")
	cfg, err := ParseYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}
	if cfg.Devices[0].Address != "10.0.0.5" {
		t.Fatalf("address override ignored: %s", cfg.Devices[0].Address)
	}
	if !cfg.System.API.Enabled || cfg.System.API.Listen != ":9090" {
		t.Fatalf("api override ignored: %+v", cfg.System.API)
	}
}

func TestParseYAMLValidation(t *testing.T) {
	cases := map[string]string{
		"no devices":        "devices: []",
		"duplicate":         "devices: [{name: a, address: x}, {name: a, address: y}]",
		"bad sensitivities": "devices: [{name: a, address: x, sensitivities: [1, 2]}]",
		"bad channel":       "devices: [{name: a, address: x}]\ngroups: [{name: g, members: [\"a:5\"]}]",
		"unknown member":    "devices: [{name: a, address: x}]\ngroups: [{name: g, members: [\"b:1\"]}]",
		"missing address":   "devices: [{name: a}]",
	}
	for name, doc := range cases {
		if _, err := ParseYAML([]byte(doc)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestEnvDeviceKey(t *testing.T) {
	if got := envDeviceKey("scale-1"); !strings.EqualFold(got, "PVFS_DEVICE_SCALE_1_ADDRESS") {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := LoadYAML("../../config/weighd.yaml")
	if err != nil {
		t.Fatalf("LoadYAML failed: %v", err)
	}
	if len(cfg.Devices) != 2 || len(cfg.GroupDefinitions()) != 2 {
		t.Fatalf("unexpected devices/groups: %+v", cfg)
	}
	if cfg.Simulator == nil || len(cfg.Simulator.Profile) != 3 {
		t.Fatalf("simulator profile missing: %+v", cfg.Simulator)
	}
	if cfg.Devices[0].Port == cfg.Devices[1].Port {
		t.Fatal("simulated devices must listen on distinct ports")
	}
	if opts := cfg.AnalysisOptions(); opts.MaxHoles != 3 || opts.MinStableSamples != 12 {
		t.Fatalf("unexpected analysis options %+v", opts)
	}
}
