package servermgr

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/collector"
	"github.com/JakubPetorvec/PVFSWeight/internal/dgt4"
)

func TestManagerServesProfile(t *testing.T) {
	t.Parallel()
	cfg := collector.RootConfig{
		Devices: []collector.DeviceConfig{{Name: "scale1"}, {Name: "scale2"}},
		Simulator: &collector.SimulatorConfig{
			Host:    "127.0.0.1",
			Step:    10 * time.Millisecond,
			Profile: []collector.LoadStep{{Gross: 700, Duration: time.Hour, Split: []float64{70, 10, 10, 10}}},
		},
	}
	m := NewManager(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	select {
	case <-m.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("transmitters not ready")
	}
	tx, ok := m.Transmitter("scale2")
	if !ok {
		t.Fatalf("scale2 transmitter missing")
	}
	addr := tx.Addr().(*net.TCPAddr)

	c := dgt4.NewClient()
	c.Sleep = func(time.Duration) {}
	if err := c.Connect(addr.IP.String(), addr.Port, time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()
	if err := c.ChangePage(1, dgt4.LivePage); err != nil {
		t.Fatalf("ChangePage failed: %v", err)
	}
	f, err := c.ReadLive(1)
	if err != nil {
		t.Fatalf("ReadLive failed: %v", err)
	}
	if f.Gross != 700 || f.Signals[0] != 490 {
		t.Fatalf("unexpected frame %+v", f)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if _, ok := m.Transmitter("scale1"); ok {
		t.Fatalf("transmitter left registered after shutdown")
	}
}

func TestSteps(t *testing.T) {
	t.Parallel()
	if Steps(nil) != nil {
		t.Fatalf("nil config must yield no steps")
	}
	got := Steps(&collector.SimulatorConfig{Profile: []collector.LoadStep{{Gross: 5, Duration: time.Second}}})
	if len(got) != 1 || got[0].Gross != 5 || got[0].Duration != time.Second {
		t.Fatalf("unexpected steps %+v", got)
	}
}
