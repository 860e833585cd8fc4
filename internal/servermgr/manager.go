// Package servermgr runs one emulated transmitter per configured device.
package servermgr

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/collector"
	"github.com/JakubPetorvec/PVFSWeight/internal/logger"
	"github.com/JakubPetorvec/PVFSWeight/internal/modbus"
)

// Manager starts a Transmitter for every device in the configuration and
// drives it with the simulator load profile.
type Manager struct {
	Cfg collector.RootConfig

	mu           sync.Mutex
	transmitters map[string]*modbus.Transmitter
	ready        chan struct{}
}

func NewManager(cfg collector.RootConfig) *Manager {
	return &Manager{
		Cfg:          cfg,
		transmitters: make(map[string]*modbus.Transmitter),
		ready:        make(chan struct{}),
	}
}

// Ready is closed once every transmitter has tried to listen.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Transmitter returns the running transmitter for a device.
func (m *Manager) Transmitter(name string) (*modbus.Transmitter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transmitters[name]
	return t, ok
}

// Steps converts the configured load profile.
func Steps(cfg *collector.SimulatorConfig) []modbus.Step {
	if cfg == nil {
		return nil
	}
	out := make([]modbus.Step, 0, len(cfg.Profile))
	for _, p := range cfg.Profile {
		out = append(out, modbus.Step{Gross: p.Gross, Duration: p.Duration, Split: p.Split})
	}
	return out
}

// Run starts all transmitters and blocks until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	host := "0.0.0.0"
	var steps []modbus.Step
	var tick time.Duration
	var noise int16
	if sim := m.Cfg.Simulator; sim != nil {
		if sim.Host != "" {
			host = sim.Host
		}
		steps = Steps(sim)
		tick = sim.Step
		noise = sim.Noise
	}

	var wg sync.WaitGroup
	var started sync.WaitGroup
	for _, dev := range m.Cfg.Devices {
		wg.Add(1)
		started.Add(1)
		go func(d collector.DeviceConfig) {
			defer wg.Done()
			addr := net.JoinHostPort(host, strconv.Itoa(d.Port))
			tx := modbus.NewTransmitter()
			if err := tx.Listen(addr); err != nil {
				logger.Error("transmitter %s listen %s failed: %v", d.Name, addr, err)
				started.Done()
				return
			}
			if len(steps) > 0 {
				tx.SetLoad(steps[0].Gross, modbus.SignalsFor(steps[0].Gross, steps[0].Split))
			}
			m.mu.Lock()
			m.transmitters[d.Name] = tx
			m.mu.Unlock()
			started.Done()
			logger.Info("transmitter %s listening on %s", d.Name, tx.Addr())

			tx.RunProfile(ctx, steps, tick, noise)

			tx.Close()
			m.mu.Lock()
			delete(m.transmitters, d.Name)
			m.mu.Unlock()
			logger.Info("transmitter %s stopped", d.Name)
		}(dev)
	}
	started.Wait()
	close(m.ready)

	m.mu.Lock()
	n := len(m.transmitters)
	m.mu.Unlock()
	if n == 0 && len(m.Cfg.Devices) > 0 {
		wg.Wait()
		return fmt.Errorf("no transmitter could listen")
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}
