package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/analysis"
	"github.com/JakubPetorvec/PVFSWeight/internal/db"
	"github.com/JakubPetorvec/PVFSWeight/internal/dgt4"
	"github.com/JakubPetorvec/PVFSWeight/internal/logger"
	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

var (
	// ErrUnknownDevice is returned for a device name that is not configured.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrConnectAborted is returned when the device was disconnected while
	// its connection was being opened.
	ErrConnectAborted = errors.New("connect aborted")
)

// SampleSink receives every recorded sample. Storage implements it.
type SampleSink interface {
	Handle(model.RecordedSample) error
}

// RecordingStore persists recording sessions. db.DB implements it.
type RecordingStore interface {
	StartSession(ctx context.Context, note string) (db.Session, error)
	StopSession(ctx context.Context, id string) error
	InsertSample(ctx context.Context, sessionID string, s model.RecordedSample) error
}

// DeviceStatus is the externally visible state of one configured device.
type DeviceStatus struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Port      int    `json:"port"`
	UnitID    uint8  `json:"unit_id"`
	Connected bool   `json:"connected"`
	Polling   bool   `json:"polling"`
}

type device struct {
	cfg     DeviceConfig
	session *dgt4.Session
	poller  *Poller
}

// Manager is the composition root: it owns one session and poller per
// configured device, the aggregator and the recorder.
type Manager struct {
	Cfg RootConfig
	// Dial overrides the transport used by new sessions.
	Dial dgt4.DialFunc
	// Sink and Store are optional; set them before Run or StartRecording.
	Sink  SampleSink
	Store RecordingStore

	agg  *Aggregator
	rec  *Recorder
	opts analysis.Options

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	order   []string
	devices map[string]*device

	// recMu serializes StartRecording and StopRecording.
	recMu     sync.Mutex
	sessMu    sync.Mutex
	sessionID string
}

// NewManager builds a manager with every device disconnected.
func NewManager(cfg RootConfig) *Manager {
	m := &Manager{
		Cfg:     cfg,
		agg:     NewAggregator(cfg.GroupDefinitions()),
		opts:    cfg.AnalysisOptions(),
		devices: make(map[string]*device, len(cfg.Devices)),
	}
	m.baseCtx, m.baseCancel = context.WithCancel(context.Background())
	for _, d := range cfg.Devices {
		m.order = append(m.order, d.Name)
		m.devices[d.Name] = &device{cfg: d}
	}
	m.rec = NewRecorder(m.agg, m.order, cfg.Recording.Interval, cfg.Recording.MaxSamples)
	m.rec.Active = m.AnyConnected
	m.rec.OnAppend(m.persistSample)
	return m
}

func (m *Manager) lookup(name string) (*device, error) {
	d, ok := m.devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	return d, nil
}

func (m *Manager) newSession(cfg DeviceConfig) *dgt4.Session {
	client := dgt4.NewClient()
	if m.Dial != nil {
		client.Dial = m.Dial
	}
	return dgt4.NewSession(cfg.Endpoint(), client)
}

// Connect opens the device and starts polling it. Connection errors are
// returned to the caller and never retried. The manager lock is not held while
// dialing.
func (m *Manager) Connect(ctx context.Context, name string) error {
	m.mu.Lock()
	d, err := m.lookup(name)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if d.session == nil {
		d.session = m.newSession(d.cfg)
	}
	s, cfg := d.session, d.cfg
	m.mu.Unlock()

	if err := s.Connect(ctx, cfg.Timeout); err != nil {
		logger.Warn("connect %s (%s:%d): %v", name, cfg.Address, cfg.Port, err)
		return err
	}

	m.mu.Lock()
	if d.session != s {
		m.mu.Unlock()
		// disconnected or readdressed while dialing
		s.Disconnect()
		return fmt.Errorf("connect %s: %w", name, ErrConnectAborted)
	}
	if d.poller == nil {
		d.poller = NewPoller(name, s, PollerConfigFrom(cfg), m.agg.Update)
	}
	d.poller.Start(m.baseCtx)
	m.mu.Unlock()
	logger.Info("device %s connected at %s:%d", name, cfg.Address, cfg.Port)
	return nil
}

// Disconnect stops polling, closes the transport and removes the device from
// the aggregation. Safe on a device that never connected.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	d, err := m.lookup(name)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	p, s := detachLocked(d)
	m.mu.Unlock()

	m.teardown(name, p, s)
	if !m.AnyConnected() {
		m.StopRecording()
	}
	return nil
}

// detachLocked unhooks the poller and session of d so they can be closed
// without holding the manager lock.
func detachLocked(d *device) (*Poller, *dgt4.Session) {
	p, s := d.poller, d.session
	d.poller, d.session = nil, nil
	return p, s
}

func (m *Manager) teardown(name string, p *Poller, s *dgt4.Session) {
	if p != nil {
		p.Close()
	}
	if s != nil {
		s.Disconnect()
		logger.Info("device %s disconnected", name)
	}
	m.agg.Remove(name)
}

// Zero issues the zero command to a connected device.
func (m *Manager) Zero(ctx context.Context, name string) error {
	m.mu.Lock()
	d, err := m.lookup(name)
	var s *dgt4.Session
	if err == nil {
		s = d.session
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if s == nil || !s.Connected() {
		return fmt.Errorf("zero %s: %w", name, dgt4.ErrNotConnected)
	}
	if err := s.Zero(ctx); err != nil {
		logger.Warn("zero %s: %v", name, err)
		return err
	}
	logger.Info("device %s zeroed", name)
	return nil
}

// UpdateAddress rebuilds the device with a new address. A connected device is
// reconnected at the new address.
func (m *Manager) UpdateAddress(ctx context.Context, name, address string) error {
	if address == "" {
		return fmt.Errorf("device %s: empty address", name)
	}
	m.mu.Lock()
	d, err := m.lookup(name)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	wasConnected := d.session != nil && d.session.Connected()
	p, s := detachLocked(d)
	d.cfg.Address = address
	m.mu.Unlock()

	m.teardown(name, p, s)

	logger.Info("device %s address set to %s", name, address)
	if wasConnected {
		return m.Connect(ctx, name)
	}
	return nil
}

// Devices lists every configured device in configuration order.
func (m *Manager) Devices() []DeviceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeviceStatus, 0, len(m.order))
	for _, name := range m.order {
		d := m.devices[name]
		out = append(out, DeviceStatus{
			Name:      name,
			Address:   d.cfg.Address,
			Port:      d.cfg.Port,
			UnitID:    d.cfg.UnitID,
			Connected: d.session != nil && d.session.Connected(),
			Polling:   d.poller != nil && d.poller.Running(),
		})
	}
	return out
}

// AnyConnected reports whether at least one device is connected.
func (m *Manager) AnyConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.session != nil && d.session.Connected() {
			return true
		}
	}
	return false
}

// Snapshot returns the current aggregated snapshot.
func (m *Manager) Snapshot() *model.AggregatedSnapshot { return m.agg.Snapshot() }

// Subscribe registers fn for every new snapshot.
func (m *Manager) Subscribe(fn func(*model.AggregatedSnapshot)) func() { return m.agg.Subscribe(fn) }

// Samples returns the recorded sequence.
func (m *Manager) Samples() []model.RecordedSample { return m.rec.Samples() }

// AppendSample records one sample from the current snapshot.
func (m *Manager) AppendSample() model.RecordedSample { return m.rec.Append() }

// ClearSamples empties the recorded sequence.
func (m *Manager) ClearSamples() { m.rec.Clear() }

// Recording reports whether periodic recording is on.
func (m *Manager) Recording() bool { return m.rec.Recording() }

// StartRecording begins periodic recording and opens a persisted session.
func (m *Manager) StartRecording(ctx context.Context) error {
	m.recMu.Lock()
	defer m.recMu.Unlock()
	if m.rec.Recording() {
		return nil
	}
	if m.Store != nil {
		sess, err := m.Store.StartSession(ctx, "")
		if err != nil {
			return fmt.Errorf("start recording session: %w", err)
		}
		m.sessMu.Lock()
		m.sessionID = sess.ID
		m.sessMu.Unlock()
		logger.Info("recording session %s opened", sess.ID)
	}
	m.rec.Start(m.baseCtx)
	return nil
}

// StopRecording ends periodic recording and closes the persisted session.
func (m *Manager) StopRecording() {
	m.recMu.Lock()
	defer m.recMu.Unlock()
	if !m.rec.Stop() {
		return
	}
	m.sessMu.Lock()
	id := m.sessionID
	m.sessionID = ""
	m.sessMu.Unlock()
	if m.Store != nil && id != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.Store.StopSession(ctx, id); err != nil {
			logger.Error("stop recording session %s: %v", id, err)
		}
	}
}

// SessionID returns the id of the open recording session, if any.
func (m *Manager) SessionID() string {
	m.sessMu.Lock()
	defer m.sessMu.Unlock()
	return m.sessionID
}

func (m *Manager) persistSample(s model.RecordedSample) {
	if m.Sink != nil {
		if err := m.Sink.Handle(s); err != nil {
			logger.Warn("sample %d: %v", s.Seq, err)
		}
	}
	id := m.SessionID()
	if m.Store == nil || id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(m.baseCtx, 2*time.Second)
	defer cancel()
	if err := m.Store.InsertSample(ctx, id, s); err != nil {
		logger.Error("persist sample %d: %v", s.Seq, err)
	}
}

// Analyze runs the stable window analysis over the recorded samples.
func (m *Manager) Analyze() analysis.Report {
	return analysis.BuildReport(m.rec.Samples(), m.opts)
}

// AnalysisOptions returns the configured analysis tuning.
func (m *Manager) AnalysisOptions() analysis.Options { return m.opts }

// Run starts recording if configured, blocks until ctx is done and then shuts
// everything down.
func (m *Manager) Run(ctx context.Context) error {
	if m.Cfg.Recording.AutoStart {
		if err := m.StartRecording(ctx); err != nil {
			logger.Error("auto start recording: %v", err)
		}
	}
	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("timeout waiting for devices to stop")
	}
	return nil
}

// Close stops recording and disconnects every device.
func (m *Manager) Close() {
	m.StopRecording()
	type parts struct {
		p *Poller
		s *dgt4.Session
	}
	m.mu.Lock()
	detached := make([]parts, len(m.order))
	for i, name := range m.order {
		detached[i].p, detached[i].s = detachLocked(m.devices[name])
	}
	m.mu.Unlock()
	for i, name := range m.order {
		m.teardown(name, detached[i].p, detached[i].s)
	}
	m.baseCancel()
}
