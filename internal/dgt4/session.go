package dgt4

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

// Session serializes every protocol operation for one transmitter behind a
// single-holder gate, so connect, disconnect, zero and reads never interleave
// on the wire.
type Session struct {
	endpoint model.DeviceEndpoint
	client   *Client
	gate     chan struct{}

	// written under gate, read without it
	connected atomic.Bool
}

// NewSession builds a session for endpoint. client may be nil for Modbus TCP.
func NewSession(endpoint model.DeviceEndpoint, client *Client) *Session {
	if client == nil {
		client = NewClient()
	}
	return &Session{
		endpoint: endpoint,
		client:   client,
		gate:     make(chan struct{}, 1),
	}
}

// Endpoint returns the immutable endpoint the session was built from.
func (s *Session) Endpoint() model.DeviceEndpoint { return s.endpoint }

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() { <-s.gate }

// Connected reports the connection state. It never waits for wire traffic.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Connect opens the transport and switches the transmitter to the live page.
// It is a no-op when already connected.
func (s *Session) Connect(ctx context.Context, timeout time.Duration) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	if s.connected.Load() {
		return nil
	}
	if err := s.client.Connect(s.endpoint.Address, s.endpoint.Port, timeout); err != nil {
		return err
	}
	if err := s.client.ChangePage(s.endpoint.UnitID, LivePage); err != nil {
		s.client.Close()
		return err
	}
	s.connected.Store(true)
	return nil
}

// Disconnect closes the transport. It is safe on a session that never connected.
func (s *Session) Disconnect() {
	s.gate <- struct{}{}
	defer s.release()
	_ = s.client.Close()
	s.connected.Store(false)
}

// Zero issues the zero command; no-op when not connected.
func (s *Session) Zero(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	if !s.connected.Load() {
		return nil
	}
	return s.client.Zero(s.endpoint.UnitID)
}

// ReadScale reads one live frame and converts gross counts to weight units.
// It returns nil, nil when the session is not connected.
func (s *Session) ReadScale(ctx context.Context, weightPerCount float64) (*model.ScaleReading, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	if !s.connected.Load() {
		return nil, nil
	}
	live, err := s.client.ReadLive(s.endpoint.UnitID)
	if err != nil {
		return nil, err
	}
	// The stable bit position depends on transmitter configuration; report stable.
	return &model.ScaleReading{
		Device:      s.endpoint.Name,
		Timestamp:   time.Now(),
		Weight:      float64(live.Gross) * weightPerCount,
		Stable:      true,
		RawGross:    live.Gross,
		InputStatus: live.InputStatus,
		Signals:     live.Signals,
	}, nil
}
