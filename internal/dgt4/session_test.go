package dgt4

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

func testEndpoint() model.DeviceEndpoint {
	return model.DeviceEndpoint{Name: "scale1", Address: "127.0.0.1", Port: 502, UnitID: 1}
}

func TestSessionConnectSwitchesToLivePage(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	c, _ := newFakeClient(tr)
	s := NewSession(testEndpoint(), c)

	if err := s.Connect(context.Background(), time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !s.Connected() {
		t.Fatalf("expected connected session")
	}
	ops := tr.Ops()
	if len(ops) != 4 || ops[2] != "cmd 1D 3001" {
		t.Fatalf("expected live page switch, got %v", ops)
	}

	// already connected: no further traffic
	if err := s.Connect(context.Background(), time.Second); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if len(tr.Ops()) != 4 {
		t.Fatalf("reconnect on live session sent traffic: %v", tr.Ops())
	}
}

func TestSessionNotConnected(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	c, _ := newFakeClient(tr)
	s := NewSession(testEndpoint(), c)

	s.Disconnect()
	s.Disconnect()

	r, err := s.ReadScale(context.Background(), 1)
	if err != nil || r != nil {
		t.Fatalf("expected nil reading without error, got %+v, %v", r, err)
	}
	if err := s.Zero(context.Background()); err != nil {
		t.Fatalf("Zero on idle session must be a no-op, got %v", err)
	}
	if len(tr.Ops()) != 0 {
		t.Fatalf("idle session sent traffic: %v", tr.Ops())
	}
}

func TestSessionReadScale(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{live: liveRegisters(2500, [4]int16{10, 20, 30, 40})}
	c, _ := newFakeClient(tr)
	s := NewSession(testEndpoint(), c)
	if err := s.Connect(context.Background(), time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	r, err := s.ReadScale(context.Background(), 0.1)
	if err != nil {
		t.Fatalf("ReadScale failed: %v", err)
	}
	if r.Device != "scale1" || r.RawGross != 2500 || r.Weight != 250 || !r.Stable {
		t.Fatalf("unexpected reading %+v", r)
	}
	if r.Signals != [4]int16{10, 20, 30, 40} {
		t.Fatalf("unexpected signals %v", r.Signals)
	}

	s.Disconnect()
	if s.Connected() || !tr.closed {
		t.Fatalf("disconnect must close transport")
	}
}

func TestSessionSerializesOperations(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{live: liveRegisters(1, [4]int16{})}
	c, _ := newFakeClient(tr)
	s := NewSession(testEndpoint(), c)
	if err := s.Connect(context.Background(), time.Second); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.ReadScale(context.Background(), 1)
		}()
		go func() {
			defer wg.Done()
			_ = s.Zero(context.Background())
		}()
	}
	wg.Wait()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.overl {
		t.Fatalf("protocol operations overlapped on the wire")
	}
}

func TestSessionAcquireHonoursContext(t *testing.T) {
	t.Parallel()
	s := NewSession(testEndpoint(), &Client{})
	s.gate <- struct{}{}
	defer s.release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.ReadScale(ctx, 1); err == nil {
		t.Fatalf("expected context error while gate is held")
	}
}
