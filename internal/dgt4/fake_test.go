package dgt4

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakeTransport records every register operation in order.
type fakeTransport struct {
	mu     sync.Mutex
	ops    []string
	live   []uint16
	err    error
	closed bool
	busy   int
	overl  bool
}

func (f *fakeTransport) enter() {
	f.mu.Lock()
	f.busy++
	if f.busy > 1 {
		f.overl = true
	}
	f.mu.Unlock()
}

func (f *fakeTransport) leave() {
	f.mu.Lock()
	f.busy--
	f.mu.Unlock()
}

func (f *fakeTransport) record(op string) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
}

func (f *fakeTransport) WriteMultipleRegisters(unitID uint8, address uint16, values []uint16) error {
	f.enter()
	defer f.leave()
	if f.err != nil {
		return f.err
	}
	b := RegistersToBytes(values)
	f.record(fmt.Sprintf("cmd %02X %d", b[1], uint32(b[2])<<24|uint32(b[3])<<16|uint32(b[4])<<8|uint32(b[5])))
	return nil
}

func (f *fakeTransport) WriteSingleRegister(unitID uint8, address, value uint16) error {
	f.enter()
	defer f.leave()
	f.record(fmt.Sprintf("set %d=%d", address, value))
	return nil
}

func (f *fakeTransport) ReadInputRegisters(unitID uint8, address, quantity uint16) ([]uint16, error) {
	f.enter()
	defer f.leave()
	time.Sleep(time.Millisecond)
	f.record("read")
	if f.err != nil {
		return nil, f.err
	}
	return append([]uint16(nil), f.live...), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// newFakeClient returns a client wired to tr that never sleeps, and a log of
// the settle delays it would have waited.
func newFakeClient(tr *fakeTransport) (*Client, *[]time.Duration) {
	var delays []time.Duration
	c := &Client{
		Dial: func(string, int, time.Duration) (Transport, error) {
			if tr == nil {
				return nil, errors.New("connection refused")
			}
			return tr, nil
		},
		Sleep: func(d time.Duration) { delays = append(delays, d) },
	}
	return c, &delays
}

func liveRegisters(gross int32, signals [4]int16) []uint16 {
	return []uint16{
		uint16(uint32(gross) >> 16), uint16(uint32(gross)),
		0, 0,
		0x0001, 0, 0, 3001,
		uint16(signals[0]), uint16(signals[1]), uint16(signals[2]), uint16(signals[3]),
	}
}
