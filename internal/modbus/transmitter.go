package modbus

import (
	"context"
	"encoding/binary"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/dgt4"
)

// Command is one command frame received by a Transmitter.
type Command struct {
	Code  byte
	Param uint32
	At    time.Time
}

// Transmitter emulates a DGT4 weighing transmitter: a command area at holding
// register 0 and the live page in input registers 0..11.
type Transmitter struct {
	srv *Server

	mu       sync.Mutex
	load     int32
	signals  [4]int16
	offset   int32
	page     uint32
	armed    bool
	lastCmd  byte
	commands []Command
}

// NewTransmitter returns a transmitter that starts on page 0, so reads return
// nothing useful until the live page is selected.
func NewTransmitter() *Transmitter {
	t := &Transmitter{srv: NewServer()}
	t.srv.OnWrite = t.onWrite
	t.mu.Lock()
	t.publishLocked()
	t.mu.Unlock()
	return t
}

// Listen starts serving on address.
func (t *Transmitter) Listen(address string) error { return t.srv.Listen(address) }

// Addr returns the listening address.
func (t *Transmitter) Addr() net.Addr { return t.srv.Addr() }

// Close stops the server.
func (t *Transmitter) Close() { t.srv.Close() }

// SetLoad sets the raw gross count and the four channel signals.
func (t *Transmitter) SetLoad(gross int32, signals [4]int16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.load = gross
	t.signals = signals
	t.publishLocked()
}

// Page returns the selected page.
func (t *Transmitter) Page() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.page
}

// ZeroOffset returns the gross captured by the last zero command.
func (t *Transmitter) ZeroOffset() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// Commands returns every command frame received so far.
func (t *Transmitter) Commands() []Command {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Command(nil), t.commands...)
}

func (t *Transmitter) onWrite(unitID uint8, address uint16, values []uint16) {
	if address != 0 || len(values) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(values) == 1 {
		// register 0 cleared after the settle delay
		if values[0] == 0 {
			t.lastCmd = 0
			t.publishLocked()
		}
		return
	}
	if len(values) < 3 {
		return
	}
	b := dgt4.RegistersToBytes(values)
	cmd := Command{Code: b[1], Param: binary.BigEndian.Uint32(b[2:6]), At: time.Now()}
	t.commands = append(t.commands, cmd)
	t.lastCmd = cmd.Code

	switch cmd.Code {
	case dgt4.CmdDataReading:
		t.armed = true
	case dgt4.CmdChangePage:
		// page switches are only honoured right after a data-reading command
		if t.armed {
			t.page = cmd.Param
		}
		t.armed = false
	case dgt4.CmdZero:
		t.offset = t.load
		t.armed = false
	default:
		t.armed = false
	}
	t.publishLocked()
}

func (t *Transmitter) publishLocked() {
	regs := make([]uint16, 12)
	regs[7] = uint16(t.page)
	if t.page == dgt4.LivePage {
		gross := uint32(t.load - t.offset)
		regs[0], regs[1] = uint16(gross>>16), uint16(gross)
		regs[2], regs[3] = uint16(gross>>16), uint16(gross)
		regs[4] = 0x0001
		regs[5] = uint16(t.lastCmd)
		for i, s := range t.signals {
			regs[8+i] = uint16(s)
		}
	}
	_ = t.srv.SetInputRegisters(0, regs)
}

// Step holds a gross load for a duration. Split gives each channel's share in
// percent; an empty split spreads the load evenly.
type Step struct {
	Gross    int32
	Duration time.Duration
	Split    []float64
}

// SignalsFor derives channel signals proportional to gross and split.
func SignalsFor(gross int32, split []float64) [4]int16 {
	shares := [4]float64{25, 25, 25, 25}
	if len(split) == 4 {
		copy(shares[:], split)
	}
	var out [4]int16
	for i, pct := range shares {
		out[i] = clampInt16(float64(gross) * pct / 100)
	}
	return out
}

func clampInt16(v float64) int16 {
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v))))
}

// RunProfile cycles through steps until ctx is done, refreshing the load every
// tick with up to ±noise counts of jitter.
func (t *Transmitter) RunProfile(ctx context.Context, steps []Step, tick time.Duration, noise int16) {
	if len(steps) == 0 {
		<-ctx.Done()
		return
	}
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	jitter := func() int32 {
		if noise <= 0 {
			return 0
		}
		return int32(rng.Intn(2*int(noise)+1) - int(noise))
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for i := 0; ; i = (i + 1) % len(steps) {
		if !t.holdStep(ctx, ticker.C, steps[i], jitter) {
			return
		}
	}
}

// holdStep applies st until its duration elapses. It returns false once ctx is done.
func (t *Transmitter) holdStep(ctx context.Context, tick <-chan time.Time, st Step, jitter func() int32) bool {
	end := time.Now().Add(st.Duration)
	for {
		gross := st.Gross + jitter()
		t.SetLoad(gross, SignalsFor(gross, st.Split))
		select {
		case <-ctx.Done():
			return false
		case now := <-tick:
			if !now.Before(end) {
				return true
			}
		}
	}
}
