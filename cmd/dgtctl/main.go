package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/dgt4"
	"github.com/JakubPetorvec/PVFSWeight/internal/logger"
	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

func main() {
	var (
		address string
		port    int
		unit    uint
		zero    bool
		frames  int
		poll    time.Duration
		timeout time.Duration
		wpc     float64
		level   string
	)
	flag.StringVar(&address, "addr", "127.0.0.1", "transmitter address")
	flag.IntVar(&port, "port", 502, "transmitter TCP port")
	flag.UintVar(&unit, "unit", 1, "modbus unit id")
	flag.BoolVar(&zero, "zero", false, "send the zero command before reading")
	flag.IntVar(&frames, "n", 10, "number of live frames to print (0 = until interrupted)")
	flag.DurationVar(&poll, "interval", 200*time.Millisecond, "delay between frames")
	flag.DurationVar(&timeout, "timeout", 1500*time.Millisecond, "connect and I/O timeout")
	flag.Float64Var(&wpc, "wpc", 1, "weight per count")
	flag.StringVar(&level, "log", "info", "log level")
	flag.Parse()
	logger.Init(level, "text")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess := dgt4.NewSession(model.DeviceEndpoint{
		Name:         fmt.Sprintf("%s:%d", address, port),
		Address:      address,
		Port:         port,
		UnitID:       uint8(unit),
		PollInterval: poll,
	}, dgt4.NewClient())
	if err := sess.Connect(ctx, timeout); err != nil {
		logger.Fatal("connect: %v", err)
	}
	defer sess.Disconnect()

	if zero {
		if err := sess.Zero(ctx); err != nil {
			logger.Fatal("zero: %v", err)
		}
		logger.Info("zero command sent")
	}

	ticker := time.NewTicker(max(poll, 50*time.Millisecond))
	defer ticker.Stop()
	for i := 0; frames == 0 || i < frames; i++ {
		r, err := sess.ReadScale(ctx, wpc)
		switch {
		case err != nil:
			logger.Warn("read: %v", err)
		case r == nil:
			logger.Debug("no reading")
		default:
			fmt.Printf("%s gross=%d weight=%.2f status=0x%04X signals=%v\n",
				r.Timestamp.Format("15:04:05.000"), r.RawGross, r.Weight, r.InputStatus, r.Signals)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
