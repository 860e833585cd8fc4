package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/JakubPetorvec/PVFSWeight/internal/logger"
	"github.com/JakubPetorvec/PVFSWeight/internal/tasks"
)

func main() {
	var opts tasks.Options
	flag.StringVar(&opts.ConfigPath, "config", "config/weighd.yaml", "path to YAML config")
	flag.BoolVar(&opts.StorageEnabled, "storage", false, "persist recorded samples")
	flag.StringVar(&opts.StorageDir, "storage-dir", "", "directory for samples.jsonl/samples.csv (enables storage)")
	flag.IntVar(&opts.StorageQueue, "storage-queue", 0, "storage queue size (enables storage)")
	flag.StringVar(&opts.DBPath, "db", "", "sqlite database for recording sessions (enables storage)")
	flag.StringVar(&opts.APIListen, "api", "", "HTTP API listen address, e.g. :8080 (enables the API)")
	flag.BoolVar(&opts.ConnectAll, "connect", false, "connect every configured device on start")
	flag.BoolVar(&opts.AutoRecord, "record", false, "start recording on start")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logger.Info("received signal: %v, shutting down...", s)
		cancel()
	}()

	if err := tasks.InitAndRunWeighd(ctx, opts); err != nil {
		logger.Fatal("weighd exited with error: %v", err)
	}
}
