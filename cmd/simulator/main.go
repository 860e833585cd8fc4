package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/JakubPetorvec/PVFSWeight/internal/collector"
	"github.com/JakubPetorvec/PVFSWeight/internal/logger"
	"github.com/JakubPetorvec/PVFSWeight/internal/servermgr"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config/weighd.yaml", "path to YAML config; every device gets one simulated transmitter")
	flag.Parse()

	rootCfg, err := collector.LoadYAML(cfgPath)
	if err != nil {
		logger.Fatal("load yaml config %s: %v", cfgPath, err)
	}
	logger.Init(rootCfg.System.Logging.Level, rootCfg.System.Logging.Format)

	mgr := servermgr.NewManager(rootCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Info("shutting down transmitters...")
		cancel()
	}()

	if err := mgr.Run(ctx); err != nil {
		logger.Fatal("simulator exited with error: %v", err)
	}
}
