package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakubPetorvec/PVFSWeight/internal/api"
	"github.com/JakubPetorvec/PVFSWeight/internal/collector"
	"github.com/JakubPetorvec/PVFSWeight/internal/db"
	"github.com/JakubPetorvec/PVFSWeight/internal/logger"
)

// Options defines initialization overrides for the weighing service.
// Mirrors the CLI flags used in cmd/weighd/main.go.
type Options struct {
	ConfigPath     string
	StorageEnabled bool
	StorageDir     string
	StorageQueue   int
	DBPath         string
	APIListen      string
	ConnectAll     bool
	AutoRecord     bool
}

// Apply overlays the non-zero options on cfg.
func (o Options) Apply(cfg *collector.RootConfig) {
	if o.StorageEnabled {
		cfg.System.Storage.Enabled = true
	}
	if o.StorageDir != "" {
		cfg.System.Storage.Dir = o.StorageDir
		cfg.System.Storage.Enabled = true
	}
	if o.StorageQueue > 0 {
		cfg.System.Storage.MaxQueueSize = o.StorageQueue
		cfg.System.Storage.Enabled = true
	}
	if o.DBPath != "" {
		cfg.System.Storage.DBPath = o.DBPath
		cfg.System.Storage.Enabled = true
	}
	if o.APIListen != "" {
		cfg.System.API.Listen = o.APIListen
		cfg.System.API.Enabled = true
	}
	if o.AutoRecord {
		cfg.Recording.AutoStart = true
	}
}

// InitAndRunWeighd loads config, applies overrides, constructs the manager
// with its storage and API, and runs until ctx is cancelled.
func InitAndRunWeighd(ctx context.Context, opts Options) error {
	cfg, err := collector.LoadYAML(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
	}
	opts.Apply(&cfg)
	logger.Init(cfg.System.Logging.Level, cfg.System.Logging.Format)

	mgr := collector.NewManager(cfg)

	var store *db.DB
	if cfg.System.Storage.Enabled {
		storage, err := collector.NewStorage(cfg.System.Storage.Dir, cfg.System.Storage.FileType,
			cfg.System.Storage.MaxQueueSize, deviceNames(cfg), groupNames(cfg))
		if err != nil {
			return err
		}
		defer storage.Close()
		mgr.Sink = storage

		store, err = db.Open(cfg.System.Storage.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		mgr.Store = store
		logger.Info("storage enabled: dir=%s db=%s", cfg.System.Storage.Dir, cfg.System.Storage.DBPath)
	}

	if opts.ConnectAll {
		for _, d := range cfg.Devices {
			// failures are logged by the manager; the device stays available for a later connect
			_ = mgr.Connect(ctx, d.Name)
		}
	}

	apiErr := make(chan error, 1)
	if cfg.System.API.Enabled {
		var sessions api.SessionStore
		if store != nil {
			sessions = store
		}
		srv := api.New(cfg.System.API.Listen, mgr, sessions)
		go func() {
			apiErr <- srv.Run(ctx)
		}()
	} else {
		close(apiErr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-apiErr; err != nil {
			logger.Error("api server: %v", err)
			cancel()
		}
	}()

	if err := mgr.Run(runCtx); err != nil {
		return err
	}
	if ctx.Err() == nil {
		return errors.New("api server stopped")
	}
	return nil
}

func deviceNames(cfg collector.RootConfig) []string {
	out := make([]string, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		out = append(out, d.Name)
	}
	return out
}

func groupNames(cfg collector.RootConfig) []string {
	out := make([]string, 0, len(cfg.Groups))
	for _, g := range cfg.Groups {
		out = append(out, g.Name)
	}
	return out
}
