package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/analysis"
	"github.com/JakubPetorvec/PVFSWeight/internal/collector"
	"github.com/JakubPetorvec/PVFSWeight/internal/db"
	"github.com/JakubPetorvec/PVFSWeight/internal/logger"
	"github.com/JakubPetorvec/PVFSWeight/internal/model"
	"github.com/JakubPetorvec/PVFSWeight/internal/output"
)

func main() {
	var cfgPath, dbPath, sessionID, jsonlPath, outJSON, outCSV string
	flag.StringVar(&cfgPath, "config", "", "YAML config with analysis tuning (optional)")
	flag.StringVar(&dbPath, "db", "data/weighd.sqlite", "sqlite database with recording sessions")
	flag.StringVar(&sessionID, "session", "", "session id (default: latest)")
	flag.StringVar(&jsonlPath, "jsonl", "", "read samples from a samples.jsonl file instead of the database")
	flag.StringVar(&outJSON, "json", "", "path to write report and samples as JSON (optional)")
	flag.StringVar(&outCSV, "csv", "", "path to write samples and summary as CSV (optional)")
	flag.Parse()

	opts := analysis.DefaultOptions()
	if cfgPath != "" {
		cfg, err := collector.LoadYAML(cfgPath)
		if err != nil {
			logger.Fatal("load yaml config: %v", err)
		}
		opts = cfg.AnalysisOptions()
	}

	samples, err := loadSamples(dbPath, sessionID, jsonlPath)
	if err != nil {
		logger.Fatal("load samples: %v", err)
	}
	report := analysis.BuildReport(samples, opts)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Fatal("encode report: %v", err)
	}

	if outJSON != "" {
		if err := output.WriteJSON(outJSON, report, samples); err != nil {
			logger.Error("write json error: %v", err)
		}
	}
	if outCSV != "" {
		if err := output.WriteCSV(outCSV, report, samples); err != nil {
			logger.Error("write csv error: %v", err)
		}
	}
}

func loadSamples(dbPath, sessionID, jsonlPath string) ([]model.RecordedSample, error) {
	if jsonlPath != "" {
		return output.ReadJSONL(jsonlPath)
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database %s: %w", dbPath, err)
	}
	store, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var sess db.Session
	if sessionID == "" {
		sess, err = store.LatestSession(ctx)
	} else {
		sess, err = store.GetSession(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("session %s: %d samples, started %s", sess.ID, sess.Samples, sess.StartedAt.Format(time.RFC3339))
	return store.SessionSamples(ctx, sess.ID)
}
