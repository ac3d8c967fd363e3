package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"checkpointfeed/internal/ingest"
)

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single polling cycle and print its summary",
		Args:  cobra.NoArgs,
		RunE:  runOnce,
	}
}

type channelSummary struct {
	Channel string `json:"channel"`
	Fetched int    `json:"fetched"`
	New     int    `json:"new"`
	Noise   int    `json:"noise"`
	Written int    `json:"written"`
	Cursor  int64  `json:"cursor"`
	Error   string `json:"error,omitempty"`
}

type cycleSummary struct {
	RunID    string           `json:"run_id"`
	Duration string           `json:"duration"`
	Saved    bool             `json:"saved"`
	Channels []channelSummary `json:"channels"`
}

func summarize(r ingest.CycleReport) cycleSummary {
	out := cycleSummary{RunID: r.RunID, Duration: r.Duration.String(), Saved: r.Saved}
	for _, c := range r.Channels {
		cs := channelSummary{
			Channel: c.Channel, Fetched: c.Fetched, New: c.New,
			Noise: c.Noise, Written: c.Written, Cursor: c.Cursor,
		}
		if c.Err != nil {
			cs.Error = c.Err.Error()
		}
		out.Channels = append(out.Channels, cs)
	}
	return out
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	sched, err := buildScheduler(cfg, log, nil)
	if err != nil {
		return err
	}
	report, err := sched.RunOnce(cmd.Context())
	if err != nil {
		log.Error("single cycle failed", zap.Error(err))
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summarize(report))
}
