package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Classify a message offline, without touching any source or store",
		Example: `  checkpointd classify "قلنديا أزمة خانقة للداخل"
  checkpointd classify --env-only "راس الجورة مغلق"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runClassify,
	}
}

type classification struct {
	Checkpoint  string `json:"checkpoint"`
	City        string `json:"city"`
	Status      string `json:"status"`
	StatusLabel string `json:"status_label"`
	Direction   string `json:"direction"`
	DirLabel    string `json:"direction_label"`
	CleanedText string `json:"cleaned_text"`
	Noise       bool   `json:"noise"`
	NoiseReason string `json:"noise_reason,omitempty"`
}

func runClassify(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cls, nf, err := newClassifier(cfg)
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	res := cls.Classify(text)
	isNoise, reason := nf.Check(text, res)

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(classification{
		Checkpoint:  res.Checkpoint,
		City:        res.City,
		Status:      res.Status.String(),
		StatusLabel: res.Status.Label(),
		Direction:   res.Direction.String(),
		DirLabel:    res.Direction.Label(),
		CleanedText: res.CleanedText,
		Noise:       isNoise,
		NoiseReason: reason,
	})
}
