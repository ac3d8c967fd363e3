package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the persisted cursors and stats",
		Args:  cobra.NoArgs,
		RunE:  runState,
	}
}

func runState(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateState(); err != nil {
		return err
	}
	store, err := openCursorStore(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	st, err := store.Load(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
