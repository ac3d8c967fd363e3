package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "time/tzdata"
)

var (
	cfgFile string
	envOnly bool
	rootCmd = &cobra.Command{
		Use:   "checkpointd",
		Short: "Checkpoint status ingestion from Telegram and Discord channels",
		Long: `checkpointd polls road checkpoint channels, classifies each report
(checkpoint, city, status, direction), drops chatter and stores the
result in MongoDB. Per-channel cursors survive restarts.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $CKP_CONFIG or config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&envOnly, "env-only", false, "read settings from the environment only")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(onceCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(stateCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
