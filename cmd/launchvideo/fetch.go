package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dombom123/viral-launch-video/internal/config"
	"github.com/Dombom123/viral-launch-video/internal/logging"
	"github.com/Dombom123/viral-launch-video/internal/runs"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

var (
	fetchWait bool
	fetchPoll time.Duration
	fetchOut  string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <run-id>",
	Short: "Download a run's timeline from the generation backend",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchWait, "wait", false, "poll the run status until it finishes")
	fetchCmd.Flags().DurationVar(&fetchPoll, "poll", config.DefaultPollInterval, "status poll interval with --wait")
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "write the timeline to this file instead of stdout")
}

func runFetch(cmd *cobra.Command, args []string) error {
	runID := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.WithRunID(cliLogger(cfg), runID)
	client := runs.NewClient(cfg.BackendURL(), logger)

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	var tl *timeline.Timeline
	if fetchWait {
		tl, err = client.WaitReady(ctx, runID, fetchPoll)
	} else {
		tl, err = client.Timeline(ctx, runID)
	}
	if err != nil {
		return err
	}

	if fetchOut == "" {
		return timeline.Encode(os.Stdout, tl)
	}
	if err := timeline.Save(fetchOut, tl); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d items, %.1fs)\n", fetchOut, len(tl.Items), timeline.Duration(tl))
	return nil
}
