package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dombom123/viral-launch-video/internal/config"
)

var (
	configFile   string
	timelineFile string
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "launchvideo",
	Short: "Composite and export short-form launch videos",
	Long: `launchvideo plays back a timeline of video clips and text/image overlays,
serves a local control API, and exports the result as MP4, audio or EDL.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("launchvideo %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (default $"+config.EnvConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&timelineFile, "timeline", "", "timeline JSON file (default $"+config.EnvTimeline+")")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "abort after this long; 0 waits indefinitely")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(audioCmd)
	rootCmd.AddCommand(edlCmd)
	rootCmd.AddCommand(overlaysCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves --config before falling back to the environment.
func loadConfig() (*config.EnvConfig, error) {
	path := configFile
	if path == "" {
		path = os.Getenv(config.EnvConfigFile)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// commandContext is cancelled on SIGINT/SIGTERM and after --timeout.
func commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
