package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"github.com/Dombom123/viral-launch-video/internal/config"
	"github.com/Dombom123/viral-launch-video/internal/export"
	"github.com/Dombom123/viral-launch-video/internal/logging"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

var (
	outDir         string
	outName        string
	exportFPS      float64
	exportDuration float64
	audioFormat    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render the timeline to MP4",
	Long:  "Render every frame of the timeline offline and mux it with the assembled clip audio.",
	Args:  cobra.NoArgs,
	RunE:  runExportVideo,
}

var audioCmd = &cobra.Command{
	Use:   "audio",
	Short: "Export the timeline's audio track",
	Long:  "Concatenate the audio of every video clip and encode it as wav, mp3, aac, ogg or aiff.",
	Args:  cobra.NoArgs,
	RunE:  runExportAudio,
}

var edlCmd = &cobra.Command{
	Use:   "edl",
	Short: "Write a CMX 3600 edit decision list",
	Args:  cobra.NoArgs,
	RunE:  runExportEDL,
}

func init() {
	for _, c := range []*cobra.Command{exportCmd, audioCmd, edlCmd} {
		c.Flags().StringVarP(&outDir, "out-dir", "o", ".", "directory to write the result to")
		c.Flags().StringVarP(&outName, "name", "n", "launch", "output file name without extension")
		c.Flags().Float64Var(&exportFPS, "fps", 0, "frame rate (default from config)")
	}
	for _, c := range []*cobra.Command{exportCmd, audioCmd} {
		c.Flags().Float64Var(&exportDuration, "duration", 0, "export at most this many seconds; 0 exports the whole timeline")
	}
	audioCmd.Flags().StringVarP(&audioFormat, "format", "f", export.DefaultAudioFormat, "audio format")
}

func cliLogger(cfg *config.EnvConfig) *slog.Logger {
	return logging.NewLoggerTo(os.Stderr, cfg.LogLevel())
}

func runExportVideo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := outputPath(".mp4")
	if err != nil {
		return err
	}
	logger := cliLogger(cfg)

	tl, _, err := loadTimeline(cfg)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, tl)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	res, err := a.video.Export(ctx, a.engine, export.Options{
		FPS:        exportRate(cfg),
		Duration:   exportDuration,
		OnProgress: progressPrinter("rendering"),
	})
	if err != nil {
		return fmt.Errorf("video export failed: %w", err)
	}
	if err := renameio.WriteFile(path, res.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Printf("wrote %s (%d frames, %.1f MB, %s)\n",
		path, res.Frames, float64(len(res.Data))/(1<<20), res.Elapsed.Round(time.Millisecond))
	return nil
}

func runExportAudio(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format, err := export.LookupAudioFormat(audioFormat)
	if err != nil {
		return err
	}
	path, err := outputPath(format.Ext)
	if err != nil {
		return err
	}
	logger := cliLogger(cfg)

	tl, _, err := loadTimeline(cfg)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, tl)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	res, err := a.audio.Export(ctx, a.engine, format.Name, export.Options{
		FPS:      exportRate(cfg),
		Duration: exportDuration,
	})
	if err != nil {
		return fmt.Errorf("audio export failed: %w", err)
	}
	if err := renameio.WriteFile(path, res.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Printf("wrote %s (%.1fs of audio, %s)\n", path, res.AudioSeconds, res.MIMEType)
	return nil
}

// runExportEDL needs no decoders or ffmpeg, only the timeline.
func runExportEDL(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := outputPath(".edl")
	if err != nil {
		return err
	}

	tl, _, err := loadTimeline(cfg)
	if err != nil {
		return err
	}
	if timeline.Duration(tl) <= 0 {
		return export.ErrEmptyTimeline
	}

	edl := export.GenerateEDL(tl, outName, exportRate(cfg))
	if err := renameio.WriteFile(path, []byte(edl), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("wrote %s (%d clips)\n", path, len(timeline.VideoItems(tl)))
	return nil
}

func exportRate(cfg *config.EnvConfig) float64 {
	if exportFPS > 0 {
		return exportFPS
	}
	return cfg.FPS()
}

// outputPath validates --out-dir and builds a safe file name from --name.
func outputPath(ext string) (string, error) {
	if err := export.ValidateOutputDir(outDir); err != nil {
		return "", err
	}
	name := export.SanitizeName(outName, 120)
	if name == "" {
		name = "launch"
	}
	return filepath.Join(outDir, name+ext), nil
}

// progressPrinter redraws a percentage on stderr whenever it changes.
func progressPrinter(label string) func(float64) {
	last := -1
	return func(p float64) {
		pct := int(math.Floor(p * 100))
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(os.Stderr, "\r%s %3d%%", label, pct)
		if pct >= 100 {
			fmt.Fprintln(os.Stderr)
		}
	}
}
