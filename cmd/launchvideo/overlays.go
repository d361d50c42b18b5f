package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Dombom123/viral-launch-video/internal/overlaygen"
	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

var (
	overlayPrompt string
	overlayWrite  bool
)

var overlaysCmd = &cobra.Command{
	Use:   "overlays",
	Short: "Generate highlight text overlays from the timeline audio",
	Long: `Overlays sends the timeline's audio to Gemini and replaces every overlay
with the highlights it returns. With --prompt the current overlays are sent
along and corrected instead. The new timeline is printed, or saved over the
timeline file with --write.`,
	Args: cobra.NoArgs,
	RunE: runOverlays,
}

func init() {
	overlaysCmd.Flags().StringVarP(&overlayPrompt, "prompt", "p", "", "correction to apply to the current overlays")
	overlaysCmd.Flags().BoolVarP(&overlayWrite, "write", "w", false, "save the result to the timeline file")
}

func runOverlays(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cliLogger(cfg)

	tl, path, err := loadTimeline(cfg)
	if err != nil {
		return err
	}
	if overlayWrite && path == "" {
		return fmt.Errorf("--write needs a timeline file")
	}

	a, err := newApp(cfg, logger, tl)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	items, err := a.overlayGenerator().Generate(ctx, a.engine, overlaygen.Request{
		UserPrompt:      overlayPrompt,
		CurrentOverlays: timeline.Overlays(tl),
	})
	if err != nil {
		return fmt.Errorf("overlay generation failed: %w", err)
	}
	next := timeline.WithOverlays(tl, items)

	if overlayWrite {
		if err := timeline.Save(path, next); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %d overlays to %s\n", len(items), path)
		return nil
	}
	return timeline.Encode(os.Stdout, next)
}
