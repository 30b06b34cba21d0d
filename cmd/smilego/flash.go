package main

import (
	"fmt"

	"github.com/cjeanneret/SmileGo/internal/config"
	"github.com/cjeanneret/SmileGo/internal/debug"
	"github.com/cjeanneret/SmileGo/internal/logic/feedback"
	"github.com/spf13/cobra"
)

var flashText string

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Hardware self-test: rainbow sweep on the LED strip, then text on the display",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFlash(cfg, flashText)
	},
}

func init() {
	flashCmd.Flags().StringVar(&flashText, "text", "8888", "text shown after the sweep (last 4 characters)")
	rootCmd.AddCommand(flashCmd)
}

func runFlash(cfg *config.Config, text string) error {
	debug.Section("Self-test")
	sink, closeHW, err := newSink(cfg)
	if err != nil {
		return fmt.Errorf("init feedback failed: %w", err)
	}
	defer closeHW()

	disp := feedback.NewDispatcher(sink, cfg.Hat.StripLength, uint8(cfg.Hat.StripBrightness), 0)
	disp.Flash(text)
	disp.Drain()
	debug.Info("Self-test done, display shows %q", text)
	return nil
}
