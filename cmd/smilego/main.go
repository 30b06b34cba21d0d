package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cjeanneret/SmileGo/internal/config"
	"github.com/cjeanneret/SmileGo/internal/debug"
	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.1.0"

var (
	cfgPath    string
	envFile    string
	debugLevel int

	// cfg is loaded once by the root command for every subcommand.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "smilego",
	Short:         "Count smiles in front of a camera and show them on a Rainbow HAT",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(envFile); err != nil {
			return err
		}
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config failed: %w", err)
		}
		cfg = loaded

		level := cfg.Defaults.DebugLevel
		if cmd.Flags().Changed("debug") {
			level = debugLevel
		}
		debug.Init(level)
		if cfg.Defaults.LogFile != "" {
			debug.SetLogFile(cfg.Defaults.LogFile)
		}
		debug.Section("Initialization")
		debug.Value("Config path", cfgPath)
		debug.Value("Debug level", level)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		debug.Close()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	// No config needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", filepath.Join("configs", "default.yaml"), "path to config file (configs/*.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file with GEMINI_API_KEY / MQTT_* variables, skipped if missing")
	rootCmd.PersistentFlags().IntVar(&debugLevel, "debug", 0, "override debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
