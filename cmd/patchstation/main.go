package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "patchstation",
	Short: "Smart patch basestation gateway",
	Long: `patchstation bridges a fleet of wearable smart patches over BLE to an
upstream telemetry backend: it maintains the patient/patch mapping from the
control plane, manages up to M concurrent BLE links, computes per-patch
physiological metrics, and publishes or logs the results.`,
	Version: formatVersion(version),
	RunE:    runBasestation,
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.Flags().String("config", "", "Path to a YAML config override file")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error), overrides the config file")
}

func formatVersion(v string) string {
	if v == "" {
		return "dev"
	}
	return fmt.Sprintf("%s (%s, %s)", v, commit, date)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}
