package main

import (
	"github.com/spf13/cobra"

	"daygrid/internal/capture"
	appLog "daygrid/internal/log"
)

var (
	snapshotURL    string
	snapshotOutput string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture a PNG of the running server's view with headless Chromium",
	Long: `Capture a PNG of a rendered view. By default the week view of the
server on the configured listen address is captured; the server must be
running (see "daygrid serve").`,
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotURL, "url", "", "URL to capture (default http://<listen>/week.svg)")
	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "", "PNG output path (default from config)")
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	if err := loadConfigOrDefault(); err != nil {
		return err
	}

	opts := capture.OptionsFromConfig(cfg)
	if snapshotURL != "" {
		opts.URL = snapshotURL
	}
	if snapshotOutput != "" {
		opts.OutputPath = snapshotOutput
	}

	appLog.Info("capturing snapshot", "url", opts.URL, "output", opts.OutputPath)
	if err := capture.Snapshot(cmd.Context(), opts); err != nil {
		return err
	}
	appLog.Info("snapshot written", "output", opts.OutputPath)
	return nil
}
