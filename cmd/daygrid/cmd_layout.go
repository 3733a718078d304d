package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"daygrid/internal/agenda"
	"daygrid/internal/config"
	"daygrid/internal/ics"
	appLog "daygrid/internal/log"
	"daygrid/internal/render"
	"daygrid/internal/web"
)

var (
	layoutICS    []string
	layoutDate   string
	layoutWeek   bool
	layoutFormat string
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Lay out one day or week and print it",
	Long: `Fetch the configured (or given) ICS feeds once, lay out the requested
day or week and print the result to stdout.

Examples:
  # Today's layout from the configured feeds, as JSON
  daygrid layout

  # A week from local files, as SVG
  daygrid layout --ics work.ics --ics home.ics --date 2025-03-12 --week --format svg > week.svg
`,
	RunE: runLayout,
}

func init() {
	layoutCmd.Flags().StringArrayVar(&layoutICS, "ics", nil, "ICS file path or URL (repeatable; defaults to the configured sources)")
	layoutCmd.Flags().StringVar(&layoutDate, "date", "", "Day to lay out as YYYY-MM-DD (default today)")
	layoutCmd.Flags().BoolVar(&layoutWeek, "week", false, "Lay out the whole week containing --date")
	layoutCmd.Flags().StringVar(&layoutFormat, "format", "json", "Output format: json or svg")
	rootCmd.AddCommand(layoutCmd)
}

// loadConfigOrDefault is like loadConfig, but a missing file yields the
// defaults instead of writing a new config.
func loadConfigOrDefault() error {
	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		cfg = config.DefaultConfig()
		appLog.Setup(appLog.Level(cfg.LogLevel), cfg.LogFormat)
		return nil
	}
	return loadConfig()
}

func runLayout(cmd *cobra.Command, args []string) error {
	if layoutFormat != "json" && layoutFormat != "svg" {
		return fmt.Errorf("unknown format %q (want json or svg)", layoutFormat)
	}
	if err := loadConfigOrDefault(); err != nil {
		return err
	}
	if len(layoutICS) > 0 {
		cfg.ICS = make([]config.ICSConfig, 0, len(layoutICS))
		for i, u := range layoutICS {
			cfg.ICS = append(cfg.ICS, config.ICSConfig{ID: fmt.Sprintf("ics%d", i+1), URL: u})
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", cfg.Timezone)
	}
	date := time.Now().In(loc)
	if layoutDate != "" {
		date, err = time.ParseInLocation("2006-01-02", layoutDate, loc)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", layoutDate, err)
		}
	}

	// Anchor the expansion window on the requested date, not on today.
	svc := agenda.New(cfg, ics.NewFetcher(cfg.CacheDir, nil), agenda.WithClock(func() time.Time { return date }))

	n, err := svc.Refresh(cmd.Context())
	if err != nil {
		if n == 0 {
			return err
		}
		appLog.Warn("some sources failed; laying out the rest", "error", err.Error())
	}

	out := cmd.OutOrStdout()
	if layoutFormat == "svg" {
		opts := render.DefaultOptions()
		if layoutWeek {
			_, err = fmt.Fprint(out, render.WeekSVG(svc.Week(date), opts))
		} else {
			_, err = fmt.Fprint(out, render.DaySVG(svc.Day(date), opts))
		}
		return err
	}

	var v any
	if layoutWeek {
		v = web.NewWeekResponse(svc.Week(date))
	} else {
		v = web.NewDayResponse(svc.Day(date))
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
