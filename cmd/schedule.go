package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/schedule"
)

type scheduleOptions struct {
	settings leadgen.PostingSettings
	mode     string
	count    int
	anchor   string
}

// newScheduleCmd previews posting slots for a set of posting settings.
func newScheduleCmd() *cobra.Command {
	opts := &scheduleOptions{}
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Prints the next posting slots for the given settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			anchor := time.Now().UTC()
			if opts.anchor != "" {
				var err error
				anchor, err = time.Parse(time.RFC3339, opts.anchor)
				if err != nil {
					return fmt.Errorf("parse --anchor: %w", err)
				}
			}
			if opts.count <= 0 || opts.count > 50 {
				return fmt.Errorf("--count must be within 1-50, got %d", opts.count)
			}
			opts.settings.Mode = leadgen.PostingMode(opts.mode)
			if err := schedule.Validate(opts.settings); err != nil {
				return err
			}
			slots, err := schedule.New().Plan(anchor, opts.count, opts.settings)
			if err != nil {
				return err
			}
			for i, slot := range slots {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", i+1, slot.Format(time.RFC3339))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.mode, "mode", string(leadgen.ModeSafe), "posting mode: aggressive, safe or custom")
	f.IntVar(&opts.settings.IntervalMinutes, "interval", 0, "custom mode interval in minutes")
	f.IntVar(&opts.settings.JitterMinutes, "jitter", 0, "custom mode jitter in minutes")
	f.IntVar(&opts.settings.ActiveStartHour, "start-hour", 0, "first active hour (0-23)")
	f.IntVar(&opts.settings.ActiveEndHour, "end-hour", 0, "hour the active window closes (0-23)")
	f.StringVar(&opts.settings.Timezone, "tz", "UTC", "IANA timezone for active hours")
	f.IntVar(&opts.count, "count", 5, "number of slots to print")
	f.StringVar(&opts.anchor, "anchor", "", "RFC3339 start time (default now)")
	return cmd
}
