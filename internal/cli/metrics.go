package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Martian-dev/watchlane/internal/coverage"
	"github.com/Martian-dev/watchlane/internal/dashboard"
	"github.com/Martian-dev/watchlane/internal/model"
)

func newMetricsCmd(configPath *string) *cobra.Command {
	var (
		orgID     string
		start     string
		end       string
		repID     string
		asSummary bool
	)

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print an organization's SLA metrics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				return errors.New("--org is required")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			engine := dashboard.NewEngine(a.store, a.logger)

			var out any
			if asSummary {
				out, err = engine.Summary(ctx, orgID)
			} else {
				var r dashboard.Range
				r, err = dashboard.ParseRange(start, end, time.Now())
				if err != nil {
					return err
				}
				out, err = engine.Compute(ctx, orgID, r, repID)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization id")
	cmd.Flags().StringVar(&start, "start", "", "Start date (YYYY-MM-DD or RFC 3339), default 7 days before end")
	cmd.Flags().StringVar(&end, "end", "", "End date (YYYY-MM-DD or RFC 3339), default now")
	cmd.Flags().StringVar(&repID, "rep", "", "Only threads of mailboxes owned by this user")
	cmd.Flags().BoolVar(&asSummary, "summary", false, "Print the all-time coverage summary instead")

	return cmd
}

func newRecomputeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Re-derive coverage for every thread from its stored messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := a.store.ListThreadIDs(ctx)
			if err != nil {
				return err
			}

			covered := 0
			for _, id := range ids {
				c, err := coverage.Recompute(ctx, a.store, id)
				if err != nil {
					return err
				}
				if c.Status == model.CoverageCovered {
					covered++
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Recomputed %d threads, %d covered\n", len(ids), covered)
			return nil
		},
	}
}
