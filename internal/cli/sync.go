package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Martian-dev/watchlane/internal/sync"
)

func newSyncCmd(configPath *string) *cobra.Command {
	var (
		accountID string
		userID    string
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync mailboxes once and print the per-account outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, on := range []bool{accountID != "", userID != "", all} {
				if on {
					set++
				}
			}
			if set != 1 {
				return errors.New("exactly one of --account, --user or --all is required")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			manager, err := a.syncManager(ctx)
			if err != nil {
				return err
			}

			var report sync.Report
			switch {
			case accountID != "":
				started := time.Now()
				res, err := manager.SyncAccount(ctx, accountID)
				if err != nil {
					return err
				}
				report = sync.Report{Results: []sync.AccountResult{res}, Started: started, Elapsed: time.Since(started)}
			case userID != "":
				report, err = manager.SyncAccountsForUser(ctx, userID)
			default:
				report, err = manager.SyncAllAccounts(ctx)
			}
			if err != nil {
				return err
			}

			printReport(cmd.OutOrStdout(), report)
			if report.Count(sync.StatusFailed) > 0 {
				return fmt.Errorf("%d account(s) failed", report.Count(sync.StatusFailed))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Sync one email account by id")
	cmd.Flags().StringVar(&userID, "user", "", "Sync every email account of a user")
	cmd.Flags().BoolVar(&all, "all", false, "Sync every email account")

	return cmd
}

func printReport(w io.Writer, report sync.Report) {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()

	for _, res := range report.Results {
		var status string
		switch res.Status {
		case sync.StatusSuccess:
			status = ok("ok     ")
		case sync.StatusBusy:
			status = warn("busy   ")
		default:
			status = bad("failed ")
		}

		fmt.Fprintf(w, "%s %-40s %-9s fetched=%d dropped=%d threads=%d %s\n",
			status, res.EmailAddress, res.Provider, res.Fetched, res.Dropped, res.Threads,
			res.Duration.Round(time.Millisecond))
		if res.Error != "" {
			fmt.Fprintf(w, "        %s: %s\n", res.ErrorKind, res.Error)
		}
	}

	fmt.Fprintf(w, "\n%d ok, %d failed, %d busy in %s\n",
		report.Count(sync.StatusSuccess), report.Count(sync.StatusFailed), report.Count(sync.StatusBusy),
		report.Elapsed.Round(time.Millisecond))
}
