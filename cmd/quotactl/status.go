package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/scan-quota/pkg/guard"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type windowReport struct {
	Action    string    `json:"action"`
	Window    string    `json:"window"`
	Period    string    `json:"period,omitempty"`
	Count     int64     `json:"count"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	Allowed   bool      `json:"allowed"`
	ResetAt   time.Time `json:"reset_at"`
}

type statusReport struct {
	UserID string         `json:"user_id"`
	Tier   string         `json:"tier"`
	Quota  []windowReport `json:"quota"`
	Rate   []windowReport `json:"rate"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		user   string
		tier   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a user's quota windows and rate limiter state",
		Long: `Show the current count, limit and reset time of every quota window and
rate limiter window of a user. Nothing is consumed.

Examples:
  quotactl status --user u1 --tier free
  quotactl status --user u1 --tier premium --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			ctx, cancel := opts.commandContext(cmd)
			defer cancel()

			svc, err := opts.open(ctx)
			if err != nil {
				return errors.Wrap(err, "connect to store")
			}
			defer svc.Close()

			report, err := buildStatus(ctx, svc, opts.rateActions(svc), user, tier)
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), report, format)
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "user id")
	cmd.Flags().StringVarP(&tier, "tier", "t", "", "tier (default tier when empty)")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json")
	return cmd
}

// rateActions lists every action with a quota or an explicit rate rule.
func (o *rootOptions) rateActions(svc *guard.Service) []string {
	actions := svc.Ledger().Actions()
	for action := range o.cfg.RateLimit.Actions {
		if !slices.Contains(actions, action) {
			actions = append(actions, action)
		}
	}
	slices.Sort(actions)
	return actions
}

func buildStatus(ctx context.Context, svc *guard.Service, rateActions []string, user, tier string) (statusReport, error) {
	usage, err := svc.Ledger().Usage(ctx, user, tier)
	if err != nil {
		return statusReport{}, err
	}

	report := statusReport{UserID: user, Tier: tier}
	for _, s := range usage {
		report.Tier = s.Tier
		for _, w := range s.Windows {
			report.Quota = append(report.Quota, windowReport{
				Action:    s.Action,
				Window:    string(w.Granularity),
				Period:    w.PeriodKey,
				Count:     w.Count,
				Limit:     w.Limit,
				Remaining: w.Remaining,
				Allowed:   w.Allowed,
				ResetAt:   w.ResetAt,
			})
		}
	}

	for _, action := range rateActions {
		r, err := svc.Limiter().Peek(ctx, user, action)
		if err != nil {
			return statusReport{}, err
		}
		report.Rate = append(report.Rate, windowReport{
			Action:    action,
			Window:    svc.Limiter().Rule(action).Window.String(),
			Count:     r.Count,
			Limit:     r.Limit,
			Remaining: r.Remaining,
			Allowed:   r.Allowed,
			ResetAt:   r.ResetAt,
		})
	}
	return report, nil
}

func writeStatus(w io.Writer, report statusReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "text", "":
	default:
		return errors.Newf("unknown format %q", format)
	}

	fmt.Fprintf(w, "user %s (tier %s)\n\n", report.UserID, report.Tier)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYER\tACTION\tWINDOW\tCOUNT\tLIMIT\tREMAINING\tRESETS")
	for _, r := range report.Quota {
		fmt.Fprintf(tw, "quota\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.Action, r.Window, r.Count, limitText(r.Limit), limitText(r.Remaining), r.ResetAt.UTC().Format(time.RFC3339))
	}
	for _, r := range report.Rate {
		fmt.Fprintf(tw, "rate\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.Action, r.Window, r.Count, limitText(r.Limit), limitText(r.Remaining), r.ResetAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func limitText(n int64) string {
	if n < 0 {
		return "unlimited"
	}
	return strconv.FormatInt(n, 10)
}
