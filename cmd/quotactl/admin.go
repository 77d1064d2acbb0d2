package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newResetCmd(opts *rootOptions) *cobra.Command {
	var (
		user   string
		action string
		rate   bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear a user's current quota counters for an action",
		Long: `Delete the counters of the current daily and monthly windows of an action.
With --rate the rate limiter window is cleared as well.

Examples:
  quotactl reset --user u1 --action scan
  quotactl reset --user u1 --action ai-question --rate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" || action == "" {
				return errors.New("--user and --action are required")
			}
			ctx, cancel := opts.commandContext(cmd)
			defer cancel()

			svc, err := opts.open(ctx)
			if err != nil {
				return errors.Wrap(err, "connect to store")
			}
			defer svc.Close()

			if svc.Ledger().Metered(action) {
				if err := svc.Ledger().Reset(ctx, user, action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "quota of %s for %s reset\n", action, user)
			} else if !rate {
				return errors.Newf("action %q has no quota", action)
			}

			if rate {
				if err := svc.Limiter().Reset(ctx, user, action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rate limit of %s for %s reset\n", action, user)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "user id")
	cmd.Flags().StringVarP(&action, "action", "a", "", "action")
	cmd.Flags().BoolVar(&rate, "rate", false, "also clear the rate limiter window")
	return cmd
}

func newBonusCmd(opts *rootOptions) *cobra.Command {
	var (
		user   string
		action string
		amount int64
	)

	cmd := &cobra.Command{
		Use:   "bonus",
		Short: "Give back usage of an action in the current windows",
		Long: `Lower the current usage of an action by --amount in every window, never
below zero. Windows without usage are left alone.

Example:
  quotactl bonus --user u1 --action scan --amount 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" || action == "" {
				return errors.New("--user and --action are required")
			}
			ctx, cancel := opts.commandContext(cmd)
			defer cancel()

			svc, err := opts.open(ctx)
			if err != nil {
				return errors.Wrap(err, "connect to store")
			}
			defer svc.Close()

			if err := svc.Ledger().AddBonus(ctx, user, action, amount); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %d %s to %s\n", amount, action, user)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "user id")
	cmd.Flags().StringVarP(&action, "action", "a", "", "action")
	cmd.Flags().Int64VarP(&amount, "amount", "n", 1, "usage to give back")
	return cmd
}
