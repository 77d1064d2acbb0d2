package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newInvalidateCmd(opts *rootOptions) *cobra.Command {
	var (
		category string
		prefix   string
		key      string
	)

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop cached analyses",
		Long: `Delete cached analyses with their hit-count sidecars. Exactly one of
--category, --prefix or --key selects what to drop.

Examples:
  quotactl invalidate --category food
  quotactl invalidate --prefix cosmetics:
  quotactl invalidate --key cache:food:3f2a...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, v := range []string{category, prefix, key} {
				if v != "" {
					set++
				}
			}
			if set != 1 {
				return errors.New("exactly one of --category, --prefix or --key is required")
			}

			ctx, cancel := opts.commandContext(cmd)
			defer cancel()

			svc, err := opts.open(ctx)
			if err != nil {
				return errors.Wrap(err, "connect to store")
			}
			defer svc.Close()

			if key != "" {
				if err := svc.Cache().Delete(ctx, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "entry %s deleted\n", key)
				return nil
			}

			var n int64
			if category != "" {
				n, err = svc.Cache().InvalidateCategory(ctx, category)
			} else {
				n, err = svc.Cache().Invalidate(ctx, prefix)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d keys deleted\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "drop every entry of a category")
	cmd.Flags().StringVar(&prefix, "prefix", "", "drop entries whose key starts with cache:<prefix>")
	cmd.Flags().StringVar(&key, "key", "", "drop one entry by its full key")
	return cmd
}
