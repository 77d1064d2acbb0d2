package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var printCfg bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load the configuration with defaults and environment overrides applied and
report every problem found. With --print the effective configuration is
written as YAML, password masked.

Examples:
  quotactl validate --config config.yaml
  SCANQUOTA_REDIS_DB=2 quotactl validate --print`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Loading already validated the configuration.
			cfg := opts.cfg
			out := cmd.OutOrStdout()

			if printCfg {
				masked := *cfg
				if masked.Redis.Password != "" {
					masked.Redis.Password = "********"
				}
				data, err := yaml.Marshal(&masked)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			lc, err := cfg.LedgerConfig()
			if err != nil {
				return err
			}
			source := opts.cfgFile
			if source == "" {
				source = "defaults"
			}
			fmt.Fprintf(out, "configuration OK (%s)\n", source)
			fmt.Fprintf(out, "  redis:   %s (prefix %q)\n", strings.Join(cfg.Redis.Addrs, ","), cfg.Redis.KeyPrefix)
			fmt.Fprintf(out, "  tiers:   %s (default %s)\n", strings.Join(lc.Limits.Tiers(), ","), lc.DefaultTier)
			fmt.Fprintf(out, "  metered: %s\n", strings.Join(lc.Periods.Actions(), ","))
			return nil
		},
	}

	cmd.Flags().BoolVar(&printCfg, "print", false, "print the effective configuration")
	return cmd
}
