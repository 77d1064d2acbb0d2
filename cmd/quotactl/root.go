package main

import (
	"context"
	"time"

	"github.com/Sternrassler/scan-quota/pkg/config"
	"github.com/Sternrassler/scan-quota/pkg/guard"
	"github.com/Sternrassler/scan-quota/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set by build flags)
	Version = "0.1.0"
	// GitCommit is the git commit hash (set by build flags)
	GitCommit = "unknown"
)

// rootOptions carries the global flags and the state PersistentPreRunE
// derives from them.
type rootOptions struct {
	cfgFile  string
	logLevel string
	pretty   bool
	timeout  time.Duration

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "quotactl",
		Short: "Operate the scan-quota cache, quota ledger and rate limiter",
		Long: `quotactl operates the request-path core shared by every analysis action:
the content-addressable result cache, the tiered quota ledger and the
fixed-window rate limiter, all kept in Redis.

Configuration is read from the YAML file given with --config, then
overridden by SCANQUOTA_* environment variables.`,
		Version:       Version + " (" + GitCommit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file path (defaults and environment only when empty)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "human-readable log output")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "deadline for connecting and for one administrative command")

	cmd.AddCommand(
		newServeCmd(opts),
		newStatusCmd(opts),
		newResetCmd(opts),
		newBonusCmd(opts),
		newInvalidateCmd(opts),
		newInspectCmd(opts),
		newValidateCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.pretty {
		cfg.Log.Pretty = true
	}

	lc := cfg.LoggingConfig()
	lc.Output = cmd.ErrOrStderr()
	logging.Setup(lc)
	o.logger = logging.NewLogger(logging.ComponentCLI)
	o.cfg = cfg
	return nil
}

// open connects to the store and builds an administrative Service.
func (o *rootOptions) open(ctx context.Context) (*guard.Service, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return guard.Open(ctx, o.cfg, nil, o.logger)
}

// commandContext bounds one administrative command.
func (o *rootOptions) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}
