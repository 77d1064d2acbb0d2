package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/scan-quota/pkg/metrics"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// readyTimeout bounds the store ping behind /ready.
const readyTimeout = 2 * time.Second

// Pinger reports store reachability.
type Pinger interface {
	Ready(ctx context.Context) error
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, readiness and metrics endpoints",
		Long: `Serve the operational HTTP endpoints:

  /health   liveness, always 200 once the process runs
  /ready    200 when the store answers a ping, 503 otherwise
  /metrics  Prometheus metrics of every component

Examples:
  quotactl serve
  quotactl serve --listen 0.0.0.0:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				opts.cfg.Server.ListenAddress = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "override listen address")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	svc, err := opts.open(ctx)
	if err != nil {
		return errors.Wrap(err, "connect to store")
	}
	defer svc.Close()

	server := &http.Server{
		Addr:              opts.cfg.Server.ListenAddress,
		Handler:           newServeMux(svc, opts.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		opts.logger.Info().Str("addr", server.Addr).Msg("Serving operational endpoints")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	opts.logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return <-errCh
}

func newServeMux(p Pinger, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(p, logger))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func readyHandler(p Pinger, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := p.Ready(ctx); err != nil {
			logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "READY")
	}
}
