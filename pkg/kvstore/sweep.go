package kvstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SweepConfig holds prefix sweep settings.
type SweepConfig struct {
	// Workers is the number of parallel DEL workers.
	Workers int

	// QueueSize bounds the number of scanned batches waiting for deletion.
	QueueSize int

	// MaxPasses bounds how often the keyspace is walked. Deleting while a
	// SCAN cursor is open may hide keys from that cursor, so passes repeat
	// until one deletes nothing.
	MaxPasses int
}

// DefaultSweepConfig returns the default sweep settings.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Workers:   4,
		QueueSize: 16,
		MaxPasses: 8,
	}
}

// Sweeper deletes every key under a prefix: one goroutine walks the keyspace
// with SCAN and feeds batches to a pool of DEL workers.
type Sweeper struct {
	store  Store
	config SweepConfig
	logger zerolog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(store Store, config SweepConfig, logger zerolog.Logger) *Sweeper {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 16
	}
	if config.MaxPasses <= 0 {
		config.MaxPasses = 8
	}
	return &Sweeper{
		store:  store,
		config: config,
		logger: logger,
	}
}

// DeletePrefix removes all keys starting with prefix and returns the number
// deleted. The cost is proportional to the whole keyspace per pass.
func (sw *Sweeper) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, errors.New("kvstore: refusing to sweep an empty prefix")
	}

	start := time.Now()
	var total int64
	pass := 1
	for ; pass <= sw.config.MaxPasses; pass++ {
		n, err := sw.sweepPass(ctx, prefix)
		total += n
		if err != nil {
			return total, errors.Wrapf(err, "sweep %q (partial: %d keys deleted)", prefix, total)
		}
		if n == 0 {
			break
		}
	}
	if pass > sw.config.MaxPasses {
		sw.logger.Warn().
			Str("prefix", prefix).
			Int("passes", sw.config.MaxPasses).
			Msg("Prefix sweep stopped before converging")
	}

	sw.logger.Info().
		Str("prefix", prefix).
		Int64("deleted", total).
		Int("passes", min(pass, sw.config.MaxPasses)).
		Dur("duration", time.Since(start)).
		Msg("Prefix sweep complete")

	return total, nil
}

// sweepPass walks the keyspace once and deletes what it finds.
func (sw *Sweeper) sweepPass(ctx context.Context, prefix string) (int64, error) {
	var deleted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []string, sw.config.QueueSize)

	g.Go(func() error {
		defer close(batches)
		return sw.store.Scan(gctx, prefix, func(keys []string) error {
			select {
			case batches <- keys:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	for i := 0; i < sw.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			processed := 0
			for keys := range batches {
				n, err := sw.store.Del(gctx, keys...)
				if err != nil {
					sw.logger.Warn().
						Err(err).
						Int("worker_id", workerID).
						Int("batch_size", len(keys)).
						Msg("Sweep batch delete failed")
					return err
				}
				deleted.Add(n)
				sweptKeys.Add(float64(n))
				processed++
			}
			if processed > 0 {
				sw.logger.Debug().
					Int("worker_id", workerID).
					Int("batches", processed).
					Msg("Sweep worker completed")
			}
			return nil
		})
	}

	err := g.Wait()
	return deleted.Load(), err
}
