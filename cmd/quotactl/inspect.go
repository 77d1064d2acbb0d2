package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/scan-quota/pkg/cache"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type entryReport struct {
	Key        string        `json:"key"`
	Size       int           `json:"size_bytes"`
	CreatedAt  time.Time     `json:"created_at"`
	Age        time.Duration `json:"age"`
	ExpiresIn  time.Duration `json:"expires_in"`
	Hits       int64         `json:"hits"`
	LastAccess *time.Time    `json:"last_access,omitempty"`
}

func newInspectCmd(opts *rootOptions) *cobra.Command {
	var (
		category string
		key      string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show cached analyses with their age and hit counts",
		Long: `Show one cached analysis (--key) or every entry of a category
(--category): payload size, age, time left before expiry and hit count.
Reading entries here does not count as a hit.

Examples:
  quotactl inspect --category food
  quotactl inspect --key cache:food:3f2a... --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (category == "") == (key == "") {
				return errors.New("exactly one of --category or --key is required")
			}

			ctx, cancel := opts.commandContext(cmd)
			defer cancel()

			svc, err := opts.open(ctx)
			if err != nil {
				return errors.Wrap(err, "connect to store")
			}
			defer svc.Close()

			keys := []string{key}
			if category != "" {
				if keys, err = svc.Cache().List(ctx, category); err != nil {
					return err
				}
			}

			reports, err := inspectEntries(ctx, svc.Cache(), keys, time.Now())
			if err != nil {
				return err
			}
			return writeEntries(cmd.OutOrStdout(), reports, format)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "list every entry of a category")
	cmd.Flags().StringVar(&key, "key", "", "show one entry by its full key")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json")
	return cmd
}

// inspectEntries skips keys that expired between listing and reading.
func inspectEntries(ctx context.Context, m *cache.Manager, keys []string, now time.Time) ([]entryReport, error) {
	reports := make([]entryReport, 0, len(keys))
	for _, k := range keys {
		entry, err := m.Inspect(ctx, k)
		if errors.Is(err, cache.ErrCacheMiss) && len(keys) > 1 {
			continue
		}
		if err != nil {
			return nil, err
		}

		r := entryReport{
			Key:       k,
			Size:      len(entry.Payload),
			CreatedAt: entry.CreatedAt,
			Age:       entry.Age(now).Truncate(time.Second),
			ExpiresIn: entry.TTL(now).Truncate(time.Second),
			Hits:      entry.HitCount,
		}
		if !entry.LastAccessedAt.IsZero() {
			last := entry.LastAccessedAt
			r.LastAccess = &last
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func writeEntries(w io.Writer, reports []entryReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case "text", "":
	default:
		return errors.Newf("unknown format %q", format)
	}

	if len(reports) == 0 {
		fmt.Fprintln(w, "no entries")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tAGE\tEXPIRES IN\tHITS")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\n", r.Key, r.Size, r.Age, r.ExpiresIn, r.Hits)
	}
	return tw.Flush()
}
